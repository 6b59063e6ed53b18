package boardsync

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	v1 "kanva/contracts/realtime/v1"
)

func event(t *testing.T, typ, origin string, payload any) v1.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      "evt-1",
		BoardID: "b1",
		Origin:  origin,
		TS:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Payload: raw,
	}
}

func TestHandleEventEchoSuppression(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	env := event(t, v1.TypeTaskDeleted, "sess-self", v1.TaskDeletedPayload{BoardID: "b1", TaskID: "t1"})

	res, err := c.HandleEvent(env)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !res.Echo || res.Applied {
		t.Fatalf("result = %+v, want echo without apply", res)
	}

	// The echoed delete changed nothing; t1 still exists.
	b := mustBoard(t, c)
	if _, ok := b.Tasks["t1"]; !ok {
		t.Fatalf("echoed event applied")
	}
}

func TestHandleEventAppliesPeerMutations(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	created := event(t, v1.TypeTaskCreated, "sess-peer", v1.TaskCreatedPayload{
		BoardID: "b1", ColumnID: "col-doing",
		Task: v1.Task{ID: "t9", Title: "from peer", Priority: v1.PriorityHigh},
	})
	res, err := c.HandleEvent(created)
	if err != nil {
		t.Fatalf("HandleEvent(created): %v", err)
	}
	if !res.Applied || res.Echo {
		t.Fatalf("result = %+v", res)
	}

	moved := event(t, v1.TypeTaskMoved, "sess-peer", v1.TaskMovedPayload{
		BoardID: "b1", TaskID: "t9",
		FromColumnID: "col-doing", ToColumnID: "col-todo", NewIndex: 0,
	})
	if _, err := c.HandleEvent(moved); err != nil {
		t.Fatalf("HandleEvent(moved): %v", err)
	}

	b := mustBoard(t, c)
	if order := taskOrder(t, b, "col-todo"); len(order) != 3 || order[0] != "t9" {
		t.Fatalf("order = %v, want t9 first", order)
	}
	if order := taskOrder(t, b, "col-doing"); len(order) != 0 {
		t.Fatalf("source order = %v, want empty", order)
	}
}

func TestBroadcastSupersedesPendingOp(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	mine := "my edit"
	if _, err := c.UpdateTask(v1.TaskUpdatePayload{BoardID: "b1", TaskID: "t1", Patch: v1.TaskPatch{Title: &mine}}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	// A peer's confirmed write to the same task wins over local optimism.
	peer := event(t, v1.TypeTaskUpdated, "sess-peer", v1.TaskUpdatedPayload{
		BoardID: "b1",
		Task:    v1.Task{ID: "t1", Title: "peer edit", Priority: v1.PriorityMedium},
	})
	res, err := c.HandleEvent(peer)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if res.Superseded == nil || res.Superseded.EntityID != "t1" {
		t.Fatalf("result = %+v, want superseded pending op", res)
	}

	b := mustBoard(t, c)
	if b.Tasks["t1"].Title != "peer edit" {
		t.Fatalf("title = %q, want peer value", b.Tasks["t1"].Title)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending = %d after supersede", c.PendingCount())
	}

	// The command's late ack is now a no-op.
	if ack := c.HandleAck(v1.AckPayload{Ref: "ref-1", Success: false, Error: "rejected"}); ack.Known {
		t.Fatalf("superseded ref still reconciled: %+v", ack)
	}
	b = mustBoard(t, c)
	if b.Tasks["t1"].Title != "peer edit" {
		t.Fatalf("late ack rolled back server state")
	}
}

func TestBoardStateResetsMirror(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	title := "doomed edit"
	if _, err := c.UpdateTask(v1.TaskUpdatePayload{BoardID: "b1", TaskID: "t1", Patch: v1.TaskPatch{Title: &title}}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	fresh := testBoard()
	fresh.Name = "Resynced"
	state := event(t, v1.TypeBoardState, "", v1.BoardStatePayload{Board: fresh})

	res, err := c.HandleEvent(state)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !res.Applied {
		t.Fatalf("result = %+v", res)
	}

	b := mustBoard(t, c)
	if b.Name != "Resynced" || b.Tasks["t1"].Title != "one" {
		t.Fatalf("snapshot not adopted: %+v", b)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending survived resync")
	}
}

func TestBoardDeletedAndAccessRevokedClearMirror(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{v1.TypeBoardDeleted, v1.TypeAccessRevoked} {
		c := newTestCache(t)
		var payload any = v1.BoardDeletedPayload{BoardID: "b1"}
		if typ == v1.TypeAccessRevoked {
			payload = v1.AccessRevokedPayload{BoardID: "b1", Reason: "removed"}
		}

		if _, err := c.HandleEvent(event(t, typ, "sess-peer", payload)); err != nil {
			t.Fatalf("HandleEvent(%s): %v", typ, err)
		}
		if _, ok := c.Board(); ok {
			t.Fatalf("board survived %s", typ)
		}
	}
}

func TestHandleEventIgnoresNonStateTypes(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	env := event(t, v1.TypePresenceState, "sess-peer", v1.PresenceStatePayload{BoardID: "b1"})

	res, err := c.HandleEvent(env)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if res.Applied || res.Echo || res.Superseded != nil {
		t.Fatalf("result = %+v, want zero", res)
	}
}

func TestHandleEventWithoutSnapshot(t *testing.T) {
	t.Parallel()

	c := NewCache("sess-self")
	env := event(t, v1.TypeTaskDeleted, "sess-peer", v1.TaskDeletedPayload{BoardID: "b1", TaskID: "t1"})

	if _, err := c.HandleEvent(env); !errors.Is(err, ErrNoBoard) {
		t.Fatalf("err = %v, want ErrNoBoard", err)
	}
}

func TestColumnDeletedEventOrphansTasks(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	env := event(t, v1.TypeColumnDeleted, "sess-peer", v1.ColumnDeletedPayload{
		BoardID: "b1", ColumnID: "col-todo", OrphanedTaskIDs: []string{"t1", "t2"},
	})
	if _, err := c.HandleEvent(env); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	b := mustBoard(t, c)
	if len(b.Columns) != 1 {
		t.Fatalf("columns = %d", len(b.Columns))
	}
	if len(b.Tasks) != 2 {
		t.Fatalf("tasks = %d, want orphans kept", len(b.Tasks))
	}
}

func TestMemberEventsKeepRosterInSync(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	added := event(t, v1.TypeMemberAdded, "sess-peer", v1.MemberAddedPayload{
		BoardID: "b1",
		Member:  v1.Member{UserID: "carol", Role: v1.RoleViewer, Permissions: permissionsForRole(v1.RoleViewer)},
	})
	if _, err := c.HandleEvent(added); err != nil {
		t.Fatalf("HandleEvent(added): %v", err)
	}

	removed := event(t, v1.TypeMemberRemoved, "sess-peer", v1.MemberRemovedPayload{BoardID: "b1", UserID: "bob"})
	if _, err := c.HandleEvent(removed); err != nil {
		t.Fatalf("HandleEvent(removed): %v", err)
	}

	b := mustBoard(t, c)
	if len(b.Members) != 1 || b.Members[0].UserID != "carol" {
		t.Fatalf("members = %+v", b.Members)
	}
}
