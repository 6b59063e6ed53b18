package boardapi

import (
	"net/http"
	"testing"

	v1 "kanva/contracts/realtime/v1"
)

func TestTaskEndpoints(t *testing.T) {
	t.Parallel()

	mux, _, rt := newTestHandler(t)
	b := createBoard(t, mux, "tok:alice", "Sprint 12")

	rec := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/tasks", "tok:alice",
		map[string]any{"column_id": b.Columns[0].ID, "title": "ship it", "priority": v1.PriorityHigh})
	if rec.Code != http.StatusCreated {
		t.Fatalf("task create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created v1.TaskCreatedPayload
	decodeBody(t, rec, &created)
	if created.Task.Title != "ship it" || created.ColumnID != b.Columns[0].ID {
		t.Fatalf("created = %+v", created)
	}

	title := "ship it soon"
	rec = doJSON(t, mux, http.MethodPatch, "/api/boards/"+b.ID+"/tasks/"+created.Task.ID, "tok:alice",
		map[string]any{"patch": v1.TaskPatch{Title: &title}})
	if rec.Code != http.StatusOK {
		t.Fatalf("task update status = %d body = %s", rec.Code, rec.Body.String())
	}
	var updated v1.TaskUpdatedPayload
	decodeBody(t, rec, &updated)
	if updated.Task.Title != title {
		t.Fatalf("updated = %+v", updated)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/tasks/"+created.Task.ID+"/move", "tok:alice",
		map[string]any{"to_column_id": b.Columns[1].ID, "to_index": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("task move status = %d body = %s", rec.Code, rec.Body.String())
	}
	var moved v1.TaskMovedPayload
	decodeBody(t, rec, &moved)
	if moved.FromColumnID != b.Columns[0].ID || moved.ToColumnID != b.Columns[1].ID {
		t.Fatalf("moved = %+v", moved)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/boards/"+b.ID+"/tasks/"+created.Task.ID, "tok:alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("task delete status = %d body = %s", rec.Code, rec.Body.String())
	}
	var deleted v1.TaskDeletedPayload
	decodeBody(t, rec, &deleted)
	if deleted.TaskID != created.Task.ID || deleted.ColumnID != b.Columns[1].ID {
		t.Fatalf("deleted = %+v", deleted)
	}

	want := []string{
		v1.TypeTaskCreated + "/" + b.ID,
		v1.TypeTaskUpdated + "/" + b.ID,
		v1.TypeTaskMoved + "/" + b.ID,
		v1.TypeTaskDeleted + "/" + b.ID,
	}
	if len(rt.events) != len(want) {
		t.Fatalf("broadcasts = %v", rt.events)
	}
	for i, ev := range want {
		if rt.events[i] != ev {
			t.Fatalf("broadcast %d = %s, want %s", i, rt.events[i], ev)
		}
	}
}

func TestTaskReorderEndpoint(t *testing.T) {
	t.Parallel()

	mux, _, rt := newTestHandler(t)
	b := createBoard(t, mux, "tok:alice", "Sprint 12")
	col := b.Columns[0].ID

	var ids []string
	for _, title := range []string{"one", "two", "three"} {
		rec := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/tasks", "tok:alice",
			map[string]any{"column_id": col, "title": title})
		if rec.Code != http.StatusCreated {
			t.Fatalf("task create status = %d", rec.Code)
		}
		var out v1.TaskCreatedPayload
		decodeBody(t, rec, &out)
		ids = append(ids, out.Task.ID)
	}

	rec := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/columns/"+col+"/tasks/reorder", "tok:alice",
		map[string]any{"task_ids": []string{ids[2], ids[0], ids[1]}})
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder status = %d body = %s", rec.Code, rec.Body.String())
	}
	var out v1.TaskReorderedPayload
	decodeBody(t, rec, &out)
	if len(out.TaskIDs) != 3 || out.TaskIDs[0] != ids[2] || out.TaskIDs[1] != ids[0] {
		t.Fatalf("order = %v", out.TaskIDs)
	}
	if last := rt.events[len(rt.events)-1]; last != v1.TypeTaskReordered+"/"+b.ID {
		t.Fatalf("last broadcast = %s", last)
	}
}

func TestColumnEndpoints(t *testing.T) {
	t.Parallel()

	mux, _, rt := newTestHandler(t)
	b := createBoard(t, mux, "tok:alice", "Sprint 12")

	rec := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/columns", "tok:alice",
		map[string]any{"name": "Review"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("column create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created v1.ColumnCreatedPayload
	decodeBody(t, rec, &created)
	if created.Column.Name != "Review" {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, mux, http.MethodPatch, "/api/boards/"+b.ID+"/columns/"+created.Column.ID, "tok:alice",
		map[string]any{"name": "In Review"})
	if rec.Code != http.StatusOK {
		t.Fatalf("column update status = %d body = %s", rec.Code, rec.Body.String())
	}
	var renamed v1.ColumnUpdatedPayload
	decodeBody(t, rec, &renamed)
	if renamed.Column.Name != "In Review" {
		t.Fatalf("renamed = %+v", renamed)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/columns/reorder", "tok:alice",
		map[string]any{"column_ids": []string{created.Column.ID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("column reorder status = %d body = %s", rec.Code, rec.Body.String())
	}
	var reordered v1.ColumnReorderedPayload
	decodeBody(t, rec, &reordered)
	if len(reordered.ColumnIDs) != 4 || reordered.ColumnIDs[0] != created.Column.ID {
		t.Fatalf("order = %v", reordered.ColumnIDs)
	}

	// A deleted column orphans its tasks rather than deleting them.
	recTask := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/tasks", "tok:alice",
		map[string]any{"column_id": created.Column.ID, "title": "stuck"})
	var task v1.TaskCreatedPayload
	decodeBody(t, recTask, &task)

	rec = doJSON(t, mux, http.MethodDelete, "/api/boards/"+b.ID+"/columns/"+created.Column.ID, "tok:alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("column delete status = %d body = %s", rec.Code, rec.Body.String())
	}
	var deleted v1.ColumnDeletedPayload
	decodeBody(t, rec, &deleted)
	if len(deleted.OrphanedTaskIDs) != 1 || deleted.OrphanedTaskIDs[0] != task.Task.ID {
		t.Fatalf("deleted = %+v", deleted)
	}

	want := []string{
		v1.TypeColumnCreated + "/" + b.ID,
		v1.TypeColumnUpdated + "/" + b.ID,
		v1.TypeColumnReordered + "/" + b.ID,
		v1.TypeTaskCreated + "/" + b.ID,
		v1.TypeColumnDeleted + "/" + b.ID,
	}
	if len(rt.events) != len(want) {
		t.Fatalf("broadcasts = %v", rt.events)
	}
	for i, ev := range want {
		if rt.events[i] != ev {
			t.Fatalf("broadcast %d = %s, want %s", i, rt.events[i], ev)
		}
	}
}

func TestMemberEndpoints(t *testing.T) {
	t.Parallel()

	mux, _, rt := newTestHandler(t)
	b := createBoard(t, mux, "tok:alice", "Sprint 12")

	rec := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/members", "tok:alice",
		map[string]any{"user_id": "bob", "role": v1.RoleEditor})
	if rec.Code != http.StatusCreated {
		t.Fatalf("member add status = %d body = %s", rec.Code, rec.Body.String())
	}
	var added v1.MemberAddedPayload
	decodeBody(t, rec, &added)
	if added.Member.UserID != "bob" || added.Member.Role != v1.RoleEditor {
		t.Fatalf("added = %+v", added)
	}

	rec = doJSON(t, mux, http.MethodPatch, "/api/boards/"+b.ID+"/members/bob", "tok:alice",
		map[string]any{"role": v1.RoleViewer})
	if rec.Code != http.StatusOK {
		t.Fatalf("role change status = %d body = %s", rec.Code, rec.Body.String())
	}
	var changed v1.MemberRoleChangedPayload
	decodeBody(t, rec, &changed)
	if changed.Member.Role != v1.RoleViewer {
		t.Fatalf("changed = %+v", changed)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/boards/"+b.ID+"/members/bob", "tok:alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("member remove status = %d body = %s", rec.Code, rec.Body.String())
	}
	var removed v1.MemberRemovedPayload
	decodeBody(t, rec, &removed)
	if removed.UserID != "bob" {
		t.Fatalf("removed = %+v", removed)
	}

	want := []string{
		v1.TypeMemberAdded + "/" + b.ID,
		v1.TypeMemberRoleChanged + "/" + b.ID,
		v1.TypeMemberRemoved + "/" + b.ID,
	}
	if len(rt.events) != len(want) {
		t.Fatalf("broadcasts = %v", rt.events)
	}
	for i, ev := range want {
		if rt.events[i] != ev {
			t.Fatalf("broadcast %d = %s, want %s", i, rt.events[i], ev)
		}
	}
	// Removal also notifies the target's live connections directly.
	if len(rt.revoked) != 1 || rt.revoked[0] != "bob/"+b.ID {
		t.Fatalf("revoked = %v", rt.revoked)
	}
}

func TestResourceMutationAuthorization(t *testing.T) {
	t.Parallel()

	mux, _, rt := newTestHandler(t)
	b := createBoard(t, mux, "tok:alice", "Sprint 12")

	// Stranger on a private board cannot mutate.
	rec := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/tasks", "tok:mallory",
		map[string]any{"column_id": b.Columns[0].ID, "title": "sneak"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger task create status = %d, want 403", rec.Code)
	}

	// A viewer member cannot mutate either.
	recAdd := doJSON(t, mux, http.MethodPost, "/api/boards/"+b.ID+"/members", "tok:alice",
		map[string]any{"user_id": "carol", "role": v1.RoleViewer})
	if recAdd.Code != http.StatusCreated {
		t.Fatalf("member add status = %d", recAdd.Code)
	}
	rec = doJSON(t, mux, http.MethodDelete, "/api/boards/"+b.ID+"/columns/"+b.Columns[0].ID, "tok:carol", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer column delete status = %d, want 403", rec.Code)
	}

	// Members cannot manage other members without the permission.
	rec = doJSON(t, mux, http.MethodDelete, "/api/boards/"+b.ID+"/members/carol", "tok:carol", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer member remove status = %d, want 403", rec.Code)
	}

	// Rejected mutations must never fan out.
	if len(rt.events) != 1 || rt.events[0] != v1.TypeMemberAdded+"/"+b.ID {
		t.Fatalf("broadcasts = %v", rt.events)
	}
	if len(rt.revoked) != 0 {
		t.Fatalf("revoked = %v", rt.revoked)
	}
}
