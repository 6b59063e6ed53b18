package board

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	v1 "kanva/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(testLogger(), NewInMemoryStore(),
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func mustCreateBoard(t *testing.T, svc *Service, ownerID string) *Board {
	t.Helper()

	b, err := svc.CreateBoard(context.Background(), ownerID, CreateBoardInput{Name: "Sprint 12"})
	if err != nil {
		t.Fatalf("CreateBoard: %v", err)
	}
	return b
}

func mustAddMember(t *testing.T, svc *Service, ownerID, boardID, userID, role string) {
	t.Helper()

	_, err := svc.AddMember(context.Background(), ownerID, v1.MemberAddPayload{
		BoardID: boardID, UserID: userID, Role: role,
	})
	if err != nil {
		t.Fatalf("AddMember(%s as %s): %v", userID, role, err)
	}
}

func mustCreateTask(t *testing.T, svc *Service, userID, boardID, columnID, title string) v1.Task {
	t.Helper()

	res, err := svc.CreateTask(context.Background(), userID, CreateTaskInput{
		BoardID: boardID, ColumnID: columnID, Title: title,
	})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", title, err)
	}
	return res.Task
}

func reloadBoard(t *testing.T, svc *Service, boardID, userID string) *Board {
	t.Helper()

	b, _, err := svc.GetBoard(context.Background(), boardID, userID)
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	return b
}

func TestCreateBoardDefaults(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	b := mustCreateBoard(t, svc, "alice")

	if b.OwnerID != "alice" {
		t.Fatalf("owner = %q, want alice", b.OwnerID)
	}
	if b.Visibility != v1.VisibilityPrivate {
		t.Fatalf("visibility = %q, want private", b.Visibility)
	}
	if b.Settings.DefaultRole != v1.RoleViewer {
		t.Fatalf("default role = %q, want viewer", b.Settings.DefaultRole)
	}

	want := []string{"To Do", "In Progress", "Done"}
	if len(b.Columns) != len(want) {
		t.Fatalf("columns = %d, want %d", len(b.Columns), len(want))
	}
	for i, name := range want {
		if b.Columns[i].Name != name {
			t.Fatalf("column[%d] = %q, want %q", i, b.Columns[i].Name, name)
		}
		if len(b.Columns[i].TaskIDs) != 0 {
			t.Fatalf("column %q not empty", name)
		}
	}
	if err := b.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

func TestCreateBoardValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		userID string
		in     CreateBoardInput
	}{
		{name: "empty name", userID: "alice", in: CreateBoardInput{Name: "   "}},
		{name: "missing user", userID: "", in: CreateBoardInput{Name: "B"}},
		{name: "bad visibility", userID: "alice", in: CreateBoardInput{Name: "B", Visibility: "hidden"}},
		{name: "bad default role", userID: "alice", in: CreateBoardInput{Name: "B", Settings: &v1.Settings{DefaultRole: "owner"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateBoard(ctx, tc.userID, tc.in); !IsInvalidInput(err) {
				t.Fatalf("err = %v, want invalid input", err)
			}
		})
	}
}

func TestTaskLifecycleKeepsReferencesConsistent(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")
	todo, doing := b.Columns[0].ID, b.Columns[1].ID

	t1 := mustCreateTask(t, svc, "alice", b.ID, todo, "one")
	t2 := mustCreateTask(t, svc, "alice", b.ID, todo, "two")
	t3 := mustCreateTask(t, svc, "alice", b.ID, todo, "three")

	if _, err := svc.MoveTask(ctx, "alice", MoveTaskInput{BoardID: b.ID, TaskID: t2.ID, ToColumnID: doing, ToIndex: 0}); err != nil {
		t.Fatalf("MoveTask: %v", err)
	}
	if _, err := svc.DeleteTask(ctx, "alice", v1.TaskDeletePayload{BoardID: b.ID, TaskID: t1.ID}); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	got := reloadBoard(t, svc, b.ID, "alice")
	if err := got.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
	if _, ok := got.Tasks[t1.ID]; ok {
		t.Fatalf("deleted task %s still in task map", t1.ID)
	}
	if col := got.ColumnOfTask(t2.ID); col == nil || col.ID != doing {
		t.Fatalf("task %s not in destination column", t2.ID)
	}
	if col := got.ColumnOfTask(t3.ID); col == nil || col.ID != todo {
		t.Fatalf("task %s not in source column", t3.ID)
	}
}

func TestMoveTaskClampsIndexToAppend(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")
	todo, doing := b.Columns[0].ID, b.Columns[1].ID

	mustCreateTask(t, svc, "alice", b.ID, doing, "existing")
	task := mustCreateTask(t, svc, "alice", b.ID, todo, "moving")

	res, err := svc.MoveTask(ctx, "alice", MoveTaskInput{
		BoardID: b.ID, TaskID: task.ID, ToColumnID: doing, ToIndex: 99,
	})
	if err != nil {
		t.Fatalf("MoveTask: %v", err)
	}
	if res.NewIndex != 1 {
		t.Fatalf("NewIndex = %d, want clamped append index 1", res.NewIndex)
	}
	if res.FromColumnID != todo || res.ToColumnID != doing {
		t.Fatalf("columns = %q -> %q, want %q -> %q", res.FromColumnID, res.ToColumnID, todo, doing)
	}

	got := reloadBoard(t, svc, b.ID, "alice")
	ids := got.Column(doing).TaskIDs
	if len(ids) != 2 || ids[1] != task.ID {
		t.Fatalf("destination order = %v, want task appended", ids)
	}
}

func TestReorderTasks(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")
	todo := b.Columns[0].ID

	t1 := mustCreateTask(t, svc, "alice", b.ID, todo, "one")
	t2 := mustCreateTask(t, svc, "alice", b.ID, todo, "two")
	t3 := mustCreateTask(t, svc, "alice", b.ID, todo, "three")

	// Unknown ids dropped, unlisted ids keep relative order at the tail.
	res, err := svc.ReorderTasks(ctx, "alice", ReorderTasksInput{
		BoardID: b.ID, ColumnID: todo, TaskIDs: []string{t3.ID, "ghost", t1.ID},
	})
	if err != nil {
		t.Fatalf("ReorderTasks: %v", err)
	}
	want := []string{t3.ID, t1.ID, t2.ID}
	if len(res.TaskIDs) != len(want) {
		t.Fatalf("order = %v, want %v", res.TaskIDs, want)
	}
	for i := range want {
		if res.TaskIDs[i] != want[i] {
			t.Fatalf("order = %v, want %v", res.TaskIDs, want)
		}
	}

	// Applying the applied order again is a no-op.
	again, err := svc.ReorderTasks(ctx, "alice", ReorderTasksInput{
		BoardID: b.ID, ColumnID: todo, TaskIDs: res.TaskIDs,
	})
	if err != nil {
		t.Fatalf("ReorderTasks (idempotent): %v", err)
	}
	for i := range want {
		if again.TaskIDs[i] != want[i] {
			t.Fatalf("second order = %v, want %v", again.TaskIDs, want)
		}
	}
}

func TestDeleteColumnOrphansTasks(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")
	todo := b.Columns[0].ID

	task := mustCreateTask(t, svc, "alice", b.ID, todo, "stranded")

	res, err := svc.DeleteColumn(ctx, "alice", v1.ColumnDeletePayload{BoardID: b.ID, ColumnID: todo})
	if err != nil {
		t.Fatalf("DeleteColumn: %v", err)
	}
	if len(res.OrphanedTaskIDs) != 1 || res.OrphanedTaskIDs[0] != task.ID {
		t.Fatalf("orphaned = %v, want [%s]", res.OrphanedTaskIDs, task.ID)
	}

	got := reloadBoard(t, svc, b.ID, "alice")
	if _, ok := got.Tasks[task.ID]; !ok {
		t.Fatalf("orphaned task removed from task map")
	}
	if col := got.ColumnOfTask(task.ID); col != nil {
		t.Fatalf("orphaned task still referenced by column %s", col.ID)
	}
	if err := got.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

func TestViewerCannotMutate(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")
	todo := b.Columns[0].ID
	mustAddMember(t, svc, "alice", b.ID, "vera", v1.RoleViewer)
	task := mustCreateTask(t, svc, "alice", b.ID, todo, "t")

	cases := []struct {
		name string
		call func() error
	}{
		{"task create", func() error {
			_, err := svc.CreateTask(ctx, "vera", CreateTaskInput{BoardID: b.ID, ColumnID: todo, Title: "x"})
			return err
		}},
		{"task update", func() error {
			title := "y"
			_, err := svc.UpdateTask(ctx, "vera", UpdateTaskInput{BoardID: b.ID, TaskID: task.ID, Patch: v1.TaskPatch{Title: &title}})
			return err
		}},
		{"task delete", func() error {
			_, err := svc.DeleteTask(ctx, "vera", v1.TaskDeletePayload{BoardID: b.ID, TaskID: task.ID})
			return err
		}},
		{"task move", func() error {
			_, err := svc.MoveTask(ctx, "vera", MoveTaskInput{BoardID: b.ID, TaskID: task.ID, ToColumnID: todo})
			return err
		}},
		{"column create", func() error {
			_, err := svc.CreateColumn(ctx, "vera", v1.ColumnCreatePayload{BoardID: b.ID, Name: "Blocked"})
			return err
		}},
		{"column delete", func() error {
			_, err := svc.DeleteColumn(ctx, "vera", v1.ColumnDeletePayload{BoardID: b.ID, ColumnID: todo})
			return err
		}},
		{"board update", func() error {
			name := "renamed"
			_, err := svc.UpdateBoard(ctx, "vera", UpdateBoardInput{BoardID: b.ID, Patch: v1.BoardPatch{Name: &name}})
			return err
		}},
		{"member add", func() error {
			_, err := svc.AddMember(ctx, "vera", v1.MemberAddPayload{BoardID: b.ID, UserID: "w", Role: v1.RoleViewer})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !IsForbidden(err) {
				t.Fatalf("err = %v, want forbidden", err)
			}
		})
	}
}

func TestEditorCannotAdministrate(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")
	mustAddMember(t, svc, "alice", b.ID, "ed", v1.RoleEditor)
	mustAddMember(t, svc, "alice", b.ID, "vera", v1.RoleViewer)

	if _, err := svc.DeleteBoard(ctx, "ed", b.ID); !IsForbidden(err) {
		t.Fatalf("DeleteBoard by editor: err = %v, want forbidden", err)
	}
	if _, err := svc.RemoveMember(ctx, "ed", v1.MemberRemovePayload{BoardID: b.ID, UserID: "vera"}); !IsForbidden(err) {
		t.Fatalf("RemoveMember by editor: err = %v, want forbidden", err)
	}
	if _, err := svc.ChangeMemberRole(ctx, "ed", v1.MemberChangeRolePayload{BoardID: b.ID, UserID: "vera", Role: v1.RoleEditor}); !IsForbidden(err) {
		t.Fatalf("ChangeMemberRole by editor: err = %v, want forbidden", err)
	}

	// Editors can still mutate content.
	if _, err := svc.CreateColumn(ctx, "ed", v1.ColumnCreatePayload{BoardID: b.ID, Name: "Review"}); err != nil {
		t.Fatalf("CreateColumn by editor: %v", err)
	}
}

func TestOwnerCannotBeTargeted(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")

	if _, err := svc.AddMember(ctx, "alice", v1.MemberAddPayload{BoardID: b.ID, UserID: "alice", Role: v1.RoleEditor}); !IsConflict(err) {
		t.Fatalf("AddMember(owner): err = %v, want conflict", err)
	}
	if _, err := svc.RemoveMember(ctx, "alice", v1.MemberRemovePayload{BoardID: b.ID, UserID: "alice"}); !IsConflict(err) {
		t.Fatalf("RemoveMember(owner): err = %v, want conflict", err)
	}
	if _, err := svc.ChangeMemberRole(ctx, "alice", v1.MemberChangeRolePayload{BoardID: b.ID, UserID: "alice", Role: v1.RoleViewer}); !IsConflict(err) {
		t.Fatalf("ChangeMemberRole(owner): err = %v, want conflict", err)
	}
}

func TestAddMemberConflictsAndRoleChange(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")
	mustAddMember(t, svc, "alice", b.ID, "bob", v1.RoleViewer)

	if _, err := svc.AddMember(ctx, "alice", v1.MemberAddPayload{BoardID: b.ID, UserID: "bob", Role: v1.RoleEditor}); !IsConflict(err) {
		t.Fatalf("duplicate AddMember: err = %v, want conflict", err)
	}

	res, err := svc.ChangeMemberRole(ctx, "alice", v1.MemberChangeRolePayload{BoardID: b.ID, UserID: "bob", Role: v1.RoleEditor})
	if err != nil {
		t.Fatalf("ChangeMemberRole: %v", err)
	}
	if res.Member.Role != v1.RoleEditor {
		t.Fatalf("role = %q, want editor", res.Member.Role)
	}
	// Permissions come from the fixed table, not the stored record.
	if !res.Member.Permissions.CanEdit || res.Member.Permissions.CanManageMembers {
		t.Fatalf("permissions not recomputed: %+v", res.Member.Permissions)
	}

	if _, err := svc.CreateTask(ctx, "bob", CreateTaskInput{BoardID: b.ID, ColumnID: b.Columns[0].ID, Title: "now allowed"}); err != nil {
		t.Fatalf("CreateTask after promotion: %v", err)
	}
}

func TestDeleteBoardRemovesAggregate(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")

	if _, err := svc.DeleteBoard(ctx, "alice", b.ID); err != nil {
		t.Fatalf("DeleteBoard: %v", err)
	}
	if _, _, err := svc.GetBoard(ctx, b.ID, "alice"); !IsNotFound(err) {
		t.Fatalf("GetBoard after delete: err = %v, want not found", err)
	}
}

func TestUpdateBoardPatch(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	b := mustCreateBoard(t, svc, "alice")

	name := "Renamed"
	vis := v1.VisibilityPublic
	res, err := svc.UpdateBoard(ctx, "alice", UpdateBoardInput{
		BoardID: b.ID,
		Patch:   v1.BoardPatch{Name: &name, Visibility: &vis},
	})
	if err != nil {
		t.Fatalf("UpdateBoard: %v", err)
	}
	if res.Name != "Renamed" || res.Visibility != v1.VisibilityPublic {
		t.Fatalf("payload = %+v", res)
	}

	// Public boards grant view-only access to strangers.
	got, acc, err := svc.GetBoard(ctx, b.ID, "stranger")
	if err != nil {
		t.Fatalf("GetBoard as stranger: %v", err)
	}
	if got.Name != "Renamed" {
		t.Fatalf("name = %q", got.Name)
	}
	if acc.Role != v1.RoleViewer || acc.Can(ActionEdit) {
		t.Fatalf("stranger access = %+v, want view-only", acc)
	}

	empty := "  "
	if _, err := svc.UpdateBoard(ctx, "alice", UpdateBoardInput{BoardID: b.ID, Patch: v1.BoardPatch{Name: &empty}}); !IsInvalidInput(err) {
		t.Fatalf("empty name: err = %v, want invalid input", err)
	}
}

func TestActivityFeedRecordsMutations(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	b := mustCreateBoard(t, svc, "alice")
	mustCreateTask(t, svc, "alice", b.ID, b.Columns[0].ID, "t")

	entries := svc.Feed().Recent(b.ID, 10)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest last.
	if entries[0].Action != "board.created" || entries[1].Action != "task.created" {
		t.Fatalf("actions = %q, %q", entries[0].Action, entries[1].Action)
	}
}

func TestFieldLengthLimits(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	b := mustCreateBoard(t, svc, "alice")
	task := mustCreateTask(t, svc, "alice", b.ID, b.Columns[0].ID, "t")
	ctx := context.Background()

	longName := strings.Repeat("x", maxNameChars+1)
	longDesc := strings.Repeat("x", maxDescriptionChars+1)

	cases := []struct {
		name string
		call func() error
	}{
		{name: "task title", call: func() error {
			_, err := svc.CreateTask(ctx, "alice", CreateTaskInput{BoardID: b.ID, ColumnID: b.Columns[0].ID, Title: longName})
			return err
		}},
		{name: "task description", call: func() error {
			_, err := svc.CreateTask(ctx, "alice", CreateTaskInput{BoardID: b.ID, ColumnID: b.Columns[0].ID, Title: "ok", Description: longDesc})
			return err
		}},
		{name: "task patch title", call: func() error {
			_, err := svc.UpdateTask(ctx, "alice", UpdateTaskInput{BoardID: b.ID, TaskID: task.ID, Patch: v1.TaskPatch{Title: &longName}})
			return err
		}},
		{name: "task patch description", call: func() error {
			_, err := svc.UpdateTask(ctx, "alice", UpdateTaskInput{BoardID: b.ID, TaskID: task.ID, Patch: v1.TaskPatch{Description: &longDesc}})
			return err
		}},
		{name: "column name", call: func() error {
			_, err := svc.CreateColumn(ctx, "alice", v1.ColumnCreatePayload{BoardID: b.ID, Name: longName})
			return err
		}},
		{name: "column rename", call: func() error {
			_, err := svc.UpdateColumn(ctx, "alice", v1.ColumnUpdatePayload{BoardID: b.ID, ColumnID: b.Columns[0].ID, Name: longName})
			return err
		}},
		{name: "board name", call: func() error {
			_, err := svc.CreateBoard(ctx, "alice", CreateBoardInput{Name: longName})
			return err
		}},
		{name: "board description", call: func() error {
			_, err := svc.CreateBoard(ctx, "alice", CreateBoardInput{Name: "ok", Description: longDesc})
			return err
		}},
		{name: "board patch name", call: func() error {
			_, err := svc.UpdateBoard(ctx, "alice", UpdateBoardInput{BoardID: b.ID, Patch: v1.BoardPatch{Name: &longName}})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !IsInvalidInput(err) {
				t.Fatalf("err = %v, want invalid input", err)
			}
		})
	}

	// One rune under the limit is accepted; limits count runes, not bytes.
	wide := strings.Repeat("ä", maxNameChars)
	if _, err := svc.CreateColumn(ctx, "alice", v1.ColumnCreatePayload{BoardID: b.ID, Name: wide}); err != nil {
		t.Fatalf("limit-length name rejected: %v", err)
	}
}
