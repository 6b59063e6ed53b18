package board

import (
	"context"
	"strings"
	"time"

	v1 "kanva/contracts/realtime/v1"
)

// CreateTaskInput describes task creation.
type CreateTaskInput struct {
	BoardID     string
	ColumnID    string
	Title       string
	Description string
	Priority    string
	AssigneeID  string
	DueDate     *time.Time
}

// UpdateTaskInput describes a partial task update.
type UpdateTaskInput struct {
	BoardID string
	TaskID  string
	Patch   v1.TaskPatch
}

// MoveTaskInput describes moving a task between (or within) columns.
type MoveTaskInput struct {
	BoardID    string
	TaskID     string
	ToColumnID string
	ToIndex    int
}

// ReorderTasksInput sets the authoritative task order within one column.
type ReorderTasksInput struct {
	BoardID  string
	ColumnID string
	TaskIDs  []string
}

// CreateTask adds a task to the task map and appends its id to the column.
func (s *Service) CreateTask(ctx context.Context, userID string, in CreateTaskInput) (v1.TaskCreatedPayload, error) {
	const op = "board.CreateTask"

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return v1.TaskCreatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing task title"}
	}
	if !fitsRuneLimit(title, maxNameChars) {
		return v1.TaskCreatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "task title too long"}
	}
	if !fitsRuneLimit(in.Description, maxDescriptionChars) {
		return v1.TaskCreatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "task description too long"}
	}
	priority := in.Priority
	if priority == "" {
		priority = v1.PriorityMedium
	}
	if !validPriority(priority) {
		return v1.TaskCreatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid priority: " + priority}
	}

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.TaskCreatedPayload{}, err
	}

	col := b.Column(in.ColumnID)
	if col == nil {
		return v1.TaskCreatedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "column " + in.ColumnID}
	}

	now := s.now()
	taskID, err := NewID(now)
	if err != nil {
		return v1.TaskCreatedPayload{}, err
	}

	task := Task{
		ID:          taskID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		CreatorID:   userID,
		AssigneeID:  strings.TrimSpace(in.AssigneeID),
		Priority:    priority,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	b.Tasks[taskID] = task
	col.TaskIDs = append(col.TaskIDs, taskID)
	col.UpdatedAt = now
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.TaskCreatedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "task.created", Detail: title})
	s.log.Info("board.task.create", "board_id", b.ID, "task_id", taskID, "column_id", col.ID, "user_id", userID)

	return v1.TaskCreatedPayload{BoardID: b.ID, ColumnID: col.ID, Task: task.Wire()}, nil
}

// UpdateTask applies a partial update to one task.
func (s *Service) UpdateTask(ctx context.Context, userID string, in UpdateTaskInput) (v1.TaskUpdatedPayload, error) {
	const op = "board.UpdateTask"

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.TaskUpdatedPayload{}, err
	}

	task, ok := b.Tasks[in.TaskID]
	if !ok {
		return v1.TaskUpdatedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "task " + in.TaskID}
	}

	p := in.Patch
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return v1.TaskUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty task title"}
		}
		if !fitsRuneLimit(title, maxNameChars) {
			return v1.TaskUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "task title too long"}
		}
		task.Title = title
	}
	if p.Description != nil {
		if !fitsRuneLimit(*p.Description, maxDescriptionChars) {
			return v1.TaskUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "task description too long"}
		}
		task.Description = strings.TrimSpace(*p.Description)
	}
	if p.Priority != nil {
		if !validPriority(*p.Priority) {
			return v1.TaskUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid priority: " + *p.Priority}
		}
		task.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		task.AssigneeID = strings.TrimSpace(*p.AssigneeID)
	}
	if p.DueDate != nil {
		due := *p.DueDate
		task.DueDate = &due
	}
	if p.ClearDue {
		task.DueDate = nil
	}

	now := s.now()
	task.UpdatedAt = now
	b.Tasks[in.TaskID] = task
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.TaskUpdatedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "task.updated", Detail: task.Title})
	s.log.Info("board.task.update", "board_id", b.ID, "task_id", task.ID, "user_id", userID)

	return v1.TaskUpdatedPayload{BoardID: b.ID, Task: task.Wire()}, nil
}

// DeleteTask removes a task from the task map and from its owning column.
func (s *Service) DeleteTask(ctx context.Context, userID string, in v1.TaskDeletePayload) (v1.TaskDeletedPayload, error) {
	const op = "board.DeleteTask"

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.TaskDeletedPayload{}, err
	}

	if _, ok := b.Tasks[in.TaskID]; !ok {
		return v1.TaskDeletedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "task " + in.TaskID}
	}

	now := s.now()
	var columnID string
	if col := b.ColumnOfTask(in.TaskID); col != nil {
		col.removeTaskID(in.TaskID)
		col.UpdatedAt = now
		columnID = col.ID
	}
	delete(b.Tasks, in.TaskID)
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.TaskDeletedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "task.deleted", Detail: in.TaskID})
	s.log.Info("board.task.delete", "board_id", b.ID, "task_id", in.TaskID, "user_id", userID)

	return v1.TaskDeletedPayload{BoardID: b.ID, TaskID: in.TaskID, ColumnID: columnID}, nil
}

// MoveTask removes the task id from its source column and inserts it into the
// destination column in one handler invocation, so the intermediate state is
// never observable. An out-of-bounds index is clamped to append.
func (s *Service) MoveTask(ctx context.Context, userID string, in MoveTaskInput) (v1.TaskMovedPayload, error) {
	const op = "board.MoveTask"

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.TaskMovedPayload{}, err
	}

	if _, ok := b.Tasks[in.TaskID]; !ok {
		return v1.TaskMovedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "task " + in.TaskID}
	}
	dst := b.Column(in.ToColumnID)
	if dst == nil {
		return v1.TaskMovedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "column " + in.ToColumnID}
	}

	now := s.now()
	var fromColumnID string
	if src := b.ColumnOfTask(in.TaskID); src != nil {
		src.removeTaskID(in.TaskID)
		src.UpdatedAt = now
		fromColumnID = src.ID
	}
	newIndex := dst.insertTaskID(in.TaskID, in.ToIndex)
	dst.UpdatedAt = now
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.TaskMovedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "task.moved", Detail: in.TaskID})
	s.log.Info("board.task.move",
		"board_id", b.ID, "task_id", in.TaskID,
		"from_column_id", fromColumnID, "to_column_id", dst.ID, "new_index", newIndex,
		"user_id", userID)

	return v1.TaskMovedPayload{
		BoardID:      b.ID,
		TaskID:       in.TaskID,
		FromColumnID: fromColumnID,
		ToColumnID:   dst.ID,
		NewIndex:     newIndex,
	}, nil
}

// ReorderTasks treats the provided id list as the new authoritative order for
// one column. Unknown ids are dropped; ids belonging to the column but absent
// from the list keep their relative order after the listed ones. Applying the
// same final order twice is a no-op.
func (s *Service) ReorderTasks(ctx context.Context, userID string, in ReorderTasksInput) (v1.TaskReorderedPayload, error) {
	const op = "board.ReorderTasks"

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.TaskReorderedPayload{}, err
	}

	col := b.Column(in.ColumnID)
	if col == nil {
		return v1.TaskReorderedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "column " + in.ColumnID}
	}

	current := make(map[string]struct{}, len(col.TaskIDs))
	for _, id := range col.TaskIDs {
		current[id] = struct{}{}
	}

	next := make([]string, 0, len(col.TaskIDs))
	placed := make(map[string]struct{}, len(col.TaskIDs))
	for _, id := range in.TaskIDs {
		if _, ok := current[id]; !ok {
			continue // dropped: id no longer exists in this column
		}
		if _, dup := placed[id]; dup {
			continue
		}
		next = append(next, id)
		placed[id] = struct{}{}
	}
	for _, id := range col.TaskIDs {
		if _, ok := placed[id]; !ok {
			next = append(next, id)
		}
	}

	now := s.now()
	col.TaskIDs = next
	col.UpdatedAt = now
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.TaskReorderedPayload{}, err
	}

	s.log.Info("board.task.reorder", "board_id", b.ID, "column_id", col.ID, "user_id", userID)

	return v1.TaskReorderedPayload{
		BoardID:  b.ID,
		ColumnID: col.ID,
		TaskIDs:  append([]string(nil), next...),
	}, nil
}
