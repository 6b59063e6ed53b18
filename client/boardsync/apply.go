package boardsync

import (
	"encoding/json"

	v1 "kanva/contracts/realtime/v1"
)

// ---- copy helpers ----

func cloneBoard(b v1.Board) v1.Board {
	cp := b
	cp.Columns = make([]v1.Column, len(b.Columns))
	for i, col := range b.Columns {
		cp.Columns[i] = cloneColumn(col)
	}
	cp.Tasks = make(map[string]v1.Task, len(b.Tasks))
	for id, t := range b.Tasks {
		cp.Tasks[id] = t
	}
	cp.Members = append([]v1.Member(nil), b.Members...)
	return cp
}

func cloneColumn(col v1.Column) v1.Column {
	cp := col
	cp.TaskIDs = append([]string(nil), col.TaskIDs...)
	return cp
}

// ---- lookup helpers (caller holds the cache lock) ----

func findColumn(b *v1.Board, id string) *v1.Column {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return &b.Columns[i]
		}
	}
	return nil
}

func columnIndex(b *v1.Board, id string) int {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return i
		}
	}
	return -1
}

func memberIndex(b *v1.Board, userID string) int {
	for i := range b.Members {
		if b.Members[i].UserID == userID {
			return i
		}
	}
	return -1
}

// taskLocation returns the owning column id and index of a task, or ("", -1)
// for an orphan.
func taskLocation(b *v1.Board, taskID string) (string, int) {
	for i := range b.Columns {
		for j, id := range b.Columns[i].TaskIDs {
			if id == taskID {
				return b.Columns[i].ID, j
			}
		}
	}
	return "", -1
}

// ---- order helpers ----

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// insertID inserts at index, clamping out-of-bounds to append.
func insertID(ids []string, id string, index int) []string {
	if index < 0 || index > len(ids) {
		index = len(ids)
	}
	ids = append(ids, "")
	copy(ids[index+1:], ids[index:])
	ids[index] = id
	return ids
}

// moveTask removes the task from its current column (if any) and inserts it
// into dest at a clamped index.
func moveTask(b *v1.Board, taskID, toColumnID string, toIndex int) {
	for i := range b.Columns {
		b.Columns[i].TaskIDs = removeID(b.Columns[i].TaskIDs, taskID)
	}
	if dest := findColumn(b, toColumnID); dest != nil {
		dest.TaskIDs = insertID(dest.TaskIDs, taskID, toIndex)
	}
}

// reorderIDs applies a requested order: unknown ids are dropped, ids missing
// from the request keep their relative order at the tail.
func reorderIDs(current, requested []string) []string {
	present := make(map[string]bool, len(current))
	for _, id := range current {
		present[id] = true
	}

	out := make([]string, 0, len(current))
	used := make(map[string]bool, len(current))
	for _, id := range requested {
		if present[id] && !used[id] {
			out = append(out, id)
			used[id] = true
		}
	}
	for _, id := range current {
		if !used[id] {
			out = append(out, id)
		}
	}
	return out
}

func reorderColumns(b *v1.Board, requested []string) {
	current := make([]string, 0, len(b.Columns))
	byID := make(map[string]v1.Column, len(b.Columns))
	for _, col := range b.Columns {
		current = append(current, col.ID)
		byID[col.ID] = col
	}

	order := reorderIDs(current, requested)
	cols := make([]v1.Column, 0, len(order))
	for _, id := range order {
		cols = append(cols, byID[id])
	}
	b.Columns = cols
}

// ---- patch helpers ----

func applyTaskPatch(t *v1.Task, p v1.TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.ClearDue {
		t.DueDate = nil
	} else if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
}

func applyBoardPatch(b *v1.Board, p v1.BoardPatch) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Visibility != nil {
		b.Visibility = *p.Visibility
	}
	if p.Settings != nil {
		b.Settings = *p.Settings
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// ---- authoritative event application (caller holds the cache lock) ----

func (c *Cache) applyTaskCreated(p v1.TaskCreatedPayload) {
	c.board.Tasks[p.Task.ID] = p.Task
	if col := findColumn(c.board, p.ColumnID); col != nil {
		col.TaskIDs = removeID(col.TaskIDs, p.Task.ID)
		col.TaskIDs = append(col.TaskIDs, p.Task.ID)
	}
}

func (c *Cache) applyTaskUpdated(p v1.TaskUpdatedPayload) {
	if _, ok := c.board.Tasks[p.Task.ID]; ok {
		c.board.Tasks[p.Task.ID] = p.Task
	}
}

func (c *Cache) applyTaskDeleted(p v1.TaskDeletedPayload) {
	delete(c.board.Tasks, p.TaskID)
	for i := range c.board.Columns {
		c.board.Columns[i].TaskIDs = removeID(c.board.Columns[i].TaskIDs, p.TaskID)
	}
}

func (c *Cache) applyTaskMoved(p v1.TaskMovedPayload) {
	if _, ok := c.board.Tasks[p.TaskID]; !ok {
		return
	}
	moveTask(c.board, p.TaskID, p.ToColumnID, p.NewIndex)
}

func (c *Cache) applyTaskReordered(p v1.TaskReorderedPayload) {
	if col := findColumn(c.board, p.ColumnID); col != nil {
		// The event carries the applied, authoritative order.
		col.TaskIDs = append([]string(nil), p.TaskIDs...)
	}
}

func (c *Cache) applyColumnCreated(p v1.ColumnCreatedPayload) {
	if columnIndex(c.board, p.Column.ID) >= 0 {
		return
	}
	c.board.Columns = append(c.board.Columns, cloneColumn(p.Column))
}

func (c *Cache) applyColumnUpdated(p v1.ColumnUpdatedPayload) {
	if idx := columnIndex(c.board, p.Column.ID); idx >= 0 {
		c.board.Columns[idx] = cloneColumn(p.Column)
	}
}

func (c *Cache) applyColumnDeleted(p v1.ColumnDeletedPayload) {
	// Tasks stay in the task map; they are orphans until reassigned.
	if idx := columnIndex(c.board, p.ColumnID); idx >= 0 {
		c.board.Columns = append(c.board.Columns[:idx], c.board.Columns[idx+1:]...)
	}
}

func (c *Cache) applyColumnReordered(p v1.ColumnReorderedPayload) {
	reorderColumns(c.board, p.ColumnIDs)
}

func (c *Cache) applyMemberAdded(p v1.MemberAddedPayload) {
	if idx := memberIndex(c.board, p.Member.UserID); idx >= 0 {
		c.board.Members[idx] = p.Member
		return
	}
	c.board.Members = append(c.board.Members, p.Member)
}

func (c *Cache) applyMemberRemoved(p v1.MemberRemovedPayload) {
	if idx := memberIndex(c.board, p.UserID); idx >= 0 {
		c.board.Members = append(c.board.Members[:idx], c.board.Members[idx+1:]...)
	}
}

func (c *Cache) applyMemberRoleChanged(p v1.MemberRoleChangedPayload) {
	if idx := memberIndex(c.board, p.Member.UserID); idx >= 0 {
		c.board.Members[idx] = p.Member
	}
}

func (c *Cache) applyBoardUpdated(p v1.BoardUpdatedPayload) {
	c.board.Name = p.Name
	c.board.Description = p.Description
	c.board.Visibility = p.Visibility
	c.board.Settings = p.Settings
	c.board.UpdatedAt = p.UpdatedAt
}
