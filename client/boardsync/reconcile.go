package boardsync

import (
	"encoding/json"

	v1 "kanva/contracts/realtime/v1"
)

// AckResult reports how an acknowledgment was reconciled.
type AckResult struct {
	Ref     string
	Known   bool
	Success bool

	// ServerError carries the server's message on a rejected command; the
	// optimistic change has been reverted when Reverted is true.
	ServerError string
	Reverted    bool

	Kind     EntityKind
	EntityID string

	// CanonicalID is the server-assigned id adopted in place of a local
	// placeholder on successful creates.
	CanonicalID string
}

// HandleAck reconciles exactly one acknowledgment against the pending table.
// A success drops the pending op and adopts the authoritative result payload;
// a failure reverts the optimistic change. Acks for unknown refs (already
// superseded by a broadcast, or a resync happened in between) are ignored.
func (c *Cache) HandleAck(p v1.AckPayload) AckResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := AckResult{Ref: p.Ref, Success: p.Success, ServerError: p.Error}

	op, ok := c.pending.takeByRef(p.Ref)
	if !ok {
		// The ref may belong to a create whose pending op was replaced by a
		// later local edit. Its ack still decides the entity's fate: success
		// swaps the placeholder id for the canonical one, failure means the
		// entity never existed server-side and the whole chain is discarded.
		if key, isCreate := c.pending.takeCreateRef(p.Ref); isCreate {
			res.Known = true
			res.Kind = key.Kind
			res.EntityID = key.ID
			if p.Success {
				res.CanonicalID = c.adoptReplacedCreate(key, p.Result)
			} else {
				c.discardReplacedCreate(key)
				res.Reverted = true
			}
		}
		return res
	}
	res.Known = true
	res.Kind = op.Kind
	res.EntityID = op.EntityID

	if p.Success {
		res.CanonicalID = c.finalize(op, p.Result)
		return res
	}

	c.revert(op)
	res.Reverted = true
	return res
}

// finalize adopts the server's authoritative result for a confirmed command.
// Returns the canonical entity id for creates, "" otherwise.
func (c *Cache) finalize(op PendingOp, result json.RawMessage) string {
	if c.board == nil && op.Type != v1.TypeBoardDelete {
		return ""
	}

	switch op.Type {
	case v1.TypeTaskCreate:
		var p v1.TaskCreatedPayload
		if unmarshal(result, &p) {
			c.adoptCreatedTask(op.EntityID, p)
			return p.Task.ID
		}

	case v1.TypeTaskUpdate:
		var p v1.TaskUpdatedPayload
		if unmarshal(result, &p) {
			c.applyTaskUpdated(p)
		}

	case v1.TypeTaskDelete:
		var p v1.TaskDeletedPayload
		if unmarshal(result, &p) {
			c.applyTaskDeleted(p)
		}

	case v1.TypeTaskMove:
		// The applied index may differ from the requested one (clamping).
		var p v1.TaskMovedPayload
		if unmarshal(result, &p) {
			c.applyTaskMoved(p)
		}

	case v1.TypeTaskReorder:
		var p v1.TaskReorderedPayload
		if unmarshal(result, &p) {
			c.applyTaskReordered(p)
		}

	case v1.TypeColumnCreate:
		var p v1.ColumnCreatedPayload
		if unmarshal(result, &p) {
			c.adoptCreatedColumn(op.EntityID, p)
			return p.Column.ID
		}

	case v1.TypeColumnUpdate:
		var p v1.ColumnUpdatedPayload
		if unmarshal(result, &p) {
			c.applyColumnUpdated(p)
		}

	case v1.TypeColumnDelete:
		var p v1.ColumnDeletedPayload
		if unmarshal(result, &p) {
			c.applyColumnDeleted(p)
		}

	case v1.TypeColumnReorder:
		var p v1.ColumnReorderedPayload
		if unmarshal(result, &p) {
			c.applyColumnReordered(p)
		}

	case v1.TypeMemberAdd:
		var p v1.MemberAddedPayload
		if unmarshal(result, &p) {
			c.applyMemberAdded(p)
		}

	case v1.TypeMemberRemove:
		var p v1.MemberRemovedPayload
		if unmarshal(result, &p) {
			c.applyMemberRemoved(p)
		}

	case v1.TypeMemberChangeRole:
		var p v1.MemberRoleChangedPayload
		if unmarshal(result, &p) {
			c.applyMemberRoleChanged(p)
		}

	case v1.TypeBoardUpdate:
		var p v1.BoardUpdatedPayload
		if unmarshal(result, &p) {
			c.applyBoardUpdated(p)
		}

	case v1.TypeBoardDelete:
		c.board = nil
		c.pending.clear()
	}
	return ""
}

// adoptReplacedCreate handles the success ack of a create that is no longer
// the entity's pending op: the placeholder id is swapped for the canonical one
// while the locally edited value is kept, and the surviving pending op is
// re-keyed so its own ack (or a supersede) still correlates.
func (c *Cache) adoptReplacedCreate(key entityKey, result json.RawMessage) string {
	if c.board == nil {
		return ""
	}

	switch key.Kind {
	case KindTask:
		var p v1.TaskCreatedPayload
		if !unmarshal(result, &p) {
			return ""
		}
		if task, ok := c.board.Tasks[key.ID]; ok {
			delete(c.board.Tasks, key.ID)
			task.ID = p.Task.ID
			task.CreatedAt = p.Task.CreatedAt
			c.board.Tasks[task.ID] = task
			if colID, idx := taskLocation(c.board, key.ID); colID != "" {
				findColumn(c.board, colID).TaskIDs[idx] = p.Task.ID
			}
		}
		c.pending.rekey(KindTask, key.ID, p.Task.ID)
		return p.Task.ID

	case KindColumn:
		var p v1.ColumnCreatedPayload
		if !unmarshal(result, &p) {
			return ""
		}
		if idx := columnIndex(c.board, key.ID); idx >= 0 {
			c.board.Columns[idx].ID = p.Column.ID
			c.board.Columns[idx].CreatedAt = p.Column.CreatedAt
		}
		c.pending.rekey(KindColumn, key.ID, p.Column.ID)
		return p.Column.ID
	}
	return ""
}

// discardReplacedCreate removes a placeholder entity whose create the server
// rejected, along with the local edit chained on top of it.
func (c *Cache) discardReplacedCreate(key entityKey) {
	c.pending.takeByEntity(key.Kind, key.ID)
	if c.board == nil {
		return
	}

	switch key.Kind {
	case KindTask:
		delete(c.board.Tasks, key.ID)
		for i := range c.board.Columns {
			c.board.Columns[i].TaskIDs = removeID(c.board.Columns[i].TaskIDs, key.ID)
		}
	case KindColumn:
		if idx := columnIndex(c.board, key.ID); idx >= 0 {
			c.board.Columns = append(c.board.Columns[:idx], c.board.Columns[idx+1:]...)
		}
	}
}

// adoptCreatedTask swaps a placeholder task for the server's canonical one,
// preserving the placeholder's position in its column.
func (c *Cache) adoptCreatedTask(placeholderID string, p v1.TaskCreatedPayload) {
	delete(c.board.Tasks, placeholderID)
	c.board.Tasks[p.Task.ID] = p.Task

	colID, idx := taskLocation(c.board, placeholderID)
	if colID != "" {
		col := findColumn(c.board, colID)
		col.TaskIDs[idx] = p.Task.ID
		return
	}
	if col := findColumn(c.board, p.ColumnID); col != nil {
		col.TaskIDs = append(col.TaskIDs, p.Task.ID)
	}
}

// adoptCreatedColumn swaps a placeholder column for the canonical one,
// keeping position and any locally accumulated task order.
func (c *Cache) adoptCreatedColumn(placeholderID string, p v1.ColumnCreatedPayload) {
	idx := columnIndex(c.board, placeholderID)
	if idx < 0 {
		c.applyColumnCreated(p)
		return
	}

	col := cloneColumn(p.Column)
	if len(c.board.Columns[idx].TaskIDs) > 0 {
		col.TaskIDs = append([]string(nil), c.board.Columns[idx].TaskIDs...)
	}
	c.board.Columns[idx] = col
}

// revert undoes one optimistic operation using its rollback record.
func (c *Cache) revert(op PendingOp) {
	if op.Type == v1.TypeBoardDelete {
		if prev, ok := op.Prev.(v1.Board); ok {
			cp := cloneBoard(prev)
			c.board = &cp
		}
		return
	}
	if c.board == nil {
		return
	}

	switch op.Type {
	case v1.TypeTaskCreate:
		delete(c.board.Tasks, op.EntityID)
		for i := range c.board.Columns {
			c.board.Columns[i].TaskIDs = removeID(c.board.Columns[i].TaskIDs, op.EntityID)
		}

	case v1.TypeTaskUpdate:
		if prev, ok := op.Prev.(v1.Task); ok {
			// The op may have been re-keyed to a canonical id after the
			// rollback value was captured under a placeholder.
			prev.ID = op.EntityID
			c.board.Tasks[op.EntityID] = prev
		}

	case v1.TypeTaskDelete:
		if prev, ok := op.Prev.(taskRemoval); ok {
			c.board.Tasks[prev.Task.ID] = prev.Task
			if col := findColumn(c.board, prev.ColumnID); col != nil {
				col.TaskIDs = insertID(col.TaskIDs, prev.Task.ID, prev.Index)
			}
		}

	case v1.TypeTaskMove:
		if prev, ok := op.Prev.(taskPosition); ok {
			if prev.ColumnID == "" {
				// The task was an orphan before; make it one again.
				for i := range c.board.Columns {
					c.board.Columns[i].TaskIDs = removeID(c.board.Columns[i].TaskIDs, op.EntityID)
				}
				return
			}
			moveTask(c.board, op.EntityID, prev.ColumnID, prev.Index)
		}

	case v1.TypeTaskReorder:
		if prev, ok := op.Prev.([]string); ok {
			if col := findColumn(c.board, op.EntityID); col != nil {
				col.TaskIDs = append([]string(nil), prev...)
			}
		}

	case v1.TypeColumnCreate:
		if idx := columnIndex(c.board, op.EntityID); idx >= 0 {
			c.board.Columns = append(c.board.Columns[:idx], c.board.Columns[idx+1:]...)
		}

	case v1.TypeColumnUpdate:
		if prev, ok := op.Prev.(v1.Column); ok {
			if idx := columnIndex(c.board, op.EntityID); idx >= 0 {
				restored := cloneColumn(prev)
				restored.ID = op.EntityID
				c.board.Columns[idx] = restored
			}
		}

	case v1.TypeColumnDelete:
		if prev, ok := op.Prev.(columnRemoval); ok {
			idx := prev.Index
			if idx < 0 || idx > len(c.board.Columns) {
				idx = len(c.board.Columns)
			}
			cols := append(c.board.Columns[:idx:idx], cloneColumn(prev.Column))
			c.board.Columns = append(cols, c.board.Columns[idx:]...)
		}

	case v1.TypeColumnReorder:
		if prev, ok := op.Prev.([]string); ok {
			reorderColumns(c.board, prev)
		}

	case v1.TypeMemberAdd:
		if idx := memberIndex(c.board, op.EntityID); idx >= 0 {
			c.board.Members = append(c.board.Members[:idx], c.board.Members[idx+1:]...)
		}

	case v1.TypeMemberRemove:
		if prev, ok := op.Prev.(memberRemoval); ok {
			idx := prev.Index
			if idx < 0 || idx > len(c.board.Members) {
				idx = len(c.board.Members)
			}
			members := append(c.board.Members[:idx:idx], prev.Member)
			c.board.Members = append(members, c.board.Members[idx:]...)
		}

	case v1.TypeMemberChangeRole:
		if prev, ok := op.Prev.(v1.Member); ok {
			if idx := memberIndex(c.board, op.EntityID); idx >= 0 {
				c.board.Members[idx] = prev
			}
		}

	case v1.TypeBoardUpdate:
		if prev, ok := op.Prev.(boardHeader); ok {
			c.board.Name = prev.Name
			c.board.Description = prev.Description
			c.board.Visibility = prev.Visibility
			c.board.Settings = prev.Settings
			c.board.UpdatedAt = prev.UpdatedAt
		}
	}
}

// EventResult reports how a broadcast event was handled.
type EventResult struct {
	// Echo is true when the event originated from this session; the direct
	// acknowledgment path reconciles it instead.
	Echo bool

	// Applied is true when the event changed the mirror.
	Applied bool

	// Superseded is set when the server's event overrode an in-flight local
	// edit of the same entity (last server write wins).
	Superseded *PendingOp
}

// HandleEvent folds a broadcast event into the mirror. Events carrying this
// session's own origin are ignored (echo suppression). An event touching an
// entity with a pending optimistic op discards that op: broadcast state
// already passed authorization and persistence, so it wins.
func (c *Cache) HandleEvent(env v1.Envelope) (EventResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Origin != "" && env.Origin == c.sessionID {
		return EventResult{Echo: true}, nil
	}

	if env.Type == v1.TypeBoardState {
		var p v1.BoardStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		cp := cloneBoard(p.Board)
		c.board = &cp
		c.pending.clear()
		return EventResult{Applied: true}, nil
	}

	if env.Type == v1.TypeBoardDeleted || env.Type == v1.TypeAccessRevoked {
		c.board = nil
		c.pending.clear()
		return EventResult{Applied: true}, nil
	}

	if c.board == nil {
		return EventResult{}, ErrNoBoard
	}

	switch env.Type {
	case v1.TypeTaskCreated:
		var p v1.TaskCreatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindTask, p.Task.ID)
		c.applyTaskCreated(p)
		res.Applied = true
		return res, nil

	case v1.TypeTaskUpdated:
		var p v1.TaskUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindTask, p.Task.ID)
		c.applyTaskUpdated(p)
		res.Applied = true
		return res, nil

	case v1.TypeTaskDeleted:
		var p v1.TaskDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindTask, p.TaskID)
		c.applyTaskDeleted(p)
		res.Applied = true
		return res, nil

	case v1.TypeTaskMoved:
		var p v1.TaskMovedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindTask, p.TaskID)
		c.applyTaskMoved(p)
		res.Applied = true
		return res, nil

	case v1.TypeTaskReordered:
		var p v1.TaskReorderedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindColumn, p.ColumnID)
		c.applyTaskReordered(p)
		res.Applied = true
		return res, nil

	case v1.TypeColumnCreated:
		var p v1.ColumnCreatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindColumn, p.Column.ID)
		c.applyColumnCreated(p)
		res.Applied = true
		return res, nil

	case v1.TypeColumnUpdated:
		var p v1.ColumnUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindColumn, p.Column.ID)
		c.applyColumnUpdated(p)
		res.Applied = true
		return res, nil

	case v1.TypeColumnDeleted:
		var p v1.ColumnDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindColumn, p.ColumnID)
		c.applyColumnDeleted(p)
		res.Applied = true
		return res, nil

	case v1.TypeColumnReordered:
		var p v1.ColumnReorderedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindBoard, c.board.ID)
		c.applyColumnReordered(p)
		res.Applied = true
		return res, nil

	case v1.TypeMemberAdded:
		var p v1.MemberAddedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindMember, p.Member.UserID)
		c.applyMemberAdded(p)
		res.Applied = true
		return res, nil

	case v1.TypeMemberRemoved:
		var p v1.MemberRemovedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindMember, p.UserID)
		c.applyMemberRemoved(p)
		res.Applied = true
		return res, nil

	case v1.TypeMemberRoleChanged:
		var p v1.MemberRoleChangedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindMember, p.Member.UserID)
		c.applyMemberRoleChanged(p)
		res.Applied = true
		return res, nil

	case v1.TypeBoardUpdated:
		var p v1.BoardUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return EventResult{}, err
		}
		res := c.supersede(KindBoard, c.board.ID)
		c.applyBoardUpdated(p)
		res.Applied = true
		return res, nil
	}

	// Presence, typing, acks, errors: not board state.
	return EventResult{}, nil
}

// supersede discards a pending op on the entity, if any, and reports it.
func (c *Cache) supersede(kind EntityKind, entityID string) EventResult {
	if op, ok := c.pending.takeByEntity(kind, entityID); ok {
		return EventResult{Superseded: &op}
	}
	return EventResult{}
}

func unmarshal(raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
