package board

import (
	"context"
	"strings"

	v1 "kanva/contracts/realtime/v1"
)

// CreateColumn appends a new empty column to the board.
func (s *Service) CreateColumn(ctx context.Context, userID string, in v1.ColumnCreatePayload) (v1.ColumnCreatedPayload, error) {
	const op = "board.CreateColumn"

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return v1.ColumnCreatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing column name"}
	}
	if !fitsRuneLimit(name, maxNameChars) {
		return v1.ColumnCreatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "column name too long"}
	}

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.ColumnCreatedPayload{}, err
	}

	now := s.now()
	colID, err := NewID(now)
	if err != nil {
		return v1.ColumnCreatedPayload{}, err
	}

	col := Column{
		ID:        colID,
		Name:      name,
		TaskIDs:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.Columns = append(b.Columns, col)
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.ColumnCreatedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "column.created", Detail: name})
	s.log.Info("board.column.create", "board_id", b.ID, "column_id", colID, "user_id", userID)

	return v1.ColumnCreatedPayload{BoardID: b.ID, Column: col.Wire()}, nil
}

// UpdateColumn renames a column.
func (s *Service) UpdateColumn(ctx context.Context, userID string, in v1.ColumnUpdatePayload) (v1.ColumnUpdatedPayload, error) {
	const op = "board.UpdateColumn"

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return v1.ColumnUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing column name"}
	}
	if !fitsRuneLimit(name, maxNameChars) {
		return v1.ColumnUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "column name too long"}
	}

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.ColumnUpdatedPayload{}, err
	}

	col := b.Column(in.ColumnID)
	if col == nil {
		return v1.ColumnUpdatedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "column " + in.ColumnID}
	}

	now := s.now()
	col.Name = name
	col.UpdatedAt = now
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.ColumnUpdatedPayload{}, err
	}

	s.log.Info("board.column.update", "board_id", b.ID, "column_id", col.ID, "user_id", userID)

	return v1.ColumnUpdatedPayload{BoardID: b.ID, Column: col.Wire()}, nil
}

// DeleteColumn removes the column but deletes no tasks from the task map;
// its tasks become orphans, reachable by id but absent from every column
// traversal. The orphan count is logged so the gap stays visible.
func (s *Service) DeleteColumn(ctx context.Context, userID string, in v1.ColumnDeletePayload) (v1.ColumnDeletedPayload, error) {
	const op = "board.DeleteColumn"

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.ColumnDeletedPayload{}, err
	}

	idx := -1
	for i := range b.Columns {
		if b.Columns[i].ID == in.ColumnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return v1.ColumnDeletedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "column " + in.ColumnID}
	}

	orphaned := append([]string(nil), b.Columns[idx].TaskIDs...)
	b.Columns = append(b.Columns[:idx], b.Columns[idx+1:]...)

	now := s.now()
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.ColumnDeletedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "column.deleted", Detail: in.ColumnID})
	s.log.Info("board.column.delete",
		"board_id", b.ID, "column_id", in.ColumnID, "orphaned", len(orphaned), "user_id", userID)

	return v1.ColumnDeletedPayload{BoardID: b.ID, ColumnID: in.ColumnID, OrphanedTaskIDs: orphaned}, nil
}

// ReorderColumns treats the provided id list as the new authoritative column
// order. Unknown ids are dropped; unlisted columns keep their relative order
// after the listed ones. Idempotent.
func (s *Service) ReorderColumns(ctx context.Context, userID string, in v1.ColumnReorderPayload) (v1.ColumnReorderedPayload, error) {
	const op = "board.ReorderColumns"

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.ColumnReorderedPayload{}, err
	}

	byID := make(map[string]Column, len(b.Columns))
	for _, c := range b.Columns {
		byID[c.ID] = c
	}

	next := make([]Column, 0, len(b.Columns))
	placed := make(map[string]struct{}, len(b.Columns))
	for _, id := range in.ColumnIDs {
		c, ok := byID[id]
		if !ok {
			continue // dropped: column no longer exists
		}
		if _, dup := placed[id]; dup {
			continue
		}
		next = append(next, c)
		placed[id] = struct{}{}
	}
	for _, c := range b.Columns {
		if _, ok := placed[c.ID]; !ok {
			next = append(next, c)
		}
	}

	now := s.now()
	b.Columns = next
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.ColumnReorderedPayload{}, err
	}

	order := make([]string, len(next))
	for i, c := range next {
		order[i] = c.ID
	}

	s.log.Info("board.column.reorder", "board_id", b.ID, "user_id", userID)

	return v1.ColumnReorderedPayload{BoardID: b.ID, ColumnIDs: order}, nil
}
