package board

import (
	"context"
	"strings"

	v1 "kanva/contracts/realtime/v1"
)

// defaultColumnNames are created on every new board.
var defaultColumnNames = []string{"To Do", "In Progress", "Done"}

// CreateBoardInput describes board creation.
type CreateBoardInput struct {
	Name        string
	Description string
	Visibility  string
	Settings    *v1.Settings
}

// UpdateBoardInput describes a partial board update.
type UpdateBoardInput struct {
	BoardID string
	Patch   v1.BoardPatch
}

// CreateBoard creates a board owned by userID with the three default columns.
func (s *Service) CreateBoard(ctx context.Context, userID string, in CreateBoardInput) (*Board, error) {
	const op = "board.CreateBoard"

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing board name"}
	}
	if !fitsRuneLimit(name, maxNameChars) {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "board name too long"}
	}
	if !fitsRuneLimit(in.Description, maxDescriptionChars) {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "board description too long"}
	}
	if strings.TrimSpace(userID) == "" {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user id"}
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = v1.VisibilityPrivate
	}
	if visibility != v1.VisibilityPrivate && visibility != v1.VisibilityPublic {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid visibility: " + visibility}
	}
	settings := v1.Settings{DefaultRole: v1.RoleViewer}
	if in.Settings != nil {
		settings = *in.Settings
		if settings.DefaultRole == "" {
			settings.DefaultRole = v1.RoleViewer
		}
		if !validMemberRole(settings.DefaultRole) {
			return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid default role: " + settings.DefaultRole}
		}
	}

	now := s.now()

	boardID, err := NewID(now)
	if err != nil {
		return nil, err
	}

	b := &Board{
		ID:          boardID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     userID,
		Visibility:  visibility,
		Settings:    settings,
		Columns:     make([]Column, 0, len(defaultColumnNames)),
		Tasks:       make(map[string]Task),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, colName := range defaultColumnNames {
		colID, err := NewID(now)
		if err != nil {
			return nil, err
		}
		b.Columns = append(b.Columns, Column{
			ID:        colID,
			Name:      colName,
			TaskIDs:   []string{},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.store.Insert(ctx, b); err != nil {
		return nil, err
	}

	s.feed.Record(boardID, ActivityEntry{At: now, UserID: userID, Action: "board.created", Detail: name})
	s.log.Info("board.create", "board_id", boardID, "owner_id", userID)
	return b, nil
}

// GetBoard loads a board after a view check. Used by room join and refetch.
func (s *Service) GetBoard(ctx context.Context, boardID, userID string) (*Board, Access, error) {
	const op = "board.GetBoard"

	b, acc, err := s.requireAccess(ctx, op, boardID, userID, ActionView)
	if err != nil {
		return nil, acc, err
	}
	return b, acc, nil
}

// ListBoards returns boards visible to userID. Read-only surface; no
// synchronization concerns.
func (s *Service) ListBoards(ctx context.Context, userID string) ([]*Board, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, OpError{Op: "board.ListBoards", Kind: ErrInvalidInput, Msg: "missing user id"}
	}
	return s.store.ListForUser(ctx, userID)
}

// UpdateBoard applies a partial update to board header fields.
func (s *Service) UpdateBoard(ctx context.Context, userID string, in UpdateBoardInput) (v1.BoardUpdatedPayload, error) {
	const op = "board.UpdateBoard"

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionEdit)
	if err != nil {
		return v1.BoardUpdatedPayload{}, err
	}

	p := in.Patch
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return v1.BoardUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty board name"}
		}
		if !fitsRuneLimit(name, maxNameChars) {
			return v1.BoardUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "board name too long"}
		}
		b.Name = name
	}
	if p.Description != nil {
		if !fitsRuneLimit(*p.Description, maxDescriptionChars) {
			return v1.BoardUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "board description too long"}
		}
		b.Description = strings.TrimSpace(*p.Description)
	}
	if p.Visibility != nil {
		if *p.Visibility != v1.VisibilityPrivate && *p.Visibility != v1.VisibilityPublic {
			return v1.BoardUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid visibility: " + *p.Visibility}
		}
		b.Visibility = *p.Visibility
	}
	if p.Settings != nil {
		settings := *p.Settings
		if settings.DefaultRole == "" {
			settings.DefaultRole = b.Settings.DefaultRole
		}
		if !validMemberRole(settings.DefaultRole) {
			return v1.BoardUpdatedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid default role: " + settings.DefaultRole}
		}
		b.Settings = settings
	}

	now := s.now()
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.BoardUpdatedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "board.updated"})
	s.log.Info("board.update", "board_id", b.ID, "user_id", userID)

	return v1.BoardUpdatedPayload{
		BoardID:     b.ID,
		Name:        b.Name,
		Description: b.Description,
		Visibility:  b.Visibility,
		Settings:    b.Settings,
		UpdatedAt:   now,
	}, nil
}

// DeleteBoard removes the whole aggregate. Requires delete permission, which
// only the owner holds.
func (s *Service) DeleteBoard(ctx context.Context, userID, boardID string) (v1.BoardDeletedPayload, error) {
	const op = "board.DeleteBoard"

	unlock := s.lockBoard(boardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, boardID, userID, ActionDelete)
	if err != nil {
		return v1.BoardDeletedPayload{}, err
	}

	if err := s.store.Delete(ctx, b.ID); err != nil {
		return v1.BoardDeletedPayload{}, err
	}

	s.feed.Drop(b.ID)
	s.releaseLock(b.ID)
	s.log.Info("board.delete", "board_id", b.ID, "user_id", userID)

	return v1.BoardDeletedPayload{BoardID: b.ID}, nil
}
