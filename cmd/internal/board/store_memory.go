package board

import (
	"context"
	"sort"
	"sync"

	v1 "kanva/contracts/realtime/v1"
)

// InMemoryStore is the dev/test fallback when no database is configured.
// It hands out deep clones so callers never alias the canonical copy.
type InMemoryStore struct {
	mu     sync.RWMutex
	boards map[string]*Board
}

// NewInMemoryStore constructs an empty in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{boards: make(map[string]*Board)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// FindByID returns a clone of the aggregate or ErrNotFound.
func (s *InMemoryStore) FindByID(ctx context.Context, boardID string) (*Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	b := s.boards[boardID]
	s.mu.RUnlock()

	if b == nil {
		return nil, OpError{Op: "board.FindByID", Kind: ErrNotFound, Msg: "board " + boardID}
	}
	return b.Clone(), nil
}

// Insert creates a new aggregate.
func (s *InMemoryStore) Insert(ctx context.Context, b *Board) error {
	if b == nil || b.ID == "" {
		return OpError{Op: "board.Insert", Kind: ErrInvalidInput, Msg: "missing board id"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.boards[b.ID]; exists {
		return OpError{Op: "board.Insert", Kind: ErrConflict, Msg: "board " + b.ID + " exists"}
	}
	s.boards[b.ID] = b.Clone()
	return nil
}

// Replace overwrites the whole aggregate (document-level last write wins).
func (s *InMemoryStore) Replace(ctx context.Context, boardID string, b *Board) error {
	if boardID == "" || b == nil {
		return OpError{Op: "board.Replace", Kind: ErrInvalidInput, Msg: "missing board"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.boards[boardID]; !exists {
		return OpError{Op: "board.Replace", Kind: ErrNotFound, Msg: "board " + boardID}
	}
	s.boards[boardID] = b.Clone()
	return nil
}

// Delete removes the aggregate.
func (s *InMemoryStore) Delete(ctx context.Context, boardID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.boards[boardID]; !exists {
		return OpError{Op: "board.Delete", Kind: ErrNotFound, Msg: "board " + boardID}
	}
	delete(s.boards, boardID)
	return nil
}

// ListForUser returns clones of boards visible to userID, ordered by id for
// deterministic output.
func (s *InMemoryStore) ListForUser(ctx context.Context, userID string) ([]*Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*Board, 0, 8)
	for _, b := range s.boards {
		if b.OwnerID == userID || b.Member(userID) != nil || b.Visibility == v1.VisibilityPublic {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
