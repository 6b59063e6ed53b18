package board

import "context"

// Store is the persistence boundary for board aggregates.
//
// The contract is document-level: FindByID returns the whole aggregate and
// Replace writes the whole aggregate back. There are no partial updates and
// no cross-document transactions; handlers must read-mutate-write under the
// Service's per-board serialization.
type Store interface {
	// FindByID returns the aggregate or ErrNotFound.
	FindByID(ctx context.Context, boardID string) (*Board, error)
	// Insert creates a new aggregate; duplicate ids are ErrConflict.
	Insert(ctx context.Context, b *Board) error
	// Replace overwrites an existing aggregate; missing ids are ErrNotFound.
	Replace(ctx context.Context, boardID string, b *Board) error
	// Delete removes an aggregate; missing ids are ErrNotFound.
	Delete(ctx context.Context, boardID string) error
	// ListForUser returns boards the user owns, is a member of, or that are
	// public. Read-only; no synchronization concerns.
	ListForUser(ctx context.Context, userID string) ([]*Board, error)
	Close() error
}
