package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists board aggregates as single JSONB documents in
// <schema>.boards (id text primary key, doc jsonb, updated_at timestamptz).
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// The write model is whole-document replace; there are no field-level updates
// and no cross-document transactions. Serialization of concurrent mutations
// on one board happens above this layer, in the Service.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "kanva").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("board: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("board: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed board Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "kanva",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("board: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// FindByID returns the aggregate or ErrNotFound.
func (s *PostgresStore) FindByID(ctx context.Context, boardID string) (*Board, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("board: nil store")
	}
	if strings.TrimSpace(boardID) == "" {
		return nil, OpError{Op: "board.FindByID", Kind: ErrInvalidInput, Msg: "missing board id"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boards := pgIdent(s.schema, "boards")

	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM `+boards+` WHERE id = $1`,
		boardID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, OpError{Op: "board.FindByID", Kind: ErrNotFound, Msg: "board " + boardID}
	}
	if err != nil {
		return nil, err
	}

	var b Board
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, fmt.Errorf("decode board doc: %w", err)
	}
	if b.Tasks == nil {
		b.Tasks = make(map[string]Task)
	}
	return &b, nil
}

// Insert creates a new aggregate row.
func (s *PostgresStore) Insert(ctx context.Context, b *Board) error {
	if s == nil || s.pool == nil {
		return errors.New("board: nil store")
	}
	if b == nil || strings.TrimSpace(b.ID) == "" {
		return OpError{Op: "board.Insert", Kind: ErrInvalidInput, Msg: "missing board id"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode board doc: %w", err)
	}

	boards := pgIdent(s.schema, "boards")

	ct, err := s.pool.Exec(ctx,
		`INSERT INTO `+boards+` (id, doc, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (id) DO NOTHING`,
		b.ID, doc,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return OpError{Op: "board.Insert", Kind: ErrConflict, Msg: "board " + b.ID + " exists"}
	}
	return nil
}

// Replace overwrites the whole document (document-level last write wins).
func (s *PostgresStore) Replace(ctx context.Context, boardID string, b *Board) error {
	if s == nil || s.pool == nil {
		return errors.New("board: nil store")
	}
	if strings.TrimSpace(boardID) == "" || b == nil {
		return OpError{Op: "board.Replace", Kind: ErrInvalidInput, Msg: "missing board"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode board doc: %w", err)
	}

	boards := pgIdent(s.schema, "boards")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+boards+` SET doc = $2, updated_at = now() WHERE id = $1`,
		boardID, doc,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return OpError{Op: "board.Replace", Kind: ErrNotFound, Msg: "board " + boardID}
	}
	return nil
}

// Delete removes the aggregate row.
func (s *PostgresStore) Delete(ctx context.Context, boardID string) error {
	if s == nil || s.pool == nil {
		return errors.New("board: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	boards := pgIdent(s.schema, "boards")

	ct, err := s.pool.Exec(ctx, `DELETE FROM `+boards+` WHERE id = $1`, boardID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return OpError{Op: "board.Delete", Kind: ErrNotFound, Msg: "board " + boardID}
	}
	return nil
}

// ListForUser returns boards the user owns, is a member of, or that are public.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]*Board, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("board: nil store")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, OpError{Op: "board.ListForUser", Kind: ErrInvalidInput, Msg: "missing user id"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boards := pgIdent(s.schema, "boards")

	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM `+boards+`
		  WHERE doc->>'owner_id' = $1
		     OR doc->>'visibility' = 'public'
		     OR doc->'members' @> jsonb_build_array(jsonb_build_object('user_id', $1::text))
		  ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Board, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var b Board
		if err := json.Unmarshal(doc, &b); err != nil {
			return nil, fmt.Errorf("decode board doc: %w", err)
		}
		if b.Tasks == nil {
			b.Tasks = make(map[string]Task)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
