// Package boardsync is the client half of the realtime protocol: a local
// mirror of one board that applies the user's own mutations optimistically,
// reconciles them against the server's acknowledgments, and folds in other
// users' broadcast events.
//
// The UI layer owns rendering and gesture capture; this package owns state.
// All methods are safe for concurrent use.
package boardsync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	v1 "kanva/contracts/realtime/v1"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNoBoard is returned when a mutation is attempted before a board
	// snapshot was adopted.
	ErrNoBoard = errors.New("boardsync: no board snapshot")

	// ErrUnknownEntity is returned when a mutation targets an entity the
	// mirror does not hold.
	ErrUnknownEntity = errors.New("boardsync: unknown entity")
)

// localIDPrefix marks entity ids synthesized before the server assigns the
// canonical one.
const localIDPrefix = "local-"

// Cache is the client-held mirror of one board.
type Cache struct {
	mu        sync.Mutex
	sessionID string
	board     *v1.Board
	pending   pendingTable

	now    func() time.Time
	newRef func() string
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithRefFactory overrides correlation id generation (tests).
func WithRefFactory(f func() string) Option {
	return func(c *Cache) { c.newRef = f }
}

// NewCache builds an empty mirror bound to this connection's session id,
// which the server returns on hello_ack and carries on every event the
// session originates.
func NewCache(sessionID string, opts ...Option) *Cache {
	c := &Cache{
		sessionID: sessionID,
		pending:   newPendingTable(),
		now:       func() time.Time { return time.Now().UTC() },
		newRef:    func() string { return ulid.Make().String() },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionID returns the bound session id.
func (c *Cache) SessionID() string { return c.sessionID }

// ApplyState adopts an authoritative snapshot (board_state after join or
// resync). Any in-flight optimism predates the snapshot and is discarded.
func (c *Cache) ApplyState(b v1.Board) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := cloneBoard(b)
	c.board = &cp
	c.pending.clear()
}

// Board returns a copy of the mirror, and whether one is held.
func (c *Cache) Board() (v1.Board, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.board == nil {
		return v1.Board{}, false
	}
	return cloneBoard(*c.board), true
}

// PendingCount reports in-flight optimistic operations.
func (c *Cache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.len()
}

// ---- internal plumbing ----

// requireBoard validates the mirror holds the targeted board.
// Caller holds c.mu.
func (c *Cache) requireBoard(boardID string) error {
	if c.board == nil {
		return ErrNoBoard
	}
	if boardID != "" && boardID != c.board.ID {
		return fmt.Errorf("%w: board %s", ErrUnknownEntity, boardID)
	}
	return nil
}

// newCommand builds the command envelope for a recorded mutation.
// Caller holds c.mu.
func (c *Cache) newCommand(ref, typ, boardID string, payload any) (v1.Envelope, error) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ref,
		BoardID: boardID,
		TS:      c.now(),
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// record registers a pending op for later reconciliation.
// Caller holds c.mu.
func (c *Cache) record(ref, typ string, kind EntityKind, entityID string, prev any) {
	c.pending.put(PendingOp{
		Ref:      ref,
		Kind:     kind,
		EntityID: entityID,
		Type:     typ,
		Prev:     prev,
		At:       c.now(),
	})
}

// ---- task mutations ----

// CreateTask applies a synthetic task locally and returns the command to send.
func (c *Cache) CreateTask(p v1.TaskCreatePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}
	col := findColumn(c.board, p.ColumnID)
	if col == nil {
		return v1.Envelope{}, fmt.Errorf("%w: column %s", ErrUnknownEntity, p.ColumnID)
	}

	ref := c.newRef()
	now := c.now()

	priority := p.Priority
	if priority == "" {
		priority = v1.PriorityMedium
	}

	task := v1.Task{
		ID:          localIDPrefix + ref,
		Title:       p.Title,
		Description: p.Description,
		AssigneeID:  p.AssigneeID,
		Priority:    priority,
		DueDate:     p.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.board.Tasks[task.ID] = task
	col.TaskIDs = append(col.TaskIDs, task.ID)

	c.record(ref, v1.TypeTaskCreate, KindTask, task.ID, nil)
	return c.newCommand(ref, v1.TypeTaskCreate, p.BoardID, p)
}

// UpdateTask applies a patch locally and returns the command to send.
func (c *Cache) UpdateTask(p v1.TaskUpdatePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}
	task, ok := c.board.Tasks[p.TaskID]
	if !ok {
		return v1.Envelope{}, fmt.Errorf("%w: task %s", ErrUnknownEntity, p.TaskID)
	}

	prev := task
	applyTaskPatch(&task, p.Patch)
	task.UpdatedAt = c.now()
	c.board.Tasks[p.TaskID] = task

	ref := c.newRef()
	c.record(ref, v1.TypeTaskUpdate, KindTask, p.TaskID, prev)
	return c.newCommand(ref, v1.TypeTaskUpdate, p.BoardID, p)
}

// taskRemoval is the rollback record for an optimistic delete.
type taskRemoval struct {
	Task     v1.Task
	ColumnID string
	Index    int
}

// DeleteTask removes a task locally and returns the command to send.
func (c *Cache) DeleteTask(p v1.TaskDeletePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}
	task, ok := c.board.Tasks[p.TaskID]
	if !ok {
		return v1.Envelope{}, fmt.Errorf("%w: task %s", ErrUnknownEntity, p.TaskID)
	}

	colID, idx := taskLocation(c.board, p.TaskID)
	delete(c.board.Tasks, p.TaskID)
	if colID != "" {
		col := findColumn(c.board, colID)
		col.TaskIDs = removeID(col.TaskIDs, p.TaskID)
	}

	ref := c.newRef()
	c.record(ref, v1.TypeTaskDelete, KindTask, p.TaskID, taskRemoval{Task: task, ColumnID: colID, Index: idx})
	return c.newCommand(ref, v1.TypeTaskDelete, p.BoardID, p)
}

// taskPosition is the rollback record for an optimistic move.
type taskPosition struct {
	ColumnID string
	Index    int
}

// MoveTask applies a move locally (index clamped like the server does) and
// returns the command to send.
func (c *Cache) MoveTask(p v1.TaskMovePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}
	if _, ok := c.board.Tasks[p.TaskID]; !ok {
		return v1.Envelope{}, fmt.Errorf("%w: task %s", ErrUnknownEntity, p.TaskID)
	}
	dest := findColumn(c.board, p.ToColumnID)
	if dest == nil {
		return v1.Envelope{}, fmt.Errorf("%w: column %s", ErrUnknownEntity, p.ToColumnID)
	}

	fromID, fromIdx := taskLocation(c.board, p.TaskID)
	moveTask(c.board, p.TaskID, p.ToColumnID, p.ToIndex)

	ref := c.newRef()
	c.record(ref, v1.TypeTaskMove, KindTask, p.TaskID, taskPosition{ColumnID: fromID, Index: fromIdx})
	return c.newCommand(ref, v1.TypeTaskMove, p.BoardID, p)
}

// ReorderTasks applies a column's new task order locally and returns the
// command to send. Unknown ids are dropped; tasks missing from the list keep
// their relative order at the tail, matching the server.
func (c *Cache) ReorderTasks(p v1.TaskReorderPayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}
	col := findColumn(c.board, p.ColumnID)
	if col == nil {
		return v1.Envelope{}, fmt.Errorf("%w: column %s", ErrUnknownEntity, p.ColumnID)
	}

	prev := append([]string(nil), col.TaskIDs...)
	col.TaskIDs = reorderIDs(col.TaskIDs, p.TaskIDs)

	ref := c.newRef()
	c.record(ref, v1.TypeTaskReorder, KindColumn, p.ColumnID, prev)
	return c.newCommand(ref, v1.TypeTaskReorder, p.BoardID, p)
}

// ---- column mutations ----

// CreateColumn applies a synthetic column locally and returns the command to send.
func (c *Cache) CreateColumn(p v1.ColumnCreatePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	ref := c.newRef()
	now := c.now()
	col := v1.Column{
		ID:        localIDPrefix + ref,
		Name:      p.Name,
		TaskIDs:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.board.Columns = append(c.board.Columns, col)

	c.record(ref, v1.TypeColumnCreate, KindColumn, col.ID, nil)
	return c.newCommand(ref, v1.TypeColumnCreate, p.BoardID, p)
}

// UpdateColumn renames a column locally and returns the command to send.
func (c *Cache) UpdateColumn(p v1.ColumnUpdatePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}
	col := findColumn(c.board, p.ColumnID)
	if col == nil {
		return v1.Envelope{}, fmt.Errorf("%w: column %s", ErrUnknownEntity, p.ColumnID)
	}

	prev := cloneColumn(*col)
	col.Name = p.Name
	col.UpdatedAt = c.now()

	ref := c.newRef()
	c.record(ref, v1.TypeColumnUpdate, KindColumn, p.ColumnID, prev)
	return c.newCommand(ref, v1.TypeColumnUpdate, p.BoardID, p)
}

// columnRemoval is the rollback record for an optimistic column delete.
type columnRemoval struct {
	Column v1.Column
	Index  int
}

// DeleteColumn removes a column locally and returns the command to send.
// Its tasks stay in the task map, mirroring the server's orphan policy.
func (c *Cache) DeleteColumn(p v1.ColumnDeletePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	idx := columnIndex(c.board, p.ColumnID)
	if idx < 0 {
		return v1.Envelope{}, fmt.Errorf("%w: column %s", ErrUnknownEntity, p.ColumnID)
	}

	prev := columnRemoval{Column: cloneColumn(c.board.Columns[idx]), Index: idx}
	c.board.Columns = append(c.board.Columns[:idx], c.board.Columns[idx+1:]...)

	ref := c.newRef()
	c.record(ref, v1.TypeColumnDelete, KindColumn, p.ColumnID, prev)
	return c.newCommand(ref, v1.TypeColumnDelete, p.BoardID, p)
}

// ReorderColumns applies the new column order locally and returns the command
// to send.
func (c *Cache) ReorderColumns(p v1.ColumnReorderPayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	prev := make([]string, 0, len(c.board.Columns))
	for _, col := range c.board.Columns {
		prev = append(prev, col.ID)
	}
	reorderColumns(c.board, p.ColumnIDs)

	ref := c.newRef()
	c.record(ref, v1.TypeColumnReorder, KindBoard, c.board.ID, prev)
	return c.newCommand(ref, v1.TypeColumnReorder, p.BoardID, p)
}

// ---- member mutations ----

// AddMember applies a member locally and returns the command to send.
func (c *Cache) AddMember(p v1.MemberAddPayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	now := c.now()
	member := v1.Member{
		UserID:      p.UserID,
		Role:        p.Role,
		Permissions: permissionsForRole(p.Role),
		InvitedAt:   now,
		JoinedAt:    now,
	}
	c.board.Members = append(c.board.Members, member)

	ref := c.newRef()
	c.record(ref, v1.TypeMemberAdd, KindMember, p.UserID, nil)
	return c.newCommand(ref, v1.TypeMemberAdd, p.BoardID, p)
}

// memberRemoval is the rollback record for an optimistic member removal.
type memberRemoval struct {
	Member v1.Member
	Index  int
}

// RemoveMember removes a member locally and returns the command to send.
func (c *Cache) RemoveMember(p v1.MemberRemovePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	idx := memberIndex(c.board, p.UserID)
	if idx < 0 {
		return v1.Envelope{}, fmt.Errorf("%w: member %s", ErrUnknownEntity, p.UserID)
	}

	prev := memberRemoval{Member: c.board.Members[idx], Index: idx}
	c.board.Members = append(c.board.Members[:idx], c.board.Members[idx+1:]...)

	ref := c.newRef()
	c.record(ref, v1.TypeMemberRemove, KindMember, p.UserID, prev)
	return c.newCommand(ref, v1.TypeMemberRemove, p.BoardID, p)
}

// ChangeMemberRole applies a role change locally, recomputing permissions
// from the role table, and returns the command to send.
func (c *Cache) ChangeMemberRole(p v1.MemberChangeRolePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	idx := memberIndex(c.board, p.UserID)
	if idx < 0 {
		return v1.Envelope{}, fmt.Errorf("%w: member %s", ErrUnknownEntity, p.UserID)
	}

	prev := c.board.Members[idx]
	c.board.Members[idx].Role = p.Role
	c.board.Members[idx].Permissions = permissionsForRole(p.Role)

	ref := c.newRef()
	c.record(ref, v1.TypeMemberChangeRole, KindMember, p.UserID, prev)
	return c.newCommand(ref, v1.TypeMemberChangeRole, p.BoardID, p)
}

// ---- board mutations ----

// boardHeader is the rollback record for an optimistic board update.
type boardHeader struct {
	Name        string
	Description string
	Visibility  string
	Settings    v1.Settings
	UpdatedAt   time.Time
}

// UpdateBoard applies a board patch locally and returns the command to send.
func (c *Cache) UpdateBoard(p v1.BoardUpdatePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	prev := boardHeader{
		Name:        c.board.Name,
		Description: c.board.Description,
		Visibility:  c.board.Visibility,
		Settings:    c.board.Settings,
		UpdatedAt:   c.board.UpdatedAt,
	}
	applyBoardPatch(c.board, p.Patch)
	c.board.UpdatedAt = c.now()

	ref := c.newRef()
	c.record(ref, v1.TypeBoardUpdate, KindBoard, c.board.ID, prev)
	return c.newCommand(ref, v1.TypeBoardUpdate, p.BoardID, p)
}

// DeleteBoard drops the mirror locally and returns the command to send. A
// failed ack restores the mirror.
func (c *Cache) DeleteBoard(p v1.BoardDeletePayload) (v1.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireBoard(p.BoardID); err != nil {
		return v1.Envelope{}, err
	}

	prev := cloneBoard(*c.board)
	boardID := c.board.ID
	c.board = nil

	ref := c.newRef()
	c.record(ref, v1.TypeBoardDelete, KindBoard, boardID, prev)
	return c.newCommand(ref, v1.TypeBoardDelete, boardID, p)
}

// permissionsForRole is the fixed role→permission table. It must stay in sync
// with the server's evaluator; permissions are denormalized on the wire.
func permissionsForRole(role string) v1.Permissions {
	switch role {
	case v1.RoleOwner:
		return v1.Permissions{CanView: true, CanEdit: true, CanDelete: true, CanInvite: true, CanManageMembers: true}
	case v1.RoleEditor:
		return v1.Permissions{CanView: true, CanEdit: true}
	case v1.RoleViewer:
		return v1.Permissions{CanView: true}
	default:
		return v1.Permissions{}
	}
}
