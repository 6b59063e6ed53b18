// Package board owns the board aggregate: the canonical document holding
// columns, tasks, members, and invite links, plus the permission-gated
// command handlers that mutate it.
package board

import (
	"time"
	"unicode/utf8"

	v1 "kanva/contracts/realtime/v1"
)

// Task is one card on the board. Its existence is anchored by Board.Tasks;
// its position is carried by exactly one Column.TaskIDs.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	CreatorID   string     `json:"creator_id"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Column is an ordered lane of task ids.
type Column struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaskIDs   []string  `json:"task_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a non-owner participant. Permissions are denormalized from Role
// for fast checks and must be recomputed on every role change.
type Member struct {
	UserID      string         `json:"user_id"`
	Role        string         `json:"role"`
	Permissions v1.Permissions `json:"permissions"`
	InvitedBy   string         `json:"invited_by,omitempty"`
	InvitedAt   time.Time      `json:"invited_at"`
	JoinedAt    time.Time      `json:"joined_at"`
}

// InviteLink is a shareable token granting membership at a target role.
// Links are never deleted, only deactivated, to keep the trail intact.
type InviteLink struct {
	ID        string     `json:"id"`
	TokenHash string     `json:"token_hash"`
	Role      string     `json:"role"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxUses   int        `json:"max_uses,omitempty"`
	UsedCount int        `json:"used_count"`
	Active    bool       `json:"active"`
}

// Board is the aggregate: one persistence unit, replaced whole on every write.
type Board struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id"`
	Visibility  string          `json:"visibility"`
	Settings    v1.Settings     `json:"settings"`
	Columns     []Column        `json:"columns"`
	Tasks       map[string]Task `json:"tasks"`
	Members     []Member        `json:"members"`
	InviteLinks []InviteLink    `json:"invite_links,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Column returns a pointer into b.Columns for in-place mutation.
func (b *Board) Column(columnID string) *Column {
	for i := range b.Columns {
		if b.Columns[i].ID == columnID {
			return &b.Columns[i]
		}
	}
	return nil
}

// ColumnOfTask returns the column whose TaskIDs contains taskID, or nil for
// orphaned tasks.
func (b *Board) ColumnOfTask(taskID string) *Column {
	for i := range b.Columns {
		for _, id := range b.Columns[i].TaskIDs {
			if id == taskID {
				return &b.Columns[i]
			}
		}
	}
	return nil
}

// Member returns a pointer into b.Members for in-place mutation.
// The owner is never listed here.
func (b *Board) Member(userID string) *Member {
	for i := range b.Members {
		if b.Members[i].UserID == userID {
			return &b.Members[i]
		}
	}
	return nil
}

// InviteLink returns a pointer into b.InviteLinks.
func (b *Board) InviteLink(linkID string) *InviteLink {
	for i := range b.InviteLinks {
		if b.InviteLinks[i].ID == linkID {
			return &b.InviteLinks[i]
		}
	}
	return nil
}

// removeTaskID deletes taskID from a column's sequence, preserving order.
func (c *Column) removeTaskID(taskID string) bool {
	for i, id := range c.TaskIDs {
		if id == taskID {
			c.TaskIDs = append(c.TaskIDs[:i], c.TaskIDs[i+1:]...)
			return true
		}
	}
	return false
}

// insertTaskID inserts taskID at index, clamping out-of-bounds to append.
func (c *Column) insertTaskID(taskID string, index int) int {
	if index < 0 {
		index = 0
	}
	if index > len(c.TaskIDs) {
		index = len(c.TaskIDs)
	}
	c.TaskIDs = append(c.TaskIDs, "")
	copy(c.TaskIDs[index+1:], c.TaskIDs[index:])
	c.TaskIDs[index] = taskID
	return index
}

// Clone returns a deep copy of the aggregate. The in-memory store hands out
// clones so callers can mutate freely before Replace.
func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	out := *b

	out.Columns = make([]Column, len(b.Columns))
	for i, c := range b.Columns {
		cc := c
		cc.TaskIDs = append([]string(nil), c.TaskIDs...)
		out.Columns[i] = cc
	}

	out.Tasks = make(map[string]Task, len(b.Tasks))
	for id, t := range b.Tasks {
		if t.DueDate != nil {
			due := *t.DueDate
			t.DueDate = &due
		}
		out.Tasks[id] = t
	}

	out.Members = append([]Member(nil), b.Members...)

	out.InviteLinks = make([]InviteLink, len(b.InviteLinks))
	for i, l := range b.InviteLinks {
		if l.ExpiresAt != nil {
			exp := *l.ExpiresAt
			l.ExpiresAt = &exp
		}
		out.InviteLinks[i] = l
	}

	return &out
}

// Wire converts the aggregate to its wire representation.
// Invite links carry token hashes and stay server-side.
func (b *Board) Wire() v1.Board {
	cols := make([]v1.Column, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = c.Wire()
	}
	tasks := make(map[string]v1.Task, len(b.Tasks))
	for id, t := range b.Tasks {
		tasks[id] = t.Wire()
	}
	members := make([]v1.Member, len(b.Members))
	for i, m := range b.Members {
		members[i] = m.Wire()
	}
	return v1.Board{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		OwnerID:     b.OwnerID,
		Visibility:  b.Visibility,
		Settings:    b.Settings,
		Columns:     cols,
		Tasks:       tasks,
		Members:     members,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

// Wire converts a task to its wire representation.
func (t Task) Wire() v1.Task {
	return v1.Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		CreatorID:   t.CreatorID,
		AssigneeID:  t.AssigneeID,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Wire converts a column to its wire representation.
func (c Column) Wire() v1.Column {
	return v1.Column{
		ID:        c.ID,
		Name:      c.Name,
		TaskIDs:   append([]string(nil), c.TaskIDs...),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// Wire converts a member to its wire representation.
func (m Member) Wire() v1.Member {
	return v1.Member{
		UserID:      m.UserID,
		Role:        m.Role,
		Permissions: m.Permissions,
		InvitedBy:   m.InvitedBy,
		InvitedAt:   m.InvitedAt,
		JoinedAt:    m.JoinedAt,
	}
}

// CheckIntegrity verifies the aggregate's cross-entity invariants:
// every referenced task id exists, no task id appears in two columns,
// member user ids are unique, and the owner is not listed as a member.
func (b *Board) CheckIntegrity() error {
	seen := make(map[string]string, len(b.Tasks))
	for i := range b.Columns {
		col := &b.Columns[i]
		for _, taskID := range col.TaskIDs {
			if _, ok := b.Tasks[taskID]; !ok {
				return OpError{Op: "board.CheckIntegrity", Kind: ErrConflict,
					Msg: "dangling task reference " + taskID + " in column " + col.ID}
			}
			if other, dup := seen[taskID]; dup {
				return OpError{Op: "board.CheckIntegrity", Kind: ErrConflict,
					Msg: "task " + taskID + " referenced by columns " + other + " and " + col.ID}
			}
			seen[taskID] = col.ID
		}
	}

	users := make(map[string]struct{}, len(b.Members))
	for _, m := range b.Members {
		if m.UserID == b.OwnerID {
			return OpError{Op: "board.CheckIntegrity", Kind: ErrConflict,
				Msg: "owner listed as member"}
		}
		if _, dup := users[m.UserID]; dup {
			return OpError{Op: "board.CheckIntegrity", Kind: ErrConflict,
				Msg: "duplicate member " + m.UserID}
		}
		users[m.UserID] = struct{}{}
	}
	return nil
}

// validPriority reports whether p is a known priority value.
func validPriority(p string) bool {
	switch p {
	case v1.PriorityLow, v1.PriorityMedium, v1.PriorityHigh:
		return true
	default:
		return false
	}
}

// validMemberRole reports whether r can be stored on a member record.
func validMemberRole(r string) bool {
	return r == v1.RoleEditor || r == v1.RoleViewer
}

// Field length ceilings, counted in runes. Applied to board, column, and task
// names/descriptions on every create and update.
const (
	maxNameChars        = 500
	maxDescriptionChars = 8000
)

// fitsRuneLimit reports whether s is at most max runes long.
func fitsRuneLimit(s string, max int) bool {
	return utf8.RuneCountInString(s) <= max
}
