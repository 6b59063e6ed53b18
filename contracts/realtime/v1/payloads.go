package v1

import (
	"encoding/json"
	"time"
)

// ---- Handshake and room membership ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload returns the canonical session id for echo suppression.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// BoardJoinPayload requests subscription to a board room.
type BoardJoinPayload struct {
	BoardID string `json:"board_id"`
}

// BoardLeavePayload requests unsubscription from a board room.
type BoardLeavePayload struct {
	BoardID string `json:"board_id"`
}

// BoardStatePayload carries the authoritative board snapshot.
type BoardStatePayload struct {
	Board Board `json:"board"`
}

// ---- Acknowledgment ----

// AckPayload is the single correlated response to a command envelope.
// Ref echoes the command envelope id. Result carries the success payload
// (the same shape as the matching broadcast event), when there is one.
type AckPayload struct {
	Ref     string          `json:"ref"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// ---- Task commands ----

// TaskCreatePayload requests creation of a task in a column.
type TaskCreatePayload struct {
	BoardID     string     `json:"board_id"`
	ColumnID    string     `json:"column_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// TaskPatch carries partial task updates; nil fields are left unchanged.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	ClearDue    bool       `json:"clear_due,omitempty"`
}

// TaskUpdatePayload requests a partial update of a task.
type TaskUpdatePayload struct {
	BoardID string    `json:"board_id"`
	TaskID  string    `json:"task_id"`
	Patch   TaskPatch `json:"patch"`
}

// TaskDeletePayload requests deletion of a task.
type TaskDeletePayload struct {
	BoardID string `json:"board_id"`
	TaskID  string `json:"task_id"`
}

// TaskMovePayload requests moving a task to a column at an index.
// An out-of-bounds index is clamped to append, never rejected.
type TaskMovePayload struct {
	BoardID    string `json:"board_id"`
	TaskID     string `json:"task_id"`
	ToColumnID string `json:"to_column_id"`
	ToIndex    int    `json:"to_index"`
}

// TaskReorderPayload sets the authoritative task order within a column.
type TaskReorderPayload struct {
	BoardID  string   `json:"board_id"`
	ColumnID string   `json:"column_id"`
	TaskIDs  []string `json:"task_ids"`
}

// ---- Task events ----

// TaskCreatedPayload broadcasts a newly created task.
type TaskCreatedPayload struct {
	BoardID  string `json:"board_id"`
	ColumnID string `json:"column_id"`
	Task     Task   `json:"task"`
}

// TaskUpdatedPayload broadcasts the updated task value.
type TaskUpdatedPayload struct {
	BoardID string `json:"board_id"`
	Task    Task   `json:"task"`
}

// TaskDeletedPayload broadcasts a task removal.
type TaskDeletedPayload struct {
	BoardID  string `json:"board_id"`
	TaskID   string `json:"task_id"`
	ColumnID string `json:"column_id,omitempty"`
}

// TaskMovedPayload broadcasts a task move with the applied index.
type TaskMovedPayload struct {
	BoardID      string `json:"board_id"`
	TaskID       string `json:"task_id"`
	FromColumnID string `json:"from_column_id"`
	ToColumnID   string `json:"to_column_id"`
	NewIndex     int    `json:"new_index"`
}

// TaskReorderedPayload broadcasts the applied task order for a column.
type TaskReorderedPayload struct {
	BoardID  string   `json:"board_id"`
	ColumnID string   `json:"column_id"`
	TaskIDs  []string `json:"task_ids"`
}

// ---- Column commands and events ----

// ColumnCreatePayload requests creation of a column.
type ColumnCreatePayload struct {
	BoardID string `json:"board_id"`
	Name    string `json:"name"`
}

// ColumnUpdatePayload requests renaming a column.
type ColumnUpdatePayload struct {
	BoardID  string `json:"board_id"`
	ColumnID string `json:"column_id"`
	Name     string `json:"name"`
}

// ColumnDeletePayload requests deletion of a column.
type ColumnDeletePayload struct {
	BoardID  string `json:"board_id"`
	ColumnID string `json:"column_id"`
}

// ColumnReorderPayload sets the authoritative column order.
type ColumnReorderPayload struct {
	BoardID   string   `json:"board_id"`
	ColumnIDs []string `json:"column_ids"`
}

// ColumnCreatedPayload broadcasts a newly created column.
type ColumnCreatedPayload struct {
	BoardID string `json:"board_id"`
	Column  Column `json:"column"`
}

// ColumnUpdatedPayload broadcasts the updated column value.
type ColumnUpdatedPayload struct {
	BoardID string `json:"board_id"`
	Column  Column `json:"column"`
}

// ColumnDeletedPayload broadcasts a column removal.
// OrphanedTaskIDs lists tasks left in the task map with no owning column.
type ColumnDeletedPayload struct {
	BoardID         string   `json:"board_id"`
	ColumnID        string   `json:"column_id"`
	OrphanedTaskIDs []string `json:"orphaned_task_ids,omitempty"`
}

// ColumnReorderedPayload broadcasts the applied column order.
type ColumnReorderedPayload struct {
	BoardID   string   `json:"board_id"`
	ColumnIDs []string `json:"column_ids"`
}

// ---- Member commands and events ----

// MemberAddPayload requests adding a user as a board member.
type MemberAddPayload struct {
	BoardID string `json:"board_id"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
}

// MemberRemovePayload requests removing a board member.
type MemberRemovePayload struct {
	BoardID string `json:"board_id"`
	UserID  string `json:"user_id"`
}

// MemberChangeRolePayload requests changing a member's role.
type MemberChangeRolePayload struct {
	BoardID string `json:"board_id"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
}

// MemberAddedPayload broadcasts a new member record.
type MemberAddedPayload struct {
	BoardID string `json:"board_id"`
	Member  Member `json:"member"`
}

// MemberRemovedPayload broadcasts a member removal.
type MemberRemovedPayload struct {
	BoardID string `json:"board_id"`
	UserID  string `json:"user_id"`
}

// MemberRoleChangedPayload broadcasts the updated member record.
type MemberRoleChangedPayload struct {
	BoardID string `json:"board_id"`
	Member  Member `json:"member"`
}

// ---- Board commands and events ----

// BoardPatch carries partial board updates; nil fields are left unchanged.
type BoardPatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Visibility  *string   `json:"visibility,omitempty"`
	Settings    *Settings `json:"settings,omitempty"`
}

// BoardUpdatePayload requests a partial board update.
type BoardUpdatePayload struct {
	BoardID string     `json:"board_id"`
	Patch   BoardPatch `json:"patch"`
}

// BoardDeletePayload requests deleting a board.
type BoardDeletePayload struct {
	BoardID string `json:"board_id"`
}

// BoardUpdatedPayload broadcasts the updated board header fields.
type BoardUpdatedPayload struct {
	BoardID     string    `json:"board_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Visibility  string    `json:"visibility"`
	Settings    Settings  `json:"settings"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BoardDeletedPayload broadcasts board deletion.
type BoardDeletedPayload struct {
	BoardID string `json:"board_id"`
}

// ---- Presence and typing ----

// PresencePingPayload refreshes the sender's presence on a board.
type PresencePingPayload struct {
	BoardID string `json:"board_id"`
}

// TypingPayload marks the sender as editing (or done editing) a task.
type TypingPayload struct {
	BoardID string `json:"board_id"`
	TaskID  string `json:"task_id"`
	Editing bool   `json:"editing"`
}

// PresenceEntry is one active user on a board.
type PresenceEntry struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceStatePayload broadcasts the active users on a board.
type PresenceStatePayload struct {
	BoardID string          `json:"board_id"`
	Users   []PresenceEntry `json:"users"`
}

// TypingStatePayload broadcasts who is editing a task.
type TypingStatePayload struct {
	BoardID string `json:"board_id"`
	TaskID  string `json:"task_id"`
	UserID  string `json:"user_id"`
	Editing bool   `json:"editing"`
}

// ---- Direct notices ----

// AccessRevokedPayload is delivered directly to a user whose access changed.
type AccessRevokedPayload struct {
	BoardID string `json:"board_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
