// Package v1 defines the Kanva Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Command types (client -> server).
const (
	// TypeHello starts a session handshake and carries the bearer token.
	TypeHello = "hello"

	// TypeBoardJoin subscribes the connection to a board room.
	// Joining implicitly leaves any previously joined room.
	TypeBoardJoin = "board_join"
	// TypeBoardLeave unsubscribes from the current board room.
	TypeBoardLeave = "board_leave"

	TypeTaskCreate  = "task_create"
	TypeTaskUpdate  = "task_update"
	TypeTaskDelete  = "task_delete"
	TypeTaskMove    = "task_move"
	TypeTaskReorder = "task_reorder"

	TypeColumnCreate  = "column_create"
	TypeColumnUpdate  = "column_update"
	TypeColumnDelete  = "column_delete"
	TypeColumnReorder = "column_reorder"

	TypeMemberAdd        = "member_add"
	TypeMemberRemove     = "member_remove"
	TypeMemberChangeRole = "member_change_role"

	TypeBoardUpdate = "board_update"
	TypeBoardDelete = "board_delete"

	// TypePresencePing refreshes the sender's presence entry for a board.
	TypePresencePing = "presence_ping"
	// TypeTyping marks the sender as editing (or done editing) a task.
	TypeTyping = "typing"
)

// Result and event types (server -> client).
const (
	// TypeHelloAck acknowledges the handshake and returns the session id.
	TypeHelloAck = "hello_ack"

	// TypeAck is the single correlated acknowledgment for a command.
	// Exactly one ack is emitted per command envelope, success or failure.
	TypeAck = "ack"

	// TypeBoardState carries a full board snapshot (sent on join and refetch).
	TypeBoardState = "board_state"

	TypeTaskCreated   = "task_created"
	TypeTaskUpdated   = "task_updated"
	TypeTaskDeleted   = "task_deleted"
	TypeTaskMoved     = "task_moved"
	TypeTaskReordered = "task_reordered"

	TypeColumnCreated   = "column_created"
	TypeColumnUpdated   = "column_updated"
	TypeColumnDeleted   = "column_deleted"
	TypeColumnReordered = "column_reordered"

	TypeMemberAdded       = "member_added"
	TypeMemberRemoved     = "member_removed"
	TypeMemberRoleChanged = "member_role_changed"

	TypeBoardUpdated = "board_updated"
	TypeBoardDeleted = "board_deleted"

	TypePresenceState = "presence_state"
	TypeTypingState   = "typing_state"

	// TypeAccessRevoked is delivered directly to every connection of a user
	// whose access was removed or downgraded, regardless of room membership.
	TypeAccessRevoked = "access_revoked"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
//
// Origin carries the session id of the connection whose command produced a
// broadcast event. Clients compare it against their own session id to suppress
// echo; it is empty on commands and direct server messages.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	BoardID string          `json:"board_id,omitempty"`
	Origin  string          `json:"origin,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeBoardJoin, TypeBoardLeave,
		TypeTaskCreate, TypeTaskUpdate, TypeTaskDelete, TypeTaskMove, TypeTaskReorder,
		TypeColumnCreate, TypeColumnUpdate, TypeColumnDelete, TypeColumnReorder,
		TypeMemberAdd, TypeMemberRemove, TypeMemberChangeRole,
		TypeBoardUpdate, TypeBoardDelete,
		TypePresencePing, TypeTyping,
		TypeHelloAck, TypeAck, TypeBoardState,
		TypeTaskCreated, TypeTaskUpdated, TypeTaskDeleted, TypeTaskMoved, TypeTaskReordered,
		TypeColumnCreated, TypeColumnUpdated, TypeColumnDeleted, TypeColumnReordered,
		TypeMemberAdded, TypeMemberRemoved, TypeMemberRoleChanged,
		TypeBoardUpdated, TypeBoardDeleted,
		TypePresenceState, TypeTypingState,
		TypeAccessRevoked, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// IsMutation reports whether a command type mutates board state
// (and therefore requires an ack and produces a broadcast event).
func IsMutation(typ string) bool {
	switch typ {
	case TypeTaskCreate, TypeTaskUpdate, TypeTaskDelete, TypeTaskMove, TypeTaskReorder,
		TypeColumnCreate, TypeColumnUpdate, TypeColumnDelete, TypeColumnReorder,
		TypeMemberAdd, TypeMemberRemove, TypeMemberChangeRole,
		TypeBoardUpdate, TypeBoardDelete:
		return true
	default:
		return false
	}
}
