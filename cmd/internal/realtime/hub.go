package realtime

import (
	"log/slog"
	"sync"

	v1 "kanva/contracts/realtime/v1"
)

// Hub owns in-memory board rooms and provides stable room handles.
// It is intentionally minimal: board persistence lives behind board.Store.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// GetOrCreateRoom returns a stable in-memory room handle for a board.
func (h *Hub) GetOrCreateRoom(boardID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[boardID]; ok {
		return r
	}

	r := NewRoom(h.log, boardID)
	h.rooms[boardID] = r
	return r
}

// Room returns the room handle if one exists (no creation).
func (h *Hub) Room(boardID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[boardID]
}

// DropRoom removes a room after its board was deleted. Connected members
// have already been notified; their gateways tear down on the next read.
func (h *Hub) DropRoom(boardID string) {
	h.mu.Lock()
	delete(h.rooms, boardID)
	h.mu.Unlock()
}

// Broadcast delivers an event to every live connection in a board's room,
// except the originating session when exceptSessionID is non-empty. It is a
// no-op when the room does not exist.
func (h *Hub) Broadcast(boardID string, env v1.Envelope, exceptSessionID string) {
	if r := h.Room(boardID); r != nil {
		r.Broadcast(env, exceptSessionID)
	}
}

// Room is an in-memory membership + broadcast fanout primitive for one board.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log     *slog.Logger
	BoardID string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs a room.
func NewRoom(log *slog.Logger, boardID string) *Room {
	return &Room{
		log:     log,
		BoardID: boardID,
		members: make(map[string]*Client),
	}
}

// Join adds a client to room membership. The caller has already passed the
// board's view check.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Info("room.member.join", "board_id", r.BoardID, "session_id", client.SessionID, "user_id", client.UserID)
}

// Leave removes a client from room membership. Leaving is always permitted
// and does not shut the client down; a connection may rejoin another room.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	_, present := r.members[sessionID]
	delete(r.members, sessionID)
	r.mu.Unlock()

	if present {
		r.log.Info("room.member.leave", "board_id", r.BoardID, "session_id", sessionID)
	}
}

// Contains reports whether sessionID is currently joined.
func (r *Room) Contains(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	_, ok := r.members[sessionID]
	r.mu.RUnlock()
	return ok
}

// Size returns the current member count.
func (r *Room) Size() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans an envelope out to all members except exceptSessionID.
// Non-blocking: if a member queue is full or the client is shutting down,
// the delivery is dropped, not escalated.
func (r *Room) Broadcast(env v1.Envelope, exceptSessionID string) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for sid, m := range r.members {
		if sid == exceptSessionID {
			continue
		}
		if !m.trySend(env) {
			r.log.Info("room.broadcast.drop", "board_id", r.BoardID, "session_id", sid, "type", env.Type)
		}
	}
}
