package realtime

import (
	"log/slog"
	"sync"

	v1 "kanva/contracts/realtime/v1"
)

// Registry maps user ids to their live connections. It exists for out-of-room
// direct delivery: a just-removed member must learn they lost access even if
// their room subscription has not been torn down yet.
//
// The registry is owned by the service instance and passed by reference to
// every handler; there is no package-level state. Its only required safety
// property is atomic insert/remove, not ordering.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	byUser  map[string]map[string]*Client
	session map[string]*Client
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		byUser:  make(map[string]map[string]*Client),
		session: make(map[string]*Client),
	}
}

// Add registers a live connection for its user.
func (r *Registry) Add(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	conns := r.byUser[client.UserID]
	if conns == nil {
		conns = make(map[string]*Client, 2)
		r.byUser[client.UserID] = conns
	}
	conns[client.SessionID] = client
	r.session[client.SessionID] = client
	r.mu.Unlock()
}

// Remove deregisters a connection. Called synchronously on disconnect.
func (r *Registry) Remove(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	client := r.session[sessionID]
	delete(r.session, sessionID)
	if client != nil {
		if conns := r.byUser[client.UserID]; conns != nil {
			delete(conns, sessionID)
			if len(conns) == 0 {
				delete(r.byUser, client.UserID)
			}
		}
	}
	r.mu.Unlock()
}

// DirectTo delivers an envelope to every live connection owned by userID,
// regardless of room membership. Deliveries that would block are dropped.
func (r *Registry) DirectTo(userID string, env v1.Envelope) int {
	if r == nil || userID == "" {
		return 0
	}

	r.mu.RLock()
	conns := make([]*Client, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.trySend(env) {
			delivered++
		} else {
			r.log.Info("registry.direct.drop", "user_id", userID, "session_id", c.SessionID, "type", env.Type)
		}
	}
	return delivered
}

// Connections returns the number of live connections for a user.
func (r *Registry) Connections(userID string) int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}
