package realtime

import (
	"sort"
	"sync"
	"time"

	v1 "kanva/contracts/realtime/v1"
)

// Presence is the ephemeral, never-persisted tracker for who is active on a
// board and who is editing a task. State is reconstructed purely from
// connection lifecycle and periodic heartbeat events; entries expire by
// timeout rather than explicit cancellation.
type Presence struct {
	presenceTTL time.Duration
	typingTTL   time.Duration

	mu     sync.Mutex
	boards map[string]map[string]time.Time // board -> user -> last activity
	typing map[string]typingEntry          // task -> editing user
}

type typingEntry struct {
	BoardID string
	UserID  string
	At      time.Time
}

// TypingClear names a typing entry removed by the sweep.
type TypingClear struct {
	BoardID string
	TaskID  string
	UserID  string
}

// NewPresence constructs a tracker with the given expiry windows.
func NewPresence(presenceTTL, typingTTL time.Duration) *Presence {
	if presenceTTL <= 0 {
		presenceTTL = presenceExpiry
	}
	if typingTTL <= 0 {
		typingTTL = typingExpiry
	}
	return &Presence{
		presenceTTL: presenceTTL,
		typingTTL:   typingTTL,
		boards:      make(map[string]map[string]time.Time),
		typing:      make(map[string]typingEntry),
	}
}

// Touch refreshes a user's presence entry for a board.
func (p *Presence) Touch(boardID, userID string, now time.Time) {
	if p == nil || boardID == "" || userID == "" {
		return
	}

	p.mu.Lock()
	users := p.boards[boardID]
	if users == nil {
		users = make(map[string]time.Time, 4)
		p.boards[boardID] = users
	}
	users[userID] = now
	p.mu.Unlock()
}

// Forget drops a user's presence and typing entries for a board
// (disconnect or room leave).
func (p *Presence) Forget(boardID, userID string) {
	if p == nil {
		return
	}

	p.mu.Lock()
	if users := p.boards[boardID]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.boards, boardID)
		}
	}
	for taskID, e := range p.typing {
		if e.BoardID == boardID && e.UserID == userID {
			delete(p.typing, taskID)
		}
	}
	p.mu.Unlock()
}

// SetTyping records or clears an "is editing" marker for a task.
// A later marker from a different user overwrites the previous one.
func (p *Presence) SetTyping(boardID, taskID, userID string, editing bool, now time.Time) {
	if p == nil || taskID == "" || userID == "" {
		return
	}

	p.mu.Lock()
	if editing {
		p.typing[taskID] = typingEntry{BoardID: boardID, UserID: userID, At: now}
	} else if e, ok := p.typing[taskID]; ok && e.UserID == userID {
		delete(p.typing, taskID)
	}
	p.mu.Unlock()
}

// Snapshot returns the non-expired presence entries for a board,
// sorted by user id for deterministic payloads.
func (p *Presence) Snapshot(boardID string, now time.Time) []v1.PresenceEntry {
	if p == nil {
		return nil
	}

	cut := now.Add(-p.presenceTTL)

	p.mu.Lock()
	users := p.boards[boardID]
	out := make([]v1.PresenceEntry, 0, len(users))
	for userID, at := range users {
		if at.After(cut) {
			out = append(out, v1.PresenceEntry{UserID: userID, LastSeen: at})
		}
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep removes expired entries. It returns the typing entries it cleared so
// the gateway can broadcast editing=false without an explicit stop event, and
// the boards whose presence set changed so their rooms can be refreshed.
func (p *Presence) Sweep(now time.Time) (cleared []TypingClear, changedBoards []string) {
	presenceCut := now.Add(-p.presenceTTL)
	typingCut := now.Add(-p.typingTTL)

	p.mu.Lock()
	defer p.mu.Unlock()

	for boardID, users := range p.boards {
		changed := false
		for userID, at := range users {
			if !at.After(presenceCut) {
				delete(users, userID)
				changed = true
			}
		}
		if len(users) == 0 {
			delete(p.boards, boardID)
		}
		if changed {
			changedBoards = append(changedBoards, boardID)
		}
	}

	for taskID, e := range p.typing {
		if !e.At.After(typingCut) {
			cleared = append(cleared, TypingClear{BoardID: e.BoardID, TaskID: taskID, UserID: e.UserID})
			delete(p.typing, taskID)
		}
	}
	return cleared, changedBoards
}
