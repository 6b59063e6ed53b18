package board

import (
	"sync"
	"time"
)

const defaultFeedCapacity = 100

// ActivityEntry is one line of the in-memory activity feed.
type ActivityEntry struct {
	At     time.Time `json:"at"`
	UserID string    `json:"user_id"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
}

// ActivityFeed is a bounded per-board ring of recent activity. It is never
// persisted; restarting the server clears it.
type ActivityFeed struct {
	mu       sync.Mutex
	capacity int
	byBoard  map[string][]ActivityEntry
}

// NewActivityFeed constructs a feed keeping at most capacity entries per board.
func NewActivityFeed(capacity int) *ActivityFeed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &ActivityFeed{
		capacity: capacity,
		byBoard:  make(map[string][]ActivityEntry),
	}
}

// Record appends an entry, evicting the oldest once over capacity.
func (f *ActivityFeed) Record(boardID string, e ActivityEntry) {
	if f == nil || boardID == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries := append(f.byBoard[boardID], e)
	if len(entries) > f.capacity {
		entries = entries[len(entries)-f.capacity:]
	}
	f.byBoard[boardID] = entries
}

// Recent returns up to limit entries for a board, newest last.
func (f *ActivityFeed) Recent(boardID string, limit int) []ActivityEntry {
	if f == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.byBoard[boardID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]ActivityEntry(nil), entries...)
}

// Drop discards all entries for a board (board deletion).
func (f *ActivityFeed) Drop(boardID string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	delete(f.byBoard, boardID)
	f.mu.Unlock()
}
