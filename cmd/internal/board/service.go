package board

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Service owns the permission-gated command handlers. Every mutation follows
// the same template: validate input shape, resolve access for the required
// action, load the aggregate, mutate it in memory maintaining cross-entity
// invariants, replace the whole document, and return the broadcast delta.
//
// Because the store only offers whole-document replace, two concurrent
// handlers on the same board would race read-then-write and silently drop one
// mutation. The Service therefore serializes all mutations per board id with
// a keyed mutex; mutations on different boards still run concurrently.
type Service struct {
	log   *slog.Logger
	store Store
	feed  *ActivityFeed

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ServiceOption configures the Service.
type ServiceOption func(*Service) error

// WithClock overrides the service clock (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithActivityFeed overrides the default feed capacity.
func WithActivityFeed(feed *ActivityFeed) ServiceOption {
	return func(s *Service) error {
		if feed == nil {
			return ErrInvalidInput
		}
		s.feed = feed
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(log *slog.Logger, store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	s := &Service{
		log:   log,
		store: store,
		feed:  NewActivityFeed(defaultFeedCapacity),
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Feed exposes the in-memory activity feed (read side).
func (s *Service) Feed() *ActivityFeed { return s.feed }

// lockBoard serializes mutations for one board id and returns the unlock.
// Lock entries live for the process lifetime; the map is bounded by the
// number of distinct boards this instance has mutated.
func (s *Service) lockBoard(boardID string) func() {
	s.mu.Lock()
	l, ok := s.locks[boardID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[boardID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// releaseLock drops the per-board lock entry after a board is deleted.
func (s *Service) releaseLock(boardID string) {
	s.mu.Lock()
	delete(s.locks, boardID)
	s.mu.Unlock()
}
