package realtime

import (
	"testing"
	"time"
)

func TestPresenceTouchAndSnapshot(t *testing.T) {
	t.Parallel()

	p := NewPresence(30*time.Second, 5*time.Second)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.Touch("b1", "bob", now)
	p.Touch("b1", "alice", now)
	p.Touch("b2", "carol", now)

	snap := p.Snapshot("b1", now)
	if len(snap) != 2 {
		t.Fatalf("snapshot = %v, want 2 entries", snap)
	}
	// Sorted by user id for deterministic payloads.
	if snap[0].UserID != "alice" || snap[1].UserID != "bob" {
		t.Fatalf("snapshot order = %v", snap)
	}

	// Stale entries are filtered even before a sweep runs.
	snap = p.Snapshot("b1", now.Add(time.Minute))
	if len(snap) != 0 {
		t.Fatalf("stale snapshot = %v, want empty", snap)
	}
}

func TestPresenceForget(t *testing.T) {
	t.Parallel()

	p := NewPresence(30*time.Second, 5*time.Second)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.Touch("b1", "alice", now)
	p.SetTyping("b1", "t1", "alice", true, now)
	p.Forget("b1", "alice")

	if snap := p.Snapshot("b1", now); len(snap) != 0 {
		t.Fatalf("snapshot after forget = %v", snap)
	}
	// The typing entry went with the presence entry; a sweep finds nothing.
	cleared, _ := p.Sweep(now.Add(time.Hour))
	if len(cleared) != 0 {
		t.Fatalf("cleared = %v, want none", cleared)
	}
}

func TestPresenceTypingOverwriteAndClear(t *testing.T) {
	t.Parallel()

	p := NewPresence(30*time.Second, 5*time.Second)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.SetTyping("b1", "t1", "alice", true, now)
	p.SetTyping("b1", "t1", "bob", true, now) // later editor overwrites

	// Alice clearing after being overwritten must not drop bob's marker.
	p.SetTyping("b1", "t1", "alice", false, now)

	cleared, _ := p.Sweep(now.Add(time.Minute))
	if len(cleared) != 1 || cleared[0].UserID != "bob" || cleared[0].TaskID != "t1" {
		t.Fatalf("cleared = %v, want bob on t1", cleared)
	}
}

func TestPresenceSweep(t *testing.T) {
	t.Parallel()

	p := NewPresence(30*time.Second, 5*time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.Touch("b1", "alice", base)
	p.Touch("b1", "bob", base.Add(20*time.Second))
	p.SetTyping("b1", "t1", "alice", true, base)

	cleared, changed := p.Sweep(base.Add(31 * time.Second))

	if len(cleared) != 1 || cleared[0] != (TypingClear{BoardID: "b1", TaskID: "t1", UserID: "alice"}) {
		t.Fatalf("cleared = %v", cleared)
	}
	if len(changed) != 1 || changed[0] != "b1" {
		t.Fatalf("changed = %v", changed)
	}

	snap := p.Snapshot("b1", base.Add(31*time.Second))
	if len(snap) != 1 || snap[0].UserID != "bob" {
		t.Fatalf("snapshot after sweep = %v", snap)
	}
}

func TestPresenceNilAndEmptyInputs(t *testing.T) {
	t.Parallel()

	var p *Presence
	p.Touch("b1", "alice", time.Now())
	p.Forget("b1", "alice")
	p.SetTyping("b1", "t1", "alice", true, time.Now())
	if snap := p.Snapshot("b1", time.Now()); snap != nil {
		t.Fatalf("nil presence snapshot = %v", snap)
	}

	real := NewPresence(0, 0)
	real.Touch("", "alice", time.Now())
	real.Touch("b1", "", time.Now())
	if snap := real.Snapshot("b1", time.Now()); len(snap) != 0 {
		t.Fatalf("empty-key touch recorded: %v", snap)
	}
}
