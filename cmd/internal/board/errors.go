package board

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Command handlers wrap these in OpError so callers and
// tests can match on kind while acks carry a readable message.
var (
	// ErrInvalidInput marks malformed input (missing title, bad role value).
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks an unresolvable board/column/task/member/invite id.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a failed permission check. Terminal, never retried.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a precondition conflict (duplicate member,
	// owner-targeting role change, exhausted invite).
	ErrConflict = errors.New("conflict")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind MUST be one of the sentinel kinds; Msg may add human-readable context.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// UserMessage extracts the message surfaced to clients on a failed command.
func UserMessage(err error) string {
	var oe OpError
	if errors.As(err, &oe) {
		if oe.Msg != "" {
			return oe.Msg
		}
		return oe.Kind.Error()
	}
	return err.Error()
}
