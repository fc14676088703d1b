package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/seolytics/ranktrack/internal/model"
)

// TransientError wraps an error that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks an error as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError or store timeout, or if it matches transient driver error
// patterns (lock contention, network timeouts, connection resets).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for explicit TransientError in chain.
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Store operations that overran their deadline are safe to retry: the
	// upsert fold is atomic, so a timed-out attempt left no partial state.
	if model.IsStoreTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Check for network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped driver errors.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"database is locked",       // SQLITE_BUSY from a second writer
		"database table is locked", // SQLITE_LOCKED
		"deadlock detected",
		"too many connections",
		"the database system is starting up",
		"the database system is shutting down",
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"i/o timeout",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
