package graph

import (
	"errors"
	"fmt"
	"time"
)

// RemoteError describes a failed call to the triple store. Transient
// errors (upstream overload) may be retried; fatal errors (oversized or
// malformed payloads) must not be.
type RemoteError struct {
	Op         string
	Status     int
	Transient  bool
	RetryAfter time.Duration
	Body       string
}

func (e *RemoteError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Status == 0 {
		return fmt.Sprintf("graph %s: %s network error: %s", e.Op, kind, e.Body)
	}
	return fmt.Sprintf("graph %s: %s status %d: %s", e.Op, kind, e.Status, e.Body)
}

// IsTransient reports whether err is a retryable triple-store error.
func IsTransient(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Transient
}

// IsFatal reports whether err is a non-retryable triple-store error.
func IsFatal(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && !re.Transient
}
