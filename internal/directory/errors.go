package directory

import (
	"fmt"
	"time"
)

// RemoteTransientError is a failure worth retrying: network errors, 5xx and 429
type RemoteTransientError struct {
	Method     string
	URL        string
	Status     int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteTransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func (e *RemoteTransientError) Unwrap() error { return e.Err }

// RateLimited reports whether the server asked the caller to slow down
func (e *RemoteTransientError) RateLimited() bool {
	return e.Status == 429
}

// RemoteAuthError is a 401/403 answer or a token that lacks the required scope
type RemoteAuthError struct {
	Status int
	Body   string
}

func (e *RemoteAuthError) Error() string {
	return fmt.Sprintf("directory API rejected credentials (status: %d): %s", e.Status, e.Body)
}

// RemoteFailure is the final error of one remote operation
type RemoteFailure struct {
	Op       string
	Status   int
	Body     string
	Attempts int
	Err      error
}

func (e *RemoteFailure) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %s (status: %d)", e.Op, e.Body, e.Status)
}

func (e *RemoteFailure) Unwrap() error { return e.Err }

// NotFound reports whether the remote answered 404
func (e *RemoteFailure) NotFound() bool {
	return e.Status == 404
}
