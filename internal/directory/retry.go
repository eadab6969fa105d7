package directory

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
)

// Verdict is the classification of an HTTP status
type Verdict int

const (
	Success Verdict = iota
	Retryable
	Fatal
)

// ClassifyFunc maps a status code to a verdict
type ClassifyFunc func(status int) Verdict

// DefaultClassify treats 2xx as success, 408/429/5xx as retryable and everything else as fatal
func DefaultClassify(status int) Verdict {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return Retryable
	case status >= 500:
		return Retryable
	default:
		return Fatal
	}
}

// linearBackOff waits delay*attempt between attempts and stops after maxAttempts.
// Rate-limit waits do not consume attempts but are capped by maxWaits.
type linearBackOff struct {
	delay       time.Duration
	maxAttempts int
	maxWaits    int

	attempt     int
	waits       int
	rateLimited bool
	retryAfter  time.Duration
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(delay time.Duration, maxAttempts, maxWaits int) *linearBackOff {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &linearBackOff{delay: delay, maxAttempts: maxAttempts, maxWaits: maxWaits}
}

// observe records what the last failed attempt looked like
func (b *linearBackOff) observe(err *RemoteTransientError) {
	b.rateLimited = err.RateLimited()
	b.retryAfter = err.RetryAfter
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.rateLimited {
		b.rateLimited = false
		b.waits++
		if b.waits > b.maxWaits {
			return backoff.Stop
		}
		if b.retryAfter > 0 {
			return b.retryAfter
		}
		return b.delay
	}

	b.attempt++
	if b.attempt >= b.maxAttempts {
		return backoff.Stop
	}
	if b.retryAfter > 0 {
		return b.retryAfter
	}
	return b.delay * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
	b.waits = 0
	b.rateLimited = false
	b.retryAfter = 0
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
