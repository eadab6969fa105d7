package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/devplatform/directory-sync/internal/config"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/sirupsen/logrus"
)

// Options configures a directory API client
type Options struct {
	BaseURL            string // organization scoped root, e.g. https://host/directory/v1/org/42
	Token              string
	TokenInfoURL       string
	Timeout            time.Duration
	MaxAttempts        int
	RetryDelay         time.Duration
	MaxRateLimitWaits  int
	UsersPerPage       int
	DepartmentsPerPage int

	// OnRetry is called before each wait between attempts
	OnRetry func(op string, err error, wait time.Duration)
}

// OptionsFromConfig maps process configuration to client options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:            cfg.DirectoryURL(),
		Token:              cfg.OAuthToken,
		TokenInfoURL:       cfg.TokenInfoURL,
		Timeout:            cfg.HTTPTimeout,
		MaxAttempts:        cfg.MaxRetries,
		RetryDelay:         cfg.RetryDelay,
		UsersPerPage:       cfg.UsersPerPage,
		DepartmentsPerPage: cfg.DepsPerPage,
	}
}

// Client represents a remote directory API client
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new directory API client
func NewClient(opts Options, logger *logrus.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.MaxRateLimitWaits <= 0 {
		opts.MaxRateLimitWaits = 10
	}
	if opts.UsersPerPage <= 0 {
		opts.UsersPerPage = 1000
	}
	if opts.DepartmentsPerPage <= 0 {
		opts.DepartmentsPerPage = 100
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = opts.Timeout

	return &Client{
		opts:       opts,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Call describes one logical remote operation
type Call struct {
	Op     string // operation name used in logs and errors
	Method string
	Path   string // relative to BaseURL unless it is an absolute URL
	Query  url.Values
	Body   interface{}
	// Result receives the decoded JSON body; a *[]byte receives the raw body
	Result interface{}

	MaxAttempts int          // 0 uses the client default
	Classify    ClassifyFunc // nil uses DefaultClassify
}

// Do executes a call, retrying transient failures with a linear backoff.
// Rate-limit answers wait for the server-provided interval without consuming an attempt.
func (c *Client) Do(ctx context.Context, call Call) error {
	if call.Classify == nil {
		call.Classify = DefaultClassify
	}
	maxAttempts := call.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.opts.MaxAttempts
	}

	b := newLinearBackOff(c.opts.RetryDelay, maxAttempts, c.opts.MaxRateLimitWaits)
	calls := 0

	operation := func() error {
		calls++
		err := c.once(ctx, call)
		if err == nil {
			return nil
		}
		var transient *RemoteTransientError
		if errors.As(err, &transient) {
			b.observe(transient)
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"op":      call.Op,
			"attempt": calls,
			"wait":    wait.String(),
		}).WithError(err).Warn("Directory API call failed, retrying")
		if c.opts.OnRetry != nil {
			c.opts.OnRetry(call.Op, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", call.Op, ctxErr)
	}

	var transient *RemoteTransientError
	if errors.As(err, &transient) {
		return &RemoteFailure{Op: call.Op, Status: transient.Status, Body: transient.Body, Attempts: calls, Err: err}
	}
	return err
}

// once performs a single HTTP exchange and maps the answer to the error taxonomy
func (c *Client) once(ctx context.Context, call Call) error {
	target := call.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.opts.BaseURL + call.Path
	}
	if len(call.Query) > 0 {
		target = target + "?" + call.Query.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		data, err := json.Marshal(call.Body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.opts.Token == "" {
		return fmt.Errorf("OAUTH_TOKEN is required")
	}
	req.Header.Set("Authorization", "OAuth "+c.opts.Token)
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(logrus.Fields{
		"op":     call.Op,
		"method": call.Method,
		"url":    target,
	}).Debug("Making directory API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RemoteTransientError{Method: call.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteTransientError{Method: call.Method, URL: target, Status: resp.StatusCode, Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"op":           call.Op,
		"status":       resp.StatusCode,
		"x-request-id": resp.Header.Get("X-Request-Id"),
	}).Debug("Directory API response")

	switch call.Classify(resp.StatusCode) {
	case Success:
		return decodeResult(respBody, call.Result)
	case Retryable:
		return &RemoteTransientError{
			Method:     call.Method,
			URL:        target,
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	default:
		c.logger.WithFields(logrus.Fields{
			"op":     call.Op,
			"status": resp.StatusCode,
			"body":   string(respBody),
		}).Error("Directory API error")
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &RemoteAuthError{Status: resp.StatusCode, Body: string(respBody)}
		}
		return &RemoteFailure{Op: call.Op, Status: resp.StatusCode, Body: string(respBody), Attempts: 1}
	}
}

func decodeResult(body []byte, result interface{}) error {
	if result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = body
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// HealthCheck verifies that the API answers for this organization
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Do(ctx, Call{
		Op:          "health_check",
		Method:      http.MethodGet,
		Path:        "/users",
		Query:       url.Values{"perPage": {"1"}},
		MaxAttempts: 1,
	})
}
