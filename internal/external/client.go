// Package external holds the clients for the services rollcall talks to: the
// PlanningSup timetable API and the Moodle attendance site. Outbound HTTP goes
// through BaseClient, which adds a circuit breaker, bounded retries and
// AppError mapping.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"rollcall/internal/types"

	"github.com/sony/gobreaker/v2"
)

// DefaultUserAgent identifies rollcall on API calls.
const DefaultUserAgent = "Rollcall/1.0"

// RetryPolicy bounds how often and how long BaseClient retries.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy is used for the timetable API.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// BaseClient is an *http.Client behind a circuit breaker.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleep     func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces time.Sleep between attempts. Tests pass a no-op.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleep = fn }
}

// NewBreaker builds the breaker shared by every client of one upstream. It
// opens after six consecutive failed attempts and probes again after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

// NewBaseClient creates a BaseClient with a breaker of its own.
func NewBaseClient(httpClient *http.Client, breakerName string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	return NewBaseClientWithBreaker(httpClient, NewBreaker(breakerName), policy, userAgent, opts...)
}

// NewBaseClientWithBreaker creates a BaseClient around an existing breaker,
// so short-lived clients (one per Moodle browser session) share failure
// counts.
func NewBaseClientWithBreaker(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := &BaseClient{
		client:    httpClient,
		breaker:   breaker,
		policy:    policy,
		userAgent: userAgent,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError marks a response the breaker counts as a failure.
type statusError struct{ code int }

func (e statusError) Error() string { return fmt.Sprintf("upstream returned %d", e.code) }

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Do sends req, retrying 429 and 5xx answers and transport errors up to
// MaxRetries times. Any other response is returned as-is and the caller
// closes its body. Exhausted retries and an open breaker come back as
// *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	body, err := drainBody(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
	}

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if retryableStatus(r.StatusCode) {
				return r, statusError{code: r.StatusCode}
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr, lastStatus = err, 0
		var retryAfter string
		if resp != nil {
			lastStatus = resp.StatusCode
			retryAfter = resp.Header.Get("Retry-After")
			resp.Body.Close()
		}

		if breakerRejected(err) || req.Context().Err() != nil {
			break
		}
		if attempt < c.policy.MaxRetries {
			c.sleep(c.backoff(attempt, retryAfter))
		}
	}

	return nil, c.mapError(lastStatus, lastErr)
}

// drainBody reads the request body once so every attempt can replay it.
func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// backoff is full-jitter exponential backoff clamped to [MinWait, MaxWait].
// A positive Retry-After (seconds or HTTP date) takes precedence.
func (c *BaseClient) backoff(attempt int, retryAfter string) time.Duration {
	lo, hi := c.policy.MinWait, c.policy.MaxWait

	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, hi)
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			return max(lo, min(time.Until(at), hi))
		}
	}

	ceiling := hi
	if attempt < 30 {
		ceiling = min(lo<<attempt, hi)
	}
	if ceiling <= lo {
		return lo
	}
	return lo + rand.N(ceiling-lo)
}

func (c *BaseClient) mapError(status int, err error) *types.AppError {
	switch {
	case breakerRejected(err):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "circuit breaker is open", err)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", status), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
