package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig bounds how model calls are retried. Zero fields take the
// defaults; a negative MaxRetries disables retries.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns three retries backing off from 1s to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func (r RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	switch {
	case r.MaxRetries < 0:
		r.MaxRetries = 0
	case r.MaxRetries == 0:
		r.MaxRetries = d.MaxRetries
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = d.InitialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = d.MaxBackoff
	}
	return r
}

// backoff is the wait before retry number attempt+1, doubling from
// InitialBackoff and capped at MaxBackoff.
func (r RetryConfig) backoff(attempt int) time.Duration {
	d := r.InitialBackoff
	for i := 0; i < attempt && d < r.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, r.MaxBackoff)
}

// retryable lists the statuses worth another attempt: rate limiting and
// upstream failures.
var retryable = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// send runs do until it yields a 200 or a non-retryable response, which is
// handed back for the caller to decode.
func (c *Client) send(ctx context.Context, do func() (*http.Response, error)) (*http.Response, error) {
	cfg := c.retry
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait := cfg.backoff(attempt)
		resp, err := do()
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusOK || !retryable[resp.StatusCode]:
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			if d, ok := retryAfter(resp); ok {
				wait = min(d, cfg.MaxBackoff)
			}
			resp.Body.Close()
		}

		if attempt >= cfg.MaxRetries {
			return nil, fmt.Errorf("request failed after %d retries: %w", cfg.MaxRetries, lastErr)
		}

		c.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("backoff", wait).
			Msg("Model request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
