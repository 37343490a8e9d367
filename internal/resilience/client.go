// Package resilience provides a resilient HTTP client for auxiliary
// dependencies such as the content-feed service. Unlike the per-provider
// breakers guarding generation calls, these probes use a rolling
// failure-ratio breaker, which fits high-frequency polling better than
// consecutive-failure counting.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen is returned when the dependency's breaker is open.
	ErrCircuitOpen = errors.New("dependency circuit breaker is open")
)

// Config holds configuration for the resilient dependency client.
type Config struct {
	// Name identifies the dependency for breaker naming and logs.
	Name string

	// Timeout is the per-request timeout. Default: 5 seconds.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the first call.
	// Default: 2.
	MaxRetries uint64

	// InitialInterval is the initial retry backoff. Default: 250ms.
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff. Default: 2 seconds.
	MaxInterval time.Duration

	// OpenDuration is how long the breaker stays open before probing again.
	// Default: 30 seconds.
	OpenDuration time.Duration

	// Logger for breaker transitions and retries.
	Logger zerolog.Logger
}

// Client wraps an HTTP client with a failure-ratio circuit breaker and
// bounded retries.
type Client struct {
	name       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	cfg        Config
	logger     zerolog.Logger
}

// NewClient creates a resilient client for one dependency.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 250 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}

	logger := cfg.Logger
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("dependency", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("dependency breaker state changed")
		},
	})

	return &Client{
		name:       cfg.Name,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		cfg:        cfg,
		logger:     logger,
	}
}

// serverError marks a 5xx response so the breaker counts it as a failure.
type serverError struct {
	statusCode int
}

func (e *serverError) Error() string {
	return "server error: " + http.StatusText(e.statusCode)
}

// Do executes the request with breaker protection and retries on transient
// failures (network errors, 5xx). An open breaker fails fast with
// ErrCircuitOpen. The caller owns the returned response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	var lastResp *http.Response

	operation := func() error {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				return r, &serverError{statusCode: r.StatusCode}
			}
			return r, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%s: %w", c.name, ErrCircuitOpen))
			}
			if resp != nil {
				// Keep the newest 5xx response; it is returned if retries
				// run out.
				if lastResp != nil && lastResp != resp {
					_ = lastResp.Body.Close()
				}
				lastResp = resp
			}
			c.logger.Debug().
				Str("dependency", c.name).
				Err(err).
				Msg("dependency call failed, retrying")
			return err
		}

		lastResp = resp
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx))
	if err != nil {
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}
	return lastResp, nil
}

// Ping issues a GET against url and reports an error unless the dependency
// answers with a non-5xx status. Shaped for use as a health check.
func (c *Client) Ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s answered with status %d", c.name, resp.StatusCode)
	}
	return nil
}

// State returns the dependency breaker's current state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}
