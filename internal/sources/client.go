// Package sources holds the external data connectors. Every connector call
// is bounded by its own timeout and circuit breaker, and failures surface to
// callers as empty results rather than errors.
package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
	"github.com/FACorreiaa/loci-heritage-api/pkg/observability"
)

const maxBodyBytes = 8 << 20

// Options carries the settings every connector shares.
type Options struct {
	UserAgent string
	Breaker   config.BreakerConfig
	Logger    *slog.Logger
	// Transport overrides the default round tripper, mainly for tests.
	Transport http.RoundTripper
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Source string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Source, e.Code)
}

type httpClient struct {
	name      string
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]byte]
	logger    *slog.Logger
}

func newHTTPClient(name string, timeout time.Duration, ratePerSec float64, opts Options) *httpClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}

	return &httpClient{
		name:      name,
		client:    &http.Client{Timeout: timeout, Transport: opts.Transport},
		userAgent: opts.UserAgent,
		limiter:   limiter,
		breaker:   newBreaker(name, opts.Breaker, logger),
		logger:    logger.With(slog.String("source", name)),
	}
}

func newBreaker(name string, cfg config.BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	observability.CircuitBreakerState.WithLabelValues(name).Set(0)

	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state transition",
				slog.String("source", name),
				slog.String("from", stateToString(from)),
				slog.String("to", stateToString(to)))
			observability.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			observability.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})
}

// do sends req through the limiter and breaker and returns the body of a 2xx response.
func (c *httpClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	start := time.Now()
	defer func() {
		observability.SourceDuration.WithLabelValues(c.name).Observe(float64(time.Since(start).Milliseconds()))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			observability.SourceRequestsTotal.WithLabelValues(c.name, "rejected").Inc()
			return nil, fmt.Errorf("%s rate limiter: %w", c.name, err)
		}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &StatusError{Source: c.name, Code: resp.StatusCode}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		outcome := "failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		observability.SourceRequestsTotal.WithLabelValues(c.name, outcome).Inc()
		return nil, err
	}

	observability.SourceRequestsTotal.WithLabelValues(c.name, "success").Inc()
	return body, nil
}

func (c *httpClient) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.decode(ctx, req, out)
}

func (c *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.decode(ctx, req, out)
}

func (c *httpClient) decode(ctx context.Context, req *http.Request, out any) error {
	body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

// empty records a call that succeeded at the transport level but produced nothing usable.
func (c *httpClient) empty() {
	observability.SourceRequestsTotal.WithLabelValues(c.name, "empty").Inc()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
