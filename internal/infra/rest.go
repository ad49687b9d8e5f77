package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"perp_go/internal/metrics"
	"perp_go/pkg/dexerr"

	"github.com/go-resty/resty/v2"
)

// ErrNotSent marks failures that happened before the request left the client.
// The venue never saw such a request.
var ErrNotSent = errors.New("request not sent")

var errBreakerOpen = errors.New("circuit breaker open")

// RESTConfig configures the REST sender.
type RESTConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Breaker           CircuitBreakerConfig
}

// DefaultRESTConfig matches the venue's 1200 weight/minute budget.
func DefaultRESTConfig(baseURL string) RESTConfig {
	return RESTConfig{
		BaseURL:           baseURL,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 20,
		Burst:             100,
		Breaker:           DefaultCircuitBreakerConfig("rest"),
	}
}

// RESTClient sends JSON POST requests with rate limiting and a circuit breaker.
// It never retries: every failure is returned to the caller as a *dexerr.Error.
type RESTClient struct {
	http    *resty.Client
	limiter *RateLimiter
	breaker *CircuitBreaker
	metrics *metrics.Metrics
}

// NewRESTClient creates a REST sender. m may be nil.
func NewRESTClient(cfg RESTConfig, m *metrics.Metrics) *RESTClient {
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = DefaultCircuitBreakerConfig("rest")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", GetUserAgent())

	breaker := NewCircuitBreaker(cfg.Breaker)
	gauge := m.BreakerState.WithLabelValues(breaker.Name())
	gauge.Set(float64(BreakerClosed))
	breaker.OnStateChange(func(s BreakerState) { gauge.Set(float64(s)) })

	return &RESTClient{
		http:    client,
		limiter: NewRateLimiter(cfg.Burst, cfg.RequestsPerSecond),
		breaker: breaker,
		metrics: m,
	}
}

// Breaker exposes the circuit breaker for monitoring.
func (c *RESTClient) Breaker() *CircuitBreaker { return c.breaker }

// PostJSON posts body to path and decodes the response into out (if non-nil).
// weight is charged against the rate limiter before sending.
func (c *RESTClient) PostJSON(ctx context.Context, path string, weight int, body, out any) error {
	op := "POST " + path

	if err := ctx.Err(); err != nil {
		return notSent(contextKind(err), op, err)
	}
	if err := c.limiter.WaitN(ctx, weight); err != nil {
		kind := dexerr.KindOf(err)
		if kind == dexerr.KindUnknown {
			kind = dexerr.KindInvalid
		}
		return notSent(kind, op, err)
	}
	if !c.breaker.Allow() {
		c.metrics.ObserveREST(path, "breaker_open", 0)
		return notSent(dexerr.KindNetwork, op, errBreakerOpen)
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	elapsed := time.Since(start)

	if err != nil {
		// the caller gave up; that says nothing about the venue
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.breaker.Release()
			c.metrics.ObserveREST(path, "cancelled", elapsed)
			return dexerr.Wrap(contextKind(ctxErr), op, err)
		}
		c.breaker.RecordFailure()
		kind := dexerr.KindNetwork
		if isTimeout(err) {
			kind = dexerr.KindTimeout
		}
		c.metrics.ObserveREST(path, kind.String(), elapsed)
		return dexerr.Wrap(kind, op, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 500:
		c.breaker.RecordFailure()
		c.metrics.ObserveREST(path, strconv.Itoa(status), elapsed)
		return dexerr.New(dexerr.KindNetwork, op, snippet(resp.Body())).WithCode(status)
	case status >= 400:
		c.breaker.RecordSuccess()
		c.metrics.ObserveREST(path, strconv.Itoa(status), elapsed)
		return dexerr.New(dexerr.KindRejected, op, snippet(resp.Body())).WithCode(status)
	}

	c.breaker.RecordSuccess()
	c.metrics.ObserveREST(path, "ok", elapsed)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return dexerr.Wrap(dexerr.KindProtocol, op, err)
	}
	return nil
}

func notSent(kind dexerr.Kind, op string, cause error) *dexerr.Error {
	return dexerr.Wrap(kind, op, fmt.Errorf("%w: %w", ErrNotSent, cause))
}

func contextKind(err error) dexerr.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return dexerr.KindTimeout
	}
	return dexerr.KindClosed
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
