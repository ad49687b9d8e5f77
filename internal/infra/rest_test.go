package infra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"perp_go/internal/metrics"
	"perp_go/pkg/dexerr"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestREST(t *testing.T, h http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultRESTConfig(srv.URL)
	cfg.Timeout = 200 * time.Millisecond
	return NewRESTClient(cfg, nil)
}

func TestRESTClient_PostJSON(t *testing.T) {
	var gotBody map[string]any
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Write([]byte(`{"BTC":"50000.5"}`))
	})

	var out map[string]string
	err := c.PostJSON(context.Background(), "/info", 2, map[string]string{"type": "allMids"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "allMids", gotBody["type"])
	assert.Equal(t, "50000.5", out["BTC"])
}

func TestRESTClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    dexerr.Kind
		code    int
	}{
		{
			name: "server error is network",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			kind: dexerr.KindNetwork,
			code: http.StatusBadGateway,
		},
		{
			name: "client error is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad request", http.StatusUnprocessableEntity)
			},
			kind: dexerr.KindRejected,
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "garbage body is protocol",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{not json`))
			},
			kind: dexerr.KindProtocol,
		},
		{
			name: "slow server is timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(500 * time.Millisecond)
			},
			kind: dexerr.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestREST(t, tt.handler)
			var out map[string]any
			err := c.PostJSON(context.Background(), "/info", 1, map[string]string{"type": "meta"}, &out)
			require.Error(t, err)
			assert.Equal(t, tt.kind, dexerr.KindOf(err), "err = %v", err)

			var de *dexerr.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.code, de.Code)
		})
	}
}

func TestRESTClient_TimeoutIsRetriable(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.PostJSON(ctx, "/info", 1, map[string]string{"type": "meta"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dexerr.ErrTimeout), "err = %v", err)
	assert.True(t, dexerr.Retriable(err))
}

func TestRESTClient_BreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultRESTConfig(srv.URL)
	cfg.Breaker = CircuitBreakerConfig{Name: "test", FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}
	m := metrics.New(nil)
	c := NewRESTClient(cfg, m)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("test")))

	for i := 0; i < 2; i++ {
		_ = c.PostJSON(context.Background(), "/info", 1, map[string]string{}, nil)
	}
	assert.Equal(t, BreakerOpen, c.Breaker().State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("test")))

	err := c.PostJSON(context.Background(), "/info", 1, map[string]string{}, nil)
	assert.True(t, errors.Is(err, dexerr.ErrNetwork))
	assert.Equal(t, 2, calls, "open breaker must fail fast without sending")
}

func TestRESTClient_CallerCancellationKeepsBreakerClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/slow" {
			time.Sleep(100 * time.Millisecond)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := DefaultRESTConfig(srv.URL)
	cfg.Breaker = CircuitBreakerConfig{Name: "test", FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}
	c := NewRESTClient(cfg, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 20; i++ {
		err := c.PostJSON(cancelled, "/info", 1, map[string]string{}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotSent), "err = %v", err)
		assert.True(t, errors.Is(err, dexerr.ErrClosed), "err = %v", err)
	}
	assert.Zero(t, calls.Load(), "a cancelled context never reaches the venue")

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := c.PostJSON(ctx, "/slow", 1, map[string]string{}, nil)
		cancel()
		assert.True(t, errors.Is(err, dexerr.ErrTimeout), "err = %v", err)
		assert.False(t, errors.Is(err, ErrNotSent), "the request was on the wire")
	}
	assert.Equal(t, BreakerClosed, c.Breaker().State())

	require.NoError(t, c.PostJSON(context.Background(), "/info", 1, map[string]string{}, nil))
}

func TestRESTClient_BreakerOpenIsNotSent(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	for c.Breaker().State() != BreakerOpen {
		err := c.PostJSON(context.Background(), "/info", 1, map[string]string{}, nil)
		require.False(t, errors.Is(err, ErrNotSent), "a 5xx answer was sent")
	}
	err := c.PostJSON(context.Background(), "/info", 1, map[string]string{}, nil)
	assert.True(t, errors.Is(err, ErrNotSent))
	assert.True(t, errors.Is(err, dexerr.ErrNetwork))
}
