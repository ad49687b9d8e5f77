package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Reconnects.WithLabelValues("hyperliquid").Inc()
	m.ObserveREST("/info", "ok", 20*time.Millisecond)
	m.PendingOrders.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("hyperliquid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RESTRequests.WithLabelValues("/info", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingOrders))
}

func TestNew_NilRegistererIsIsolated(t *testing.T) {
	// Two unregistered sets must not collide.
	a := New(nil)
	b := New(nil)
	a.Dropped.WithLabelValues("bbo").Add(2)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Dropped.WithLabelValues("bbo")))
}
