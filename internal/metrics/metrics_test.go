package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/trading-executor/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ executor.Metrics = (*Metrics)(nil)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOperation("open", "Ok", 20*time.Millisecond)
	m.ObserveOperation("open", "Ok", 30*time.Millisecond)
	m.ObserveOperation("open", "NoLiquidity", time.Millisecond)
	m.SagaTransition("open", "Debited")
	m.CompensationFailure("open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("open", "Ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("open", "NoLiquidity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("open", "Debited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compFailures.WithLabelValues("open")))

	n, err := testutil.GatherAndCount(reg, "trading_executor_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
