package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	first := NewMetrics("relay-a")
	second := NewMetrics("relay-b")

	first.RecordDelivery("direct", true)
	first.RecordDelivery("direct", true)
	second.RecordDelivery("direct", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(first.deliveriesTotal.WithLabelValues("direct", "delivered")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.deliveriesTotal.WithLabelValues("direct", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(second.deliveriesTotal.WithLabelValues("direct", "undelivered")))
}

func TestMetrics_GaugesAndGather(t *testing.T) {
	m := NewMetrics("relay")

	m.SetWebSocketConnections("video", 3)
	m.SetActiveGroupCalls(2)
	m.SetRedisDegraded(true)
	m.RecordLivenessEvictions(4)
	m.SetCircuitBreakerState("push", "open")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.websocketConnections.WithLabelValues("video")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.groupCallsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redisDegraded))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.livenessEvicted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.circuitBreakerState.WithLabelValues("push")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
