package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/framingd/pkg/bufpool"
)

func TestFramingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newFramingMetrics(reg)

	m.RecordConnectionAccepted("tcp")
	m.RecordConnectionAccepted("tcp")
	m.RecordConnectionAccepted("pipe")
	m.RecordConnectionClosed("tcp", 250*time.Millisecond)
	m.RecordConnectionRejected("tcp", "max_connections")
	m.RecordConnectionForceClosed("pipe")
	m.SetActiveConnections("tcp", 3)
	m.RecordPreambleDecoded("tcp", "SingletonSized", 2*time.Millisecond)
	m.RecordFault("tcp", "EndpointNotFound")
	m.RecordMessageDispatched("pipe", 512)
	m.RecordBytesReceived("tcp", 1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsAccepted.WithLabelValues("pipe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsRejected.WithLabelValues("tcp", "max_connections")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsForceClosed.WithLabelValues("pipe")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeConnections.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.preamblesDecoded.WithLabelValues("tcp", "SingletonSized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faults.WithLabelValues("tcp", "EndpointNotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDispatched.WithLabelValues("pipe")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytesReceived.WithLabelValues("tcp")))

	assert.Equal(t, 1, testutil.CollectAndCount(m.connectionLifetime))
	assert.Equal(t, 1, testutil.CollectAndCount(m.messageSize))
}

func TestQueueMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newQueueMetrics(reg)

	m.RecordMessageReceived("orders")
	m.RecordMessageReceived("orders")
	m.RecordMessageDecoded("orders", 64)
	m.RecordPoisonMessage("orders", "UnsupportedMode")
	m.RecordDeadLetterError("orders")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDecoded.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poisonMessages.WithLabelValues("orders", "UnsupportedMode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLetterErrors.WithLabelValues("orders")))
}

func TestBufferPoolCollector(t *testing.T) {
	pool := bufpool.NewPooledBufferManager(1<<20, 1024)
	pool.ReturnBuffer(pool.TakeBuffer(128))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(newBufferPoolCollector(pool)))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	remaining := byName["framingd_bufpool_remaining_bytes"]
	require.NotNil(t, remaining)
	assert.Equal(t, float64(pool.RemainingMemory()), remaining.GetMetric()[0].GetGauge().GetValue())

	// 128, 256, 512 and 1024 byte classes.
	limits := byName["framingd_bufpool_class_limit"]
	require.NotNil(t, limits)
	assert.Len(t, limits.GetMetric(), 4)

	pooled := byName["framingd_bufpool_class_buffers"]
	require.NotNil(t, pooled)
	for _, m := range pooled.GetMetric() {
		if m.GetLabel()[0].GetValue() == "128" {
			assert.Equal(t, 1.0, m.GetGauge().GetValue())
		}
	}
}

func TestConstructorsWithoutRegistry(t *testing.T) {
	assert.NotNil(t, NewFramingMetrics())
	assert.NotNil(t, NewQueueMetrics())
	assert.NoError(t, RegisterBufferPool(nil))
}
