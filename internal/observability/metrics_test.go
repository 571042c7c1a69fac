package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chatstream/internal/chat"
)

func TestStreamLifecycleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StreamStarted()
	m.StreamStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams))

	m.FirstChunk(120 * time.Millisecond)
	m.FallbackUsed()
	m.ClientGone()
	m.KeepAlive()

	m.StreamFinished(chat.StreamSuccess, time.Second)
	m.StreamFinished(chat.StreamPartial, 2*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsTotal.WithLabelValues("partial")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbacksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnectsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeepAlivesTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StreamDurationSeconds))
}

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "second registration on the same registry must collide")

	// a fresh registry is independent
	require.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}
