package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestChatMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.StreamStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
	m.FirstFragment(120 * time.Millisecond)
	m.Fragments(3)
	m.Fragments(0)
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FragmentsTotal))

	m.Request(OutcomeSuccess)
	m.Request(OutcomeClientGone)
	m.Request(OutcomeClientGone)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OutcomeClientGone)))

	m.ClientDisconnected()
	m.ContextDegraded()
	m.TurnPersisted(OutcomeSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnectsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextDegradedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsPersistedTotal.WithLabelValues(OutcomeSuccess)))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *ChatMetrics
	m.Request(OutcomeSuccess)
	m.StreamStarted()()
	m.FirstFragment(time.Second)
	m.Fragments(2)
	m.ClientDisconnected()
	m.ContextDegraded()
	m.TurnPersisted(OutcomeSuccess)
}
