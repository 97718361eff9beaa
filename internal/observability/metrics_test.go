package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordSweep("ok", 3, 1)
	m.RecordSweep("locked", 0, 0)
	m.RecordProblemCreated()
	m.RecordLinked(4)
	m.RecordLinked(0)
	m.RecordDetached()
	m.RecordClassifierCall("unavailable")
	m.RecordRequest("/problems/:id", "GET", 200, 15*time.Millisecond)
	m.RecordError("NOT_FOUND")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepsTotal.WithLabelValues("locked")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.groupsProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.problemsCreated))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ticketsLinked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticketsDetached))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifierCalls.WithLabelValues("unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/problems/:id", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("NOT_FOUND")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSweep("ok", 1, 1)
		m.RecordLinked(1)
		m.RecordDetached()
		m.RecordClassifierCall("ok")
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("X")
	})
	assert.Nil(t, m.Registry())
}
