package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/v1/tickets", "POST", 201, 15*time.Millisecond)
	m.RecordError("/v1/tickets", "POST", "LIMIT_EXCEEDED")
	m.RecordTicketOperation("create", "ok")
	m.RecordTicketOperation("create", "ok")

	done := m.RecordArchiveRun()
	done(12, nil)
	m.RecordArchiveRun()(0, errors.New("rate limited"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/tickets", "POST", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("/v1/tickets", "POST", "LIMIT_EXCEEDED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticketOps.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.archiveRuns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.archiveRuns.WithLabelValues("failure")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.archiveMessages))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.RecordTicketOperation("claim", "ok")
	m.RecordArchiveRun()(1, nil)
	m.SetArchiveQueueDepth(3)
}
