package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordCache("cities", CacheHit)
	m.RecordCache("cities", CacheHit)
	m.RecordCache("cities", CacheMiss)
	m.RecordPublish(OutcomeQueued)
	m.RecordConsume(OutcomePersisted)
	m.RecordBackoff()
	m.SetConsumerState(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("cities", CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("cities", CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(OutcomeQueued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsConsumed.WithLabelValues(OutcomePersisted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerBackoffs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerState))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCache("cities", CacheHit)
		m.RecordPublish(OutcomeDropped)
		m.RecordConsume(OutcomeFailed)
		m.RecordBackoff()
		m.SetConsumerState(0)
		m.ObserveStoreQuery("list_cities", 0.01)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordPublish(OutcomeQueued)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `invasions_analytics_published_total{outcome="queued"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
