package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveScreening("auto_approve", 12, 3*time.Millisecond)
	m.ObserveScreening("auto_approve", 8, time.Millisecond)
	m.ObserveScreening("manual_review", 70, time.Millisecond)
	m.RuleMatched("builtin_high_velocity")
	m.EnrichmentFailed()
	m.ObserveFraud(true)
	m.ObserveFraud(false)
	m.ObserveHTTP("POST", "/prescreen", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Screenings.WithLabelValues("auto_approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Screenings.WithLabelValues("manual_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleMatches.WithLabelValues("builtin_high_velocity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichmentFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FraudVerdicts.WithLabelValues("fraudulent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/prescreen", "200")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveScreening("escalate", 99, time.Second)
		m.RuleMatched("x")
		m.EnrichmentFailed()
		m.ObserveFraud(true)
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveScreening("auto_decline", 100, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `kestrel_screenings_total{decision="auto_decline"} 1`))
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
