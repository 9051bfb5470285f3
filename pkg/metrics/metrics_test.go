package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.Upload(OutcomeOK, 0.2)
	m.Upload(OutcomeOK, 0.1)
	m.Upload(OutcomeDuplicate, 0.1)
	m.PeriodsHandled("inserted", 4)
	m.PeriodsHandled("deleted", 0)
	m.PageFetched()
	m.NotifyFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Uploads.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Periods.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyErrors))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Upload(OutcomeOK, 1)
	m.PeriodsHandled("inserted", 1)
	m.PageFetched()
	m.NotifyFailed()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Upload(OutcomeOK, 0.05)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `roomusage_uploads_total{outcome="ok"} 1`), body)
	assert.Contains(t, body, "roomusage_upload_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}
