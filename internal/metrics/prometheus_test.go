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

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordSessionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	m.RecordBlock(8192, 0.5)
	m.RecordBlock(8192, 0.25)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BlocksCaptured))
	assert.Equal(t, 16384.0, testutil.ToFloat64(m.SamplesCaptured))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.InputPeak))

	m.RecordSessionCompleted(2*time.Second, 384044)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCompleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))

	m.RecordSessionFailed("encode")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFailed.WithLabelValues("encode")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordSessionStarted()
	m.RecordBlock(1, 1)
	m.RecordEncode(time.Millisecond)
	m.RecordSessionCompleted(time.Second, 44)
	m.RecordSessionFailed("capture")
	m.RecordPersistError()
	m.RecordExport()
	m.RecordHTTPRequest("GET", "/status", "200", time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordExport()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "spatialrec_exports_total 1"))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.RecordExport()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Exports))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Exports))
}
