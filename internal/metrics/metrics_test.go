package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGather(t *testing.T) {
	m := New()
	m.RunsDone.Add(2)
	m.RejectedPairs.Add(1)
	m.QueueLength.Store(3)
	m.UpdateDetectionLatency(1500 * time.Millisecond)

	values, err := m.Gather()
	require.NoError(t, err)
	assert.Equal(t, 2.0, values["stereo_runs_done_total"])
	assert.Equal(t, 1.0, values["stereo_rejected_pairs_total"])
	assert.Equal(t, 0.0, values["stereo_runs_no_matches_total"])
	assert.Equal(t, 3.0, values["stereo_queue_length"])
	assert.Equal(t, 1500.0, values["stereo_detection_latency_ms"])
}

func TestHandler(t *testing.T) {
	m := New()
	m.Measurements.Add(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "stereo_measurements_total 5")
}
