package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/monitoring"
)

func TestStatusEndpoint(t *testing.T) {
	metrics := monitoring.NewMetrics()
	metrics.FrameProcessed("masking", 0, 3*time.Millisecond)
	metrics.FrameProcessed("filtering", 0, 2*time.Millisecond)

	srv := New("offline", metrics, logging.NewNop())

	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, srv.RunID(), status.RunID)
	assert.Equal(t, "offline", status.Mode)
	require.Len(t, status.Stages, 2)
	// Stages are sorted by name.
	assert.Equal(t, "filtering", status.Stages[0].Name)
	assert.Equal(t, "masking", status.Stages[1].Name)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := monitoring.NewMetrics()
	metrics.FrameProcessed("masking", 0, time.Millisecond)

	srv := New("online", metrics, logging.NewNop())

	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "risa_frames_processed_total")
}

func TestRunIDsAreUnique(t *testing.T) {
	metrics := monitoring.NewMetrics()
	a := New("online", metrics, logging.NewNop())
	b := New("online", monitoring.NewMetrics(), logging.NewNop())
	assert.NotEqual(t, a.RunID(), b.RunID())
}
