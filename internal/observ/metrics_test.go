package observ

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterLabelsAreOrderIndependent(t *testing.T) {
	IncCounter("test_total", map[string]string{"a": "1", "b": "2"})
	IncCounter("test_total", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, int64(2), CounterValue("test_total", map[string]string{"a": "1", "b": "2"}))
}

func TestGaugeOverwrites(t *testing.T) {
	SetGauge("test_gauge", 1.5, nil)
	SetGauge("test_gauge", 2.5, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	var dump struct {
		Gauges map[string]map[string]float64 `json:"gauges"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dump))
	assert.Equal(t, 2.5, dump.Gauges["test_gauge"][""])
}

func TestHealthReportsOK(t *testing.T) {
	rec := httptest.NewRecorder()
	Health().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
