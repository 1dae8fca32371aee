package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/oicur0t/sensorlog/internal/dashboard"
	"github.com/oicur0t/sensorlog/internal/gate"
	"github.com/oicur0t/sensorlog/internal/logstore"
	"github.com/oicur0t/sensorlog/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	store   *logstore.Store
	dash    *dashboard.Dashboard
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := sensor.NewCatalog([]sensor.Entry{
		{Log: "tmp116", Sensor: "TMP116", Unit: "°C", Label: "Temperature"},
		{Log: "dps310_pressure", Sensor: "DPS310", SubLabel: "pressure", Unit: "hPa", Label: "Pressure"},
	})
	require.NoError(t, err)

	store, err := logstore.New(filepath.Join(t.TempDir(), "csv"), []logstore.LogConfig{
		{Name: "tmp116", Capacity: 100},
		{Name: "dps310_pressure", Capacity: 600},
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLogsExist())

	d := dashboard.New(store, catalog, gate.Options{}, zap.NewNop())
	stats := func() sensor.Stats { return sensor.Stats{Routed: 4, Unmatched: 1} }
	h := NewHandler(d, stats, zap.NewNop())

	return &fixture{store: store, dash: d, handler: h.Routes()}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) appendReading(t *testing.T, log, sensorName, sub string, value float64) {
	t.Helper()
	rec := sensor.NewRecord(time.Now(), sensorName, sub, value)
	_, err := f.store.AppendAndTrim(log, rec)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestListLogsBeforeRefresh(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/logs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "refreshed_at")
	assert.JSONEq(t, `[]`, string(body["logs"]))
	assert.JSONEq(t, `{"routed":4,"unmatched":1,"malformed":0}`, string(body["router"]))
}

func TestRefreshThenGetLog(t *testing.T) {
	f := newFixture(t)
	f.appendReading(t, "tmp116", "TMP116", "", 21.5)
	f.appendReading(t, "tmp116", "TMP116", "", 22.0)

	rec := f.do(t, http.MethodPost, "/v1/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"refreshed"`)

	rec = f.do(t, http.MethodGet, "/v1/logs/tmp116")
	require.Equal(t, http.StatusOK, rec.Code)

	var s dashboard.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.True(t, s.Ready)
	assert.Equal(t, "tmp116", s.Log)
	assert.Equal(t, 2, s.Rows)
	assert.Len(t, s.Points, 2)
	assert.Equal(t, 22.0, s.Latest.Value)

	rec = f.do(t, http.MethodGet, "/v1/logs/dps310_pressure")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.False(t, s.Ready)
	assert.Empty(t, s.Points)

	rec = f.do(t, http.MethodGet, "/v1/logs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"refreshed_at"`)
}

func TestGetLogErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/logs/hdc2010_hum")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/logs/tmp116")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/logs/tmp116?wait=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/logs/tmp116?wait=-1s")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/logs/tmp116/extra")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/logs/tmp116")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/logs")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetLogWaitTimesOut(t *testing.T) {
	f := newFixture(t)

	start := time.Now()
	rec := f.do(t, http.MethodGet, "/v1/logs/tmp116?wait=50ms")
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGetLogWaitRefreshesReadyLog(t *testing.T) {
	f := newFixture(t)
	f.appendReading(t, "dps310_pressure", "DPS310", "pressure", 1013.2)

	rec := f.do(t, http.MethodGet, "/v1/logs/dps310_pressure?wait=1s")
	require.Equal(t, http.StatusOK, rec.Code)

	var s dashboard.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.True(t, s.Ready)
	assert.Equal(t, 1, s.Rows)
	assert.Equal(t, "hPa", s.Unit)
}

func TestMTLSMiddleware(t *testing.T) {
	f := newFixture(t)
	h := MTLSMiddleware(zap.NewNop())(f.handler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryAndLoggingMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := LoggingMiddleware(zap.NewNop())(RecoveryMiddleware(zap.NewNop())(panicking))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteJSONReportsEncodingFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := NewHandler(nil, nil, zap.New(core))

	rec := httptest.NewRecorder()
	h.writeJSON(rec, http.StatusOK, map[string]float64{"mean": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEqual(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to encode response", logs.All()[0].Message)
}
