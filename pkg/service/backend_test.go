package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/atomws/pkg/recycler"
)

func fixedDocument() Document {
	return Document{
		Service: "atomws", Date: 1_700_000_000_000, Uptime: 3725, Workers: 2,
		Data:        DataMetrics{Total: 1536, Input: 512, Output: 1024, CurrentRate: 2048, MaximumRate: 4096},
		Connections: ConnectionMetrics{Total: 4, CurrentOpen: 1, MaximumOpen: 2, CurrentRate: 0.5, MaximumRate: 1.25},
		Requests: RequestMetrics{
			Total: 7, TimedOut: 1, CurrentRate: 1.5, MaximumRate: 3,
			ByStatus: map[string]int64{"200": 6, "500": 1},
			ByHost:   map[string]int64{"example.com": 7},
		},
		Memory:  MemoryMetrics{HeapTotal: 2 * 1024 * 1024, HeapUsed: 1024 * 1024, Server: 3 * 1024 * 1024},
		Objects: map[string]recycler.Stats{"Job": {Created: 3, Recycled: 4}},
	}
}

func newBackend(t *testing.T) http.Handler {
	t.Helper()
	source := func(context.Context) Document { return fixedDocument() }
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))

	svc, err := New(Options{
		Title: "backend",
		Bind:  []string{DefaultBackendBind},
		Route: BackendRoute(source, reg),
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc.Handler()
}

func fetchJSON(t *testing.T, h http.Handler, target string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func section(t *testing.T, doc map[string]any, name string) map[string]any {
	t.Helper()
	m, ok := doc[name].(map[string]any)
	require.Truef(t, ok, "section %q missing", name)
	return m
}

func TestBackendMetricsDocument(t *testing.T) {
	h := newBackend(t)

	doc := fetchJSON(t, h, "/metrics")
	assert.Equal(t, "atomws", doc["service"])
	assert.Equal(t, 2.0, doc["workers"])
	assert.Equal(t, 3725.0, doc["uptime"])
	assert.Equal(t, 2048.0, section(t, doc, "data")["current-rate"])
	assert.Equal(t, 7.0, section(t, doc, "requests")["total"])
	assert.Equal(t, map[string]any{"200": 6.0, "500": 1.0}, section(t, doc, "requests")["by-status"])
	assert.Equal(t, map[string]any{"created": 3.0, "recycled": 4.0}, section(t, doc, "objects")["Job"])
}

func TestBackendMetricsBits(t *testing.T) {
	doc := fetchJSON(t, newBackend(t), "/metrics?bits=1")
	data := section(t, doc, "data")
	assert.Equal(t, 2048.0*8, data["current-rate"])
	assert.Equal(t, 4096.0*8, data["maximum-rate"])
	assert.Equal(t, 1536.0, data["total"], "totals stay in bytes")
}

func TestBackendMetricsHuman(t *testing.T) {
	h := newBackend(t)

	doc := fetchJSON(t, h, "/metrics?human=true")
	assert.Equal(t, "1h:2m:5s", doc["uptime"])
	assert.IsType(t, "", doc["date"])

	data := section(t, doc, "data")
	assert.Equal(t, "1.5KB", data["total"])
	assert.Equal(t, "512B", data["input"])
	assert.Equal(t, "2KB/s", data["current-rate"])

	assert.Equal(t, "0.5/s", section(t, doc, "connections")["current-rate"])
	assert.Equal(t, 4.0, section(t, doc, "connections")["total"])
	assert.Equal(t, "3/s", section(t, doc, "requests")["maximum-rate"])
	assert.Equal(t, "2MB", section(t, doc, "memory")["heap-total"])

	bits := fetchJSON(t, h, "/metrics?human=true&bits=1")
	assert.Equal(t, "16.4Kb/s", section(t, bits, "data")["current-rate"])
}

func TestBackendPrometheus(t *testing.T) {
	rec := httptest.NewRecorder()
	newBackend(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "atomws_requests_total 7")
	assert.Contains(t, body, `atomws_requests_by_status_total{status="500"} 1`)
	assert.Contains(t, body, `atomws_data_bytes_total{direction="output"} 1024`)
	assert.Contains(t, body, `atomws_pool_objects_total{event="recycled",pool="Job"} 4`)
	assert.Contains(t, body, "atomws_workers 2")
}

func TestBackendUnknownPath(t *testing.T) {
	rec := httptest.NewRecorder()
	newBackend(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
