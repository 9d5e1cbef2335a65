package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/mcp/a", nil))

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var hist *dto.Histogram
	for _, mf := range metricFamilies {
		if mf.GetName() != "toolgate_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "method" && lp.GetValue() == "POST" {
					hist = m.GetHistogram()
				}
			}
		}
	}
	if hist == nil {
		t.Fatal("expected request_duration_seconds with method=POST")
	}
	if hist.GetSampleCount() != 1 {
		t.Errorf("expected 1 observation, got %d", hist.GetSampleCount())
	}
}

func TestMetricsMiddleware_StatusLabels(t *testing.T) {
	tests := []struct {
		status int
		label  string
	}{
		{http.StatusOK, "2xx"},
		{http.StatusAccepted, "2xx"},
		{http.StatusUnauthorized, "4xx"},
		{http.StatusServiceUnavailable, "5xx"},
	}

	for _, tt := range tests {
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/mcp/a", nil))

		if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("POST", tt.label)); got != 1 {
			t.Errorf("status %d: requests_total{code=%q} = %v, want 1", tt.status, tt.label, got)
		}
	}
}

func TestMetricsMiddleware_SkipsOperationalEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, path := range []string{"/metrics", "/health"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.CollectAndCount(metrics.RequestsTotal); got != 0 {
		t.Errorf("requests_total series = %d, want 0", got)
	}
}

func TestMetricsMiddleware_ImplicitOK(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/mcp/a", nil))

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("POST", "2xx")); got != 1 {
		t.Errorf("requests_total{code=2xx} = %v, want 1", got)
	}
}
