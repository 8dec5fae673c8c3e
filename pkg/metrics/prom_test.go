package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labelPairs ...string) float64 {
	t.Helper()
	labels := prometheus.Labels{}
	for i := 0; i < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	c, err := vec.GetMetricWith(labels)
	if err != nil {
		t.Fatalf("GetMetricWith: %v", err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewProm(t *testing.T) {
	p := NewProm()
	if p == nil || p.registry == nil {
		t.Fatal("NewProm() did not initialize a registry")
	}
}

func TestRecordRequest(t *testing.T) {
	p := NewProm()
	p.RecordRequest("echo/1", 200)
	p.RecordRequest("echo/1", 200)
	p.RecordRequest("echo/1", 400)

	if v := counterValue(t, p.RequestsTotal, "model", "echo/1", "status", "200"); v != 2 {
		t.Errorf("status 200 count = %v, want 2", v)
	}
	if v := counterValue(t, p.RequestsTotal, "model", "echo/1", "status", "400"); v != 1 {
		t.Errorf("status 400 count = %v, want 1", v)
	}
}

func TestRecordGPUOOM(t *testing.T) {
	p := NewProm()
	p.RecordGPUOOM("big-model/3")
	if v := counterValue(t, p.GPUOOMTotal, "model", "big-model/3"); v != 1 {
		t.Errorf("gpu oom count = %v, want 1", v)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	p := NewProm()
	handler := p.Middleware("echo/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodPost, "/grps/v1/infer/predict", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if v := counterValue(t, p.RequestsTotal, "model", "echo/1", "status", "200"); v != 1 {
		t.Errorf("recorded count = %v, want 1", v)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	p := NewProm()
	p.RecordRequest("echo/1", 200)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "grps_requests_total") {
		t.Errorf("exposition missing grps_requests_total metric")
	}
}
