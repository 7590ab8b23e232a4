package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"DrawSight/internal/job"
	"DrawSight/pkg/plugin"
)

var _ plugin.MetricsSink = (*Metrics)(nil)

func TestRecordExecution(t *testing.T) {
	m := New()
	m.RecordExecution("weighted_frequency", 120*time.Millisecond, true, 300)
	m.RecordExecution("weighted_frequency", 80*time.Millisecond, false, 300)
	m.RecordRejection("weighted_frequency", string(plugin.CodeBusy))

	if got := testutil.ToFloat64(m.executions.WithLabelValues("weighted_frequency", "success")); got != 1 {
		t.Fatalf("unexpected success count %v", got)
	}
	if got := testutil.ToFloat64(m.executions.WithLabelValues("weighted_frequency", "failure")); got != 1 {
		t.Fatalf("unexpected failure count %v", got)
	}
	if got := testutil.ToFloat64(m.recordsProcessed.WithLabelValues("weighted_frequency")); got != 600 {
		t.Fatalf("unexpected records processed %v", got)
	}
	if got := testutil.ToFloat64(m.rejections.WithLabelValues("weighted_frequency", "PLUGIN_BUSY")); got != 1 {
		t.Fatalf("unexpected rejection count %v", got)
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for _, path := range []string{"/jobs/a", "/jobs/b", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/jobs/{id}", "GET", "404")); got != 2 {
		t.Fatalf("expected both job lookups under one label, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpErrors.WithLabelValues("/boom", "GET")); got != 1 {
		t.Fatalf("expected server error to be counted, got %v", got)
	}
}

func TestJobStatsCollector(t *testing.T) {
	m := New()
	err := m.RegisterJobStats(func(context.Context) (job.Stats, error) {
		return job.Stats{Total: 6, Pending: 1, Running: 2, Succeeded: 3}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	expected := `
# HELP drawsight_jobs_current Prediction jobs currently held by the job store, by status.
# TYPE drawsight_jobs_current gauge
drawsight_jobs_current{status="failed"} 0
drawsight_jobs_current{status="pending"} 1
drawsight_jobs_current{status="running"} 2
drawsight_jobs_current{status="succeeded"} 3
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "drawsight_jobs_current"); err != nil {
		t.Fatalf("unexpected job metrics: %v", err)
	}
}

func TestJobStatsCollectorSkipsOnError(t *testing.T) {
	m := New()
	if err := m.RegisterJobStats(func(context.Context) (job.Stats, error) {
		return job.Stats{}, errors.New("store offline")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "drawsight_jobs_current"); err != nil || n != 0 {
		t.Fatalf("expected no samples, got %d (%v)", n, err)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("/healthz", "GET", 200, 10*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `drawsight_http_requests_total{code="200",handler="/healthz",method="GET"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
}
