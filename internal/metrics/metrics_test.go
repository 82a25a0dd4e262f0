package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeStats struct{ queued, active, subs int }

func (f fakeStats) QueueDepth() int         { return f.queued }
func (f fakeStats) ActiveJobs() int         { return f.active }
func (f fakeStats) SSESubscriberCount() int { return f.subs }

func TestInstrumentHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs/{id}", "418"))
	req := httptest.NewRequest("GET", "/api/v1/jobs/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs/{id}", "418"))
	if after-before != 1 {
		t.Errorf("requests counter delta = %v, want 1 (route pattern label)", after-before)
	}
}

func TestStatusWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: 200}
	var _ http.Flusher = sw
	sw.Flush()
	if !rec.Flushed {
		t.Error("Flush not forwarded")
	}
	if sw.Unwrap() != rec {
		t.Error("Unwrap should return the wrapped writer")
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector(nil, fakeStats{queued: 3, active: 2, subs: 1})
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := `
# HELP scriptsync_jobs_queue_depth Jobs waiting in the worker queue.
# TYPE scriptsync_jobs_queue_depth gauge
scriptsync_jobs_queue_depth 3
# HELP scriptsync_jobs_active Jobs currently being processed.
# TYPE scriptsync_jobs_active gauge
scriptsync_jobs_active 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "scriptsync_jobs_queue_depth", "scriptsync_jobs_active"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(c); n != 6 {
		t.Errorf("CollectAndCount = %d, want 6", n)
	}
}
