package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixedStats int

func (s fixedStats) ActiveGenerations() int { return int(s) }
func (s fixedStats) Entries() int           { return int(s) * 10 }

func TestCollectorWithoutPool(t *testing.T) {
	c := NewCollector(nil, fixedStats(3), fixedStats(3))
	if n := testutil.CollectAndCount(c); n != 5 {
		t.Fatalf("collected %d metrics, want 5", n)
	}

	want := `
# HELP studynotes_active_generations Note generations currently in flight.
# TYPE studynotes_active_generations gauge
studynotes_active_generations 3
# HELP studynotes_metadata_cache_entries Entries held in the in-memory metadata cache.
# TYPE studynotes_metadata_cache_entries gauge
studynotes_metadata_cache_entries 30
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"studynotes_active_generations", "studynotes_metadata_cache_entries"); err != nil {
		t.Error(err)
	}
}

func TestInstrumentHandlerRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/v1/notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/notes/{id}", "418"))
	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/notes/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/notes/{id}", "418"))
	if after-before != 2 {
		t.Errorf("counter delta = %v, want 2", after-before)
	}
}

func TestStatusWriterHijackUnsupported(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: 200}
	if _, _, err := sw.Hijack(); err == nil {
		t.Error("expected error when the underlying writer cannot hijack")
	}
}
