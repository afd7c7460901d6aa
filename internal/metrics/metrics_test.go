package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if recordsTotal == nil || shardsTotal == nil || shardDurationSeconds == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveRecord(t *testing.T) {
	before := testutil.ToFloat64(recordsTotalFor("skipped", "none"))
	ObserveRecord("skipped", "")
	if got := testutil.ToFloat64(recordsTotalFor("skipped", "none")); got != before+1 {
		t.Errorf("expected empty reason to be counted as none, got %f", got-before)
	}

	before = testutil.ToFloat64(recordsTotalFor("emitted", "none"))
	ObserveRecord("emitted", "")
	ObserveRecord("emitted", "")
	if got := testutil.ToFloat64(recordsTotalFor("emitted", "none")); got != before+2 {
		t.Errorf("expected 2 emitted records, got %f", got-before)
	}
}

func TestObserveShardAndFetch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(shardsTotal.WithLabelValues("failed"))
	ObserveShard("failed", 1500*time.Millisecond)
	if got := testutil.ToFloat64(shardsTotal.WithLabelValues("failed")); got != before+1 {
		t.Errorf("expected failed shard to be counted, got %f", got-before)
	}

	ObserveFetch("cache", 0)
	ObserveFetch("remote", 2048)
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("remote")); got < 2048 {
		t.Errorf("expected remote bytes >= 2048, got %f", got)
	}
}

func TestActiveGauges(t *testing.T) {
	Init()
	IncActiveShards()
	IncActiveShards()
	DecActiveShards()
	DecActiveShards()
	if got := testutil.ToFloat64(activeShards); got != 0 {
		t.Errorf("expected active shards to return to 0, got %f", got)
	}

	IncClassifyInFlight()
	DecClassifyInFlight()
	if got := testutil.ToFloat64(classifyInFlight); got != 0 {
		t.Errorf("expected classify gauge to return to 0, got %f", got)
	}
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/test", "/notfound"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("Expected httpRequestsTotal for GET /test to be at least 1, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val < 1 {
		t.Errorf("Expected httpRequestsTotal for GET /notfound to be at least 1, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("Expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}

func TestCollectorNamesArePrefixed(t *testing.T) {
	Init()
	ObserveHTTPRequest("GET", "/healthz", http.StatusOK, time.Millisecond)
	ObserveRecord("emitted", "")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var sawHTTP bool
	for _, mf := range families {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") || strings.HasPrefix(name, "process_") || strings.HasPrefix(name, "promhttp_") {
			continue
		}
		if !strings.HasPrefix(name, "langfilter_") {
			t.Errorf("collector %q lacks the langfilter_ prefix", name)
		}
		if name == "langfilter_http_requests_total" {
			sawHTTP = true
		}
	}
	if !sawHTTP {
		t.Error("langfilter_http_requests_total not gathered")
	}
}

func recordsTotalFor(status, reason string) prometheus.Counter {
	Init()
	return recordsTotal.WithLabelValues(status, reason)
}
