package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// statusServer returns the middleware around a mux with a few status routes,
// plus the exporters it records into. It installs a global tracer, so tests
// using it do not run in parallel.
func statusServer(t *testing.T) (http.Handler, func() map[string]metricdata.Aggregation, *tracetest.InMemoryExporter) {
	t.Helper()
	m, collect := meteredTest(t)
	tp, exp := newTestTracerProvider(t)
	useGlobalTracer(t, tp)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("POST /history/clear", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return Middleware(m)(mux), collect, exp
}

func serve(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SpanPerRoute(t *testing.T) {
	h, _, exp := statusServer(t)

	tests := []struct {
		method, path string
		wantName     string
		wantStatus   int64
	}{
		{"GET", "/healthz", "GET /healthz", 200},
		{"GET", "/readyz", "GET /readyz", 503},
		{"POST", "/history/clear", "POST /history/clear", 204},
		{"GET", "/does/not/exist", "unmatched", 404},
	}
	for _, tt := range tests {
		exp.Reset()
		serve(h, tt.method, tt.path, nil)

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s %s: got %d spans, want 1", tt.method, tt.path, len(spans))
		}
		s := spans[0]
		if s.Name != tt.wantName {
			t.Errorf("%s %s: span name = %q, want %q", tt.method, tt.path, s.Name, tt.wantName)
		}
		var status int64
		for _, kv := range s.Attributes {
			if kv.Key == "http.response.status_code" {
				status = kv.Value.AsInt64()
			}
		}
		if status != tt.wantStatus {
			t.Errorf("%s %s: status attribute = %d, want %d", tt.method, tt.path, status, tt.wantStatus)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := statusServer(t)

	fresh := serve(h, "GET", "/healthz", nil).Header().Get("X-Correlation-ID")
	if len(fresh) != 32 {
		t.Errorf("new trace correlation ID = %q, want 32 hex digits", fresh)
	}

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := serve(h, "GET", "/healthz", map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	})
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want the incoming trace %q", got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("traceparent = %q, want it to continue trace %s", tp, traceID)
	}
}

func TestMiddleware_RecordsDurationByRouteAndCode(t *testing.T) {
	h, collectMetrics, _ := statusServer(t)

	serve(h, "GET", "/healthz", nil)
	serve(h, "GET", "/healthz", nil)
	serve(h, "GET", "/readyz", nil)
	serve(h, "GET", "/x1", nil)
	serve(h, "GET", "/x2", nil)

	data := collectMetrics()["parley.http.request.duration"]
	hist, ok := data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("parley.http.request.duration = %T, want Histogram[float64]", data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		r, _ := dp.Attributes.Value(attribute.Key("route"))
		c, _ := dp.Attributes.Value(attribute.Key("code"))
		counts[r.AsString()+" "+c.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /healthz 200": 2,
		"GET /readyz 503":  1,
		"unmatched 404":    2,
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%s: count = %d, want %d", k, counts[k], n)
		}
	}
}

func TestMiddleware_ServerErrorsLogAtWarn(t *testing.T) {
	buf := captureLog(t)
	h, _, _ := statusServer(t)

	serve(h, "GET", "/healthz", nil)
	serve(h, "GET", "/readyz", nil)

	out := buf.String()
	if strings.Contains(out, "GET /healthz") {
		t.Errorf("successful request logged above debug:\n%s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "GET /readyz") {
		t.Errorf("503 not logged at warn:\n%s", out)
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	t.Parallel()
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, status: http.StatusOK}
	if rec.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
