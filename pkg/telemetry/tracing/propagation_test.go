package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

const testTraceParent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

// TestExtract tests trace context extraction from HTTP headers
func TestExtract(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		wantValid   bool
	}{
		{"valid traceparent", testTraceParent, true},
		{"missing traceparent", "", false},
		{"invalid traceparent", "invalid", false},
		{"all zero trace ID", "00-00000000000000000000000000000000-00f067aa0ba902b7-01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.traceparent != "" {
				headers.Set("traceparent", tt.traceparent)
			}

			sc := trace.SpanContextFromContext(Extract(context.Background(), headers))
			if sc.IsValid() != tt.wantValid {
				t.Errorf("Expected valid=%v, got %v", tt.wantValid, sc.IsValid())
			}
			if tt.wantValid && sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
				t.Errorf("Unexpected trace ID %s", sc.TraceID())
			}
		})
	}
}

// TestInject tests that an extracted context round-trips into headers
func TestInject(t *testing.T) {
	in := http.Header{}
	in.Set("traceparent", testTraceParent)
	ctx := Extract(context.Background(), in)

	out := http.Header{}
	Inject(ctx, out)

	if got := out.Get("traceparent"); got != testTraceParent {
		t.Errorf("Expected traceparent %q, got %q", testTraceParent, got)
	}

	empty := http.Header{}
	Inject(context.Background(), empty)
	if got := empty.Get("traceparent"); got != "" {
		t.Errorf("Expected no traceparent without a span, got %q", got)
	}
}

// TestHTTPMiddleware tests trace ID echoing
func TestHTTPMiddleware(t *testing.T) {
	var sawValid bool
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawValid = trace.SpanContextFromContext(r.Context()).IsValid()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("traceparent", testTraceParent)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !sawValid {
		t.Error("Expected handler to see the remote span context")
	}
	if got := rec.Header().Get("X-Trace-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("Expected X-Trace-ID header, got %q", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if got := rec.Header().Get("X-Trace-ID"); got != "" {
		t.Errorf("Expected no X-Trace-ID without traceparent, got %q", got)
	}
}
