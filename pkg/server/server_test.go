package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits"
	"mercator-hq/sluice/pkg/telemetry/health"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Admin: config.AdminConfig{ListenAddress: "127.0.0.1:0"},
		Throttle: config.ThrottleConfig{
			Resources: map[string]config.ResourceConfig{
				"model-x": {Limit: 1, PriceInput: 2.5, PriceOutput: 10},
			},
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Telemetry.Health.RateLimit = 0
	return cfg
}

// newTestServer builds a server around a started coordinator.
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *limits.Coordinator) {
	t.Helper()

	coord, err := limits.New(cfg.Throttle, limits.Options{
		Logger:     discardLogger(),
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("limits.New() error = %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { coord.Stop() })

	srv := New(cfg, coord, Options{
		Logger:  discardLogger(),
		Version: health.VersionInfo{Version: "1.0.0-test", Commit: "abc123"},
	})
	return srv, coord
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// ============================================================================
// Health and metrics
// ============================================================================

func TestServer_HealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/health/live", http.StatusOK, `"status":"ok"`},
		{"/health/ready", http.StatusOK, `"coordinator"`},
		{"/version", http.StatusOK, `"version":"1.0.0-test"`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %s, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestServer_ReadinessFailsWhenCoordinatorStopped(t *testing.T) {
	srv, coord := newTestServer(t, testConfig())
	if err := coord.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	rec := do(t, srv.Handler(), http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	status := decode[health.HealthStatus](t, rec)
	if status.Checks["coordinator"].Status != health.StatusUnhealthy {
		t.Errorf("Expected coordinator check unhealthy, got %+v", status.Checks["coordinator"])
	}
}

func TestServer_ReadinessDegradedByOpenCircuit(t *testing.T) {
	srv, coord := newTestServer(t, testConfig())
	for i := 0; i < 20; i++ {
		coord.ReportOutcome("model-x", false)
	}

	rec := do(t, srv.Handler(), http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected degraded server to stay ready, got %d", rec.Code)
	}
	status := decode[health.HealthStatus](t, rec)
	if status.Status != health.StatusDegraded {
		t.Errorf("Expected status %s, got %s", health.StatusDegraded, status.Status)
	}
	if msg := status.Checks["limits"].Message; !strings.Contains(msg, limits.FlagCircuitOpen) {
		t.Errorf("Expected limits check to mention %s, got %q", limits.FlagCircuitOpen, msg)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, coord := newTestServer(t, testConfig())
	coord.CheckAdmission(context.Background(), limits.Request{Resource: "model-x"})

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sluice_admission_decisions_total") {
		t.Error("Expected admission decision metric in output")
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.Metrics.Disabled = true
	srv, _ := newTestServer(t, cfg)

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with metrics disabled, got %d", rec.Code)
	}
}

// ============================================================================
// Admission API
// ============================================================================

func TestServer_AdmissionCheck(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	req := limits.Request{Resource: "model-x"}

	// Limit 1 gives a medium window threshold of 5.
	for i := 0; i < 5; i++ {
		rec := do(t, h, http.MethodPost, "/v1/admission/check", req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		if resp := decode[CheckResponse](t, rec); !resp.Admitted {
			t.Fatalf("Request %d: expected admission, got %+v", i, resp)
		}
	}

	rec := do(t, h, http.MethodPost, "/v1/admission/check", req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	resp := decode[CheckResponse](t, rec)
	if resp.Admitted || resp.Reason != string(limits.ReasonRateLimitMedium) {
		t.Errorf("Expected %s denial, got %+v", limits.ReasonRateLimitMedium, resp)
	}
	if got := rec.Header().Get(ThrottleReasonHeader); got != string(limits.ReasonRateLimitMedium) {
		t.Errorf("Expected X-Throttle-Reason %s, got %q", limits.ReasonRateLimitMedium, got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on denial")
	}
}

func TestServer_AdmissionCheck_PriorityIsCaseInsensitive(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	req := limits.Request{Resource: "model-x", Priority: "CRITICAL"}

	// Critical doubles limit 1 to 2, so the short window admits 2+5.
	for i := 0; i < 7; i++ {
		rec := do(t, h, http.MethodPost, "/v1/admission/check", req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := do(t, h, http.MethodPost, "/v1/admission/check", req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get(ThrottleReasonHeader); got != string(limits.ReasonRateLimitShort) {
		t.Errorf("Expected %s, got %q", limits.ReasonRateLimitShort, got)
	}
}

func TestServer_AdmissionCheck_InvalidRequests(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"resource":`},
		{"missing resource", `{"caller_id":"team-a"}`},
		{"unknown priority", `{"resource":"model-x","priority":"urgent"}`},
		{"negative tokens", `{"resource":"model-x","estimated_tokens":-1}`},
		{"unknown field", `{"resource":"model-x","colour":"blue"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/admission/check", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Error.Type != ErrorTypeInvalidRequest {
				t.Errorf("Expected error type %s, got %s", ErrorTypeInvalidRequest, resp.Error.Type)
			}
		})
	}
}

func TestServer_AdmissionCheck_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := do(t, srv.Handler(), http.MethodGet, "/v1/admission/check", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestServer_Outcome_TripsBreaker(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	for i := 0; i < 20; i++ {
		rec := do(t, h, http.MethodPost, "/v1/admission/outcome", OutcomeRequest{Resource: "model-x"})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", rec.Code)
		}
	}

	rec := do(t, h, http.MethodPost, "/v1/admission/check", limits.Request{Resource: "model-x"})
	if got := rec.Header().Get(ThrottleReasonHeader); got != string(limits.ReasonCircuitOpen) {
		t.Errorf("Expected %s, got %q", limits.ReasonCircuitOpen, got)
	}
}

func TestServer_Cost(t *testing.T) {
	srv, coord := newTestServer(t, testConfig())

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/admission/cost", CostRequest{
		Resource:     "model-x",
		CallerID:     "team-a",
		InputTokens:  1000,
		OutputTokens: 500,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// 1000 input and 500 output units: $2.50 + $5.00
	resp := decode[CostResponse](t, rec)
	if resp.CostUSD < 7.49 || resp.CostUSD > 7.51 {
		t.Errorf("Expected cost $7.50, got %v", resp.CostUSD)
	}
	if got := coord.Stats().Spend.ByCaller["team-a"]; got < 7.49 || got > 7.51 {
		t.Errorf("Expected team-a spend $7.50, got %v", got)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/v1/admission/cost", CostRequest{Resource: "model-x", InputTokens: -1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative tokens, got %d", rec.Code)
	}
}

// ============================================================================
// Admin API
// ============================================================================

func TestServer_StatsAndReset(t *testing.T) {
	srv, coord := newTestServer(t, testConfig())
	h := srv.Handler()

	coord.CheckAdmission(context.Background(), limits.Request{Resource: "model-x"})

	rec := do(t, h, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	stats := decode[limits.Stats](t, rec)
	if stats.Limits["model-x"] != 1 {
		t.Errorf("Expected model-x limit 1, got %d", stats.Limits["model-x"])
	}
	if stats.Windows["model-x"].Short != 1 {
		t.Errorf("Expected one request in the short window, got %+v", stats.Windows["model-x"])
	}

	rec = do(t, h, http.MethodPost, "/v1/admin/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp := decode[ResetResponse](t, rec); !resp.Reset {
		t.Errorf("Expected reset confirmation, got %+v", resp)
	}
	if got := coord.Stats().Windows["model-x"].Short; got != 0 {
		t.Errorf("Expected empty window after reset, got %d", got)
	}
	if got := coord.Stats().Limits["model-x"]; got != 1 {
		t.Errorf("Expected limit to survive reset, got %d", got)
	}
}

func TestServer_Quotas(t *testing.T) {
	srv, coord := newTestServer(t, testConfig())
	h := srv.Handler()

	rec := do(t, h, http.MethodPut, "/v1/quotas/team-a", `{"daily_requests":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	status := decode[limits.QuotaStatus](t, rec)
	if status.Source != "store" || status.Limits.DailyRequests != 2 {
		t.Errorf("Expected stored quota of 2 requests, got %+v", status)
	}

	// The override applies to admission immediately.
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		coord.CheckAdmission(ctx, limits.Request{Resource: "model-y", CallerID: "team-a"})
	}
	out := coord.CheckAdmission(ctx, limits.Request{Resource: "model-y", CallerID: "team-a"})
	if out.Reason != limits.ReasonQuotaRequests {
		t.Errorf("Expected %s, got %s", limits.ReasonQuotaRequests, out.Reason)
	}

	rec = do(t, h, http.MethodGet, "/v1/quotas", nil)
	list := decode[QuotaListResponse](t, rec)
	if len(list.Quotas) != 1 || list.Quotas[0].CallerID != "team-a" {
		t.Errorf("Expected team-a in quota list, got %+v", list.Quotas)
	}

	rec = do(t, h, http.MethodGet, "/v1/quotas/team-a", nil)
	if got := decode[limits.QuotaStatus](t, rec); got.Usage.Requests != 2 {
		t.Errorf("Expected 2 recorded requests, got %+v", got.Usage)
	}

	rec = do(t, h, http.MethodDelete, "/v1/quotas/team-a", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE: expected 204, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/v1/quotas/team-a", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Second DELETE: expected 404, got %d", rec.Code)
	}
}

func TestServer_PutQuota_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	tests := []struct {
		name string
		body string
	}{
		{"negative", `{"daily_requests":-1}`},
		{"not json", `daily_requests=1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodPut, "/v1/quotas/team-a", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestServer_APIRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.RateLimit = 1
	cfg.Admin.RateBurst = 1
	srv, _ := newTestServer(t, cfg)
	h := srv.Handler()

	if rec := do(t, h, http.MethodGet, "/v1/stats", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}

	// Probes are not behind the API guard.
	if rec := do(t, h, http.MethodGet, "/health/live", nil); rec.Code != http.StatusOK {
		t.Errorf("Expected liveness to pass, got %d", rec.Code)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestServer_StartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Addr() == nil {
		t.Fatal("Server did not start listening")
	}
	if !srv.IsRunning() {
		t.Error("Expected server to be running")
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/health/live")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("Expected request ID header")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("Expected server to be stopped")
	}
}

func TestServer_StartTwice(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !srv.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("Expected error starting a running server")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
