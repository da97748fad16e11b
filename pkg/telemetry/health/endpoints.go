package health

import (
	"math"
	"net/http"
	"runtime"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// VersionInfo contains build and version information.
type VersionInfo struct {
	// Version is the semantic version (e.g., "1.0.0")
	Version string `json:"version"`

	// Commit is the git commit hash
	Commit string `json:"commit"`

	// BuildTime is when the binary was built
	BuildTime string `json:"build_time"`

	// GoVersion is the Go version used to build
	GoVersion string `json:"go_version"`
}

// LivenessHandler returns an HTTP handler for the liveness probe endpoint.
//
// Example response:
//
//	{
//	    "status": "ok",
//	    "timestamp": "2026-03-10T10:30:00Z"
//	}
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		writeStatus(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler returns an HTTP handler for the readiness probe endpoint.
//
// Returns:
//   - 200 OK: ready or degraded
//   - 503 Service Unavailable: a required check failed
//
// Example response (degraded):
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "coordinator": {"status": "ok", "duration_ms": 0.01},
//	        "limits": {"status": "degraded", "message": "circuit_open", "duration_ms": 0.02}
//	    },
//	    "timestamp": "2026-03-10T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := c.CheckReadiness(r.Context())

		code := http.StatusOK
		if !status.Ready() {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, r, code, status)
	}
}

// VersionHandler returns an HTTP handler for the version information endpoint.
func VersionHandler(version, commit, buildTime string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		writeStatus(w, r, http.StatusOK, info)
	}
}

func writeStatus(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// HealthCheckHandlers bundles all health check HTTP handlers.
type HealthCheckHandlers struct {
	LivenessHandler  http.HandlerFunc
	ReadinessHandler http.HandlerFunc
	VersionHandler   http.HandlerFunc
}

// CreateHandlers creates HTTP handlers for all health check endpoints.
func (c *Checker) CreateHandlers(version, commit, buildTime string) HealthCheckHandlers {
	return HealthCheckHandlers{
		LivenessHandler:  c.LivenessHandler(),
		ReadinessHandler: c.ReadinessHandler(),
		VersionHandler:   VersionHandler(version, commit, buildTime),
	}
}

// Paths holds the routes the health endpoints are mounted on.
type Paths struct {
	Liveness  string
	Readiness string
	Version   string
}

// Mount registers the health endpoints on mux, each behind a shared rate
// limit of requestsPerSecond (0 disables the limit).
//
// Usage:
//
//	mux := http.NewServeMux()
//	checker := health.New(5 * time.Second)
//	checker.Mount(mux, health.Paths{Liveness: "/health/live", ...}, info, 50)
func (c *Checker) Mount(mux *http.ServeMux, paths Paths, info VersionInfo, requestsPerSecond float64) {
	handlers := c.CreateHandlers(info.Version, info.Commit, info.BuildTime)
	limiter := newLimiter(requestsPerSecond)

	mux.Handle(paths.Liveness, limited(handlers.LivenessHandler, limiter))
	mux.Handle(paths.Readiness, limited(handlers.ReadinessHandler, limiter))
	mux.Handle(paths.Version, limited(handlers.VersionHandler, limiter))
}

// RateLimitedHandler wraps a handler with a token bucket limiting requests
// per second. Rejected requests get 429 Too Many Requests.
//
// Usage:
//
//	handler := RateLimitedHandler(checker.LivenessHandler(), 10) // 10 req/s
//	http.HandleFunc("/health/live", handler)
func RateLimitedHandler(handler http.HandlerFunc, requestsPerSecond float64) http.HandlerFunc {
	return limited(handler, newLimiter(requestsPerSecond))
}

func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), int(math.Ceil(requestsPerSecond)))
}

func limited(handler http.HandlerFunc, limiter *rate.Limiter) http.HandlerFunc {
	if limiter == nil {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}
}
