package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors. Limiter metrics are registered on it by the coordinator.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an HTTP handler exposing every metric in g in the
// Prometheus exposition format. Collection errors are logged and the
// remaining metrics are still served.
//
//	reg := metrics.NewRegistry()
//	mux.Handle("/metrics", metrics.Handler(reg, logger))
func Handler(g prometheus.Gatherer, logger *slog.Logger) http.Handler {
	opts := promhttp.HandlerOpts{
		// Enable OpenMetrics encoding (preferred over Prometheus text format)
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}
	if logger != nil {
		opts.ErrorLog = errorLogger{logger}
	}
	return promhttp.HandlerFor(g, opts)
}

// errorLogger adapts slog to promhttp.Logger.
type errorLogger struct {
	logger *slog.Logger
}

func (l errorLogger) Println(v ...any) {
	l.logger.Error("metrics collection failed", "error", fmt.Sprint(v...))
}
