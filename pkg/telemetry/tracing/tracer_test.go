package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/sluice/pkg/config"
)

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:     true,
		Sampler:     SamplerAlways,
		ServiceName: "sluice-test",
		Endpoint:    "localhost:4317",
		Insecure:    true,
		Timeout:     time.Second,
	}
}

// TestNew tests the creation of a new tracer
func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{
			name:        "disabled tracing",
			config:      config.TracingConfig{ServiceName: "sluice-test"},
			wantEnabled: false,
		},
		{
			name:        "enabled with OTLP exporter",
			config:      enabledConfig(),
			wantEnabled: true,
		},
		{
			name: "invalid sample ratio",
			config: func() config.TracingConfig {
				cfg := enabledConfig()
				cfg.Sampler = SamplerRatio
				cfg.SampleRatio = 2
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "unknown sampler",
			config: func() config.TracingConfig {
				cfg := enabledConfig()
				cfg.Sampler = "sometimes"
				return cfg
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer tracer.Shutdown(context.Background())

			if tracer.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.wantEnabled)
			}
			if tracer.Tracer() == nil {
				t.Error("Expected non-nil otel tracer")
			}
		})
	}
}

// TestTracer_Disabled tests that a disabled tracer records nothing
func TestTracer_Disabled(t *testing.T) {
	tracer, err := New(config.TracingConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, span := tracer.Start(context.Background(), "noop")
	defer span.End()

	if span.IsRecording() {
		t.Error("Expected non-recording span")
	}
	if got := TraceID(ctx); got != "" {
		t.Errorf("Expected empty trace ID, got %q", got)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

// TestTracer_ExportsSpans tests span export through an injected exporter
func TestTracer_ExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := New(enabledConfig(), WithExporter(exporter), WithServiceVersion("1.2.3"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.Start(context.Background(), "sluice.CheckAdmission",
		AdmissionAttributes("gpt-4o", "high", true))

	if TraceID(ctx) == "" || SpanID(ctx) == "" {
		t.Error("Expected trace and span IDs on a recording span")
	}

	SetDenial(span, "rate_limit", 3)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 exported span, got %d", len(spans))
	}

	got := spans[0]
	if got.Name != "sluice.CheckAdmission" {
		t.Errorf("Expected span name sluice.CheckAdmission, got %s", got.Name)
	}
	if got.Status.Code != codes.Error || got.Status.Description != "rate_limit" {
		t.Errorf("Expected error status rate_limit, got %+v", got.Status)
	}

	attrs := make(map[string]string)
	for _, kv := range got.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	expected := map[string]string{
		AttrResource:   "gpt-4o",
		AttrPriority:   "high",
		AttrIdentified: "true",
		AttrReason:     "rate_limit",
		AttrRetryAfter: "3",
	}
	for key, want := range expected {
		if attrs[key] != want {
			t.Errorf("Expected %s=%s, got %q", key, want, attrs[key])
		}
	}

	var version string
	for _, kv := range got.Resource.Attributes() {
		if kv.Key == "service.version" {
			version = kv.Value.AsString()
		}
	}
	if version != "1.2.3" {
		t.Errorf("Expected service.version 1.2.3, got %q", version)
	}
}

// TestSetError tests error recording
func TestSetError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := New(enabledConfig(), WithExporter(exporter))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "failing")
	SetError(span, nil)
	SetError(span, errors.New("store unavailable"))
	span.End()

	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Error {
		t.Errorf("Expected error status, got %v", got.Status.Code)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "exception" {
		t.Errorf("Expected one exception event, got %+v", got.Events)
	}
}

// TestSetCostAttributes tests cost attributes
func TestSetCostAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := New(enabledConfig(), WithExporter(exporter))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "cost")
	SetCostAttributes(span, 1000, 500, 7.5)
	span.End()

	var found int
	for _, kv := range exporter.GetSpans()[0].Attributes {
		switch string(kv.Key) {
		case AttrTokensInput:
			if kv.Value.AsInt64() == 1000 {
				found++
			}
		case AttrTokensOutput:
			if kv.Value.AsInt64() == 500 {
				found++
			}
		case AttrCost:
			if kv.Value.AsFloat64() == 7.5 {
				found++
			}
		}
	}
	if found != 3 {
		t.Errorf("Expected 3 cost attributes, found %d", found)
	}
}
