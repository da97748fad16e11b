package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	ctx = WithRequestID(ctx, "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}

	ctx = WithCaller(ctx, "team-alpha")
	if got := GetCaller(ctx); got != "team-alpha" {
		t.Errorf("GetCaller() = %q, want %q", got, "team-alpha")
	}

	ctx = WithResource(ctx, "gpt-4o")
	if got := GetResource(ctx); got != "gpt-4o" {
		t.Errorf("GetResource() = %q, want %q", got, "gpt-4o")
	}
}

func TestContextKeys_Empty(t *testing.T) {
	ctx := context.Background()

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
	if got := GetCaller(ctx); got != "" {
		t.Errorf("GetCaller() = %q, want empty", got)
	}
	if got := GetResource(ctx); got != "" {
		t.Errorf("GetResource() = %q, want empty", got)
	}
}

func TestExtractContextFields(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want []string
	}{
		{
			name: "empty context",
			ctx:  context.Background(),
			want: nil,
		},
		{
			name: "request ID only",
			ctx:  WithRequestID(context.Background(), "req-1"),
			want: []string{"request_id=req-1"},
		},
		{
			name: "all fields",
			ctx: WithResource(
				WithCaller(WithRequestID(context.Background(), "req-1"), "team-a"),
				"model-x"),
			want: []string{"request_id=req-1", "caller=team-a", "resource=model-x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := extractContextFields(tt.ctx)
			if len(fields) != len(tt.want) {
				t.Fatalf("Expected %d fields, got %d: %v", len(tt.want), len(fields), fields)
			}
			for i, f := range fields {
				if got := f.String(); got != tt.want[i] {
					t.Errorf("Field %d = %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestContextHandler_WithGroup(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewContextHandler(slog.NewTextHandler(buf, nil)))

	ctx := WithRequestID(context.Background(), "req-9")
	logger.WithGroup("admission").InfoContext(ctx, "checked", "reason", "admitted")

	output := buf.String()
	if !strings.Contains(output, "admission.reason=admitted") {
		t.Errorf("Expected grouped attribute, got %s", output)
	}
	if !strings.Contains(output, "req-9") {
		t.Errorf("Expected request ID, got %s", output)
	}
}

func TestContextOverwrite(t *testing.T) {
	ctx := WithCaller(context.Background(), "first")
	ctx = WithCaller(ctx, "second")

	if got := GetCaller(ctx); got != "second" {
		t.Errorf("GetCaller() = %q, want %q", got, "second")
	}
}

func BenchmarkExtractContextFields(b *testing.B) {
	ctx := WithResource(WithCaller(WithRequestID(context.Background(), "req-1"), "team-a"), "model-x")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = extractContextFields(ctx)
	}
}
