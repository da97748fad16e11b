package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 10*time.Second)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Start()
	if !strings.Contains(buf.String(), "  0%") {
		t.Errorf("Expected 0%% at start, got %q", buf.String())
	}

	buf.Reset()
	now = now.Add(5 * time.Second)
	p.Update(500)
	out := buf.String()
	if !strings.Contains(out, " 50%") || !strings.Contains(out, "500 checks (100/s)") {
		t.Errorf("Expected half-way progress at 100/s, got %q", out)
	}

	buf.Reset()
	now = now.Add(10 * time.Second)
	p.Finish(1000)
	out = buf.String()
	if !strings.Contains(out, "100%") || !strings.HasSuffix(out, "\n") {
		t.Errorf("Expected capped 100%% and a newline, got %q", out)
	}
}

func TestProgress_ZeroDuration(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 0)
	p.Start()
	p.Update(10)
	if buf.Len() != 0 {
		t.Errorf("Expected no output for zero duration, got %q", buf.String())
	}
}
