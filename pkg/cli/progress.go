package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Progress renders a single-line progress bar for a run of fixed
// duration, such as a load test.
type Progress struct {
	mu      sync.Mutex
	writer  io.Writer
	total   time.Duration
	started time.Time
	now     func() time.Time
}

// NewProgress creates a progress bar for a run of length total that
// writes to w. If w is nil, it defaults to os.Stderr.
func NewProgress(w io.Writer, total time.Duration) *Progress {
	if w == nil {
		w = os.Stderr
	}
	return &Progress{writer: w, total: total, now: time.Now}
}

// Start records the start time and draws an empty bar.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started = p.now()
	p.render(0)
}

// Update redraws the bar with the number of operations done so far.
func (p *Progress) Update(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render(done)
}

// Finish draws a full bar and ends the line.
func (p *Progress) Finish(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render(done)
	fmt.Fprintln(p.writer)
}

func (p *Progress) render(done int64) {
	if p.total <= 0 {
		return
	}

	elapsed := p.now().Sub(p.started)
	fraction := min(float64(elapsed)/float64(p.total), 1)

	const barWidth = 40
	filled := int(barWidth * fraction)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	var rate float64
	if elapsed > 0 {
		rate = float64(done) / elapsed.Seconds()
	}

	fmt.Fprintf(p.writer, "\rProgress: [%s] %3.0f%% %d checks (%.0f/s)",
		bar, fraction*100, done, rate)
}
