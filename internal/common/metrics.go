package common

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Metrics tracks progress of a certificate batch. It is safe for concurrent
// use by the batch workers.
type Metrics struct {
	mu        sync.Mutex
	start     time.Time
	end       time.Time
	total     int64
	succeeded int64
	failed    int64
	bytes     int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

func (m *Metrics) SetTotal(total int) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.total = int64(total)
	m.mu.Unlock()
}

// AddSuccess records one written document of the given size.
func (m *Metrics) AddSuccess(size int64) {
	m.mu.Lock()
	m.succeeded++
	if size > 0 {
		m.bytes += size
	}
	m.mu.Unlock()
}

func (m *Metrics) AddFailure() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Duration:  m.elapsedLocked(),
		Total:     m.total,
		Succeeded: m.succeeded,
		Failed:    m.failed,
		Bytes:     m.bytes,
	}
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration  time.Duration
	Total     int64
	Succeeded int64
	Failed    int64
	Bytes     int64
}

// Done is the number of rows finished either way.
func (s MetricsSnapshot) Done() int64 {
	return s.Succeeded + s.Failed
}

// RatePerSecond returns finished rows per second.
func (s MetricsSnapshot) RatePerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Done()) / s.Duration.Seconds()
}

func (s MetricsSnapshot) Completion() float64 {
	if s.Total <= 0 {
		return 0
	}
	ratio := float64(s.Done()) / float64(s.Total)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// ETA estimates the time left from the rate so far. It is zero until a row
// has finished or when the total is unknown.
func (s MetricsSnapshot) ETA() time.Duration {
	rate := s.RatePerSecond()
	left := s.Total - s.Done()
	if rate <= 0 || s.Total <= 0 || left <= 0 {
		return 0
	}
	return time.Duration(float64(left) / rate * float64(time.Second)).Round(time.Second)
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	if s.Total > 0 {
		return fmt.Sprintf("Progress: %6.2f%% (%d / %d, %d failed) %.1f certs/s, eta %s",
			s.Completion()*100, s.Done(), s.Total, s.Failed, s.RatePerSecond(), s.ETA())
	}
	return fmt.Sprintf("Processed: %d (%d failed) %.1f certs/s", s.Done(), s.Failed, s.RatePerSecond())
}

// StartProgressPrinter rewrites a single progress line on w every interval
// until the returned stop function is called.
func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
