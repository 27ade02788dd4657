package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalTasks is the number of downloads expected, 0 if open-ended.
	TotalTasks int

	// Workers is the number of admission slots (for display).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter aggregates progress across all downloads of a scheduler and
// periodically prints a summary line.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	completedBytes atomic.Int64
	succeeded      atomic.Int32
	skipped        atomic.Int32
	failed         atomic.Int32
	inProgress     atomic.Int32
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	stopCh         chan struct{}
	doneCh         chan struct{}
	started        bool
	stopped        bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.started = true
	r.mu.Unlock()

	if r.opts.TotalTasks > 0 {
		fmt.Fprintf(r.opts.Output, "[dlpool] Downloads: %d | Workers: %d\n", r.opts.TotalTasks, r.opts.Workers)
	} else {
		fmt.Fprintf(r.opts.Output, "[dlpool] Workers: %d\n", r.opts.Workers)
	}

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status. It waits
// for the final line to be written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// TaskStarted marks a download as running.
func (r *Reporter) TaskStarted() {
	r.inProgress.Add(1)
}

// BytesWritten records n bytes written to disk.
func (r *Reporter) BytesWritten(n int64) {
	r.completedBytes.Add(n)
}

// TaskSucceeded marks a running download as finished.
func (r *Reporter) TaskSucceeded() {
	r.succeeded.Add(1)
	r.inProgress.Add(-1)
}

// TaskSkipped marks a running download as skipped.
func (r *Reporter) TaskSkipped() {
	r.skipped.Add(1)
	r.inProgress.Add(-1)
}

// TaskFailed marks a running download as failed.
func (r *Reporter) TaskFailed() {
	r.failed.Add(1)
	r.inProgress.Add(-1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Bytes      int64
	Succeeded  int
	Skipped    int
	Failed     int
	InProgress int
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	return Snapshot{
		Bytes:      r.completedBytes.Load(),
		Succeeded:  int(r.succeeded.Load()),
		Skipped:    int(r.skipped.Load()),
		Failed:     int(r.failed.Load()),
		InProgress: int(r.inProgress.Load()),
	}
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	s := r.Snapshot()

	// Calculate speed
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(s.Bytes-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = s.Bytes

	finished := s.Succeeded + s.Skipped + s.Failed
	pending := r.opts.TotalTasks - finished - s.InProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[dlpool] %s | Speed: %s/s | %d done | %d skipped | %d failed | %d running | %d pending    ",
		FormatBytes(s.Bytes),
		FormatBytes(int64(speed)),
		s.Succeeded,
		s.Skipped,
		s.Failed,
		s.InProgress,
		pending,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()
	duration := time.Since(r.startTime)
	avgSpeed := float64(s.Bytes) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[dlpool] %s in %s | Average speed: %s/s    \n",
		FormatBytes(s.Bytes),
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
	fmt.Fprintf(r.opts.Output, "[dlpool] %d succeeded | %d skipped | %d failed\n",
		s.Succeeded,
		s.Skipped,
		s.Failed,
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes using binary units ("1.5 KiB").
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. Binary suffixes (KiB, MiB)
// are powers of 1024, SI suffixes (KB, MB) powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
