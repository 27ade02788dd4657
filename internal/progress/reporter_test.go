package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer shared with the update loop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	_, err := ParseBytes("invalid")
	if err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestReporterTaskTracking(t *testing.T) {
	reporter := NewReporter(Options{
		TotalTasks:     4,
		Workers:        2,
		UpdateInterval: 100 * time.Millisecond,
	})

	// Tracking works without starting the display loop
	reporter.TaskStarted()
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	reporter.BytesWritten(256)
	reporter.TaskSucceeded()

	reporter.TaskStarted()
	reporter.TaskSkipped()

	reporter.TaskStarted()
	reporter.TaskFailed()

	s := reporter.Snapshot()
	if s.InProgress != 0 {
		t.Errorf("expected 0 in-progress, got %d", s.InProgress)
	}
	if s.Succeeded != 1 || s.Skipped != 1 || s.Failed != 1 {
		t.Errorf("unexpected counters %+v", s)
	}
	if s.Bytes != 256 {
		t.Errorf("expected 256 bytes, got %d", s.Bytes)
	}

	// Stop without Start is a no-op
	reporter.Stop()
}

func TestReporterStartStop(t *testing.T) {
	var out syncBuffer
	reporter := NewReporter(Options{
		TotalTasks:     2,
		Workers:        2,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
	})

	reporter.Start()

	reporter.TaskStarted()
	reporter.BytesWritten(256 * 1024)
	reporter.TaskSucceeded()

	reporter.TaskStarted()
	reporter.BytesWritten(256 * 1024)
	reporter.TaskSucceeded()

	time.Sleep(50 * time.Millisecond) // Let updates run

	reporter.Stop()
	reporter.Stop()

	if reporter.completedBytes.Load() != 512*1024 {
		t.Errorf("expected 512KiB completed, got %d", reporter.completedBytes.Load())
	}

	text := out.String()
	if !strings.Contains(text, "[dlpool] Downloads: 2 | Workers: 2") {
		t.Errorf("missing header in output: %q", text)
	}
	if !strings.Contains(text, "2 succeeded | 0 skipped | 0 failed") {
		t.Errorf("missing final status in output: %q", text)
	}
}
