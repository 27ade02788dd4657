package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ligustah/dlpool/internal/hls"
	dlhttp "github.com/ligustah/dlpool/internal/http"
	"github.com/ligustah/dlpool/internal/naming"
	"github.com/ligustah/dlpool/internal/progress"
)

// State is the lifecycle position of a Task. A task moves from Pending to
// Running to exactly one terminal state and never leaves it.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// IsTerminal reports whether s is Succeeded, Skipped or Failed.
func (s State) IsTerminal() bool {
	return s >= StateSucceeded
}

// unknownFraction marks progress as not yet computable.
var unknownFraction = math.Float64bits(-1)

// Task is one download. It is created by Scheduler.Submit and is safe for
// concurrent observation.
type Task struct {
	ID        string
	CreatedAt time.Time

	req  Request
	path string

	state    atomic.Int32
	fraction atomic.Uint64
	written  atomic.Int64

	err  error
	done chan struct{}
}

// newTask validates req and resolves its destination path.
func newTask(req Request, fs afero.Fs, policy naming.Policy) (*Task, error) {
	if req.URL == "" {
		return nil, &ConfigError{Field: "url", Reason: "empty"}
	}
	switch req.Format {
	case FormatDirect, FormatHLS:
	default:
		return nil, &ConfigError{Field: "format", Reason: fmt.Sprintf("unknown format %d", req.Format)}
	}

	var path string
	switch req.Dest.kind {
	case destFile:
		if req.Dest.path == "" {
			return nil, &ConfigError{Field: "destination", Reason: "empty file path"}
		}
		path = req.Dest.path
	case destDir:
		if info, err := fs.Stat(req.Dest.path); err == nil && !info.IsDir() {
			return nil, &ConfigError{Field: "destination", Reason: fmt.Sprintf("%s is not a directory", req.Dest.path)}
		}
		name := naming.Sanitize(naming.DeriveFilename(req.URL), policy)
		if name == "" || name == "." || name == ".." {
			return nil, &ConfigError{Field: "destination", Reason: fmt.Sprintf("cannot derive a filename from %q", req.URL)}
		}
		path = filepath.Join(req.Dest.path, name)
	default:
		return nil, &ConfigError{Field: "destination", Reason: "neither a file nor a directory was given"}
	}

	t := &Task{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		req:       req,
		path:      path,
		done:      make(chan struct{}),
	}
	t.fraction.Store(unknownFraction)
	return t, nil
}

// Request returns the request the task was built from.
func (t *Task) Request() Request { return t.req }

// Path returns the resolved destination file.
func (t *Task) Path() string { return t.path }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Progress returns the last observed completion fraction in [0, 1]. known
// is false until the size of the download is known.
func (t *Task) Progress() (fraction float64, known bool) {
	f := math.Float64frombits(t.fraction.Load())
	if f < 0 {
		return 0, false
	}
	return f, true
}

// Written returns the number of bytes written to the destination so far.
func (t *Task) Written() int64 { return t.written.Load() }

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure of a Failed task once Done is closed, and nil
// otherwise.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) setFraction(f float64, known bool) {
	if known {
		t.fraction.Store(math.Float64bits(min(max(f, 0), 1)))
	}
	if t.req.Progress != nil {
		t.req.Progress(f, known)
	}
}

func (t *Task) finish(state State, err error) {
	if state == StateSucceeded {
		t.fraction.Store(math.Float64bits(1))
	}
	t.err = err
	t.state.Store(int32(state))
	close(t.done)
}

// runEnv is what a task needs from its scheduler while it runs.
type runEnv struct {
	fetcher  Fetcher
	fs       afero.Fs
	reporter *progress.Reporter
	log      *slog.Logger
}

// run executes the task to completion. It is called once, by the worker
// that owns the task's admission slot.
func (t *Task) run(ctx context.Context, env runEnv) {
	t.state.Store(int32(StateRunning))
	if env.reporter != nil {
		env.reporter.TaskStarted()
	}

	log := env.log.With(slog.String("task", t.ID), slog.String("url", t.req.URL), slog.String("path", t.path))
	log.Debug("download started", slog.String("format", t.req.Format.String()))
	start := time.Now()

	state, err := t.execute(ctx, env)

	switch state {
	case StateSucceeded:
		log.Info("download finished", slog.Int64("bytes", t.written.Load()), slog.Duration("elapsed", time.Since(start)))
		if env.reporter != nil {
			env.reporter.TaskSucceeded()
		}
	case StateSkipped:
		log.Info("destination exists, skipped")
		if env.reporter != nil {
			env.reporter.TaskSkipped()
		}
	default:
		log.Error("download failed", slog.Any("error", err))
		if env.reporter != nil {
			env.reporter.TaskFailed()
		}
	}

	t.finish(state, err)
}

func (t *Task) execute(ctx context.Context, env runEnv) (State, error) {
	info, err := env.fs.Stat(t.path)
	switch {
	case err == nil:
		return t.existing(info)
	case !errors.Is(err, os.ErrNotExist):
		return StateFailed, fmt.Errorf("check destination: %w", err)
	}

	if err := env.fs.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return StateFailed, fmt.Errorf("create directory: %w", err)
	}

	// O_EXCL turns a lost race with another writer into a conflict instead
	// of two tasks writing the same file.
	f, err := env.fs.OpenFile(t.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if info, serr := env.fs.Stat(t.path); serr == nil {
				return t.existing(info)
			}
			return StateFailed, fmt.Errorf("%w: %s", ErrDestinationConflict, t.path)
		}
		return StateFailed, fmt.Errorf("create destination: %w", err)
	}

	w := &countingWriter{w: f, task: t, reporter: env.reporter}
	err = t.transfer(ctx, env.fetcher, w)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close destination: %w", cerr)
	}
	if err != nil {
		if rerr := env.fs.Remove(t.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			env.log.Warn("could not remove partial file", slog.String("path", t.path), slog.Any("error", rerr))
		}
		return StateFailed, err
	}
	return StateSucceeded, nil
}

// existing decides the outcome for a destination that is already present.
// Only a regular file counts as a finished download.
func (t *Task) existing(info os.FileInfo) (State, error) {
	if !info.Mode().IsRegular() {
		return StateFailed, fmt.Errorf("%w: %s is a %s", ErrDestinationNotFile, t.path, describeMode(info))
	}
	if t.req.ExistOK {
		return StateSkipped, nil
	}
	return StateFailed, fmt.Errorf("%w: %s", ErrDestinationConflict, t.path)
}

func describeMode(info os.FileInfo) string {
	if info.IsDir() {
		return "directory"
	}
	return "non-regular file"
}

func (t *Task) fetchOptions() dlhttp.FetchOptions {
	return dlhttp.FetchOptions{
		Timeout:     t.req.Timeout,
		MaxAttempts: t.req.MaxAttempts,
		Header:      t.req.Header,
		Cookies:     t.req.Cookies,
	}
}

func (t *Task) transfer(ctx context.Context, fetcher Fetcher, w io.Writer) error {
	fo := t.fetchOptions()

	if t.req.Format == FormatHLS {
		_, err := hls.Copy(ctx, fetcher, t.req.URL, w, fo, func(done, total int) {
			t.setFraction(float64(done)/float64(total), true)
		})
		if errors.Is(err, hls.ErrShortSegment) || errors.Is(err, dlhttp.ErrStreamInterrupted) {
			return &IncompleteTransferError{Path: t.path, Written: t.written.Load(), Expected: -1, Err: err}
		}
		return err
	}

	fo.Progress = func(p dlhttp.Progress) {
		t.setFraction(p.Fraction())
	}
	res, err := fetcher.FetchToSink(ctx, t.req.URL, w, fo)
	if errors.Is(err, dlhttp.ErrStreamInterrupted) {
		return &IncompleteTransferError{Path: t.path, Written: res.Written, Expected: res.Total, Err: err}
	}
	if err != nil {
		return err
	}
	if res.Total >= 0 && res.Written < res.Total {
		return &IncompleteTransferError{Path: t.path, Written: res.Written, Expected: res.Total}
	}
	return nil
}

// countingWriter tracks bytes written on behalf of a task.
type countingWriter struct {
	w        io.Writer
	task     *Task
	reporter *progress.Reporter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.task.written.Add(int64(n))
		if c.reporter != nil {
			c.reporter.BytesWritten(int64(n))
		}
	}
	return n, err
}
