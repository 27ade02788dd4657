package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	dlhttp "github.com/ligustah/dlpool/internal/http"
	"github.com/ligustah/dlpool/internal/naming"
	"github.com/ligustah/dlpool/internal/progress"
)

// DefaultWorkers is the admission limit used when Options.Workers is zero.
const DefaultWorkers = 4

// Fetcher retrieves remote resources. *http.Client from the internal http
// package implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, fo dlhttp.FetchOptions) ([]byte, dlhttp.Result, error)
	FetchToSink(ctx context.Context, url string, w io.Writer, fo dlhttp.FetchOptions) (dlhttp.Result, error)
}

// Options configures the scheduler.
type Options struct {
	// Workers is the maximum number of tasks running at once.
	// Default: 4
	Workers int

	// Fs is the filesystem destinations are written to.
	// Default: afero.NewOsFs()
	Fs afero.Fs

	// NamePolicy sanitizes filenames derived from URLs.
	NamePolicy naming.Policy

	// Progress is an optional aggregate progress reporter.
	Progress *progress.Reporter

	// OnFinish, if set, is called after each task reaches a terminal state.
	OnFinish func(*Task)

	Logger *slog.Logger
}

// Scheduler admits submitted tasks in submission order while keeping at most
// Options.Workers of them running. Submit never blocks on admission.
type Scheduler struct {
	fetcher Fetcher
	opts    Options
	sem     *semaphore.Weighted
	log     *slog.Logger

	mu    sync.Mutex
	queue []*Task
	live  map[string]*Task

	running atomic.Int32

	// unfinished counts submitted tasks that are not yet terminal; idle is
	// signalled on mu whenever it drops to zero.
	unfinished int
	idle       *sync.Cond
}

// New creates a scheduler that fetches with f.
func New(f Fetcher, opts Options) (*Scheduler, error) {
	if f == nil {
		return nil, errors.New("downloader: nil fetcher")
	}
	if opts.Workers < 0 {
		return nil, &ConfigError{Field: "workers", Reason: "must not be negative"}
	}
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Scheduler{
		fetcher: f,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		log:     opts.Logger.With(slog.String("component", "scheduler")),
		live:    make(map[string]*Task),
	}
	s.idle = sync.NewCond(&s.mu)
	return s, nil
}

// Submit registers req as a new task and queues it for admission. Requests
// that cannot become a task fail synchronously with a *ConfigError and are
// never registered.
func (s *Scheduler) Submit(req Request) (*Task, error) {
	t, err := newTask(req, s.opts.Fs, s.opts.NamePolicy)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.live[t.ID] = t
	s.queue = append(s.queue, t)
	s.unfinished++
	s.mu.Unlock()

	s.log.Debug("task queued", slog.String("task", t.ID), slog.String("url", req.URL), slog.String("path", t.path))
	s.dispatch()
	return t, nil
}

// dispatch starts queued tasks while admission slots are free.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 && s.sem.TryAcquire(1) {
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running.Add(1)
		go s.work(t)
	}
}

func (s *Scheduler) work(t *Task) {
	t.run(context.Background(), runEnv{
		fetcher:  s.fetcher,
		fs:       s.opts.Fs,
		reporter: s.opts.Progress,
		log:      s.opts.Logger,
	})

	s.running.Add(-1)
	s.sem.Release(1)

	s.mu.Lock()
	delete(s.live, t.ID)
	s.mu.Unlock()

	// The freed slot goes to the next queued task before OnFinish runs, so a
	// slow hook never holds up admission.
	s.dispatch()

	if s.opts.OnFinish != nil {
		s.opts.OnFinish(t)
	}

	s.mu.Lock()
	s.unfinished--
	if s.unfinished == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

// HasLiveWork reports whether any submitted task has not yet reached a
// terminal state.
func (s *Scheduler) HasLiveWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.live {
		if t.State().IsTerminal() {
			delete(s.live, id)
		}
	}
	return len(s.live) > 0
}

// Running returns the number of tasks currently holding an admission slot.
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// Workers returns the admission limit.
func (s *Scheduler) Workers() int {
	return s.opts.Workers
}

// Tasks returns the tasks that are pending or running.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*Task, 0, len(s.live))
	for _, t := range s.live {
		tasks = append(tasks, t)
	}
	return tasks
}

// Wait blocks until no submitted task is unfinished, including its OnFinish
// hook. Tasks submitted while Wait blocks are waited for as well. It is safe
// to call concurrently with Submit.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.unfinished > 0 {
		s.idle.Wait()
	}
}
