package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ligustah/dlpool/internal/config"
	"github.com/ligustah/dlpool/internal/downloader"
	dlhttp "github.com/ligustah/dlpool/internal/http"
	"github.com/ligustah/dlpool/internal/logging"
	"github.com/ligustah/dlpool/internal/mirror"
	"github.com/ligustah/dlpool/internal/naming"
	"github.com/ligustah/dlpool/internal/progress"
)

// runGet downloads every URL given as an argument or listed in -list.
func runGet(command string, args []string, format downloader.Format) int {
	fs := flag.NewFlagSet(command, flag.ExitOnError)

	cf := addConfigFlags(fs)
	output := fs.String("o", "", "Write the download to this file (single URL only)")
	list := fs.String("list", "", "File with one URL per line, - for stdin")

	fs.Usage = func() {
		what := "Download each URL into -dir, named after the last path segment."
		if format == downloader.FormatHLS {
			what = "Download each HLS playlist into -dir, joining its segments into one file."
		}
		fmt.Fprintf(os.Stderr, "Usage: dlpool %s [options] [URL...]\n\n%s\nAt most -workers downloads run at once.\n\nOptions:\n", command, what)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := cf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	urls := fs.Args()
	if *list != "" {
		listed, err := readURLList(*list)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading URL list: %v\n", err)
			return ExitInvalidArgs
		}
		urls = append(urls, listed...)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one URL is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if *output != "" && len(urls) != 1 {
		fmt.Fprintln(os.Stderr, "Error: -o takes exactly one URL")
		return ExitInvalidArgs
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cookies, err := loadCookies(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	policy, _ := naming.ParsePolicy(cfg.NamePolicy)

	ctx := context.Background()

	var up *mirror.Uploader
	if cfg.Mirror != "" {
		up, err = mirror.Open(ctx, cfg.Mirror, mirror.Options{Logger: log})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		defer up.Close()
	}

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalTasks:     len(urls),
			Workers:        cfg.Workers,
			UpdateInterval: time.Second,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	root := cfg.Dir
	if *output != "" {
		root = filepath.Dir(*output)
	}

	g := &getRun{root: root, mirror: up, log: log}
	s, err := downloader.New(newClient(cfg, log), downloader.Options{
		Workers:    cfg.Workers,
		NamePolicy: policy,
		Progress:   reporter,
		Logger:     log,
		OnFinish:   g.finished,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	stop := notifyInterrupt()
	defer stop()

	for _, u := range urls {
		dest := downloader.IntoDirectory(cfg.Dir)
		if *output != "" {
			dest = downloader.ToFile(*output)
		}
		_, err := s.Submit(downloader.Request{
			URL:     u,
			Dest:    dest,
			Cookies: cookies,
			ExistOK: cfg.ExistOK,
			Format:  format,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "[dlpool] Skipping %s: %v\n", u, err)
			g.record(err)
		}
	}

	s.Wait()
	if reporter != nil {
		reporter.Stop()
	} else {
		fmt.Fprintf(os.Stderr, "[dlpool] %d succeeded | %d skipped | %d failed\n", g.succeeded, g.skipped, g.failed)
	}
	if g.mirrorFailed > 0 {
		fmt.Fprintf(os.Stderr, "[dlpool] %d downloads could not be mirrored to %s\n", g.mirrorFailed, cfg.Mirror)
	}

	return exitCodeFor(g.firstErr)
}

// getRun collects task outcomes and mirrors finished files.
type getRun struct {
	root   string
	mirror *mirror.Uploader
	log    *slog.Logger

	mu                         sync.Mutex
	succeeded, skipped, failed int
	mirrorFailed               int
	firstErr                   error
}

func (g *getRun) finished(t *downloader.Task) {
	switch t.State() {
	case downloader.StateSucceeded:
		g.mu.Lock()
		g.succeeded++
		g.mu.Unlock()
		if g.mirror != nil {
			if _, err := g.mirror.UploadTask(context.Background(), t, g.root); err != nil {
				g.log.Error("mirror failed", slog.String("path", t.Path()), slog.Any("error", err))
				g.recordMirror(fmt.Errorf("%w: %s: %w", errMirror, t.Path(), err))
			}
		}
	case downloader.StateSkipped:
		g.mu.Lock()
		g.skipped++
		g.mu.Unlock()
	case downloader.StateFailed:
		fmt.Fprintf(os.Stderr, "[dlpool] Failed %s: %v\n", t.Request().URL, t.Err())
		g.record(t.Err())
	}
}

// record counts a failed download.
func (g *getRun) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed++
	if g.firstErr == nil {
		g.firstErr = err
	}
}

// recordMirror keeps a mirror failure for the exit code without counting
// the download itself as failed.
func (g *getRun) recordMirror(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mirrorFailed++
	if g.firstErr == nil {
		g.firstErr = err
	}
}

func newClient(cfg config.Config, log *slog.Logger) *dlhttp.Client {
	opts := cfg.ClientOptions()
	opts.MaxIdleConnsPerHost = cfg.Workers * 2
	opts.Logger = log
	return dlhttp.NewClient(opts)
}

// readURLList reads one URL per line. Blank lines and lines starting with #
// are ignored.
func readURLList(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// notifyInterrupt lets running downloads finish on the first SIGINT or
// SIGTERM and exits on the second. The returned func stops listening.
func notifyInterrupt() func() {
	sigCh := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		fmt.Fprintln(os.Stderr, "\n[dlpool] Received interrupt, finishing all queued downloads (interrupt again to abort)...")
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "[dlpool] Aborted")
			os.Exit(ExitInterrupted)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
