package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	dlhttp "github.com/ligustah/dlpool/internal/http"
	"github.com/ligustah/dlpool/internal/logging"
)

// runFetch streams one URL to stdout with the same retry and timeout
// settings as get.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	cf := addConfigFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dlpool fetch [options] URL

Write the body of URL to stdout. Nothing is written to disk.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one URL is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := cf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[dlpool] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := newClient(cfg, log).FetchToSink(ctx, fs.Arg(0), stdout, dlhttp.FetchOptions{Cookies: cookies})
	if err != nil {
		if ctx.Err() != nil {
			return ExitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	if res.Total >= 0 && res.Written < res.Total {
		fmt.Fprintf(os.Stderr, "Error: received %d of %d bytes\n", res.Written, res.Total)
		return ExitIncompleteTransfer
	}
	return ExitSuccess
}
