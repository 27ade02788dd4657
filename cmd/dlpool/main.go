package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/ligustah/dlpool/internal/downloader"
	dlhttp "github.com/ligustah/dlpool/internal/http"
)

// Exit codes
const (
	ExitSuccess             = 0
	ExitGeneralError        = 1
	ExitInvalidArgs         = 2
	ExitSourceNotAccess     = 3
	ExitDestinationConflict = 4
	ExitStorageError        = 5
	ExitIncompleteTransfer  = 6
	ExitInterrupted         = 130
)

// errMirror marks failures copying a finished download to the mirror bucket.
var errMirror = errors.New("mirror failed")

// stdout receives command output (fetched bodies, generated names).
var stdout io.Writer = os.Stdout

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(ExitInvalidArgs)
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "get":
		return runGet(command, cmdArgs, downloader.FormatDirect)
	case "hls":
		return runGet(command, cmdArgs, downloader.FormatHLS)
	case "fetch":
		return runFetch(cmdArgs)
	case "name":
		return runName(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: dlpool <command> [options]

Commands:
  get    Download URLs into a directory, a few at a time
  hls    Download HLS playlists, joining their segments into one file each
  fetch  Write the body of a URL to stdout
  name   Print a random filename not yet used in a directory

Configuration is read from -config, then DLPOOL_* environment variables
(a .env file in the working directory is loaded first), then flags.

Run 'dlpool <command> -h' for command-specific help.`)
}

// exitCodeFor maps a task or command failure to an exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errMirror):
		return ExitStorageError
	case errors.Is(err, downloader.ErrConfiguration):
		return ExitInvalidArgs
	case errors.Is(err, downloader.ErrDestinationConflict), errors.Is(err, downloader.ErrDestinationNotFile):
		return ExitDestinationConflict
	case errors.Is(err, downloader.ErrIncompleteTransfer), errors.Is(err, dlhttp.ErrStreamInterrupted):
		return ExitIncompleteTransfer
	case errors.Is(err, dlhttp.ErrMalformedLocator),
		errors.Is(err, dlhttp.ErrRemoteRejection),
		errors.Is(err, dlhttp.ErrConnection),
		errors.Is(err, dlhttp.ErrTimeout),
		errors.Is(err, dlhttp.ErrRetriesExhausted):
		return ExitSourceNotAccess
	default:
		return ExitGeneralError
	}
}
