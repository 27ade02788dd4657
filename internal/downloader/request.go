package downloader

import (
	"net/http"
	"time"
)

// Format selects how the remote resource is transferred.
type Format int

const (
	// FormatDirect streams the response body to the destination.
	FormatDirect Format = iota
	// FormatHLS treats the URL as an HLS playlist and concatenates its
	// media segments into the destination.
	FormatHLS
)

func (f Format) String() string {
	switch f {
	case FormatDirect:
		return "direct"
	case FormatHLS:
		return "hls"
	default:
		return "unknown"
	}
}

type destKind int

const (
	destNone destKind = iota
	destFile
	destDir
)

// Destination is either an explicit file path or a directory in which the
// filename is derived from the URL. Build one with ToFile or IntoDirectory;
// the zero value is rejected by Submit.
type Destination struct {
	kind destKind
	path string
}

// ToFile writes the download to path.
func ToFile(path string) Destination {
	return Destination{kind: destFile, path: path}
}

// IntoDirectory writes the download into dir under a name derived from the
// URL.
func IntoDirectory(dir string) Destination {
	return Destination{kind: destDir, path: dir}
}

// IsZero reports whether d was never set.
func (d Destination) IsZero() bool {
	return d.kind == destNone
}

func (d Destination) String() string {
	switch d.kind {
	case destFile:
		return "file:" + d.path
	case destDir:
		return "dir:" + d.path
	default:
		return "<none>"
	}
}

// ProgressFunc observes the fraction of a download completed so far.
// known is false while the server has not declared a size.
type ProgressFunc func(fraction float64, known bool)

// Request describes one download. It is treated as immutable once
// submitted.
type Request struct {
	URL  string
	Dest Destination

	// Header and Cookies are sent with every attempt.
	Header  http.Header
	Cookies []*http.Cookie

	// ExistOK skips the download when the destination already exists;
	// otherwise an existing destination fails the task.
	ExistOK bool

	// Progress, if set, is called from the worker goroutine.
	Progress ProgressFunc

	Format Format

	// Timeout and MaxAttempts override the fetcher defaults when positive.
	Timeout     time.Duration
	MaxAttempts int
}
