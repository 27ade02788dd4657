package downloader

import (
	"errors"
	"fmt"
)

// Task failure kinds. Fetch failures keep the kinds defined by the http
// package (ErrMalformedLocator, ErrConnection, ErrTimeout, ErrRemoteRejection).
var (
	ErrDestinationConflict = errors.New("downloader: destination already exists")
	ErrDestinationNotFile  = errors.New("downloader: destination is not a regular file")
	ErrIncompleteTransfer  = errors.New("downloader: incomplete transfer")
	ErrConfiguration       = errors.New("downloader: invalid request")
)

// IncompleteTransferError is recorded when fewer bytes were written than the
// server declared. The partial file has been removed by the time a caller
// sees it.
//
// Use errors.As to extract it, or errors.Is(err, ErrIncompleteTransfer).
type IncompleteTransferError struct {
	Path     string
	Written  int64
	Expected int64 // -1 if the size was never declared
	Err      error // underlying read error, if any
}

func (e *IncompleteTransferError) Error() string {
	expected := "unknown"
	if e.Expected >= 0 {
		expected = fmt.Sprintf("%d", e.Expected)
	}
	msg := fmt.Sprintf("incomplete transfer of %s: wrote %d of %s bytes", e.Path, e.Written, expected)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IncompleteTransferError) Is(target error) bool {
	return target == ErrIncompleteTransfer
}

func (e *IncompleteTransferError) Unwrap() error {
	return e.Err
}

// ConfigError is returned synchronously by Submit for requests that cannot
// be turned into a task.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("downloader: invalid request %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}
