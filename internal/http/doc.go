// Package http provides a retrying HTTP fetcher for whole-file downloads.
//
// This package handles:
//   - Bounded retries with exponential backoff and jitter
//   - Failure classification (malformed URL, connection, timeout, status)
//   - Streaming a response body into any io.Writer with progress callbacks
//   - Per-attempt idle timeouts and an optional shared bandwidth limit
//   - Default browser-like headers and cookie attachment
//
// # Retry policy
//
// Connection failures and timeouts are retried until the attempt budget is
// spent; the last one is returned wrapped in an [AttemptError]. A malformed
// URL fails on the first attempt. Any non-2xx status is returned as a
// [StatusError] without retrying.
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout:       30 * time.Second,
//	    RetryAttempts: 5,
//	})
//
//	// Whole body
//	body, res, err := client.Fetch(ctx, url, http.FetchOptions{})
//
//	// Stream to a file
//	res, err := client.FetchToSink(ctx, url, f, http.FetchOptions{
//	    Progress: func(p http.Progress) { ... },
//	})
package http
