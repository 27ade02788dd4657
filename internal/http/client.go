package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Failure kinds. Connection failures and timeouts are retried within the
// attempt budget; everything else ends the fetch immediately.
var (
	ErrMalformedLocator  = errors.New("http: malformed locator")
	ErrConnection        = errors.New("http: connection failure")
	ErrTimeout           = errors.New("http: timeout")
	ErrRemoteRejection   = errors.New("http: remote rejected request")
	ErrRetriesExhausted  = errors.New("http: retries exhausted")
	ErrStreamInterrupted = errors.New("http: response body interrupted")
)

// errIdle is the cancellation cause set by the attempt watchdog.
var errIdle = errors.New("attempt idle timeout")

const chunkSize = 32 * 1024

// StatusError is returned for any non-2xx response. It matches
// ErrRemoteRejection with errors.Is.
type StatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: %s returned status %d", e.URL, e.Code)
}

// Is reports whether target is ErrRemoteRejection.
func (e *StatusError) Is(target error) bool {
	return target == ErrRemoteRejection
}

// AttemptError wraps the failure of the final allowed attempt.
type AttemptError struct {
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout bounds connecting, waiting for response headers, and any
	// gap between two body reads within one attempt.
	// Default: 30s
	Timeout time.Duration

	// RetryAttempts is the total number of attempts per fetch.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// RateLimit caps the combined body throughput in bytes per second.
	// Zero disables the limit.
	RateLimit int64

	// Header is sent with every request. Nil means DefaultHeader().
	Header http.Header

	// Transport overrides the default transport.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
		RetryAttempts:       5,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// DefaultHeader returns the browser-like header set sent when Options.Header
// is nil. Accept-Encoding is left to the transport.
func DefaultHeader() http.Header {
	h := make(http.Header)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US")
	h.Set("Dnt", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/70.0.3538.102 Safari/537.36 Edge/18.18363")
	return h
}

// FetchOptions tunes a single fetch. Zero fields fall back to the client's
// Options.
type FetchOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	Header      http.Header
	Cookies     []*http.Cookie

	// Progress, if set, is called after every chunk written to the sink.
	Progress func(Progress)
}

// Progress is a snapshot of a running transfer.
type Progress struct {
	Written int64
	Total   int64 // -1 if the server did not declare a size
}

// Fraction returns Written/Total, or false if Total is unknown.
func (p Progress) Fraction() (float64, bool) {
	switch {
	case p.Total < 0:
		return 0, false
	case p.Total == 0:
		return 1, true
	}
	return float64(p.Written) / float64(p.Total), true
}

// Result describes a finished fetch, successful or not.
type Result struct {
	StatusCode int
	Attempts   int
	Written    int64
	Total      int64 // declared Content-Length, -1 if unknown
	Header     http.Header
}

// Client is an HTTP client with bounded retries for whole-file downloads.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = def.RetryAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if opts.Header == nil {
		opts.Header = DefaultHeader()
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: opts.Timeout}).DialContext,
			TLSHandshakeTimeout: opts.Timeout,
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
			MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true, // Content-Length must match the bytes we write
		}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := int(min(opts.RateLimit, chunkSize))
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Client{
		client:  &http.Client{Transport: transport},
		opts:    opts,
		limiter: limiter,
		log:     log.With(slog.String("component", "fetcher")),
	}
}

// Fetch reads the whole response body into memory. Read failures are
// retried like connection failures since nothing has been handed out yet.
func (c *Client) Fetch(ctx context.Context, rawURL string, fo FetchOptions) ([]byte, Result, error) {
	var buf bytes.Buffer
	res, err := c.run(ctx, rawURL, fo, func(ctx, actx context.Context, resp *http.Response, wd *watchdog, res *Result) error {
		buf.Reset()
		return c.copyBody(ctx, actx, resp.Body, &buf, wd, res, fo.Progress)
	})
	if err != nil {
		return nil, res, err
	}
	return buf.Bytes(), res, nil
}

// FetchToSink streams the response body into w. Once any byte has reached
// w a read failure is final and reported as ErrStreamInterrupted together
// with the partial Result.
func (c *Client) FetchToSink(ctx context.Context, rawURL string, w io.Writer, fo FetchOptions) (Result, error) {
	return c.run(ctx, rawURL, fo, func(ctx, actx context.Context, resp *http.Response, wd *watchdog, res *Result) error {
		err := c.copyBody(ctx, actx, resp.Body, w, wd, res, fo.Progress)
		if err != nil && res.Written > 0 && isRetryable(err) {
			return fmt.Errorf("%w after %d bytes: %v", ErrStreamInterrupted, res.Written, err)
		}
		return err
	})
}

type consumeFunc func(ctx, actx context.Context, resp *http.Response, wd *watchdog, res *Result) error

func (c *Client) run(ctx context.Context, rawURL string, fo FetchOptions, consume consumeFunc) (Result, error) {
	res := Result{Total: -1}

	if err := validateURL(rawURL); err != nil {
		res.Attempts = 1
		c.log.Error("invalid url", slog.String("url", rawURL), slog.Any("error", err))
		return res, err
	}

	if fo.Timeout <= 0 {
		fo.Timeout = c.opts.Timeout
	}
	if fo.MaxAttempts <= 0 {
		fo.MaxAttempts = c.opts.RetryAttempts
	}

	var lastErr error
	for attempt := 0; attempt < fo.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return res, err
			}
		}

		res = Result{Total: -1, Attempts: attempt + 1}
		err := c.attempt(ctx, rawURL, fo, &res, consume)
		if err == nil {
			return res, nil
		}
		if !isRetryable(err) {
			return res, err
		}

		lastErr = err
		c.log.Warn("fetch attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", fo.MaxAttempts),
			slog.Any("error", err),
		)
	}

	if lastErr == nil {
		return res, ErrRetriesExhausted
	}
	c.log.Error("giving up", slog.String("url", rawURL), slog.Any("error", lastErr))
	return res, &AttemptError{Attempts: res.Attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, rawURL string, fo FetchOptions, res *Result, consume consumeFunc) error {
	actx, wd := startWatchdog(ctx, fo.Timeout)
	defer wd.stop()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLocator, err)
	}
	for k, vs := range c.opts.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range fo.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for _, ck := range fo.Cookies {
		req.AddCookie(ck)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classify(ctx, actx, err, fo.Timeout)
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Header = resp.Header
	res.Total = resp.ContentLength

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}

	wd.kick()
	return consume(ctx, actx, resp, wd, res)
}

// copyBody copies r into w chunk by chunk, keeping the watchdog alive and
// reporting progress. Read errors come back classified; write errors are
// wrapped as-is and never retried.
func (c *Client) copyBody(ctx, actx context.Context, r io.Reader, w io.Writer, wd *watchdog, res *Result, progress func(Progress)) error {
	size := chunkSize
	if c.limiter != nil {
		size = min(size, c.limiter.Burst())
	}
	buf := make([]byte, size)

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if c.limiter != nil {
				if err := c.limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("write sink: %w", err)
			}
			res.Written += int64(n)
			if progress != nil {
				progress(Progress{Written: res.Written, Total: res.Total})
			}
			wd.kick()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return classify(ctx, actx, rerr, wd.d)
		}
	}
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.backoffDelay(attempt)

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// backoffDelay is RetryBackoff doubled per attempt after the first, capped at
// RetryMaxBackoff. The cap also applies when doubling would overflow.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base, ceiling := c.opts.RetryBackoff, c.opts.RetryMaxBackoff
	if base <= 0 {
		return 0
	}
	shift := max(attempt-1, 0)
	if shift >= 63 || base > ceiling>>shift {
		return ceiling
	}
	return base << shift
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLocator, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q in %q", ErrMalformedLocator, u.Scheme, rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrMalformedLocator, rawURL)
	}
	return nil
}

// classify maps a transport or body error to ErrTimeout or ErrConnection.
// Cancellation of the caller's context is returned unchanged.
func classify(ctx, actx context.Context, err error, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(context.Cause(actx), errIdle) {
		return fmt.Errorf("%w: no progress within %s", ErrTimeout, timeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}

// watchdog cancels an attempt when no progress is made for d.
type watchdog struct {
	d     time.Duration
	timer *time.Timer
	stop  func()
}

func startWatchdog(ctx context.Context, d time.Duration) (context.Context, *watchdog) {
	actx, cancel := context.WithCancelCause(ctx)
	wd := &watchdog{d: d}
	if d > 0 {
		wd.timer = time.AfterFunc(d, func() { cancel(errIdle) })
	}
	wd.stop = func() {
		if wd.timer != nil {
			wd.timer.Stop()
		}
		cancel(nil)
	}
	return actx, wd
}

func (w *watchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.d)
	}
}
