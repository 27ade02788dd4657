// Package mirror copies finished downloads into a gocloud blob bucket.
//
// Any bucket URL understood by gocloud.dev/blob works: mem://, file:///dir,
// s3://bucket?region=... and gs://bucket. Objects that already exist are
// skipped or rejected the same way the downloader treats local files.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/dlpool/internal/downloader"
)

var (
	ErrExists       = errors.New("mirror: object already exists")
	ErrSizeMismatch = errors.New("mirror: stored size differs from local file")
)

// Outcome is the result of a successful Upload.
type Outcome int

const (
	Uploaded Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "uploaded"
}

// Options configures an Uploader.
type Options struct {
	// Fs is where local files are read from.
	// Default: afero.NewOsFs()
	Fs afero.Fs

	// Prefix is prepended to every object key.
	Prefix string

	Logger *slog.Logger
}

// Uploader writes local files to a bucket.
type Uploader struct {
	bucket *blob.Bucket
	owned  bool
	opts   Options
	log    *slog.Logger
}

// Open opens bucketURL and returns an Uploader that closes it on Close.
func Open(ctx context.Context, bucketURL string, opts Options) (*Uploader, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	u := New(bucket, opts)
	u.owned = true
	return u, nil
}

// New wraps an already open bucket. Close leaves the bucket open.
func New(bucket *blob.Bucket, opts Options) *Uploader {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Uploader{
		bucket: bucket,
		opts:   opts,
		log:    opts.Logger.With(slog.String("component", "mirror")),
	}
}

// Close releases the bucket if the Uploader opened it.
func (u *Uploader) Close() error {
	if u.owned {
		return u.bucket.Close()
	}
	return nil
}

// Upload copies localPath to key. An existing object is left alone and
// reported as Skipped when existOK is set, and fails with ErrExists
// otherwise.
func (u *Uploader) Upload(ctx context.Context, localPath, key string, existOK bool) (Outcome, error) {
	return u.upload(ctx, localPath, key, existOK, nil)
}

// UploadTask mirrors the file of a succeeded task. The key is the task's
// path relative to root.
func (u *Uploader) UploadTask(ctx context.Context, t *downloader.Task, root string) (Outcome, error) {
	if t.State() != downloader.StateSucceeded {
		return Skipped, fmt.Errorf("mirror: task %s is %s", t.ID, t.State())
	}
	key, err := KeyFor(root, t.Path())
	if err != nil {
		return Skipped, err
	}
	req := t.Request()
	return u.upload(ctx, t.Path(), key, req.ExistOK, map[string]string{
		"source_url": req.URL,
		"task_id":    t.ID,
	})
}

func (u *Uploader) upload(ctx context.Context, localPath, key string, existOK bool, metadata map[string]string) (Outcome, error) {
	key = path.Join(u.opts.Prefix, key)

	_, err := u.bucket.Attributes(ctx, key)
	switch {
	case err == nil:
		if existOK {
			u.log.Debug("object exists, skipped", slog.String("key", key))
			return Skipped, nil
		}
		return Skipped, fmt.Errorf("%w: %s", ErrExists, key)
	case gcerrors.Code(err) != gcerrors.NotFound:
		return Skipped, fmt.Errorf("stat object %s: %w", key, err)
	}

	f, err := u.opts.Fs.Open(localPath)
	if err != nil {
		return Skipped, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Skipped, fmt.Errorf("stat %s: %w", localPath, err)
	}

	// Cancelling the writer's context before Close discards the object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := u.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(localPath)),
		Metadata:    metadata,
	})
	if err != nil {
		return Skipped, fmt.Errorf("create object %s: %w", key, err)
	}

	n, err := io.Copy(w, f)
	if err != nil {
		cancel()
		w.Close()
		return Skipped, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Skipped, fmt.Errorf("close object %s: %w", key, err)
	}

	attrs, err := u.bucket.Attributes(ctx, key)
	if err != nil {
		return Uploaded, fmt.Errorf("verify object %s: %w", key, err)
	}
	if attrs.Size != info.Size() {
		return Uploaded, fmt.Errorf("%w: %s has %d bytes, local %d", ErrSizeMismatch, key, attrs.Size, info.Size())
	}

	u.log.Info("mirrored", slog.String("key", key), slog.Int64("bytes", n))
	return Uploaded, nil
}

// KeyFor returns the slash-separated object key of p relative to root. Paths
// outside root keep only their base name.
func KeyFor(root, p string) (string, error) {
	if root == "" {
		return filepath.ToSlash(filepath.Base(p)), nil
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("mirror: key for %s: %w", p, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(p), nil
	}
	return filepath.ToSlash(rel), nil
}
