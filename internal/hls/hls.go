// Package hls downloads HTTP Live Streaming playlists into a single file.
//
// Copy resolves a master playlist to its highest-bandwidth variant, then
// appends the init section (if any) and every media segment, in playlist
// order, to the sink. MPEG-TS segments concatenate into a playable stream.
// Encrypted and byte-range playlists are rejected.
package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/grafov/m3u8"

	dlhttp "github.com/ligustah/dlpool/internal/http"
)

const maxPlaylistDepth = 3

var (
	ErrEncrypted     = errors.New("hls: encrypted playlists are not supported")
	ErrByteRange     = errors.New("hls: byte-range segments are not supported")
	ErrEmptyPlaylist = errors.New("hls: playlist has no segments")
	ErrNoVariants    = errors.New("hls: master playlist has no variants")
	ErrShortSegment  = errors.New("hls: segment shorter than declared")
)

// Fetcher is the subset of the HTTP client used here.
type Fetcher interface {
	Fetch(ctx context.Context, url string, fo dlhttp.FetchOptions) ([]byte, dlhttp.Result, error)
	FetchToSink(ctx context.Context, url string, w io.Writer, fo dlhttp.FetchOptions) (dlhttp.Result, error)
}

// Stats summarizes a finished copy.
type Stats struct {
	PlaylistURL string // media playlist actually used
	Segments    int
	Bytes       int64
}

// Copy streams the playlist at playlistURL into w. onSegment, if not nil,
// is called after each segment with the number done and the total.
func Copy(ctx context.Context, f Fetcher, playlistURL string, w io.Writer, fo dlhttp.FetchOptions, onSegment func(done, total int)) (Stats, error) {
	fo.Progress = nil

	media, mediaURL, err := resolveMedia(ctx, f, playlistURL, fo, 0)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{PlaylistURL: mediaURL.String()}

	if isEncrypted(media.Key) {
		return stats, ErrEncrypted
	}

	var segments []*m3u8.MediaSegment
	for _, seg := range media.Segments {
		if seg == nil {
			break
		}
		if isEncrypted(seg.Key) {
			return stats, ErrEncrypted
		}
		if seg.Limit > 0 {
			return stats, ErrByteRange
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return stats, ErrEmptyPlaylist
	}

	if media.Map != nil && media.Map.URI != "" {
		if media.Map.Limit > 0 {
			return stats, ErrByteRange
		}
		n, err := copySegment(ctx, f, mediaURL, media.Map.URI, w, fo)
		stats.Bytes += n
		if err != nil {
			return stats, fmt.Errorf("init section: %w", err)
		}
	}

	for i, seg := range segments {
		n, err := copySegment(ctx, f, mediaURL, seg.URI, w, fo)
		stats.Bytes += n
		if err != nil {
			return stats, fmt.Errorf("segment %d of %d: %w", i+1, len(segments), err)
		}
		stats.Segments++
		if onSegment != nil {
			onSegment(i+1, len(segments))
		}
	}

	return stats, nil
}

func resolveMedia(ctx context.Context, f Fetcher, rawURL string, fo dlhttp.FetchOptions, depth int) (*m3u8.MediaPlaylist, *url.URL, error) {
	if depth >= maxPlaylistDepth {
		return nil, nil, fmt.Errorf("hls: playlist nesting deeper than %d", maxPlaylistDepth)
	}

	body, _, err := f.Fetch(ctx, rawURL, fo)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch playlist: %w", err)
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", dlhttp.ErrMalformedLocator, err)
	}

	pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, nil, fmt.Errorf("parse playlist: %w", err)
	}

	switch kind {
	case m3u8.MEDIA:
		return pl.(*m3u8.MediaPlaylist), base, nil
	case m3u8.MASTER:
		v := bestVariant(pl.(*m3u8.MasterPlaylist))
		if v == nil {
			return nil, nil, ErrNoVariants
		}
		next, err := base.Parse(v.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: variant %q: %v", dlhttp.ErrMalformedLocator, v.URI, err)
		}
		return resolveMedia(ctx, f, next.String(), fo, depth+1)
	default:
		return nil, nil, fmt.Errorf("parse playlist: unknown playlist type")
	}
}

func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" || v.Iframe {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func copySegment(ctx context.Context, f Fetcher, base *url.URL, ref string, w io.Writer, fo dlhttp.FetchOptions) (int64, error) {
	u, err := base.Parse(ref)
	if err != nil {
		return 0, fmt.Errorf("%w: segment %q: %v", dlhttp.ErrMalformedLocator, ref, err)
	}

	res, err := f.FetchToSink(ctx, u.String(), w, fo)
	if err != nil {
		return res.Written, err
	}
	if res.Total >= 0 && res.Written < res.Total {
		return res.Written, fmt.Errorf("%w: %d of %d bytes", ErrShortSegment, res.Written, res.Total)
	}
	return res.Written, nil
}

func isEncrypted(k *m3u8.Key) bool {
	return k != nil && k.Method != "" && k.Method != "NONE"
}
