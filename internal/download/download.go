// Package download turns a download request into a file in the store.
// It validates the request, resolves the URL through an extractor, picks a
// stream for the requested format, and writes it under a sanitized name.
package download

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"clipdrop/internal/extract"
	"clipdrop/internal/httputil"
	"clipdrop/internal/media"
	"clipdrop/internal/store"
)

// FilePath is the route prefix under which stored files are served.
const FilePath = "download_file"

// Options configures a Service.
type Options struct {
	// PublicURL is the externally reachable base URL used in download links.
	PublicURL string

	// Timeout bounds extraction plus transfer. Zero means no limit.
	Timeout time.Duration

	// StrictFormat rejects formats other than mp4 and mp3 instead of
	// treating them as audio.
	StrictFormat bool

	// Transcoder, if set, converts audio downloads to real MP3.
	Transcoder Transcoder
}

// Service performs downloads into a store.
type Service struct {
	extractor extract.Extractor
	store     *store.Store
	opts      Options
	group     singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context of one shared fetch and the number of callers
// still waiting on it. The fetch is cancelled when the last caller leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewService creates a download service.
func NewService(extractor extract.Extractor, st *store.Store, opts Options) *Service {
	return &Service{
		extractor: extractor,
		store:     st,
		opts:      opts,
		flights:   make(map[string]*flight),
	}
}

// PublicURL returns the base URL embedded in download links.
func (s *Service) PublicURL() string {
	return s.opts.PublicURL
}

// Download validates req, fetches the media and stores it. Concurrent calls
// for the same URL and format share one transfer, which keeps running while
// at least one of them is still waiting. A cancelled ctx abandons only this
// caller's wait. Errors are *media.Error.
func (s *Service) Download(ctx context.Context, req media.DownloadRequest) (*media.DownloadResult, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, media.Errorf(media.BadRequest, "url is required")
	}
	if err := httputil.ValidateMediaURL(rawURL); err != nil {
		return nil, media.Wrap(media.BadRequest, "invalid url", err)
	}

	format, err := media.ParseFormat(req.Format, s.opts.StrictFormat)
	if err != nil {
		return nil, err
	}

	key := format.String() + " " + rawURL
	f := s.join(ctx, key)
	defer s.leave(key, f)

	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetch(f.ctx, rawURL, format)
	})

	select {
	case <-ctx.Done():
		log.Debug().Str("url", rawURL).Msg("caller left before download finished")
		return nil, media.Wrap(media.DownloadFailed, "request cancelled", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			log.Debug().Str("url", rawURL).Msg("joined in-flight download")
		}
		result := *r.Val.(*media.DownloadResult)
		return &result, nil
	}
}

// join registers a caller for key. The shared context drops the caller's
// cancellation but keeps its values.
func (s *Service) join(ctx context.Context, key string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[key] = f
	}
	f.waiters++
	return f
}

// leave unregisters a caller. The last one out cancels the fetch and makes
// the next request for key start a fresh one.
func (s *Service) leave(key string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[key] == f {
		delete(s.flights, key)
		s.group.Forget(key)
	}
}

func (s *Service) fetch(ctx context.Context, rawURL string, format media.Format) (*media.DownloadResult, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	started := time.Now()

	video, err := s.extractor.Resolve(ctx, rawURL)
	if err != nil {
		return nil, media.Wrap(media.ExtractionFailed, "could not resolve video", err)
	}

	stream, err := video.Select(format.Kind())
	if err != nil {
		return nil, media.Wrap(media.ExtractionFailed, fmt.Sprintf("no %s stream available", format.Kind()), err)
	}

	filename := httputil.SecureFilename(video.Title) + format.Ext()
	log.Debug().
		Str("url", rawURL).
		Str("title", video.Title).
		Str("stream", stream.ID).
		Str("filename", filename).
		Msg("selected stream")

	size, err := s.save(ctx, video, stream, filename, format)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("url", rawURL).
		Str("filename", filename).
		Int64("bytes", size).
		Dur("took", time.Since(started)).
		Msg("download complete")

	return &media.DownloadResult{
		Title:       video.Title,
		Filename:    filename,
		DownloadURL: httputil.BuildURL(s.opts.PublicURL, FilePath, filename),
		Size:        size,
	}, nil
}

// save copies the stream into the store. On any failure the partial file is
// discarded and nothing appears under filename.
func (s *Service) save(ctx context.Context, video *media.Video, stream *media.Stream, filename string, format media.Format) (int64, error) {
	body, _, err := s.extractor.Open(ctx, video, stream)
	if err != nil {
		return 0, media.Wrap(media.DownloadFailed, "could not open stream", err)
	}
	defer body.Close()

	pending, err := s.store.Create(filename)
	if err != nil {
		return 0, media.Wrap(media.DownloadFailed, "could not create file", err)
	}

	n, err := io.Copy(pending, body)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		pending.Abort()
		return 0, media.Wrap(media.DownloadFailed, "transfer failed", err)
	}

	if format == media.MP3 && s.opts.Transcoder != nil {
		if err := s.opts.Transcoder.ToMP3(ctx, pending.TempPath()); err != nil {
			pending.Abort()
			return 0, media.Wrap(media.DownloadFailed, "audio conversion failed", err)
		}
	}

	if err := pending.Commit(); err != nil {
		return 0, media.Wrap(media.DownloadFailed, "could not save file", err)
	}

	return n, nil
}
