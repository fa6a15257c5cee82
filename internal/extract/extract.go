// Package extract resolves video page URLs into stream metadata and opens
// the selected stream for reading.
package extract

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"clipdrop/internal/media"
)

// Extractor resolves a URL into a video and opens its streams.
type Extractor interface {
	// Resolve fetches title and available streams for rawURL.
	Resolve(ctx context.Context, rawURL string) (*media.Video, error)

	// Open starts reading s, which must come from v.Streams. The returned
	// size is -1 or 0 when unknown.
	Open(ctx context.Context, v *media.Video, s *media.Stream) (io.ReadCloser, int64, error)
}

// Router sends YouTube URLs to the YouTube extractor and everything else to
// the generic page extractor.
type Router struct {
	youtube Extractor
	page    Extractor
}

// New returns a Router backed by the YouTube and page extractors sharing client.
func New(client *http.Client) *Router {
	return NewRouter(NewYouTube(client), NewPage(client))
}

// NewRouter builds a Router from explicit extractors.
func NewRouter(youtube, page Extractor) *Router {
	return &Router{youtube: youtube, page: page}
}

// Resolve implements Extractor.
func (r *Router) Resolve(ctx context.Context, rawURL string) (*media.Video, error) {
	return r.pick(rawURL).Resolve(ctx, rawURL)
}

// Open implements Extractor.
func (r *Router) Open(ctx context.Context, v *media.Video, s *media.Stream) (io.ReadCloser, int64, error) {
	return r.pick(v.Source).Open(ctx, v, s)
}

func (r *Router) pick(rawURL string) Extractor {
	if IsYouTubeURL(rawURL) {
		return r.youtube
	}
	return r.page
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// IsYouTubeURL reports whether rawURL points at a YouTube host.
func IsYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return youtubeHosts[strings.ToLower(u.Hostname())]
}
