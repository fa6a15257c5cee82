package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"clipdrop/internal/httputil"
	"clipdrop/internal/media"
)

// Page extracts directly linked media from an ordinary HTML page using its
// Open Graph tags and <video>/<audio> elements.
type Page struct {
	client *http.Client
}

// NewPage creates a page extractor.
func NewPage(client *http.Client) *Page {
	return &Page{client: client}
}

// Resolve implements Extractor.
func (p *Page) Resolve(ctx context.Context, rawURL string) (*media.Video, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing page URL: %w", err)
	}

	doc, err := p.fetchDocument(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	v := parsePage(doc, base)
	v.Source = rawURL
	return v, nil
}

// Open implements Extractor.
func (p *Page) Open(ctx context.Context, _ *media.Video, s *media.Stream) (io.ReadCloser, int64, error) {
	body, size, err := httputil.GetStream(ctx, p.client, s.URL)
	if err != nil {
		return nil, 0, fmt.Errorf("opening media: %w", err)
	}
	return body, size, nil
}

// fetchDocument fetches a URL and parses it into a goquery Document.
func (p *Page) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, err := httputil.GetPage(ctx, p.client, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}

// parsePage extracts the title and media streams from a document.
// Relative media URLs are resolved against base.
func parsePage(doc *goquery.Document, base *url.URL) *media.Video {
	v := &media.Video{Title: parseTitle(doc)}
	seen := make(map[string]bool)

	add := func(raw string, kind media.StreamKind, mimeType string, height int) {
		u := resolveMediaURL(base, raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		v.Streams = append(v.Streams, media.Stream{
			ID:       u,
			Kind:     kind,
			MimeType: mimeType,
			Height:   height,
			URL:      u,
		})
	}

	videoType := metaContent(doc, "og:video:type")
	videoHeight, _ := strconv.Atoi(metaContent(doc, "og:video:height"))
	for _, prop := range []string{"og:video:secure_url", "og:video:url", "og:video"} {
		add(metaContent(doc, prop), media.VideoHighestResolution, videoType, videoHeight)
	}

	audioType := metaContent(doc, "og:audio:type")
	for _, prop := range []string{"og:audio:secure_url", "og:audio:url", "og:audio"} {
		add(metaContent(doc, prop), media.AudioOnly, audioType, 0)
	}

	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		height, _ := strconv.Atoi(s.AttrOr("height", ""))
		if src, ok := s.Attr("src"); ok {
			add(src, media.VideoHighestResolution, "", height)
		}
		s.Find("source").Each(func(_ int, src *goquery.Selection) {
			h := height
			if sz, err := strconv.Atoi(src.AttrOr("size", "")); err == nil {
				h = sz
			}
			add(src.AttrOr("src", ""), media.VideoHighestResolution, src.AttrOr("type", ""), h)
		})
	})

	doc.Find("audio").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src, media.AudioOnly, "", 0)
		}
		s.Find("source").Each(func(_ int, src *goquery.Selection) {
			add(src.AttrOr("src", ""), media.AudioOnly, src.AttrOr("type", ""), 0)
		})
	})

	return v
}

// parseTitle prefers og:title, then twitter:title, then <title>.
func parseTitle(doc *goquery.Document) string {
	if t := metaContent(doc, "og:title"); t != "" {
		return t
	}
	if t := metaContent(doc, "twitter:title"); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("head title").First().Text())
}

// metaContent returns the content of the first <meta> whose property or name
// equals key.
func metaContent(doc *goquery.Document, key string) string {
	var content string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.AttrOr("property", "") == key || s.AttrOr("name", "") == key {
			content = strings.TrimSpace(s.AttrOr("content", ""))
			return content == ""
		}
		return true
	})
	return content
}

// resolveMediaURL resolves raw against base and keeps only http(s) results.
func resolveMediaURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
