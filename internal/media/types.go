// Package media defines shared types for the clipdrop service.
package media

import (
	"errors"
	"strings"
)

// Format is the container the caller asked for.
type Format int

const (
	MP4 Format = iota
	MP3
)

func (f Format) String() string {
	switch f {
	case MP4:
		return "mp4"
	case MP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// Ext returns the file extension, including the leading dot.
func (f Format) Ext() string {
	return "." + f.String()
}

// Kind returns the stream variant a format downloads.
func (f Format) Kind() StreamKind {
	if f == MP4 {
		return VideoHighestResolution
	}
	return AudioOnly
}

// ParseFormat maps the request's format field to a Format.
// An empty value or "mp4" selects MP4. Any other value selects MP3 unless
// strict is set, in which case only "mp3" is accepted.
func ParseFormat(s string, strict bool) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mp4":
		return MP4, nil
	case "mp3":
		return MP3, nil
	}
	if strict {
		return MP4, Errorf(BadRequest, "unsupported format %q (valid: mp4, mp3)", s)
	}
	return MP3, nil
}

// StreamKind is the selectable variant of a stream.
type StreamKind int

const (
	// VideoHighestResolution is a combined video+audio stream.
	VideoHighestResolution StreamKind = iota
	// AudioOnly is a stream with no video track.
	AudioOnly
)

func (k StreamKind) String() string {
	switch k {
	case VideoHighestResolution:
		return "video"
	case AudioOnly:
		return "audio"
	default:
		return "unknown"
	}
}

// DownloadRequest is the body of POST /download.
type DownloadRequest struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
}

// Stream is one downloadable track offered by an extractor.
type Stream struct {
	ID            string     // Extractor-specific identifier (itag, URL)
	Kind          StreamKind // Muxed video or audio only
	MimeType      string     // e.g. "video/mp4; codecs=..."
	Height        int        // Vertical resolution, 0 for audio
	Bitrate       int        // Bits per second, 0 if unknown
	ContentLength int64      // Size in bytes, 0 if unknown
	URL           string     // Direct media URL when the extractor has one
}

// Video is the resolved metadata for a video URL.
type Video struct {
	ID      string
	Title   string
	Author  string
	Source  string // URL the video was resolved from
	Streams []Stream

	// Handle carries extractor-private state between Resolve and Open.
	Handle any
}

// ErrNoStream is returned by Select when no stream matches the requested kind.
var ErrNoStream = errors.New("no matching stream")

// Select picks the best stream of the given kind: the highest resolution
// muxed stream for video, the highest bitrate stream for audio.
func (v *Video) Select(kind StreamKind) (*Stream, error) {
	var best *Stream
	for i := range v.Streams {
		s := &v.Streams[i]
		if s.Kind != kind {
			continue
		}
		if best == nil || better(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNoStream
	}
	return best, nil
}

func better(candidate, current *Stream) bool {
	if candidate.Height != current.Height {
		return candidate.Height > current.Height
	}
	return candidate.Bitrate > current.Bitrate
}

// DownloadResult is produced by a successful download.
type DownloadResult struct {
	Title       string `json:"title"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"-"`
}
