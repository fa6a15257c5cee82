package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kkdai/youtube/v2"

	"clipdrop/internal/media"
)

// YouTube extracts streams through github.com/kkdai/youtube.
type YouTube struct {
	client *youtube.Client
}

// NewYouTube creates a YouTube extractor that issues requests through httpClient.
func NewYouTube(httpClient *http.Client) *YouTube {
	return &YouTube{
		client: &youtube.Client{HTTPClient: httpClient},
	}
}

// Resolve implements Extractor.
func (y *YouTube) Resolve(ctx context.Context, rawURL string) (*media.Video, error) {
	video, err := y.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetching video metadata: %w", err)
	}

	return &media.Video{
		ID:      video.ID,
		Title:   video.Title,
		Author:  video.Author,
		Source:  rawURL,
		Streams: streamsFromFormats(video.Formats),
		Handle:  video,
	}, nil
}

// Open implements Extractor.
func (y *YouTube) Open(ctx context.Context, v *media.Video, s *media.Stream) (io.ReadCloser, int64, error) {
	video, ok := v.Handle.(*youtube.Video)
	if !ok {
		return nil, 0, fmt.Errorf("video %q was not resolved by the YouTube extractor", v.ID)
	}

	idx, err := strconv.Atoi(s.ID)
	if err != nil || idx < 0 || idx >= len(video.Formats) {
		return nil, 0, fmt.Errorf("unknown stream %q for video %q", s.ID, v.ID)
	}

	stream, size, err := y.client.GetStreamContext(ctx, video, &video.Formats[idx])
	if err != nil {
		return nil, 0, fmt.Errorf("starting stream: %w", err)
	}
	return stream, size, nil
}

// streamsFromFormats keeps progressive (video with audio) and audio-only
// formats. Video-only adaptive formats would need muxing and are skipped.
// Stream IDs are indexes into formats.
func streamsFromFormats(formats youtube.FormatList) []media.Stream {
	var streams []media.Stream
	for i, f := range formats {
		if f.AudioChannels == 0 {
			continue
		}

		kind := media.AudioOnly
		if f.Width != 0 || f.Height != 0 {
			kind = media.VideoHighestResolution
		}

		streams = append(streams, media.Stream{
			ID:            strconv.Itoa(i),
			Kind:          kind,
			MimeType:      f.MimeType,
			Height:        f.Height,
			Bitrate:       f.Bitrate,
			ContentLength: f.ContentLength,
			URL:           f.URL,
		})
	}
	return streams
}
