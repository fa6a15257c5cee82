package download

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Transcoder rewrites an audio file in place as MP3.
type Transcoder interface {
	ToMP3(ctx context.Context, path string) error
}

// FFmpeg converts audio with the ffmpeg binary.
type FFmpeg struct {
	path string
}

// NewFFmpeg locates ffmpeg on PATH.
func NewFFmpeg() (*FFmpeg, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &FFmpeg{path: ffmpegPath}, nil
}

// ToMP3 implements Transcoder.
func (f *FFmpeg) ToMP3(ctx context.Context, path string) error {
	out := path + ".mp3"

	// Build ffmpeg args as explicit slice
	args := []string{
		"-y",
		"-loglevel", "error",
		"-i", path,
		"-vn", // Drop any video track
		"-f", "mp3",
		"-b:a", "192k",
		out,
	}

	cmd := exec.CommandContext(ctx, f.path, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out)
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	if err := os.Rename(out, path); err != nil {
		os.Remove(out)
		return fmt.Errorf("replacing source with mp3: %w", err)
	}
	return nil
}
