// Package transcode converts voice recordings into the container the speech-to-text
// service accepts.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Transcoder converts the audio file at src into dst.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// FFmpeg shells out to the ffmpeg binary. It holds no state between calls.
type FFmpeg struct {
	Binary string // defaults to "ffmpeg" on PATH
	Format string // output container, defaults to "mp3"
}

// Transcode runs ffmpeg, overwriting dst if it exists.
func (f FFmpeg) Transcode(ctx context.Context, src, dst string) error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	format := f.Format
	if format == "" {
		format = "mp3"
	}

	cmd := exec.CommandContext(ctx, bin, f.args(src, dst, format)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg %s -> %s failed: %w", src, dst, err)
		}
		return fmt.Errorf("ffmpeg %s -> %s failed: %w: %s", src, dst, err, msg)
	}
	return nil
}

func (f FFmpeg) args(src, dst, format string) []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src, "-f", format, dst}
}
