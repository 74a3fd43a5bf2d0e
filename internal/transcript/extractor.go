// Package transcript turns a voice message into the canonical transcript and
// keeps the transcoded audio for archival.
package transcript

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"oralgrader/internal/model"
	"oralgrader/internal/storage"
	"oralgrader/internal/stt"
	"oralgrader/internal/transcode"
)

const (
	identifierWords    = 4
	identifierMaxRunes = 80
)

var (
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9А-Яа-яЁё\s]`)
	separatorRuns = regexp.MustCompile(`\s+`)
)

// MediaSource resolves a transport media reference and stores its bytes at dst.
type MediaSource interface {
	Download(ctx context.Context, mediaRef, dst string) error
}

// Extractor runs download → transcode → speech-to-text for one voice message.
type Extractor struct {
	source     MediaSource
	transcoder transcode.Transcoder
	provider   stt.Provider
	dirs       storage.Dirs
	now        func() time.Time
	log        logrus.FieldLogger
}

func NewExtractor(source MediaSource, transcoder transcode.Transcoder, provider stt.Provider, dirs storage.Dirs, log logrus.FieldLogger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{
		source:     source,
		transcoder: transcoder,
		provider:   provider,
		dirs:       dirs,
		now:        time.Now,
		log:        log.WithField("component", "transcript"),
	}
}

// Extract produces the transcript for mediaRef. Any failure aborts the extraction;
// an empty transcript is returned as is.
func (e *Extractor) Extract(ctx context.Context, mediaRef string) (*model.Transcript, error) {
	voicePath := e.dirs.TempPath(".oga")
	mp3Path := e.dirs.TempPath(".mp3")
	defer os.Remove(voicePath)

	if err := e.source.Download(ctx, mediaRef, voicePath); err != nil {
		return nil, fmt.Errorf("failed to download voice message: %w", err)
	}
	if err := e.transcoder.Transcode(ctx, voicePath, mp3Path); err != nil {
		os.Remove(mp3Path)
		return nil, fmt.Errorf("failed to transcode voice message: %w", err)
	}
	os.Remove(voicePath)

	res, err := e.provider.Transcribe(ctx, mp3Path)
	if err != nil {
		os.Remove(mp3Path)
		return nil, fmt.Errorf("%s transcription failed: %w", e.provider.Name(), err)
	}
	text := strings.TrimSpace(res.Transcript)

	id := Identifier(text)
	if id == "" {
		id = FallbackIdentifier(e.now())
		e.log.WithField("identifier", id).Warn("transcript yields no usable name, using timestamp")
	}

	audioPath, err := e.dirs.MoveToArchive(mp3Path, id)
	if err != nil {
		os.Remove(mp3Path)
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"provider":   e.provider.Name(),
		"length":     len(text),
		"identifier": id,
	}).Info("voice message transcribed")

	return &model.Transcript{
		Text:       text,
		Identifier: id,
		AudioPath:  audioPath,
		RemoteName: storage.AudioName(id),
	}, nil
}

// Identifier derives a filesystem-safe name from the first words of text:
// characters outside Latin/Cyrillic letters, digits and whitespace are dropped
// and whitespace runs become a single underscore. Empty input yields "".
func Identifier(text string) string {
	words := strings.Fields(text)
	if len(words) > identifierWords {
		words = words[:identifierWords]
	}
	cleaned := unsafeChars.ReplaceAllString(strings.Join(words, " "), "")
	id := strings.Trim(separatorRuns.ReplaceAllString(strings.TrimSpace(cleaned), "_"), "_")
	if utf8.RuneCountInString(id) > identifierMaxRunes {
		id = strings.TrimRight(string([]rune(id)[:identifierMaxRunes]), "_")
	}
	return id
}

// FallbackIdentifier names audio whose transcript has no usable characters.
func FallbackIdentifier(now time.Time) string {
	return "voice_" + now.UTC().Format(storage.TimestampLayout)
}

// FileSource treats the media reference as a local file path.
type FileSource struct{}

func (FileSource) Download(_ context.Context, mediaRef, dst string) error {
	in, err := os.Open(mediaRef)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
