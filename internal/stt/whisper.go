package stt

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// AudioTranscriber is the part of the OpenAI client used for transcription.
type AudioTranscriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperProvider implements STT using the OpenAI audio transcriptions API
type WhisperProvider struct {
	client   AudioTranscriber
	language string
	log      logrus.FieldLogger
}

// NewWhisperProvider creates a new Whisper STT provider. language is an optional ISO-639-1 hint.
func NewWhisperProvider(client AudioTranscriber, language string, log logrus.FieldLogger) *WhisperProvider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WhisperProvider{
		client:   client,
		language: language,
		log:      log.WithField("provider", "whisper"),
	}
}

// Name returns the provider name
func (p *WhisperProvider) Name() string {
	return "whisper"
}

// Transcribe sends the audio file to whisper-1 and returns the trimmed transcript
func (p *WhisperProvider) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	startTime := time.Now()

	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	p.log.WithFields(logrus.Fields{"path": audioPath, "size": info.Size()}).Debug("processing audio file")

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Language: p.language,
	})
	if err != nil {
		return &Result{Provider: p.Name()}, fmt.Errorf("whisper transcription failed: %w", err)
	}

	transcript := strings.TrimSpace(resp.Text)
	if transcript == "" {
		p.log.Warn("empty transcript returned")
	}

	p.log.WithFields(logrus.Fields{
		"length":   len(transcript),
		"duration": time.Since(startTime),
	}).Info("transcription finished")

	return &Result{
		Transcript:  transcript,
		Provider:    p.Name(),
		RawResponse: resp.Text,
	}, nil
}
