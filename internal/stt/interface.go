package stt

import "context"

// Provider defines the interface for speech-to-text providers
type Provider interface {
	// Transcribe transcribes an audio file and returns the result.
	// An empty transcript is a valid result, not an error.
	Transcribe(ctx context.Context, audioPath string) (*Result, error)

	// Name returns the name of the provider (e.g., "whisper", "google")
	Name() string
}
