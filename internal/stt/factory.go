package stt

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"oralgrader/internal/config"
)

// CreateProvider creates an STT provider based on configuration
func CreateProvider(cfg *config.Config, client *openai.Client, log logrus.FieldLogger) (Provider, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "stt")

	switch strings.ToLower(cfg.STTProvider) {
	case "", "whisper":
		log.Info("creating Whisper STT provider")
		return NewWhisperProvider(client, cfg.STTLanguage, log), nil
	case "google":
		return createGoogleProvider(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported STT provider: %s. Supported: whisper, google", cfg.STTProvider)
	}
}

// createGoogleProvider creates a Google STT provider
// GOOGLE_STT_KEY_FILE can be either:
//   - An API key (39 characters, typically starts with "AIzaSy")
//   - A file path to a JSON key file (e.g., "./keys/google-service-account.json")
//   - A JSON string containing the service account credentials
func createGoogleProvider(cfg *config.Config, log logrus.FieldLogger) (Provider, error) {
	keyData := strings.TrimSpace(cfg.GoogleSTTKeyFile)
	if keyData == "" {
		return nil, fmt.Errorf("GOOGLE_STT_KEY_FILE is not set. It can be:\n  - An API key (39 characters)\n  - A file path to a JSON key file\n  - A JSON string containing service account credentials")
	}
	if !isAPIKey(keyData) && cfg.GoogleSTTProject == "" {
		return nil, fmt.Errorf("GOOGLE_STT_PROJECT_ID is required when using service account")
	}

	language := cfg.STTLanguage
	if language == "" {
		language = "en-US"
	}
	log.WithField("project", cfg.GoogleSTTProject).Info("creating Google STT provider")
	return NewGoogleProvider(cfg.GoogleSTTProject, keyData, language, log)
}

func isAPIKey(keyData string) bool {
	return len(keyData) == 39 && strings.HasPrefix(keyData, "AIzaSy")
}
