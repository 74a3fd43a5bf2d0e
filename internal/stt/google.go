package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"oralgrader/internal/config"
)

const (
	googleSpeechEndpoint = "https://speech.googleapis.com"
	cloudPlatformScope   = "https://www.googleapis.com/auth/cloud-platform"
)

// GoogleProvider implements STT using Google Cloud Speech-to-Text REST API
type GoogleProvider struct {
	projectID  string
	apiKey     string
	language   string
	endpoint   string
	httpClient *http.Client
	useAPIKey  bool // true if using API key, false if using service account
	log        logrus.FieldLogger
}

// NewGoogleProvider creates a new Google STT provider
// keyData can be either:
//   - An API key (39 characters, typically starts with "AIzaSy")
//   - A file path to a JSON key file (e.g., "./keys/google-service-account.json")
//   - A JSON string containing the service account credentials
func NewGoogleProvider(projectID, keyData, language string, log logrus.FieldLogger) (*GoogleProvider, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("provider", "google")
	keyData = strings.TrimSpace(keyData)

	p := &GoogleProvider{
		projectID: projectID,
		language:  language,
		endpoint:  googleSpeechEndpoint,
		log:       log,
	}

	if isAPIKey(keyData) {
		log.Info("using API key authentication")
		p.apiKey = keyData
		p.useAPIKey = true
		p.httpClient = &http.Client{Timeout: 90 * time.Second}
		return p, nil
	}

	ctx := context.Background()
	if keyData == "" {
		creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w. Please set GOOGLE_STT_KEY_FILE", err)
		}
		p.httpClient = oauth2.NewClient(ctx, creds.TokenSource)
		return p, nil
	}

	jsonData, err := config.CredentialsJSON(keyData)
	if err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, jsonData, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials from JSON: %w", err)
	}
	p.httpClient = oauth2.NewClient(ctx, creds.TokenSource)
	return p, nil
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// GoogleSTTRequest represents Google Speech-to-Text API request
type GoogleSTTRequest struct {
	Config GoogleSTTConfig `json:"config"`
	Audio  GoogleSTTAudio  `json:"audio"`
}

// GoogleSTTConfig represents recognition config
type GoogleSTTConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	Model                      string `json:"model,omitempty"`
	UseEnhanced                bool   `json:"useEnhanced,omitempty"`
}

// GoogleSTTAudio represents audio data
type GoogleSTTAudio struct {
	Content string `json:"content"` // Base64 encoded
}

// GoogleSTTResponse represents Google Speech-to-Text API response
type GoogleSTTResponse struct {
	Results []GoogleSTTResult `json:"results"`
	Error   *GoogleSTTError   `json:"error,omitempty"`
}

// GoogleSTTResult represents a recognition result
type GoogleSTTResult struct {
	Alternatives []GoogleSTTAlternative `json:"alternatives"`
}

// GoogleSTTAlternative represents a transcript alternative
type GoogleSTTAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// GoogleSTTError represents an API error
type GoogleSTTError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Transcribe transcribes an audio file using Google Cloud Speech-to-Text REST API.
// Results are joined in order; no speech yields an empty transcript.
func (p *GoogleProvider) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	startTime := time.Now()

	audioBytes, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	fileExt := filepath.Ext(audioPath)
	p.log.WithFields(logrus.Fields{"path": audioPath, "size": len(audioBytes), "ext": fileExt}).
		Debug("processing audio file")

	encoding, sampleRate := getGoogleAudioConfig(fileExt)
	reqJSON, err := json.Marshal(GoogleSTTRequest{
		Config: GoogleSTTConfig{
			Encoding:                   encoding,
			SampleRateHertz:            sampleRate,
			LanguageCode:               p.language,
			EnableAutomaticPunctuation: true,
			Model:                      "latest_long",
			UseEnhanced:                true,
		},
		Audio: GoogleSTTAudio{
			Content: base64.StdEncoding.EncodeToString(audioBytes),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var apiURL string
	if p.useAPIKey {
		apiURL = fmt.Sprintf("%s/v1/speech:recognize?key=%s", p.endpoint, p.apiKey)
	} else {
		apiURL = fmt.Sprintf("%s/v1/projects/%s:recognize", p.endpoint, p.projectID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &Result{Provider: p.Name()}, fmt.Errorf("failed to send request to Google Speech-to-Text: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	raw := string(body)

	if resp.StatusCode != http.StatusOK {
		var wrapped GoogleSTTResponse
		if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil {
			return &Result{Provider: p.Name(), RawResponse: raw},
				fmt.Errorf("Google Speech-to-Text API error: %s", wrapped.Error.Message)
		}
		return &Result{Provider: p.Name(), RawResponse: raw},
			fmt.Errorf("Google Speech-to-Text API returned status %d: %s", resp.StatusCode, truncate(raw, 500))
	}

	var sttResp GoogleSTTResponse
	if err := json.Unmarshal(body, &sttResp); err != nil {
		return &Result{Provider: p.Name(), RawResponse: raw},
			fmt.Errorf("failed to parse Google Speech-to-Text response: %w", err)
	}
	if sttResp.Error != nil {
		return &Result{Provider: p.Name(), RawResponse: raw},
			fmt.Errorf("Google Speech-to-Text API error: %s", sttResp.Error.Message)
	}

	// Long audio comes back as consecutive results; the first alternative of each is the best one.
	parts := make([]string, 0, len(sttResp.Results))
	var confidence float64
	for _, r := range sttResp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		confidence += r.Alternatives[0].Confidence
	}
	if len(parts) > 0 {
		confidence /= float64(len(parts))
	}
	transcript := strings.TrimSpace(strings.Join(parts, " "))
	if transcript == "" {
		p.log.Warn("no speech detected, returning empty transcript")
	}

	p.log.WithFields(logrus.Fields{
		"confidence": confidence,
		"length":     len(transcript),
		"duration":   time.Since(startTime),
	}).Info("transcription finished")

	return &Result{
		Transcript:  transcript,
		Confidence:  confidence,
		Provider:    p.Name(),
		RawResponse: raw,
	}, nil
}

// getGoogleAudioConfig determines encoding and sample rate based on file extension
func getGoogleAudioConfig(fileExt string) (string, int) {
	switch strings.ToLower(fileExt) {
	case ".wav":
		return "LINEAR16", 16000
	case ".mp3":
		return "MP3", 44100
	case ".m4a", ".aac":
		return "AAC", 44100
	case ".ogg", ".oga", ".opus":
		return "OGG_OPUS", 48000
	case ".flac":
		return "FLAC", 44100
	default:
		return "LINEAR16", 16000
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
