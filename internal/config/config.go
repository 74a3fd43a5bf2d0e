package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port string `validate:"required,numeric"`

	TelegramToken         string `validate:"required_unless=TelegramMode off"`
	TelegramMode          string `validate:"oneof=polling webhook off"`
	TelegramWebhookSecret string
	TelegramAPIURL        string `validate:"required,url"`

	OpenAIKey     string `validate:"required"`
	OpenAIBaseURL string `validate:"omitempty,url"`
	OpenAIModel   string `validate:"required"`

	STTProvider      string `validate:"oneof=whisper google"`
	STTLanguage      string
	GoogleSTTProject string
	GoogleSTTKeyFile string
	FFmpegPath       string `validate:"required"`

	ArchiveBackend           string `validate:"oneof=drive memory"`
	GoogleServiceAccountJSON string `validate:"required_if=ArchiveBackend drive"`
	GoogleDriveFolderID      string `validate:"required_if=ArchiveBackend drive"`
	ArchiveQueueSize         int    `validate:"min=1"`

	AudioDir string `validate:"required"`
	TextDir  string `validate:"required"`
	WorkDir  string `validate:"required"`
	LogFile  string `validate:"required"`

	RubricDir string

	MessageLimit        int `validate:"min=1"`
	MaxConcurrentEvents int `validate:"min=1"`

	LogLevel  string
	LogFormat string `validate:"oneof=text json"`
}

// TelegramOff is the mode for one-shot runs that never talk to Telegram.
const TelegramOff = "off"

// Option adjusts the configuration before validation.
type Option func(*Config)

// WithoutTelegram switches Telegram off so no bot token is needed.
func WithoutTelegram() Option {
	return func(c *Config) { c.TelegramMode = TelegramOff }
}

// Load loads configuration from environment variables
func Load(opts ...Option) (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		TelegramToken:         os.Getenv("TELEGRAM_TOKEN"),
		TelegramMode:          strings.ToLower(getEnv("TELEGRAM_MODE", "polling")),
		TelegramWebhookSecret: os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		TelegramAPIURL:        getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4.1"),

		STTProvider:      strings.ToLower(getEnv("STT_PROVIDER", "whisper")),
		STTLanguage:      os.Getenv("STT_LANGUAGE"),
		GoogleSTTProject: os.Getenv("GOOGLE_STT_PROJECT_ID"),
		GoogleSTTKeyFile: os.Getenv("GOOGLE_STT_KEY_FILE"),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),

		ArchiveBackend:           strings.ToLower(getEnv("ARCHIVE_BACKEND", "drive")),
		GoogleServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		GoogleDriveFolderID:      os.Getenv("GOOGLE_DRIVE_FOLDER_ID"),

		AudioDir: getEnv("AUDIO_DIR", "voice_records_mp3"),
		TextDir:  getEnv("TEXT_DIR", "text_records"),
		WorkDir:  getEnv("WORK_DIR", os.TempDir()),
		LogFile:  getEnv("LOG_FILE", "records.json"),

		RubricDir: os.Getenv("RUBRIC_DIR"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.MessageLimit, err = getEnvInt("MESSAGE_LIMIT", 4000); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentEvents, err = getEnvInt("MAX_CONCURRENT_EVENTS", 16); err != nil {
		return nil, err
	}
	if cfg.ArchiveQueueSize, err = getEnvInt("ARCHIVE_QUEUE_SIZE", 64); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and reports them by their environment variable names.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := envNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		switch fe.Tag() {
		case "required", "required_if", "required_unless":
			msgs = append(msgs, fmt.Sprintf("%s is required", name))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", name, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

var envNames = map[string]string{
	"Port":                     "PORT",
	"TelegramToken":            "TELEGRAM_TOKEN",
	"TelegramMode":             "TELEGRAM_MODE",
	"TelegramAPIURL":           "TELEGRAM_API_URL",
	"OpenAIKey":                "OPENAI_API_KEY",
	"OpenAIBaseURL":            "OPENAI_BASE_URL",
	"OpenAIModel":              "OPENAI_MODEL",
	"STTProvider":              "STT_PROVIDER",
	"FFmpegPath":               "FFMPEG_PATH",
	"ArchiveBackend":           "ARCHIVE_BACKEND",
	"GoogleServiceAccountJSON": "GOOGLE_SERVICE_ACCOUNT_JSON",
	"GoogleDriveFolderID":      "GOOGLE_DRIVE_FOLDER_ID",
	"ArchiveQueueSize":         "ARCHIVE_QUEUE_SIZE",
	"AudioDir":                 "AUDIO_DIR",
	"TextDir":                  "TEXT_DIR",
	"WorkDir":                  "WORK_DIR",
	"LogFile":                  "LOG_FILE",
	"MessageLimit":             "MESSAGE_LIMIT",
	"MaxConcurrentEvents":      "MAX_CONCURRENT_EVENTS",
	"LogFormat":                "LOG_FORMAT",
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

// CredentialsJSON returns value itself when it holds inline JSON, otherwise reads it as a file path.
func CredentialsJSON(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file '%s': %w", value, err)
	}
	return data, nil
}
