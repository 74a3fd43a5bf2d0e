package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"oralgrader/internal/model"
)

// ErrNoChoices is returned when the completion carries no choices.
var ErrNoChoices = errors.New("OpenAI returned no choices")

// ChatCompleter is the part of the OpenAI client the assessor needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Assessor submits assessment conversations to the chat completions API.
type Assessor struct {
	client      ChatCompleter
	model       string
	temperature float32
	maxTokens   int
	log         logrus.FieldLogger
}

// NewClient creates an OpenAI client, optionally against a custom base URL.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewAssessor creates an assessor. temperature and maxTokens are fixed per rubric version.
func NewAssessor(client ChatCompleter, modelName string, temperature float32, maxTokens int, log logrus.FieldLogger) *Assessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Assessor{
		client:      client,
		model:       modelName,
		temperature: temperature,
		maxTokens:   maxTokens,
		log:         log.WithField("component", "assessor"),
	}
}

// Assess sends turns once and returns the trimmed completion text.
// Errors are not retried.
func (a *Assessor) Assess(ctx context.Context, turns []model.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	promptChars := 0
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(t.Role),
			Content: t.Content,
		})
		promptChars += len(t.Content)
	}

	a.log.WithFields(logrus.Fields{
		"model":        a.model,
		"turns":        len(turns),
		"prompt_chars": promptChars,
	}).Debug("calling chat completions")

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	a.log.WithFields(logrus.Fields{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"finish_reason":     resp.Choices[0].FinishReason,
	}).Info("assessment received")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func chatRole(r model.Role) string {
	switch r {
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	case model.RoleExampleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
