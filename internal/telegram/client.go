// Package telegram is a small Bot API client plus the update loop that feeds
// inbound messages to the pipeline.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// requestTimeout must stay above the long-poll timeout.
const requestTimeout = 90 * time.Second

type Client struct {
	http  *resty.Client
	token string
	log   logrus.FieldLogger
}

func NewClient(apiURL, token string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json")
	return &Client{
		http:  client,
		token: token,
		log:   log.WithField("component", "telegram"),
	}
}

func (c *Client) methodPath(method string) string {
	return "/bot" + c.token + "/" + method
}

func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&env).
		SetError(&env).
		Post(c.methodPath(method))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	return decode(method, resp, &env, result)
}

func decode(method string, resp *resty.Response, env *apiResponse, result any) error {
	if !env.OK {
		desc := env.Description
		if desc == "" {
			desc = resp.Status()
		}
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode()
		}
		return &APIError{Method: method, Code: code, Description: desc}
	}
	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("telegram %s: failed to decode result: %w", method, err)
	}
	return nil
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, nil)
}

func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// SendDocument uploads the file at path as a document attachment.
func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	form := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if caption != "" {
		form["caption"] = caption
	}
	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetFile("document", path).
		SetResult(&env).
		SetError(&env).
		Post(c.methodPath("sendDocument"))
	if err != nil {
		return fmt.Errorf("telegram sendDocument: %w", err)
	}
	return decode("sendDocument", resp, &env, nil)
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile: no file path for %s", fileID)
	}
	return &f, nil
}

// DownloadFile stores the file at filePath (as returned by GetFile) in dst.
func (c *Client) DownloadFile(ctx context.Context, filePath, dst string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetOutput(dst).
		Get("/file/bot" + c.token + "/" + strings.TrimLeft(filePath, "/"))
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", filePath, err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to download %s: %s", filePath, resp.Status())
	}
	return nil
}

// Download resolves a voice file id and saves its bytes at dst.
func (c *Client) Download(ctx context.Context, fileID, dst string) error {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"file_id": fileID, "size": f.FileSize}).Debug("downloading voice file")
	return c.DownloadFile(ctx, f.FilePath, dst)
}
