package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stupiduntilnot/tutor/internal/provider"
)

// DefaultSystemPrompt frames the model as a music practice teacher.
const DefaultSystemPrompt = "You are an AI music teacher. Give concise, practical advice about practice techniques, repertoire and progress. Keep answers short and encouraging."

// Client is a minimal OpenAI-compatible chat completions client (OpenAI,
// DeepSeek, OpenRouter). It implements provider.Client.
type Client struct {
	apiKey       string
	url          string
	model        string
	systemPrompt string
	httpClient   *http.Client
}

// NewClient creates a chat completions client. apiKey is used only when the
// request carries no credential of its own.
func NewClient(apiKey, url, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey:       apiKey,
		url:          url,
		model:        model,
		systemPrompt: DefaultSystemPrompt,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithSystemPrompt overrides the system prompt.
func (c *Client) WithSystemPrompt(prompt string) *Client {
	if strings.TrimSpace(prompt) != "" {
		c.systemPrompt = prompt
	}
	return c
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	User        string    `json:"user,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var errNoKey = errors.New("no api key configured and request carries no credential")

// Invoke sends the user message (and nothing else from the conversation) and
// returns the first choice's content.
func (c *Client) Invoke(ctx context.Context, req provider.Request) (string, error) {
	key := req.Credential
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return "", &provider.TransportError{Err: errNoKey}
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: req.Message},
		},
		Temperature: 0.7,
		User:        req.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", &provider.TransportError{Err: fmt.Errorf("failed to create openai request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", provider.Normalize(ctx, fmt.Errorf("openai request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", provider.Normalize(ctx, fmt.Errorf("failed reading openai response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &provider.TransportError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("openai non-success body=%s", truncate(string(body), 400)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &provider.MalformedResponseError{Reason: "failed to parse openai response: " + truncate(string(body), 400)}
	}
	if len(parsed.Choices) == 0 {
		return "", &provider.MalformedResponseError{Reason: "no choices"}
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", &provider.MalformedResponseError{Reason: "empty model response"}
	}
	return content, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
