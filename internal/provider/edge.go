package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EdgeClient invokes a hosted function that answers with {"response": "..."}.
type EdgeClient struct {
	url        string
	anonKey    string
	httpClient *http.Client
}

// NewEdgeClient creates a client for the function at url
// (e.g. "https://<project>.supabase.co/functions/v1/ai-teacher").
func NewEdgeClient(url, anonKey string, timeout time.Duration) *EdgeClient {
	return &EdgeClient{
		url:     url,
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type edgeRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	APIKey    string `json:"apiKey,omitempty"`
}

type edgeResponse struct {
	Response *string `json:"response"`
}

// Invoke posts the request body and returns the non-empty response field.
func (c *EdgeClient) Invoke(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(edgeRequest{
		Message:   req.Message,
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		APIKey:    req.Credential,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal edge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("failed to create edge request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.anonKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.anonKey)
		httpReq.Header.Set("apikey", c.anonKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", Normalize(ctx, fmt.Errorf("edge request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Normalize(ctx, fmt.Errorf("failed reading edge response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TransportError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("non-success status body=%s", truncate(string(body), 400)),
		}
	}

	var parsed edgeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &MalformedResponseError{Reason: "undecodable body: " + truncate(string(body), 400)}
	}
	if parsed.Response == nil {
		return "", &MalformedResponseError{Reason: "missing response field"}
	}
	text := strings.TrimSpace(*parsed.Response)
	if text == "" {
		return "", &MalformedResponseError{Reason: "empty response field"}
	}
	return text, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
