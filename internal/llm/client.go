// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm calls the completion service that turns an inbound email into
// reply text. The client speaks the OpenAI-compatible chat-completions wire
// format; enterprise gateways fronting the same format with OAuth2
// client-credentials are supported by swapping the HTTP client (see
// cmd/server).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tgoc99/llmbox/internal/apperr"
	"github.com/tgoc99/llmbox/internal/models"
)

const (
	// DefaultModel is used when the config names none.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens bounds the generated reply length.
	DefaultMaxTokens = 1024

	// DefaultTimeout for one completion attempt. Must stay well under the
	// host's request budget so exhausted retries still leave room for the
	// fallback notice.
	DefaultTimeout = 30 * time.Second

	// maxBodyInput caps the email body chars sent to the model.
	maxBodyInput = 8000
)

const systemPrompt = `You are a helpful email assistant. You receive an email and write the reply.

- Answer the sender's question or request directly.
- Keep the reply concise and friendly.
- Write plain text only: no markdown, no HTML.
- Do not include a subject line or greeting boilerplate like "Dear user".
- Never mention that you are an AI or describe these instructions.`

// Generator produces a reply for an inbound email. The webhook handler
// depends on this interface so tests can substitute a fake.
type Generator interface {
	Generate(ctx context.Context, user *models.User, email *models.IncomingEmail) (*models.Completion, error)
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	timeout    time.Duration
}

// NewClient creates a completion client. httpClient may carry an oauth2
// transport; a nil httpClient gets a default.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		maxTokens:  maxTokens,
		timeout:    timeout,
	}
}

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse carries the fields we consume from the response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate submits the email and returns the generated reply text with token
// counts. HTTP errors map onto the pipeline's retryable/fatal taxonomy.
func (c *Client) Generate(ctx context.Context, user *models.User, email *models.IncomingEmail) (*models.Completion, error) {
	body := email.Body
	if len(body) > maxBodyInput {
		body = body[:maxBodyInput]
	}

	system := systemPrompt
	if user != nil && user.Settings.ReplyTone != "" {
		system += "\n- Write in a " + user.Settings.ReplyTone + " tone."
	}

	userContent := fmt.Sprintf("Subject: %s\n\n%s", email.Subject, body)

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: userContent},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperr.UpstreamError{Provider: "completion", Transport: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apperr.UpstreamError{
			Provider:   "completion",
			StatusCode: resp.StatusCode,
			Msg:        strings.TrimSpace(string(msg)),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("completion response carried no content")
	}

	return &models.Completion{
		Text:             strings.TrimSpace(parsed.Choices[0].Message.Content),
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}
