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

// Package delivery transmits outgoing email through the delivery provider's
// HTTP API (SendGrid v3 mail send shape). The provider acknowledges with 202;
// threading headers ride in the custom headers map.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tgoc99/llmbox/internal/apperr"
	"github.com/tgoc99/llmbox/internal/models"
	"github.com/tgoc99/llmbox/internal/threading"
)

// DefaultTimeout for one delivery attempt.
const DefaultTimeout = 15 * time.Second

// Sender transmits an outgoing email. The webhook handler depends on this
// interface so tests can substitute a fake.
type Sender interface {
	Send(ctx context.Context, email *models.OutgoingEmail) error
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the delivery provider's mail send endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
}

// NewClient creates a delivery client.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    timeout,
	}
}

// sendRequest is the provider's mail send body.
type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
	Headers          map[string]string `json:"headers,omitempty"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type emailAddress struct {
	Email string `json:"email"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Send submits the envelope. Success is any 2xx (the provider answers 202
// for accepted mail). Errors map onto the retryable/fatal taxonomy.
func (c *Client) Send(ctx context.Context, email *models.OutgoingEmail) error {
	headers := map[string]string{}
	if email.InReplyTo != "" {
		headers["In-Reply-To"] = email.InReplyTo
	}
	if len(email.References) > 0 {
		headers["References"] = threading.JoinReferences(email.References)
	}

	reqBody, err := json.Marshal(sendRequest{
		Personalizations: []personalization{{To: []emailAddress{{Email: email.To}}}},
		From:             emailAddress{Email: email.From},
		Subject:          email.Subject,
		Content:          []content{{Type: "text/plain", Value: email.Body}},
		Headers:          headers,
	})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v3/mail/send", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.UpstreamError{Provider: "delivery", Transport: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apperr.UpstreamError{
			Provider:   "delivery",
			StatusCode: resp.StatusCode,
			Msg:        strings.TrimSpace(string(msg)),
		}
	}

	slog.Info("email accepted by delivery provider",
		"to", email.To,
		"in_reply_to", email.InReplyTo,
		"status", resp.StatusCode,
	)
	return nil
}
