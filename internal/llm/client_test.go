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

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tgoc99/llmbox/internal/apperr"
	"github.com/tgoc99/llmbox/internal/models"
)

func testEmail() *models.IncomingEmail {
	return &models.IncomingEmail{
		From:    "a@x.com",
		To:      "svc@y.com",
		Subject: "Hi",
		Body:    "Hello",
	}
}

func TestGenerate_Success(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Hi there!\n"}},
			},
			"usage": map[string]any{"prompt_tokens": 42, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"})

	got, err := c.Generate(context.Background(), nil, testEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "Hi there!" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.PromptTokens != 42 || got.CompletionTokens != 7 {
		t.Errorf("usage = %d/%d", got.PromptTokens, got.CompletionTokens)
	}

	if gotReq.Model != "test-model" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "Subject: Hi") {
		t.Errorf("user content missing subject: %q", gotReq.Messages[1].Content)
	}
}

func TestGenerate_UserToneInSystemPrompt(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{BaseURL: srv.URL, APIKey: "k"})
	user := &models.User{Settings: models.UserSettings{ReplyTone: "formal"}}

	if _, err := c.Generate(context.Background(), user, testEmail()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotReq.Messages[0].Content, "formal") {
		t.Error("reply tone not carried into system prompt")
	}
}

func TestGenerate_UpstreamStatusMapped(t *testing.T) {
	for _, status := range []int{429, 500, 401} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		}))

		c := NewClient(srv.Client(), Config{BaseURL: srv.URL, APIKey: "k"})
		_, err := c.Generate(context.Background(), nil, testEmail())
		srv.Close()

		var ue *apperr.UpstreamError
		if !errors.As(err, &ue) {
			t.Fatalf("status %d: err = %v, want UpstreamError", status, err)
		}
		if ue.StatusCode != status {
			t.Errorf("StatusCode = %d, want %d", ue.StatusCode, status)
		}
		if ue.Transport {
			t.Errorf("status %d marked as transport error", status)
		}
	}
}

func TestGenerate_NetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(&http.Client{}, Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Generate(context.Background(), nil, testEmail())

	var ue *apperr.UpstreamError
	if !errors.As(err, &ue) || !ue.Transport {
		t.Fatalf("err = %v, want transport UpstreamError", err)
	}
}

func TestGenerate_EmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{BaseURL: srv.URL, APIKey: "k"})
	if _, err := c.Generate(context.Background(), nil, testEmail()); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
