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

// Package webhook handles inbound email posted by the webhook sender. Each
// request runs the full pipeline: signature verification, parsing, dedupe,
// identity resolution, completion, threading, and delivery of the reply.
//
// Response policy: the sender retries on 5xx and on slow responses, so every
// outcome except an authentication failure (401/403) or a malformed payload
// (400) answers 200 — downstream failures are logged, a fallback notice is
// attempted, and the request still succeeds from the sender's point of view.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tgoc99/llmbox/internal/apperr"
	"github.com/tgoc99/llmbox/internal/compose"
	"github.com/tgoc99/llmbox/internal/delivery"
	"github.com/tgoc99/llmbox/internal/events"
	"github.com/tgoc99/llmbox/internal/llm"
	"github.com/tgoc99/llmbox/internal/maillog"
	"github.com/tgoc99/llmbox/internal/models"
	"github.com/tgoc99/llmbox/internal/parser"
	"github.com/tgoc99/llmbox/internal/retry"
	"github.com/tgoc99/llmbox/internal/signature"
	"github.com/tgoc99/llmbox/internal/threading"
)

// Signature header names the webhook sender must supply.
const (
	TimestampHeader = "X-Webhook-Timestamp"
	SignatureHeader = "X-Webhook-Signature"
)

// maxBodyBytes caps the inbound payload size.
const maxBodyBytes = 10 << 20

// Deduper suppresses reprocessing of an already-handled message id.
type Deduper interface {
	FirstSight(ctx context.Context, messageID string) (bool, error)
}

// IdentityResolver maps recipient/sender addresses to a user record.
type IdentityResolver interface {
	Resolve(ctx context.Context, to, from string) (*models.User, error)
}

// OutcomeRecorder appends processed-message rows. Best-effort.
type OutcomeRecorder interface {
	Record(ctx context.Context, e maillog.Entry)
}

// OutcomePublisher emits processing-outcome events. Best-effort.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o events.Outcome) error
}

// Handler runs the inbound pipeline.
type Handler struct {
	verifier  *signature.Verifier
	guard     Deduper
	resolver  IdentityResolver
	generator llm.Generator
	sender    delivery.Sender
	log       OutcomeRecorder  // may be nil
	events    OutcomePublisher // may be nil
	policy    retry.Policy
}

// NewHandler creates the pipeline handler.
func NewHandler(
	verifier *signature.Verifier,
	guard Deduper,
	resolver IdentityResolver,
	generator llm.Generator,
	sender delivery.Sender,
	log OutcomeRecorder,
	publisher OutcomePublisher,
	policy retry.Policy,
) *Handler {
	return &Handler{
		verifier:  verifier,
		guard:     guard,
		resolver:  resolver,
		generator: generator,
		sender:    sender,
		log:       log,
		events:    publisher,
		policy:    policy,
	}
}

// ServeInbound handles one inbound email webhook request.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		respond(w, http.StatusBadRequest, "unreadable body")
		return
	}

	// Authenticate before touching the payload.
	if err := h.verifier.Verify(rawBody, r.Header.Get(TimestampHeader), r.Header.Get(SignatureHeader)); err != nil {
		respond(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	fields, err := parseForm(rawBody, r.Header.Get("Content-Type"))
	if err != nil {
		slog.Warn("webhook payload not parseable as a form", "error", err)
		respond(w, http.StatusBadRequest, "malformed form payload")
		return
	}

	email, err := parser.Parse(&parser.Payload{
		From:    fields["from"],
		To:      fields["to"],
		Subject: fields["subject"],
		Text:    fields["text"],
		Headers: fields["headers"],
	})
	if err != nil {
		slog.Warn("webhook payload failed validation", "error", err)
		respond(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	// Record-before-side-effects: once FirstSight returns true the id is
	// durably claimed, so a racing duplicate delivery loses here.
	first, err := h.guard.FirstSight(ctx, email.MessageID)
	if err != nil {
		slog.Warn("dedup check failed, proceeding", "error", err)
	} else if !first {
		slog.Info("skipping duplicate message", "message_id", email.MessageID)
		respond(w, http.StatusOK, "duplicate")
		return
	}

	slog.Info("processing inbound email",
		"message_id", email.MessageID,
		"subject", email.Subject,
	)

	user, err := h.resolver.Resolve(ctx, email.To, email.From)
	if err != nil {
		slog.Error("identity resolution failed", "message_id", email.MessageID, "error", err)
		h.absorbFailure(ctx, email, nil, err)
		respond(w, http.StatusOK, "accepted")
		return
	}
	if user.Created {
		slog.Info("first contact from sender", "user_id", user.ID, "user_created", true)
	}

	var completion *models.Completion
	err = h.policy.Do(ctx, "completion", func(ctx context.Context) error {
		var genErr error
		completion, genErr = h.generator.Generate(ctx, user, email)
		return genErr
	})
	if err != nil {
		slog.Error("reply generation failed", "message_id", email.MessageID, "error", err)
		h.absorbFailure(ctx, email, user, err)
		respond(w, http.StatusOK, "accepted")
		return
	}

	inReplyTo, refs := threading.ReplyHeaders(email.MessageID, email.References)
	reply := compose.Reply(email, completion.Text, inReplyTo, refs)

	err = h.policy.Do(ctx, "delivery", func(ctx context.Context) error {
		return h.sender.Send(ctx, reply)
	})
	if err != nil {
		slog.Error("reply delivery failed", "message_id", email.MessageID, "error", err)
		h.absorbFailure(ctx, email, user, err)
		respond(w, http.StatusOK, "accepted")
		return
	}

	h.record(ctx, maillog.Entry{
		UserID:           user.ID,
		MessageID:        email.MessageID,
		Subject:          email.Subject,
		Status:           maillog.StatusReplied,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
	})
	h.publish(ctx, events.Outcome{
		MessageID:        email.MessageID,
		UserID:           user.ID,
		Status:           maillog.StatusReplied,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
	})

	respond(w, http.StatusOK, "sent")
}

// absorbFailure handles any error surviving past dedupe: one best-effort
// fallback notice to the sender, bookkeeping, and no escalation — the caller
// still answers 200.
func (h *Handler) absorbFailure(ctx context.Context, email *models.IncomingEmail, user *models.User, cause error) {
	inReplyTo, refs := threading.ReplyHeaders(email.MessageID, email.References)
	notice := compose.FallbackNotice(email, inReplyTo, refs)

	status := maillog.StatusFailed
	if err := h.sender.Send(ctx, notice); err != nil {
		slog.Error("fallback notice delivery failed",
			"message_id", email.MessageID,
			"error", err,
		)
	} else {
		status = maillog.StatusFallback
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}
	h.record(ctx, maillog.Entry{
		UserID:    userID,
		MessageID: email.MessageID,
		Subject:   email.Subject,
		Status:    status,
		Error:     cause.Error(),
	})
	h.publish(ctx, events.Outcome{
		MessageID: email.MessageID,
		UserID:    userID,
		Status:    status,
	})
}

func (h *Handler) record(ctx context.Context, e maillog.Entry) {
	if h.log != nil {
		h.log.Record(ctx, e)
	}
}

func (h *Handler) publish(ctx context.Context, o events.Outcome) {
	if h.events == nil {
		return
	}
	if err := h.events.PublishOutcome(ctx, o); err != nil {
		slog.Warn("outcome event publish failed", "message_id", o.MessageID, "error", err)
	}
}

// parseForm extracts flat string fields from a multipart or urlencoded body.
// The signature is computed over the raw bytes, so the body is parsed from a
// copy rather than through r.ParseMultipartForm.
func parseForm(body []byte, contentType string) (map[string]string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parse content type: %w", err)
	}

	fields := make(map[string]string)

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart body without boundary")
		}
		mr := multipart.NewReader(bytes.NewReader(body), boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read multipart part: %w", err)
			}
			value, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, fmt.Errorf("read part %q: %w", part.FormName(), err)
			}
			fields[part.FormName()] = string(value)
		}

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse urlencoded body: %w", err)
		}
		for k := range values {
			fields[k] = values.Get(k)
		}

	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}

	return fields, nil
}

func respond(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"status":%q}`, detail)
}

// Serve starts the webhook HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before starting
// to accept connections. health, when non-nil, is mounted at /health.
func Serve(ctx context.Context, port int, handler *Handler, health http.HandlerFunc) (<-chan struct{}, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhook/inbound", handler.ServeInbound)
	if health != nil {
		r.Get("/health", health)
	}

	server := &http.Server{
		Handler: r,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
