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

// Package apperr defines the error taxonomy for the inbound pipeline. The
// webhook handler maps these kinds onto HTTP response codes; everything the
// handler cannot classify is absorbed and answered with 200 so the webhook
// sender never retries on our behalf.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for the authentication / authorization and dedupe paths.
var (
	// ErrMissingSignature means the signature or timestamp header was absent.
	ErrMissingSignature = errors.New("missing webhook signature headers")

	// ErrBadSignature means the supplied signature did not match.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrStaleTimestamp means the signed timestamp was outside the tolerance.
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")

	// ErrDuplicate marks a message already handled within the dedupe window.
	// It is a short-circuit, not a failure.
	ErrDuplicate = errors.New("message already processed")
)

// ValidationError reports every missing or malformed payload field at once.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: missing %s", strings.Join(e.Fields, ", "))
}

// UpstreamError is a failed call to the completion service or the delivery
// provider. StatusCode is the HTTP status when one was received; Transport
// marks network-level failures that never produced a status.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Transport  bool
	Msg        string
}

func (e *UpstreamError) Error() string {
	if e.Transport {
		return fmt.Sprintf("%s: transport error: %s", e.Provider, e.Msg)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Msg)
}

// IsRetryable reports whether err may succeed on another attempt. Transport
// failures and statuses in retryable are transient; every other error —
// upstream rejections like 400/401/403 and local errors — is fatal.
func IsRetryable(err error, retryable map[int]bool) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	if ue.Transport {
		return true
	}
	return retryable[ue.StatusCode]
}

// HTTPStatus maps an error to the response code owed to the webhook sender.
// Anything unrecognized deliberately maps to 200: downstream failures are
// logged and absorbed, never surfaced as 5xx (retry-storm prevention).
func HTTPStatus(err error) int {
	var ve *ValidationError
	switch {
	case err == nil, errors.Is(err, ErrDuplicate):
		return http.StatusOK
	case errors.Is(err, ErrMissingSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrStaleTimestamp):
		return http.StatusForbidden
	case errors.As(err, &ve):
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
