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

// Package models defines the data structures shared across the reply service.
package models

import "time"

// IncomingEmail is a normalized inbound message, built once by the parser and
// immutable for the rest of the request.
type IncomingEmail struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	MessageID  string    `json:"message_id"` // always bracket-delimited
	InReplyTo  string    `json:"in_reply_to,omitempty"`
	References []string  `json:"references,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutgoingEmail is the reply envelope handed to the delivery provider.
type OutgoingEmail struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	InReplyTo  string   `json:"in_reply_to"`
	References []string `json:"references"`
}

// Completion is the result of a completion-service call.
type Completion struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// UserSettings holds the known optional per-user knobs. The set of fields is
// versioned so rows written by older builds stay readable.
type UserSettings struct {
	Version        int    `json:"version"`
	ReplyTone      string `json:"reply_tone,omitempty"`
	SignatureBlock string `json:"signature_block,omitempty"`
}

// SettingsVersion is the settings schema version written by this build.
const SettingsVersion = 1

// User is an identity the service has seen before, keyed by its primary
// email address.
type User struct {
	ID        string
	Email     string
	Settings  UserSettings
	Created   bool // true when this request created the row
	CreatedAt time.Time
	UpdatedAt time.Time
}
