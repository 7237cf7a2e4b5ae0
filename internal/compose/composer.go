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

// Package compose assembles outbound reply envelopes from generated content
// and threading metadata.
package compose

import (
	"strings"

	"github.com/tgoc99/llmbox/internal/models"
)

// fallbackBody is sent when generation or delivery failed after retries. It
// deliberately says nothing technical.
const fallbackBody = "Sorry — we couldn't generate a reply to your email just now. " +
	"Please try again in a few minutes."

// ReplySubject prefixes a subject with "Re: " exactly once. Detection is
// case-insensitive so "RE: foo" and "re: foo" are not double-prefixed.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// Reply builds the outgoing reply: the service address the user wrote to
// becomes the sender, the original sender becomes the recipient.
func Reply(in *models.IncomingEmail, body, inReplyTo string, references []string) *models.OutgoingEmail {
	return &models.OutgoingEmail{
		From:       in.To,
		To:         in.From,
		Subject:    ReplySubject(in.Subject),
		Body:       body,
		InReplyTo:  inReplyTo,
		References: references,
	}
}

// FallbackNotice builds the best-effort notice sent when the pipeline failed
// downstream. It threads into the same conversation as a normal reply would.
func FallbackNotice(in *models.IncomingEmail, inReplyTo string, references []string) *models.OutgoingEmail {
	return Reply(in, fallbackBody, inReplyTo, references)
}
