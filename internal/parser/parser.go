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

// Package parser converts the inbound webhook's wire payload into the
// canonical IncomingEmail. The payload arrives as flat multipart form fields;
// threading identifiers are dug out of the raw header block.
package parser

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/tgoc99/llmbox/internal/apperr"
	"github.com/tgoc99/llmbox/internal/models"
	"github.com/tgoc99/llmbox/internal/threading"
)

// fallbackIDDomain is the domain used when synthesizing a Message-ID for
// senders that supplied none.
const fallbackIDDomain = "llmbox.local"

// Payload carries the raw transport fields exactly as the webhook sender
// posted them.
type Payload struct {
	From    string
	To      string
	Subject string
	Text    string
	Headers string // raw RFC 5322 header block, one string
}

// Parse validates and normalizes a payload into an IncomingEmail. Every
// missing required field is reported at once.
func Parse(p *Payload) (*models.IncomingEmail, error) {
	var missing []string
	if strings.TrimSpace(p.From) == "" {
		missing = append(missing, "from")
	}
	if strings.TrimSpace(p.To) == "" {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(p.Text) == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return nil, &apperr.ValidationError{Fields: missing}
	}

	from := ExtractAddress(p.From)
	to := ExtractAddress(p.To)

	hdr := readHeaderBlock(p.Headers)

	messageID := strings.TrimSpace(hdr.Get("Message-ID"))
	if messageID == "" {
		messageID = syntheticMessageID(from, to, p.Subject, p.Text)
	}

	var references []string
	if refs := hdr.Get("References"); refs != "" {
		references = strings.Fields(refs)
	}

	return &models.IncomingEmail{
		From:       from,
		To:         to,
		Subject:    strings.TrimSpace(p.Subject),
		Body:       CleanBody(p.Text),
		MessageID:  threading.Bracket(messageID),
		InReplyTo:  strings.TrimSpace(hdr.Get("In-Reply-To")),
		References: references,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// readHeaderBlock parses a raw header block. Malformed blocks degrade to
// whatever was readable — a bad Received line must not lose the message.
func readHeaderBlock(raw string) textproto.Header {
	if strings.TrimSpace(raw) == "" {
		return textproto.Header{}
	}
	// ReadHeader wants a terminating blank line.
	if !strings.HasSuffix(raw, "\n") {
		raw += "\r\n"
	}
	raw += "\r\n"

	hdr, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		return hdr
	}
	return hdr
}

// ExtractAddress pulls the bare address out of `"Display Name" <addr>`,
// `<addr>`, or a bare address, lowercased.
func ExtractAddress(s string) string {
	s = strings.TrimSpace(s)
	if a, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(a.Address)
	}

	// Non-RFC display names (unquoted commas etc.) trip net/mail; fall back
	// to the angle brackets directly.
	if open := strings.LastIndex(s, "<"); open >= 0 {
		if end := strings.Index(s[open:], ">"); end > 0 {
			return strings.ToLower(strings.TrimSpace(s[open+1 : open+end]))
		}
	}
	return strings.ToLower(s)
}

// syntheticMessageID derives a deterministic fallback identifier so threading
// and dedupe still work for senders that omit Message-ID. Two identical
// submissions hash to the same id, which is exactly what dedupe wants.
func syntheticMessageID(from, to, subject, text string) string {
	h := sha256.New()
	for _, part := range []string{from, to, subject, text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32] + "@" + fallbackIDDomain
}

// signatureDelimiters mark the start of a signature block; everything from
// the first match on is dropped.
var signatureDelimiters = []string{
	"--",
	"___",
	"Sent from my ",
	"Sent from Outlook",
	"Get Outlook for ",
}

// CleanBody strips quoted lines and truncates at the first signature
// delimiter. Best-effort plain-text heuristic, not MIME-aware.
func CleanBody(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if isSignatureDelimiter(trimmed) {
			break
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isSignatureDelimiter(line string) bool {
	for _, d := range signatureDelimiters {
		if strings.HasPrefix(line, d) {
			return true
		}
	}
	return false
}
