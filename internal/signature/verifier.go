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

// Package signature authenticates inbound webhook requests. The sender signs
// timestamp||rawBody with a shared secret (HMAC-SHA256) and supplies both the
// timestamp and the signature as headers. A stale timestamp is rejected even
// when the signature is correct, which caps the replay window.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/tgoc99/llmbox/internal/apperr"
)

// DefaultTolerance is the maximum accepted clock skew between the signed
// timestamp and the server clock, in either direction.
const DefaultTolerance = 10 * time.Minute

// Verifier validates webhook signatures against a shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. A zero tolerance falls back to
// DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the signature headers for a raw request body.
//
// Missing headers are an authentication failure (the sender did not even try
// to sign) and log at warn. A present-but-wrong signature or a stale
// timestamp is an authorization failure and logs at error — either someone is
// replaying old traffic or forging requests.
func (v *Verifier) Verify(rawBody []byte, timestampHdr, signatureHdr string) error {
	if timestampHdr == "" || signatureHdr == "" {
		slog.Warn("webhook request without signature headers",
			"has_timestamp", timestampHdr != "",
			"has_signature", signatureHdr != "",
		)
		return apperr.ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestampHdr, 10, 64)
	if err != nil {
		slog.Error("webhook timestamp not parseable — possible forgery",
			"timestamp", timestampHdr,
		)
		return apperr.ErrStaleTimestamp
	}

	// Skew check is independent of signature correctness: a correctly signed
	// request replayed later must still fail.
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		slog.Error("webhook timestamp outside tolerance — possible replay",
			"timestamp", ts,
			"skew", skew,
		)
		return apperr.ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestampHdr))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	supplied, err := decodeSignature(signatureHdr)
	if err != nil {
		slog.Error("webhook signature not decodable", "error", err)
		return apperr.ErrBadSignature
	}

	if !hmac.Equal(expected, supplied) {
		slog.Error("webhook signature mismatch — possible forgery")
		return apperr.ErrBadSignature
	}

	return nil
}

// decodeSignature accepts the signature as hex or base64, whichever the
// sender chose.
func decodeSignature(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}
