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

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tgoc99/llmbox/internal/apperr"
)

const testSecret = "whsec_test_0123456789"

// sign computes the hex signature the webhook sender would supply.
func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// newTestVerifier pins "now" so timestamp checks are deterministic.
func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier(testSecret, 10*time.Minute)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)

	body := []byte("from=a%40x.com&to=svc%40y.com")
	ts := fmt.Sprintf("%d", now.Unix())

	if err := v.Verify(body, ts, sign(testSecret, ts, body)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerify_Base64Signature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)

	body := []byte("payload")
	ts := fmt.Sprintf("%d", now.Unix())

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(ts))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if err := v.Verify(body, ts, sig); err != nil {
		t.Fatalf("base64 signature rejected: %v", err)
	}
}

func TestVerify_MissingHeaders(t *testing.T) {
	v := newTestVerifier(time.Unix(1_700_000_000, 0))

	tests := []struct {
		name      string
		timestamp string
		signature string
	}{
		{"no timestamp", "", "deadbeef"},
		{"no signature", "1700000000", ""},
		{"neither", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify([]byte("body"), tt.timestamp, tt.signature)
			if !errors.Is(err, apperr.ErrMissingSignature) {
				t.Errorf("err = %v, want ErrMissingSignature", err)
			}
		})
	}
}

func TestVerify_MutatedBodyFails(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)

	body := []byte("from=a%40x.com")
	ts := fmt.Sprintf("%d", now.Unix())
	sig := sign(testSecret, ts, body)

	// Flip one bit in each byte position; every mutation must fail.
	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		if err := v.Verify(mutated, ts, sig); !errors.Is(err, apperr.ErrBadSignature) {
			t.Fatalf("mutation at byte %d: err = %v, want ErrBadSignature", i, err)
		}
	}
}

func TestVerify_MutatedSignatureFails(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)

	body := []byte("from=a%40x.com")
	ts := fmt.Sprintf("%d", now.Unix())
	sig := []byte(sign(testSecret, ts, body))

	// Swap one hex digit.
	if sig[0] == '0' {
		sig[0] = '1'
	} else {
		sig[0] = '0'
	}

	if err := v.Verify(body, ts, string(sig)); !errors.Is(err, apperr.ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerify_StaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)
	body := []byte("body")

	tests := []struct {
		name   string
		signed time.Time
	}{
		{"11 minutes past", now.Add(-11 * time.Minute)},
		{"11 minutes future", now.Add(11 * time.Minute)},
		{"one day past", now.Add(-24 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := fmt.Sprintf("%d", tt.signed.Unix())
			// Signature is correct for this timestamp — must fail anyway.
			err := v.Verify(body, ts, sign(testSecret, ts, body))
			if !errors.Is(err, apperr.ErrStaleTimestamp) {
				t.Errorf("err = %v, want ErrStaleTimestamp", err)
			}
		})
	}
}

func TestVerify_TimestampWithinTolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)
	body := []byte("body")

	for _, offset := range []time.Duration{-9 * time.Minute, 9 * time.Minute} {
		ts := fmt.Sprintf("%d", now.Add(offset).Unix())
		if err := v.Verify(body, ts, sign(testSecret, ts, body)); err != nil {
			t.Errorf("offset %v: unexpected error: %v", offset, err)
		}
	}
}

func TestVerify_GarbageTimestamp(t *testing.T) {
	v := newTestVerifier(time.Unix(1_700_000_000, 0))
	err := v.Verify([]byte("body"), "not-a-number", "deadbeef")
	if !errors.Is(err, apperr.ErrStaleTimestamp) {
		t.Fatalf("err = %v, want ErrStaleTimestamp", err)
	}
}
