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

// Package retry wraps outbound calls with bounded exponential backoff. Both
// the completion-service call and the delivery call run under the same policy
// shape and the same retryable-status classification.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgoc99/llmbox/internal/apperr"
)

// DefaultRetryableStatuses are the upstream statuses worth another attempt.
func DefaultRetryableStatuses() map[int]bool {
	return map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}
}

// Policy configures a retry loop. Pure configuration, safe to copy.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	RetryableStatuses map[int]bool
}

// DefaultPolicy returns 3 attempts with a 1s base delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		RetryableStatuses: DefaultRetryableStatuses(),
	}
}

// Do executes op up to MaxAttempts times. Attempt n (n >= 2) is preceded by a
// delay of BaseDelay × 2^(n−2). Non-retryable errors fail immediately;
// exhaustion returns the last error tagged with the attempt count. The delay
// honors ctx cancellation.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.RetryableStatuses
	if retryable == nil {
		retryable = DefaultRetryableStatuses()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.BaseDelay << (attempt - 2)
			slog.Info("retrying outbound call",
				"call", name,
				"attempt", attempt,
				"delay", delay,
			)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: %w (after %d attempts)", name, err, attempt-1)
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !apperr.IsRetryable(lastErr, retryable) {
			slog.Warn("outbound call failed with non-retryable error",
				"call", name,
				"attempt", attempt,
				"error", lastErr,
			)
			return fmt.Errorf("%s: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
