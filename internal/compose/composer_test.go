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

package compose

import (
	"reflect"
	"strings"
	"testing"

	"github.com/tgoc99/llmbox/internal/models"
)

func TestReplySubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hi", "Re: Hi"},
		{"Re: Hi", "Re: Hi"},
		{"RE: Hi", "RE: Hi"},
		{"re: Hi", "re: Hi"},
		{"  Re: Hi  ", "Re: Hi"},
		{"", "Re: "},
		{"Regarding the offer", "Re: Regarding the offer"},
	}

	for _, tt := range tests {
		if got := ReplySubject(tt.in); got != tt.want {
			t.Errorf("ReplySubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestReplySubjectNeverDoubles applies ReplySubject repeatedly; the result
// must stabilize after one application.
func TestReplySubjectNeverDoubles(t *testing.T) {
	for _, subject := range []string{"Hi", "Re: Hi", "re: re: Hi", ""} {
		once := ReplySubject(subject)
		if twice := ReplySubject(once); twice != once {
			t.Errorf("subject %q: %q re-prefixed to %q", subject, once, twice)
		}
		if strings.Count(strings.ToLower(once), "re: ") > strings.Count(strings.ToLower(subject), "re: ")+1 {
			t.Errorf("subject %q gained more than one prefix: %q", subject, once)
		}
	}
}

func TestReply_SwapsAddresses(t *testing.T) {
	in := &models.IncomingEmail{
		From:    "user@example.com",
		To:      "reply@llmbox.dev",
		Subject: "Question",
	}

	out := Reply(in, "Answer.", "<m1@x>", []string{"<m1@x>"})

	if out.From != "reply@llmbox.dev" {
		t.Errorf("out.From = %q, want service address", out.From)
	}
	if out.To != "user@example.com" {
		t.Errorf("out.To = %q, want original sender", out.To)
	}
	if out.Subject != "Re: Question" {
		t.Errorf("out.Subject = %q", out.Subject)
	}
	if out.InReplyTo != "<m1@x>" {
		t.Errorf("out.InReplyTo = %q", out.InReplyTo)
	}
	if !reflect.DeepEqual(out.References, []string{"<m1@x>"}) {
		t.Errorf("out.References = %v", out.References)
	}
}

func TestFallbackNotice_ThreadsLikeAReply(t *testing.T) {
	in := &models.IncomingEmail{
		From:    "user@example.com",
		To:      "reply@llmbox.dev",
		Subject: "Question",
	}

	out := FallbackNotice(in, "<m1@x>", []string{"<m1@x>"})

	if out.To != "user@example.com" || out.InReplyTo != "<m1@x>" {
		t.Errorf("fallback not threaded to sender: to=%q inReplyTo=%q", out.To, out.InReplyTo)
	}
	if out.Body == "" || strings.Contains(out.Body, "error") {
		t.Errorf("fallback body should be a brief non-technical notice, got %q", out.Body)
	}
}
