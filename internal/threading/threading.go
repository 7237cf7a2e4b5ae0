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

// Package threading computes the reply headers mail clients use to group a
// conversation: In-Reply-To points at the message being answered, References
// carries the whole chain.
package threading

import "strings"

// Bracket normalizes a message identifier to its <...> form. Idempotent: an
// already-bracketed identifier passes through unchanged. Empty or
// whitespace-only input normalizes to "".
func Bracket(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		return id
	}
	return "<" + id + ">"
}

// ReplyHeaders derives the outgoing threading headers from the incoming
// message's identifiers. The outgoing References list is the incoming list in
// original order, bracket-normalized, with the incoming message id appended;
// empty entries are dropped.
func ReplyHeaders(messageID string, references []string) (inReplyTo string, outRefs []string) {
	inReplyTo = Bracket(messageID)

	outRefs = make([]string, 0, len(references)+1)
	for _, ref := range references {
		if b := Bracket(ref); b != "" {
			outRefs = append(outRefs, b)
		}
	}
	if inReplyTo != "" {
		outRefs = append(outRefs, inReplyTo)
	}
	return inReplyTo, outRefs
}

// JoinReferences renders a References list as the space-joined header value.
func JoinReferences(refs []string) string {
	return strings.Join(refs, " ")
}
