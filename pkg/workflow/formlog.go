// Copyright 2025 Tom Barlow
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

package workflow

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/keduman/workflow-app/pkg/errors"
)

// DefaultMaxFormDataSize is the default cap, in characters, on the combined
// size of all payloads in an instance's form log.
const DefaultMaxFormDataSize = 50000

// FormEntry is one submitted payload. Payload is the canonical JSON text of
// the submitted form data.
type FormEntry struct {
	Seq         int       `json:"seq"`
	StepID      string    `json:"step_id,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	Payload     string    `json:"payload"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FormLog is the append-only history of payloads accepted for an instance.
// Entries are never rewritten once appended.
type FormLog []FormEntry

// Size returns the combined size of all payloads in characters.
func (l FormLog) Size() int {
	n := 0
	for _, e := range l {
		n += utf8.RuneCountInString(e.Payload)
	}
	return n
}

// Append adds an entry for data and returns the extended log. The log is left
// untouched and a PayloadTooLargeError returned when the combined size would
// exceed limit. A limit of zero or less disables the check.
func (l FormLog) Append(stepID, submittedBy string, data map[string]any, limit int, now time.Time) (FormLog, error) {
	payload, err := EncodePayload(data)
	if err != nil {
		return l, err
	}

	size := l.Size() + utf8.RuneCountInString(payload)
	if limit > 0 && size > limit {
		return l, &errors.PayloadTooLargeError{Size: size, Limit: limit}
	}

	return append(l, FormEntry{
		Seq:         len(l) + 1,
		StepID:      stepID,
		SubmittedBy: submittedBy,
		Payload:     payload,
		SubmittedAt: now,
	}), nil
}

// EncodePayload renders data as JSON with object keys sorted. A nil or empty
// map encodes as "{}".
func EncodePayload(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return "", &errors.ValidationError{
			Field:   "form_data",
			Message: "form data cannot be encoded: " + err.Error(),
		}
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
