/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package snapshot

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// StoppedMessage is synthesized when the server reports its recording
// process as down.
const StoppedMessage = "Server process stopped"

// invalidResponseMessage replaces the alert when a stats reply carries
// no message content at all.
const invalidResponseMessage = "Status request error: invalid server response"

// Stats is the outcome of scanning one stats reply. HasContent is set
// as soon as any message element or a down running-state marker was
// seen; an empty message element sets it without touching Message, so
// a bare <message/> clears the alert.
type Stats struct {
	Message    string
	HasContent bool
}

// ParseStats scans a stats reply for alert content. Writes follow
// document order: a later non-empty message overrides an earlier down
// marker and vice versa. Decode errors end the scan; whatever was
// accumulated up to that point stands.
func ParseStats(data []byte) Stats {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var stats Stats

	for {
		tok, err := dec.Token()
		if err != nil {
			return stats
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "message":
			var text string
			if err := dec.DecodeElement(&text, &start); err != nil {
				return stats
			}

			stats.HasContent = true

			if trimmed := strings.TrimSpace(text); trimmed != "" {
				stats.Message = trimmed
			}
		case "server-running":
			var text string
			if err := dec.DecodeElement(&text, &start); err != nil {
				return stats
			}

			if strings.TrimSpace(text) == "down" {
				stats.Message = StoppedMessage
				stats.HasContent = true
			}
		}
	}
}

// StatusMessage folds a stats fetch into the alert text shown for the
// server. A transport failure or a reply without message content both
// yield a fixed request-error message; otherwise the parsed message
// stands, including the empty string that clears a previous alert.
func StatusMessage(data []byte, fetchErr error) string {
	if fetchErr != nil {
		return fmt.Sprintf("Status request error: %v", fetchErr)
	}

	stats := ParseStats(data)
	if !stats.HasContent {
		return invalidResponseMessage
	}

	return stats.Message
}
