// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"fmt"
	"regexp"
)

// uuidRegex is a regex for standard UUIDs (8-4-4-4-12 hex digits)
var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// isValidUUID checks if the string is a valid UUID.
func isValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

var clientEventTypes = map[string]bool{
	EventCreateGame:       true,
	EventJoinGame:         true,
	EventUpdatePoints:     true,
	EventAddComment:       true,
	EventOpenIssue:        true,
	EventCloseIssue:       true,
	EventConfirmMove:      true,
	EventNoChange:         true,
	EventPlayerDisconnect: true,
	EventActivate:         true,
	EventPersist:          true,
}

const maxCommentLength = 32 * 1024

// ValidateClientEvent checks the envelope of an inbound event before it is
// handed to a game instance. Semantic checks (turn order, Fibonacci values,
// issue lookup) belong to guards and actions, not here.
func ValidateClientEvent(ev *ClientEvent) error {
	if !clientEventTypes[ev.Type] {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.ID == "" || !isValidUUID(ev.ID) {
		return fmt.Errorf("event id %q is not a UUID", ev.ID)
	}
	if ev.GameID != "" && !isValidUUID(ev.GameID) {
		return fmt.Errorf("gameId %q is not a UUID", ev.GameID)
	}
	if ev.PlayerID != "" && !isValidUUID(ev.PlayerID) {
		return fmt.Errorf("playerId %q is not a UUID", ev.PlayerID)
	}
	if len(ev.Comment) > maxCommentLength {
		return fmt.Errorf("comment exceeds %d bytes", maxCommentLength)
	}
	switch ev.Type {
	case EventUpdatePoints, EventAddComment, EventOpenIssue, EventCloseIssue:
		if ev.IssueID == "" {
			return fmt.Errorf("%s requires an issueId", ev.Type)
		}
	}
	return nil
}
