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

// Client (inbound) event types.
const (
	EventCreateGame       = "CREATE_GAME"
	EventJoinGame         = "JOIN_GAME"
	EventUpdatePoints     = "UPDATE_POINTS"
	EventAddComment       = "ADD_COMMENT"
	EventOpenIssue        = "OPEN_ISSUE"
	EventCloseIssue       = "CLOSE_ISSUE"
	EventConfirmMove      = "CONFIRM_MOVE"
	EventNoChange         = "NO_CHANGE"
	EventPlayerDisconnect = "PLAYER_DISCONNECT"
	EventActivate         = "ACTIVATE"
	EventPersist          = "PERSIST"
)

// Server (outbound) event types.
const (
	EventGameState          = "GAME_STATE"
	EventPlayerAdded        = "PLAYER_ADDED"
	EventUpdatedPoints      = "UPDATED_POINTS"
	EventIssueOpened        = "ISSUE_OPENED"
	EventIssueClosed        = "ISSUE_CLOSED"
	EventMoveConfirmed      = "MOVE_CONFIRMED"
	EventPlayerSkipped      = "PLAYER_SKIPPED"
	EventPlayerDisconnected = "PLAYER_DISCONNECTED"
	EventGameActivated      = "GAME_ACTIVATED"
	EventFSMNotFound        = "FSM_NOT_FOUND"
)

// ClientEvent is the common envelope for all inbound player events.
// Type-specific fields are flattened into the envelope; unused fields are
// empty for any given type.
type ClientEvent struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	GameID   string `json:"gameId,omitempty"`
	PlayerID string `json:"playerId,omitempty"`

	// CREATE_GAME / JOIN_GAME
	Name        string `json:"name,omitempty"`
	AvatarSetID string `json:"avatarSetId,omitempty"`

	// CREATE_GAME issue-tracker credentials (optional, fall back to env)
	JiraEmail       string `json:"jiraEmail,omitempty"`
	JiraAPIToken    string `json:"jiraAPIToken,omitempty"`
	JiraCompanyName string `json:"jiraCompanyName,omitempty"`
	JiraProjectID   string `json:"jiraProjectId,omitempty"`

	// UPDATE_POINTS / ADD_COMMENT / OPEN_ISSUE / CLOSE_ISSUE
	IssueID string `json:"issueId,omitempty"`
	Points  int    `json:"points,omitempty"`
	Comment string `json:"comment,omitempty"`

	// conn is the live connection the event arrived on. It is attached by
	// the transport layer and never serialized.
	conn PlayerConn
}

// PlayerState is the per-player view included in roster-carrying
// notifications.
type PlayerState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarID  string `json:"avatarId,omitempty"`
	Connected bool   `json:"connected"`
}

// ServerEvent is the common envelope for all outbound notifications.
type ServerEvent struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	EventByPlayerID string `json:"eventByPlayerId,omitempty"`

	GameID         string        `json:"gameId,omitempty"`
	GameOwnerID    string        `json:"gameOwnerId,omitempty"`
	ActivePlayerID string        `json:"activePlayerId,omitempty"`
	Phase          string        `json:"phase,omitempty"`
	PlayerID       string        `json:"playerId,omitempty"`
	Token          string        `json:"token,omitempty"`
	Players        []PlayerState `json:"players,omitempty"`
	IssueID        string        `json:"issueId,omitempty"`
	Issue          *Issue        `json:"issue,omitempty"`

	// Issues is last so that it is the field trimmed when the event is
	// logged truncated.
	Issues []*Issue `json:"issues,omitempty"`
}

// NewServerEvent returns an outbound event envelope with a fresh unique id.
func NewServerEvent(eventType string) ServerEvent {
	return ServerEvent{
		Type: eventType,
		ID:   newUUID(),
	}
}
