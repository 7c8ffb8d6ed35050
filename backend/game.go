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
	"github.com/google/uuid"
)

func newUUID() string {
	return uuid.NewString()
}

// PlayerStatus tracks what a player has done with the current round.
type PlayerStatus string

const (
	StatusAwaitingMove    PlayerStatus = "AwaitingMove"
	StatusConfirmedChange PlayerStatus = "ConfirmedChange"
	StatusSkipped         PlayerStatus = "Skipped"
)

// ConnState mirrors the lifecycle of a live player connection.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosing
	ConnClosed
)

// PlayerConn is a live connection to a player. The websocket transport
// provides the real implementation; tests substitute fakes.
type PlayerConn interface {
	// Send queues an event for delivery. Failures are logged by the
	// implementation and must never affect game state.
	Send(ev ServerEvent) error
	State() ConnState
}

// Comment is a single author+body pair on an issue.
type Comment struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Issue is an estimable work item.
type Issue struct {
	ID                 string    `json:"id"`
	Key                string    `json:"key,omitempty"`
	Title              string    `json:"title,omitempty"`
	Description        string    `json:"description,omitempty"`
	AcceptanceCriteria string    `json:"acceptanceCriteria,omitempty"`
	EpicID             string    `json:"epicId,omitempty"`
	EpicKey            string    `json:"epicKey,omitempty"`
	Created            int64     `json:"created,omitempty"`
	CurrentPoints      int       `json:"currentPoints,omitempty"`
	OriginalPoints     int       `json:"originalPoints,omitempty"`
	Reporter           string    `json:"reporter,omitempty"`
	Status             string    `json:"status,omitempty"`
	Type               string    `json:"type,omitempty"`
	Comments           []Comment `json:"comments,omitempty"`
}

// Player is a member of a game. Conn and the grace timer are live-only and
// excluded from snapshots.
type Player struct {
	PlayerID string       `json:"playerId"`
	Name     string       `json:"name"`
	AvatarID string       `json:"avatarId,omitempty"`
	Status   PlayerStatus `json:"status"`

	Conn PlayerConn `json:"-"`

	// graceTimer is the pending disconnect grace-period timer, if any.
	graceTimer *TimerHandle
}

// Connected reports whether the player's live connection is open.
func (p *Player) Connected() bool {
	return p.Conn != nil && p.Conn.State() == ConnOpen
}

// GameOwner is the creating player's identity plus the external-tracker
// credentials needed for the end-of-game sync. Set once, immutable.
type GameOwner struct {
	PlayerID        string `json:"playerId"`
	JiraEmail       string `json:"jiraEmail,omitempty"`
	JiraAPIToken    string `json:"jiraAPIToken,omitempty"`
	JiraCompanyName string `json:"jiraCompanyName,omitempty"`
	JiraProjectID   string `json:"jiraProjectId,omitempty"`
}

// TrackedEvent is one committed edit, replayed against the external tracker
// when the game ends.
type TrackedEvent struct {
	Type    string `json:"type"` // UPDATE_POINTS or ADD_COMMENT
	IssueID string `json:"issueId"`
	Points  int    `json:"points,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// GameContext is the mutable state a game's machine operates on.
type GameContext struct {
	GameID         string    `json:"gameId"`
	ActivePlayerID string    `json:"activePlayerId,omitempty"`
	AvatarSetID    string    `json:"avatarSetId,omitempty"`
	GameOwner      GameOwner `json:"gameOwner"`
	Issues         []*Issue  `json:"issues,omitempty"`
	Players        []*Player `json:"players,omitempty"`

	// CurrentMoves holds the active player's uncommitted point edits,
	// keyed by issue id. Flushed into MoveHistory on CONFIRM_MOVE,
	// discarded on NO_CHANGE.
	CurrentMoves map[string]TrackedEvent `json:"currentMoves,omitempty"`

	// MoveHistory is append-only for the life of the game.
	MoveHistory []TrackedEvent `json:"moveHistory,omitempty"`

	// Pending game-level timers. Never serialized.
	activateTimer *TimerHandle
	cleanupTimer  *TimerHandle
}

func (c *GameContext) normalize() {
	if c.CurrentMoves == nil {
		c.CurrentMoves = make(map[string]TrackedEvent)
	}
	if c.MoveHistory == nil {
		c.MoveHistory = make([]TrackedEvent, 0)
	}
	if c.Players == nil {
		c.Players = make([]*Player, 0)
	}
}

// PlayerIndex returns the index of playerId in players, or -1.
func (c *GameContext) PlayerIndex(playerId string) int {
	for i, p := range c.Players {
		if p.PlayerID == playerId {
			return i
		}
	}
	return -1
}

// Player returns the player with the given id, or nil.
func (c *GameContext) Player(playerId string) *Player {
	if i := c.PlayerIndex(playerId); i != -1 {
		return c.Players[i]
	}
	return nil
}

// IssueByID returns the issue with the given id, or nil.
func (c *GameContext) IssueByID(issueId string) *Issue {
	for _, issue := range c.Issues {
		if issue.ID == issueId {
			return issue
		}
	}
	return nil
}

// ConnectedCount returns the number of players with an open connection.
func (c *GameContext) ConnectedCount() int {
	n := 0
	for _, p := range c.Players {
		if p.Connected() {
			n++
		}
	}
	return n
}

// PlayersState projects the roster into its notification form.
func (c *GameContext) PlayersState() []PlayerState {
	states := make([]PlayerState, 0, len(c.Players))
	for _, p := range c.Players {
		states = append(states, PlayerState{
			ID:        p.PlayerID,
			Name:      p.Name,
			AvatarID:  p.AvatarID,
			Connected: p.Connected(),
		})
	}
	return states
}
