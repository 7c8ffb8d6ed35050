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
	"log"
	"sort"
)

// sendGameState sends the full game snapshot to a single player, typically
// the one who just joined or created the game.
func sendGameState(in *GameInstance, playerId string) {
	p := in.ctx.Player(playerId)
	if p == nil {
		return
	}
	ev := NewServerEvent(EventGameState)
	ev.EventByPlayerID = playerId
	ev.ActivePlayerID = in.ctx.ActivePlayerID
	ev.GameOwnerID = in.ctx.GameOwner.PlayerID
	ev.Phase = in.state.Phase()
	ev.PlayerID = p.PlayerID
	ev.Players = in.ctx.PlayersState()
	ev.Issues = in.ctx.Issues
	if in.deps.mintToken != nil {
		ev.Token = in.deps.mintToken(in.gameID, p.PlayerID)
	}
	in.sendTo(p, ev)
}

// actionCreateGame initializes the game from the creating event: active
// player, avatar theme, and the owner as first roster member.
func actionCreateGame(in *GameInstance, ev *ClientEvent) {
	in.ctx.ActivePlayerID = ev.PlayerID
	in.ctx.AvatarSetID = ev.AvatarSetID
	owner := newPlayer(in.ctx, ev, in.deps.avatars.AvatarIDs(ev.AvatarSetID))
	in.ctx.Players = append(in.ctx.Players, owner)
	sendGameState(in, ev.PlayerID)
}

// actionAddPlayer handles both first joins and reconnects. A reconnect
// replaces the stale connection handle and cancels any pending
// disconnect-grace timer.
func actionAddPlayer(in *GameInstance, ev *ClientEvent) {
	if p := in.ctx.Player(ev.PlayerID); p != nil {
		p.Conn = ev.conn
		if ev.Name != "" {
			p.Name = ev.Name
		}
		if p.graceTimer != nil {
			p.graceTimer.Cancel()
			p.graceTimer = nil
			in.deps.debugf("game %s: cancelled grace timer for reconnecting player %s", in.gameID, ev.PlayerID)
		}
	} else {
		p := newPlayer(in.ctx, ev, in.deps.avatars.AvatarIDs(in.ctx.AvatarSetID))
		in.ctx.Players = append(in.ctx.Players, p)
	}
	sendGameState(in, ev.PlayerID)

	added := NewServerEvent(EventPlayerAdded)
	added.EventByPlayerID = ev.PlayerID
	added.Players = in.ctx.PlayersState()
	in.broadcastExcept(ev.PlayerID, added)
}

// actionUpdatePoints validates and applies a point estimate, staging the
// change for the external tracker sync.
func actionUpdatePoints(in *GameInstance, ev *ClientEvent) {
	if !isFibonacciPoints(ev.Points) {
		log.Printf("Rejected non-Fibonacci point value %d [event id %s, game %s]", ev.Points, ev.ID, in.gameID)
		return
	}
	issue := in.ctx.IssueByID(ev.IssueID)
	if issue == nil {
		log.Printf("Issue not found while updating points [issueId %s, game %s]", ev.IssueID, in.gameID)
		return
	}
	issue.CurrentPoints = ev.Points
	in.ctx.CurrentMoves[ev.IssueID] = TrackedEvent{
		Type:    EventUpdatePoints,
		IssueID: ev.IssueID,
		Points:  ev.Points,
	}

	updated := NewServerEvent(EventUpdatedPoints)
	updated.EventByPlayerID = ev.PlayerID
	updated.Issue = issue
	in.broadcast(updated)
}

// actionAddComment appends a name-prefixed comment to the issue and to the
// move history.
func actionAddComment(in *GameInstance, ev *ClientEvent) {
	p := in.ctx.Player(ev.PlayerID)
	if p == nil {
		log.Printf("Player not found while adding comment [playerId %s, game %s]", ev.PlayerID, in.gameID)
		return
	}
	issue := in.ctx.IssueByID(ev.IssueID)
	if issue == nil {
		log.Printf("Issue not found while adding comment [issueId %s, game %s]", ev.IssueID, in.gameID)
		return
	}
	body := fmt.Sprintf("%s: %s", p.Name, ev.Comment)
	issue.Comments = append(issue.Comments, Comment{Author: p.Name, Body: ev.Comment})
	in.ctx.MoveHistory = append(in.ctx.MoveHistory, TrackedEvent{
		Type:    EventAddComment,
		IssueID: ev.IssueID,
		Comment: body,
	})

	updated := NewServerEvent(EventUpdatedPoints)
	updated.EventByPlayerID = ev.PlayerID
	updated.Issue = issue
	in.broadcast(updated)
}

// actionOpenIssue and actionCloseIssue are stateless notifications of which
// issue the active player is viewing.
func actionOpenIssue(in *GameInstance, ev *ClientEvent) {
	opened := NewServerEvent(EventIssueOpened)
	opened.EventByPlayerID = ev.PlayerID
	opened.IssueID = ev.IssueID
	in.broadcast(opened)
}

func actionCloseIssue(in *GameInstance, ev *ClientEvent) {
	closed := NewServerEvent(EventIssueClosed)
	closed.EventByPlayerID = ev.PlayerID
	closed.IssueID = ev.IssueID
	in.broadcast(closed)
}

// flushCurrentMoves commits staged edits to the move history in a stable
// order and clears the staging area.
func flushCurrentMoves(ctx *GameContext) {
	if len(ctx.CurrentMoves) == 0 {
		return
	}
	ids := make([]string, 0, len(ctx.CurrentMoves))
	for id := range ctx.CurrentMoves {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ctx.MoveHistory = append(ctx.MoveHistory, ctx.CurrentMoves[id])
	}
	ctx.CurrentMoves = make(map[string]TrackedEvent)
}

// actionConfirmMove commits the active player's staged edits and passes the
// turn to the next connected player.
func actionConfirmMove(in *GameInstance, ev *ClientEvent) {
	p := in.ctx.Player(ev.PlayerID)
	if p == nil {
		return
	}
	p.Status = StatusConfirmedChange
	for _, other := range in.ctx.Players {
		if other.PlayerID != ev.PlayerID {
			other.Status = StatusAwaitingMove
		}
	}
	in.ctx.ActivePlayerID = getNextPlayerID(in.ctx.Players, in.ctx.ActivePlayerID)
	flushCurrentMoves(in.ctx)

	confirmed := NewServerEvent(EventMoveConfirmed)
	confirmed.EventByPlayerID = ev.PlayerID
	confirmed.ActivePlayerID = in.ctx.ActivePlayerID
	confirmed.Phase = in.state.Phase()
	in.broadcast(confirmed)
}

// actionNoChange marks the active player as skipped, discards their staged
// edits, and passes the turn.
func actionNoChange(in *GameInstance, ev *ClientEvent) {
	p := in.ctx.Player(ev.PlayerID)
	if p == nil {
		return
	}
	p.Status = StatusSkipped
	in.ctx.ActivePlayerID = getNextPlayerID(in.ctx.Players, in.ctx.ActivePlayerID)
	in.ctx.CurrentMoves = make(map[string]TrackedEvent)

	skipped := NewServerEvent(EventPlayerSkipped)
	skipped.EventByPlayerID = ev.PlayerID
	skipped.ActivePlayerID = in.ctx.ActivePlayerID
	skipped.Phase = in.state.Phase()
	in.broadcast(skipped)
}

// actionPlayerDisconnect arms the grace-period timer for the player. A
// reconnect through actionAddPlayer cancels it; re-entrant disconnects for
// a player with a pending timer are ignored.
func actionPlayerDisconnect(in *GameInstance, ev *ClientEvent) {
	p := in.ctx.Player(ev.PlayerID)
	if p == nil {
		return
	}
	if p.graceTimer != nil {
		return
	}
	playerId := p.PlayerID
	handle, err := in.deps.sched.After(in.deps.delays.Grace, func() {
		in.do(func() { in.graceExpired(playerId) })
	})
	if err != nil {
		log.Printf("Game %s: scheduling grace timer for %s: %v", in.gameID, playerId, err)
		return
	}
	p.graceTimer = handle
	in.deps.debugf("game %s: grace timer armed for player %s", in.gameID, playerId)
}

// graceExpired runs on the instance loop when a disconnect grace period
// elapses without a reconnect.
func (in *GameInstance) graceExpired(playerId string) {
	p := in.ctx.Player(playerId)
	if p == nil {
		return
	}
	p.graceTimer = nil
	if p.Connected() {
		// Reconnected through a fresh join that raced the timer.
		return
	}
	if in.ctx.ActivePlayerID == playerId {
		in.ctx.ActivePlayerID = getNextPlayerID(in.ctx.Players, playerId)
		in.ctx.CurrentMoves = make(map[string]TrackedEvent)

		disconnected := NewServerEvent(EventPlayerDisconnected)
		disconnected.EventByPlayerID = playerId
		disconnected.ActivePlayerID = in.ctx.ActivePlayerID
		disconnected.Phase = in.state.Phase()
		in.broadcast(disconnected)
	}
	if in.ctx.ConnectedCount() > 0 {
		return
	}
	// Nobody is left driving play.
	switch {
	case in.state.Value == StateGameOver:
		in.enterState(StateFinished, &ClientEvent{Type: EventPlayerDisconnect, ID: newUUID(), GameID: in.gameID})
	case in.state.Value.Active():
		in.apply(&ClientEvent{Type: EventPersist, ID: newUUID(), GameID: in.gameID})
		in.persist()
		in.deps.remove(in.gameID)
		in.Stop()
	}
}

// actionScheduleActivate arms the dormant-game reactivation timer. Only one
// pending timer exists per game.
func actionScheduleActivate(in *GameInstance, ev *ClientEvent) {
	if in.ctx.activateTimer != nil {
		return
	}
	handle, err := in.deps.sched.After(in.deps.delays.Activate, func() {
		in.do(func() {
			in.ctx.activateTimer = nil
			in.apply(&ClientEvent{Type: EventActivate, ID: newUUID(), GameID: in.gameID})
		})
	})
	if err != nil {
		log.Printf("Game %s: scheduling reactivation: %v", in.gameID, err)
		return
	}
	in.ctx.activateTimer = handle
	log.Printf("Game %s: scheduled reactivation after %s (event %s)", in.gameID, in.deps.delays.Activate, ev.ID)
}

// actionActivateIfAllConnected reactivates immediately once every roster
// member is connected, cancelling the pending reactivation timer.
func actionActivateIfAllConnected(in *GameInstance, ev *ClientEvent) {
	if !allPlayersConnected(in.ctx) {
		return
	}
	if in.ctx.activateTimer != nil {
		in.ctx.activateTimer.Cancel()
		in.ctx.activateTimer = nil
		log.Printf("Game %s: cleared scheduled reactivation, all players connected", in.gameID)
	}
	in.apply(&ClientEvent{Type: EventActivate, ID: newUUID(), GameID: in.gameID})
}

// actionActivateGame announces the return from dormancy. The machine has
// already re-entered the history sub-state when this runs.
func actionActivateGame(in *GameInstance, ev *ClientEvent) {
	activated := NewServerEvent(EventGameActivated)
	activated.Phase = in.state.Phase()
	in.broadcast(activated)
}

// actionUpdateJira replays the accumulated move history against the
// external tracker. Fire-and-forget: the transition never waits on it and
// sync failures are logged, not surfaced.
func actionUpdateJira(in *GameInstance, ev *ClientEvent) {
	if in.deps.syncer == nil {
		return
	}
	owner := in.ctx.GameOwner
	if owner.JiraCompanyName == "" || owner.JiraAPIToken == "" {
		in.deps.debugf("game %s: no tracker credentials, skipping sync", in.gameID)
		return
	}
	history := make([]TrackedEvent, len(in.ctx.MoveHistory))
	copy(history, in.ctx.MoveHistory)
	gameID := in.gameID
	go func() {
		if err := in.deps.syncer.Sync(owner, history); err != nil {
			log.Printf("Game %s: tracker sync failed: %v", gameID, err)
		}
	}()
}

// actionScheduleCleanup arms the terminal purge timer on entering FINISHED.
func actionScheduleCleanup(in *GameInstance, ev *ClientEvent) {
	if in.ctx.cleanupTimer != nil {
		return
	}
	handle, err := in.deps.sched.After(in.deps.delays.Cleanup, func() {
		in.do(func() { in.cleanup() })
	})
	if err != nil {
		log.Printf("Game %s: scheduling cleanup: %v", in.gameID, err)
		return
	}
	in.ctx.cleanupTimer = handle
	log.Printf("Game %s: scheduled cleanup after %s", in.gameID, in.deps.delays.Cleanup)
}

// cleanup purges all in-memory and durable state for the game.
func (in *GameInstance) cleanup() {
	log.Printf("Game %s: executing scheduled cleanup", in.gameID)
	in.deps.issues.Clear(in.gameID)
	if err := in.deps.snapshots.Delete(in.gameID); err != nil {
		log.Printf("Game %s: deleting snapshot: %v", in.gameID, err)
	}
	in.deps.registry.Remove(in.gameID)
	in.deps.remove(in.gameID)
	in.Stop()
}
