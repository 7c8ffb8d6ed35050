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

import "testing"

func rosterCtx(players ...*Player) *GameContext {
	return &GameContext{GameID: newUUID(), Players: players}
}

func connected(id string, status PlayerStatus) *Player {
	return &Player{PlayerID: id, Status: status, Conn: newFakeConn()}
}

func disconnected(id string, status PlayerStatus) *Player {
	return &Player{PlayerID: id, Status: status}
}

func TestIsPlayersTurn(t *testing.T) {
	ctx := rosterCtx(connected("p1", StatusAwaitingMove), connected("p2", StatusAwaitingMove))
	ctx.ActivePlayerID = "p1"

	if !isPlayersTurn(ctx, &ClientEvent{PlayerID: "p1", ID: newUUID()}) {
		t.Error("active player's own event failed the turn guard")
	}
	if isPlayersTurn(ctx, &ClientEvent{PlayerID: "p2", ID: newUUID()}) {
		t.Error("out-of-turn event passed the turn guard")
	}
	ctx.ActivePlayerID = ""
	if isPlayersTurn(ctx, &ClientEvent{PlayerID: "", ID: newUUID()}) {
		t.Error("empty active player matched an empty event playerId")
	}
}

func TestAreOtherPlayersDone(t *testing.T) {
	ev := &ClientEvent{PlayerID: "p1"}

	ctx := rosterCtx(
		connected("p1", StatusAwaitingMove),
		connected("p2", StatusConfirmedChange),
		connected("p3", StatusSkipped),
	)
	if !areOtherPlayersDone(ctx, ev) {
		t.Error("all others acted but guard failed")
	}

	ctx = rosterCtx(
		connected("p1", StatusAwaitingMove),
		connected("p2", StatusAwaitingMove),
	)
	if areOtherPlayersDone(ctx, ev) {
		t.Error("a waiting player did not block the round")
	}

	// A disconnected waiting player never blocks.
	ctx = rosterCtx(
		connected("p1", StatusAwaitingMove),
		disconnected("p2", StatusAwaitingMove),
	)
	if !areOtherPlayersDone(ctx, ev) {
		t.Error("disconnected player blocked the round")
	}
}

func TestIsOnlyConnectedPlayer(t *testing.T) {
	ev := &ClientEvent{PlayerID: "p1"}

	ctx := rosterCtx(connected("p1", StatusAwaitingMove), disconnected("p2", StatusAwaitingMove))
	if !isOnlyConnectedPlayer(ctx, ev) {
		t.Error("sole connected player not recognized")
	}

	ctx = rosterCtx(connected("p1", StatusAwaitingMove), connected("p2", StatusAwaitingMove))
	if isOnlyConnectedPlayer(ctx, ev) {
		t.Error("guard passed with two connected players")
	}

	// The single connected player is someone else.
	ctx = rosterCtx(disconnected("p1", StatusAwaitingMove), connected("p2", StatusAwaitingMove))
	if isOnlyConnectedPlayer(ctx, ev) {
		t.Error("guard passed for a disconnected player")
	}
}

func TestConnectionCountGuards(t *testing.T) {
	ev := &ClientEvent{PlayerID: "p1"}

	empty := rosterCtx(disconnected("p1", StatusAwaitingMove))
	if !noConnectedPlayers(empty, ev) {
		t.Error("noConnectedPlayers failed on a fully disconnected roster")
	}
	if oneOrMoreConnectedPlayers(empty, ev) {
		t.Error("oneOrMoreConnectedPlayers passed on a fully disconnected roster")
	}

	mixed := rosterCtx(connected("p1", StatusAwaitingMove), disconnected("p2", StatusAwaitingMove))
	if noConnectedPlayers(mixed, ev) {
		t.Error("noConnectedPlayers passed with a live connection")
	}
	if !oneOrMoreConnectedPlayers(mixed, ev) {
		t.Error("oneOrMoreConnectedPlayers failed with a live connection")
	}
	if allPlayersConnected(mixed) {
		t.Error("allPlayersConnected passed with a disconnected member")
	}

	full := rosterCtx(connected("p1", StatusAwaitingMove), connected("p2", StatusAwaitingMove))
	if !allPlayersConnected(full) {
		t.Error("allPlayersConnected failed on a fully connected roster")
	}
	if allPlayersConnected(rosterCtx()) {
		t.Error("allPlayersConnected passed on an empty roster")
	}
}

func TestNotCombinator(t *testing.T) {
	ev := &ClientEvent{PlayerID: "p1"}
	ctx := rosterCtx(connected("p1", StatusAwaitingMove))
	if not(isOnlyConnectedPlayer)(ctx, ev) {
		t.Error("negated guard returned true where the guard passes")
	}
}
