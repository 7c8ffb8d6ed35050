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
	"log"
)

// Guard is a pure predicate over the current context and the triggering
// event. Guards never mutate state; they may log.
type Guard func(ctx *GameContext, ev *ClientEvent) bool

// isPlayersTurn passes when the event comes from the active player.
func isPlayersTurn(ctx *GameContext, ev *ClientEvent) bool {
	result := ctx.ActivePlayerID != "" && ctx.ActivePlayerID == ev.PlayerID
	if !result {
		log.Printf("Out-of-turn move attempted: event [type: %s, id: %s], playerId %s", ev.Type, ev.ID, ev.PlayerID)
	}
	return result
}

// areOtherPlayersDone passes when every connected player other than the
// event's player has acted on the round (status != AwaitingMove).
// Disconnected players never block the round.
func areOtherPlayersDone(ctx *GameContext, ev *ClientEvent) bool {
	done := true
	for _, p := range ctx.Players {
		if p.PlayerID == ev.PlayerID || !p.Connected() {
			continue
		}
		done = done && p.Status != StatusAwaitingMove
	}
	return done
}

// isOnlyConnectedPlayer passes when exactly one player is connected and it
// is the event's player.
func isOnlyConnectedPlayer(ctx *GameContext, ev *ClientEvent) bool {
	p := ctx.Player(ev.PlayerID)
	return p != nil && p.Connected() && ctx.ConnectedCount() == 1
}

func noConnectedPlayers(ctx *GameContext, ev *ClientEvent) bool {
	return ctx.ConnectedCount() == 0
}

func oneOrMoreConnectedPlayers(ctx *GameContext, ev *ClientEvent) bool {
	return ctx.ConnectedCount() > 0
}

// allPlayersConnected passes when every roster member has an open
// connection.
func allPlayersConnected(ctx *GameContext) bool {
	for _, p := range ctx.Players {
		if !p.Connected() {
			return false
		}
	}
	return len(ctx.Players) > 0
}

func not(g Guard) Guard {
	return func(ctx *GameContext, ev *ClientEvent) bool {
		return !g(ctx, ev)
	}
}
