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
	"math/rand/v2"
)

// getNextPlayerID walks forward from the player after activePlayerId,
// wrapping at the end of the roster, and returns the first connected player
// found. If the walk comes back around to activePlayerId without finding a
// connected player, activePlayerId is returned unchanged. Terminates in at
// most len(players) steps.
func getNextPlayerID(players []*Player, activePlayerId string) string {
	start := -1
	for i, p := range players {
		if p.PlayerID == activePlayerId {
			start = i
			break
		}
	}
	if start == -1 || len(players) < 2 {
		return activePlayerId
	}
	for i := 1; i <= len(players); i++ {
		candidate := players[(start+i)%len(players)]
		if candidate.PlayerID == activePlayerId {
			// Checked every other player; none is connected.
			return activePlayerId
		}
		if candidate.Connected() {
			return candidate.PlayerID
		}
	}
	return activePlayerId
}

// pickAvatarID assigns an avatar from avatarIds. While unused ids remain the
// pick is uniformly random among them. Once every id is in use, assignment
// recycles deterministically by roster size modulo the set size; duplicate
// avatars are expected and acceptable at that point.
func pickAvatarID(avatarIds []string, players []*Player) string {
	if len(avatarIds) == 0 {
		return ""
	}
	used := make(map[string]bool, len(players))
	for _, p := range players {
		used[p.AvatarID] = true
	}
	unused := make([]string, 0, len(avatarIds))
	for _, id := range avatarIds {
		if !used[id] {
			unused = append(unused, id)
		}
	}
	if len(unused) > 0 {
		return unused[rand.IntN(len(unused))]
	}
	return avatarIds[len(players)%len(avatarIds)]
}

// newPlayer constructs a fresh roster member for a joining player.
func newPlayer(ctx *GameContext, ev *ClientEvent, avatarIds []string) *Player {
	return &Player{
		PlayerID: ev.PlayerID,
		Name:     ev.Name,
		AvatarID: pickAvatarID(avatarIds, ctx.Players),
		Status:   StatusAwaitingMove,
		Conn:     ev.conn,
	}
}
