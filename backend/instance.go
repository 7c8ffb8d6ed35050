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
	"errors"
	"log"
	"sync"
	"time"
)

// Delays are the timer durations used by scheduled actions. Overridable for
// tests; zero fields fall back to the defaults.
type Delays struct {
	Grace    time.Duration // disconnect grace period
	Activate time.Duration // dormant-game reactivation delay
	Cleanup  time.Duration // FINISHED to purge
}

const (
	defaultGraceDelay    = 20 * time.Second
	defaultActivateDelay = 5 * time.Second
	defaultCleanupDelay  = 8 * time.Hour
)

func (d Delays) withDefaults() Delays {
	if d.Grace == 0 {
		d.Grace = defaultGraceDelay
	}
	if d.Activate == 0 {
		d.Activate = defaultActivateDelay
	}
	if d.Cleanup == 0 {
		d.Cleanup = defaultCleanupDelay
	}
	return d
}

// instanceDeps are the collaborators shared by all game instances.
type instanceDeps struct {
	sched     *Scheduler
	snapshots *SnapshotStore
	registry  *Registry
	avatars   *AvatarService
	issues    *IssueStore
	syncer    IssueSyncer
	mintToken func(gameID, playerID string) string
	remove    func(gameID string)
	delays    Delays
	debugf    func(string, ...any)
}

// instanceRequest is one unit of work for the instance loop: an inbound
// event or an internal task (timer callback hopping onto the loop).
type instanceRequest struct {
	event *ClientEvent
	task  func()
}

// GameInstance is one running machine. A single goroutine owns state and
// context; everything reaches them through the requests channel, which
// serializes guard evaluation and action application per game.
type GameInstance struct {
	gameID string
	state  MachineState
	ctx    *GameContext
	deps   *instanceDeps

	requests chan instanceRequest
	quit     chan struct{}
	stopOnce sync.Once
}

func newGameInstance(gameID string, state MachineState, ctx *GameContext, deps *instanceDeps) *GameInstance {
	ctx.normalize()
	return &GameInstance{
		gameID:   gameID,
		state:    state,
		ctx:      ctx,
		deps:     deps,
		requests: make(chan instanceRequest, 64),
		quit:     make(chan struct{}),
	}
}

func (in *GameInstance) run() {
	for {
		select {
		case req := <-in.requests:
			if req.task != nil {
				req.task()
			} else if req.event != nil {
				in.apply(req.event)
			}
			in.persist()
		case <-in.quit:
			return
		}
	}
}

var errInstanceStopped = errors.New("game instance stopped")

// Deliver hands an inbound event to the instance loop.
func (in *GameInstance) Deliver(ev *ClientEvent) error {
	select {
	case in.requests <- instanceRequest{event: ev}:
		return nil
	case <-in.quit:
		return errInstanceStopped
	}
}

// do runs task on the instance loop. Used by timer callbacks so that their
// state mutations are serialized with event application.
func (in *GameInstance) do(task func()) {
	select {
	case in.requests <- instanceRequest{task: task}:
	case <-in.quit:
	}
}

// Stop terminates the instance loop. In-flight requests are dropped.
func (in *GameInstance) Stop() {
	in.stopOnce.Do(func() { close(in.quit) })
}

// apply resolves and executes a single transition. The state value is
// advanced before the rule's actions run so that notifications they emit
// carry the post-transition phase. Entry actions fire for the target this
// transition itself entered; an action that nests another apply (the
// reactivation path) triggers that transition's entry actions there, not
// here again.
func (in *GameInstance) apply(ev *ClientEvent) {
	rule := resolveTransition(in.state.Value, in.ctx, ev)
	if rule == nil {
		in.deps.debugf("dropping event %s (id %s) in state %s, game %s", ev.Type, ev.ID, in.state.Value, in.gameID)
		return
	}
	prev := in.state.Value
	in.state = nextState(in.state, rule)
	entered := in.state.Value
	if entered != prev {
		log.Printf("Game %s: %s -> %s on %s", in.gameID, prev, entered, ev.Type)
	}
	for _, action := range rule.actions {
		action(in, ev)
	}
	if entered != prev {
		for _, entry := range entryActions[entered] {
			entry(in, ev)
		}
	}
}

// enterState forces a direct state change outside the event table. Used by
// timer callbacks (already serialized on the loop) for the GAME_OVER to
// FINISHED idle transition.
func (in *GameInstance) enterState(target StateValue, ev *ClientEvent) {
	prev := in.state.Value
	if target == prev {
		return
	}
	log.Printf("Game %s: %s -> %s", in.gameID, prev, target)
	in.state = MachineState{Value: target, History: in.state.History}
	if target.Active() {
		in.state.History = target
	}
	for _, entry := range entryActions[target] {
		entry(in, ev)
	}
}

// persist snapshots the current state. The write is asynchronous and
// ordered latest-wins per game; see SnapshotStore.
func (in *GameInstance) persist() {
	select {
	case <-in.quit:
		// A stopped instance is being purged; do not resurrect its record.
		return
	default:
	}
	rec, err := newGameRecord(in.gameID, in.state, in.ctx)
	if err != nil {
		log.Printf("Game %s: building snapshot: %v", in.gameID, err)
		return
	}
	in.deps.snapshots.Save(rec)
	in.deps.registry.Update(RecordMeta{
		ID:          in.gameID,
		Phase:       rec.Phase,
		PlayerCount: len(in.ctx.Players),
		UpdatedDate: rec.UpdatedDate,
	})
}

// sendTo delivers a notification to one player. Send failures are logged by
// the connection and never affect game state.
func (in *GameInstance) sendTo(p *Player, ev ServerEvent) {
	if p == nil || p.Conn == nil {
		return
	}
	ev.GameID = in.gameID
	if err := p.Conn.Send(ev); err != nil {
		log.Printf("Game %s: send %s to player %s: %v", in.gameID, ev.Type, p.PlayerID, err)
	}
}

// broadcast delivers a notification to every player with a connection.
func (in *GameInstance) broadcast(ev ServerEvent) {
	for _, p := range in.ctx.Players {
		in.sendTo(p, ev)
	}
}

// broadcastExcept delivers a notification to everyone but playerId.
func (in *GameInstance) broadcastExcept(playerId string, ev ServerEvent) {
	for _, p := range in.ctx.Players {
		if p.PlayerID == playerId {
			continue
		}
		in.sendTo(p, ev)
	}
}
