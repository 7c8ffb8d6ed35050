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

// StateValue is the tagged state of a game machine. The ACTIVE compound
// state of the original hierarchy is flattened into its sub-states; a value
// is either one of the ACTIVE sub-states or PERSISTED.
type StateValue string

const (
	StateStart     StateValue = "START"
	StatePlaying   StateValue = "PLAYING"
	StateGameOver  StateValue = "GAME_OVER"
	StateFinished  StateValue = "FINISHED"
	StatePersisted StateValue = "PERSISTED"

	// stateHistory is a pseudo-target: re-enter the last ACTIVE sub-state.
	stateHistory StateValue = "HISTORY"
)

// Active reports whether s belongs to the ACTIVE compound state.
func (s StateValue) Active() bool {
	switch s {
	case StateStart, StatePlaying, StateGameOver, StateFinished:
		return true
	}
	return false
}

// MachineState is the full machine position: the current value plus the
// history re-entry point (the last ACTIVE sub-state, used when leaving
// PERSISTED through ACTIVATE).
type MachineState struct {
	Value   StateValue `json:"value"`
	History StateValue `json:"history,omitempty"`
}

// Phase is the coarse label exposed to clients and stored on the durable
// record: the ACTIVE sub-state while active, PERSISTED otherwise.
func (s MachineState) Phase() string {
	return string(s.Value)
}

// Action mutates game state on a transition and emits notifications through
// the instance. Implementations live in actions.go.
type Action func(in *GameInstance, ev *ClientEvent)

// transitionRule is one row of the transition table: all guards must pass
// for the rule to fire.
type transitionRule struct {
	guards  []Guard
	target  StateValue
	actions []Action
}

// machineTransitions is the legal event sequence: state x event -> rules.
// Rules are evaluated in order; the first whose guards all pass wins.
// Populated in init: the disconnect and reactivation actions reach this
// table again through apply, so a package-level composite literal would
// form an initialization cycle.
var machineTransitions map[StateValue]map[string][]transitionRule

func init() {
	machineTransitions = map[StateValue]map[string][]transitionRule{
		StateStart: {
			EventCreateGame: {{target: StatePlaying, actions: []Action{actionCreateGame}}},
			EventPersist:    {{target: StatePersisted}},
		},
		StatePlaying: {
			EventJoinGame:     {{target: StatePlaying, actions: []Action{actionAddPlayer}}},
			EventUpdatePoints: {{guards: []Guard{isPlayersTurn}, target: StatePlaying, actions: []Action{actionUpdatePoints}}},
			EventAddComment:   {{guards: []Guard{isPlayersTurn}, target: StatePlaying, actions: []Action{actionAddComment}}},
			EventOpenIssue:    {{guards: []Guard{isPlayersTurn}, target: StatePlaying, actions: []Action{actionOpenIssue}}},
			EventCloseIssue:   {{guards: []Guard{isPlayersTurn}, target: StatePlaying, actions: []Action{actionCloseIssue}}},
			EventConfirmMove: {
				{guards: []Guard{isPlayersTurn, not(isOnlyConnectedPlayer)}, target: StatePlaying, actions: []Action{actionConfirmMove}},
				{guards: []Guard{isPlayersTurn, isOnlyConnectedPlayer}, target: StateGameOver, actions: []Action{actionConfirmMove}},
			},
			EventNoChange: {
				{guards: []Guard{isPlayersTurn, not(areOtherPlayersDone)}, target: StatePlaying, actions: []Action{actionNoChange}},
				{guards: []Guard{isPlayersTurn, areOtherPlayersDone}, target: StateGameOver, actions: []Action{actionNoChange}},
			},
			EventPlayerDisconnect: {{target: StatePlaying, actions: []Action{actionPlayerDisconnect}}},
			EventPersist:          {{target: StatePersisted}},
		},
		StateGameOver: {
			EventJoinGame:         {{target: StateGameOver, actions: []Action{actionAddPlayer}}},
			EventPlayerDisconnect: {{target: StateGameOver, actions: []Action{actionPlayerDisconnect}}},
			EventPersist:          {{target: StatePersisted}},
		},
		StatePersisted: {
			EventJoinGame: {
				{guards: []Guard{noConnectedPlayers}, target: StatePersisted, actions: []Action{actionAddPlayer, actionScheduleActivate, actionActivateIfAllConnected}},
				{guards: []Guard{oneOrMoreConnectedPlayers}, target: StatePersisted, actions: []Action{actionAddPlayer, actionActivateIfAllConnected}},
			},
			EventActivate: {{target: stateHistory, actions: []Action{actionActivateGame}}},
		},
	}
}

// entryActions run when a transition enters a state it was not already in.
var entryActions = map[StateValue][]Action{
	StateGameOver: {actionUpdateJira},
	StateFinished: {actionScheduleCleanup},
}

// resolveTransition returns the first rule for (state, event) whose guards
// all pass, or nil when the event is not legal in this state.
func resolveTransition(state StateValue, ctx *GameContext, ev *ClientEvent) *transitionRule {
	rules, ok := machineTransitions[state]
	if !ok {
		return nil
	}
	for i := range rules[ev.Type] {
		rule := &rules[ev.Type][i]
		passed := true
		for _, guard := range rule.guards {
			if !guard(ctx, ev) {
				passed = false
				break
			}
		}
		if passed {
			return rule
		}
	}
	return nil
}

// nextState computes the machine position after a rule fires, resolving the
// HISTORY pseudo-target and maintaining the history re-entry point.
func nextState(state MachineState, rule *transitionRule) MachineState {
	target := rule.target
	if target == stateHistory {
		target = state.History
		if target == "" || !target.Active() {
			// A game persisted before CREATE_GAME has no history yet.
			target = StateStart
		}
	}
	next := MachineState{Value: target, History: state.History}
	if target.Active() {
		next.History = target
	}
	return next
}
