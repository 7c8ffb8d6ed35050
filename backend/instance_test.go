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
	"sync"
	"testing"
	"time"

	"github.com/c2FmZQ/storage"
)

type fakeConn struct {
	mu     sync.Mutex
	state  ConnState
	events []ServerEvent
}

func newFakeConn() *fakeConn {
	return &fakeConn{state: ConnOpen}
}

func (c *fakeConn) Send(ev ServerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.state = ConnClosed
	c.mu.Unlock()
}

func (c *fakeConn) ofType(eventType string) []ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ServerEvent
	for _, ev := range c.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) lastOfType(t *testing.T, eventType string) ServerEvent {
	t.Helper()
	evs := c.ofType(eventType)
	if len(evs) == 0 {
		t.Fatalf("no %s event received", eventType)
	}
	return evs[len(evs)-1]
}

type testEnv struct {
	deps    *instanceDeps
	sched   *Scheduler
	removed []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	s := storage.New(dataDir, nil)
	snapshots := NewSnapshotStore(dataDir, s)
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	t.Cleanup(func() { sched.Shutdown() })
	env := &testEnv{sched: sched}
	env.deps = &instanceDeps{
		sched:     sched,
		snapshots: snapshots,
		registry:  NewRegistry(snapshots),
		avatars:   NewAvatarService(""),
		issues:    NewIssueStore(),
		mintToken: func(gameID, playerID string) string { return "token-" + playerID },
		remove:    func(gameID string) { env.removed = append(env.removed, gameID) },
		delays:    Delays{Grace: time.Hour, Activate: time.Hour, Cleanup: time.Hour},
		debugf:    t.Logf,
	}
	return env
}

func newTestInstance(env *testEnv, gameID string) *GameInstance {
	return newGameInstance(gameID, MachineState{Value: StateStart}, &GameContext{GameID: gameID}, env.deps)
}

func clientEvent(eventType, gameID, playerID string, conn PlayerConn) *ClientEvent {
	return &ClientEvent{
		Type:     eventType,
		ID:       newUUID(),
		GameID:   gameID,
		PlayerID: playerID,
		conn:     conn,
	}
}

func TestCreateGameSendsState(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)
	in.ctx.Issues = sampleIssues()

	conn := newFakeConn()
	ownerID := newUUID()
	ev := clientEvent(EventCreateGame, gameID, ownerID, conn)
	ev.Name = "Alice"
	ev.JiraProjectID = "DEMO"
	in.ctx.GameOwner = GameOwner{PlayerID: ownerID, JiraProjectID: "DEMO"}
	in.apply(ev)

	if in.state.Value != StatePlaying {
		t.Fatalf("state = %s, want %s", in.state.Value, StatePlaying)
	}
	state := conn.lastOfType(t, EventGameState)
	if state.PlayerID != ownerID {
		t.Errorf("GAME_STATE playerId = %s, want %s", state.PlayerID, ownerID)
	}
	if state.ActivePlayerID != ownerID {
		t.Errorf("GAME_STATE activePlayerId = %s, want creator", state.ActivePlayerID)
	}
	if state.Phase != "PLAYING" {
		t.Errorf("GAME_STATE phase = %s, want PLAYING", state.Phase)
	}
	if state.Token == "" {
		t.Error("GAME_STATE carries no session token")
	}
	if len(state.Issues) == 0 {
		t.Error("GAME_STATE carries no issues")
	}
	if state.GameID != gameID {
		t.Errorf("GAME_STATE gameId = %s, want %s", state.GameID, gameID)
	}
}

func TestJoinNotifiesOthers(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn1, conn2 := newFakeConn(), newFakeConn()
	p1, p2 := newUUID(), newUUID()
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn1))

	join := clientEvent(EventJoinGame, gameID, p2, conn2)
	join.Name = "Bob"
	in.apply(join)

	if got := len(in.ctx.Players); got != 2 {
		t.Fatalf("roster size = %d, want 2", got)
	}
	state := conn2.lastOfType(t, EventGameState)
	if len(state.Players) != 2 {
		t.Errorf("joiner sees %d players, want 2", len(state.Players))
	}
	added := conn1.lastOfType(t, EventPlayerAdded)
	if added.EventByPlayerID != p2 {
		t.Errorf("PLAYER_ADDED eventByPlayerId = %s, want %s", added.EventByPlayerID, p2)
	}
	if len(conn2.ofType(EventPlayerAdded)) != 0 {
		t.Error("joiner received its own PLAYER_ADDED")
	}
}

func TestUpdatePointsValidation(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn := newFakeConn()
	p1 := newUUID()
	in.ctx.Issues = []*Issue{{ID: newUUID(), Title: "one", CurrentPoints: 3, OriginalPoints: 3}}
	issueID := in.ctx.Issues[0].ID
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn))

	// Non-Fibonacci value is rejected without a broadcast.
	up := clientEvent(EventUpdatePoints, gameID, p1, conn)
	up.IssueID = issueID
	up.Points = 4
	in.apply(up)
	if got := in.ctx.Issues[0].CurrentPoints; got != 3 {
		t.Errorf("points after rejected update = %d, want 3", got)
	}
	if len(conn.ofType(EventUpdatedPoints)) != 0 {
		t.Error("rejected update was broadcast")
	}

	// Unknown issue is rejected.
	up = clientEvent(EventUpdatePoints, gameID, p1, conn)
	up.IssueID = newUUID()
	up.Points = 8
	in.apply(up)
	if len(conn.ofType(EventUpdatedPoints)) != 0 {
		t.Error("update for unknown issue was broadcast")
	}

	// Valid update lands and is staged.
	up = clientEvent(EventUpdatePoints, gameID, p1, conn)
	up.IssueID = issueID
	up.Points = 8
	in.apply(up)
	if got := in.ctx.Issues[0].CurrentPoints; got != 8 {
		t.Errorf("points = %d, want 8", got)
	}
	if _, ok := in.ctx.CurrentMoves[issueID]; !ok {
		t.Error("update not staged in current moves")
	}
	updated := conn.lastOfType(t, EventUpdatedPoints)
	if updated.Issue == nil || updated.Issue.CurrentPoints != 8 {
		t.Error("UPDATED_POINTS does not carry the updated issue")
	}
}

func TestOutOfTurnEventIsDropped(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn1, conn2 := newFakeConn(), newFakeConn()
	p1, p2 := newUUID(), newUUID()
	in.ctx.Issues = []*Issue{{ID: newUUID()}}
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn1))
	in.apply(clientEvent(EventJoinGame, gameID, p2, conn2))

	up := clientEvent(EventUpdatePoints, gameID, p2, conn2)
	up.IssueID = in.ctx.Issues[0].ID
	up.Points = 5
	in.apply(up)

	if got := in.ctx.Issues[0].CurrentPoints; got == 5 {
		t.Error("out-of-turn update was applied")
	}
	if len(conn1.ofType(EventUpdatedPoints)) != 0 {
		t.Error("out-of-turn update was broadcast")
	}
}

func TestAddCommentPrefixesName(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn := newFakeConn()
	p1 := newUUID()
	in.ctx.Issues = []*Issue{{ID: newUUID()}}
	issueID := in.ctx.Issues[0].ID
	create := clientEvent(EventCreateGame, gameID, p1, conn)
	create.Name = "Alice"
	in.apply(create)

	comment := clientEvent(EventAddComment, gameID, p1, conn)
	comment.IssueID = issueID
	comment.Comment = "needs a spike"
	in.apply(comment)

	if got := len(in.ctx.Issues[0].Comments); got != 1 {
		t.Fatalf("issue has %d comments, want 1", got)
	}
	if got := in.ctx.Issues[0].Comments[0].Author; got != "Alice" {
		t.Errorf("comment author = %q, want Alice", got)
	}
	if got := len(in.ctx.MoveHistory); got != 1 {
		t.Fatalf("move history has %d entries, want 1", got)
	}
	if got := in.ctx.MoveHistory[0].Comment; got != "Alice: needs a spike" {
		t.Errorf("tracked comment = %q, want name-prefixed body", got)
	}
}

// Covers the full two-player round: confirming with another connected
// player keeps the game in PLAYING, and the final skip lands in GAME_OVER
// with the notification already carrying the post-transition phase.
func TestTwoPlayerRoundEndsInGameOver(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn1, conn2 := newFakeConn(), newFakeConn()
	p1, p2 := newUUID(), newUUID()
	in.ctx.Issues = []*Issue{{ID: newUUID()}}
	issueID := in.ctx.Issues[0].ID
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn1))
	in.apply(clientEvent(EventJoinGame, gameID, p2, conn2))

	up := clientEvent(EventUpdatePoints, gameID, p1, conn1)
	up.IssueID = issueID
	up.Points = 13
	in.apply(up)

	in.apply(clientEvent(EventConfirmMove, gameID, p1, conn1))
	if in.state.Value != StatePlaying {
		t.Fatalf("state after confirm = %s, want PLAYING", in.state.Value)
	}
	confirmed := conn2.lastOfType(t, EventMoveConfirmed)
	if confirmed.ActivePlayerID != p2 {
		t.Errorf("turn passed to %s, want %s", confirmed.ActivePlayerID, p2)
	}
	if confirmed.Phase != "PLAYING" {
		t.Errorf("MOVE_CONFIRMED phase = %s, want PLAYING", confirmed.Phase)
	}
	if got := len(in.ctx.MoveHistory); got != 1 {
		t.Errorf("move history has %d entries after confirm, want 1", got)
	}

	in.apply(clientEvent(EventNoChange, gameID, p2, conn2))
	if in.state.Value != StateGameOver {
		t.Fatalf("state after final skip = %s, want GAME_OVER", in.state.Value)
	}
	skipped := conn1.lastOfType(t, EventPlayerSkipped)
	if skipped.Phase != "GAME_OVER" {
		t.Errorf("PLAYER_SKIPPED phase = %s, want GAME_OVER", skipped.Phase)
	}
	if skipped.EventByPlayerID != p2 {
		t.Errorf("PLAYER_SKIPPED eventByPlayerId = %s, want %s", skipped.EventByPlayerID, p2)
	}
}

func TestLoneConfirmEndsGame(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn := newFakeConn()
	p1 := newUUID()
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn))

	in.apply(clientEvent(EventConfirmMove, gameID, p1, conn))
	if in.state.Value != StateGameOver {
		t.Fatalf("state = %s, want GAME_OVER", in.state.Value)
	}
	confirmed := conn.lastOfType(t, EventMoveConfirmed)
	if confirmed.Phase != "GAME_OVER" {
		t.Errorf("MOVE_CONFIRMED phase = %s, want GAME_OVER", confirmed.Phase)
	}
}

func TestReconnectCancelsGraceTimer(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn1, conn2 := newFakeConn(), newFakeConn()
	p1, p2 := newUUID(), newUUID()
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn1))
	in.apply(clientEvent(EventJoinGame, gameID, p2, conn2))

	conn2.close()
	in.apply(clientEvent(EventPlayerDisconnect, gameID, p2, nil))
	player := in.ctx.Player(p2)
	if player.graceTimer == nil {
		t.Fatal("disconnect did not arm the grace timer")
	}
	// Duplicate disconnects are ignored while the timer is pending.
	in.apply(clientEvent(EventPlayerDisconnect, gameID, p2, nil))

	conn2b := newFakeConn()
	in.apply(clientEvent(EventJoinGame, gameID, p2, conn2b))
	if player.graceTimer != nil {
		t.Error("reconnect did not cancel the grace timer")
	}
	if !player.Connected() {
		t.Error("player not connected after reconnect")
	}
	if got := len(in.ctx.Players); got != 2 {
		t.Errorf("roster size after reconnect = %d, want 2", got)
	}
}

func TestGraceExpiryPassesTurn(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn1, conn2 := newFakeConn(), newFakeConn()
	p1, p2 := newUUID(), newUUID()
	in.ctx.Issues = []*Issue{{ID: newUUID()}}
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn1))
	in.apply(clientEvent(EventJoinGame, gameID, p2, conn2))

	// Stage a move for the active player, then drop them.
	up := clientEvent(EventUpdatePoints, gameID, p1, conn1)
	up.IssueID = in.ctx.Issues[0].ID
	up.Points = 2
	in.apply(up)

	conn1.close()
	in.graceExpired(p1)

	if got := in.ctx.ActivePlayerID; got != p2 {
		t.Errorf("active player after grace expiry = %s, want %s", got, p2)
	}
	if len(in.ctx.CurrentMoves) != 0 {
		t.Error("staged moves survived the active player's departure")
	}
	disco := conn2.lastOfType(t, EventPlayerDisconnected)
	if disco.ActivePlayerID != p2 {
		t.Errorf("PLAYER_DISCONNECTED activePlayerId = %s, want %s", disco.ActivePlayerID, p2)
	}
	if in.state.Value != StatePlaying {
		t.Errorf("state = %s, want PLAYING", in.state.Value)
	}
}

func TestAllDisconnectedDuringPlayPersistsGame(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn := newFakeConn()
	p1 := newUUID()
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn))

	conn.close()
	in.graceExpired(p1)

	if in.state.Value != StatePersisted {
		t.Fatalf("state = %s, want PERSISTED", in.state.Value)
	}
	if in.state.History != StatePlaying {
		t.Errorf("history = %s, want PLAYING", in.state.History)
	}
	if len(env.removed) != 1 || env.removed[0] != gameID {
		t.Errorf("instance not evicted, removed = %v", env.removed)
	}

	env.deps.snapshots.Flush()
	rec, err := env.deps.snapshots.Load(gameID)
	if err != nil {
		t.Fatalf("loading snapshot: %v", err)
	}
	state, ctx, err := restoreSnapshot(rec)
	if err != nil {
		t.Fatalf("restoring snapshot: %v", err)
	}
	if state.Value != StatePersisted {
		t.Errorf("restored state = %s, want PERSISTED", state.Value)
	}
	if len(ctx.Players) != 1 {
		t.Errorf("restored roster size = %d, want 1", len(ctx.Players))
	}
}

func TestLastDisconnectInGameOverFinishesGame(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)

	conn := newFakeConn()
	p1 := newUUID()
	in.apply(clientEvent(EventCreateGame, gameID, p1, conn))
	in.apply(clientEvent(EventConfirmMove, gameID, p1, conn))
	if in.state.Value != StateGameOver {
		t.Fatalf("state = %s, want GAME_OVER", in.state.Value)
	}

	conn.close()
	in.graceExpired(p1)

	if in.state.Value != StateFinished {
		t.Fatalf("state = %s, want FINISHED", in.state.Value)
	}
	if in.ctx.cleanupTimer == nil {
		t.Error("entering FINISHED did not arm the cleanup timer")
	}
}

func TestDormantGameReactivation(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	p1, p2 := newUUID(), newUUID()
	ctx := &GameContext{
		GameID:         gameID,
		ActivePlayerID: p1,
		GameOwner:      GameOwner{PlayerID: p1},
		Players: []*Player{
			{PlayerID: p1, Name: "Alice", Status: StatusAwaitingMove},
			{PlayerID: p2, Name: "Bob", Status: StatusAwaitingMove},
		},
	}
	in := newGameInstance(gameID, MachineState{Value: StatePersisted, History: StatePlaying}, ctx, env.deps)

	conn1 := newFakeConn()
	in.apply(clientEvent(EventJoinGame, gameID, p1, conn1))
	if in.state.Value != StatePersisted {
		t.Fatalf("state after first rejoin = %s, want PERSISTED", in.state.Value)
	}
	if in.ctx.activateTimer == nil {
		t.Fatal("first rejoin did not schedule reactivation")
	}

	conn2 := newFakeConn()
	in.apply(clientEvent(EventJoinGame, gameID, p2, conn2))
	if in.state.Value != StatePlaying {
		t.Fatalf("state after full reconnect = %s, want PLAYING", in.state.Value)
	}
	if in.ctx.activateTimer != nil {
		t.Error("reactivation timer not cancelled after immediate activation")
	}
	activated := conn1.lastOfType(t, EventGameActivated)
	if activated.Phase != "PLAYING" {
		t.Errorf("GAME_ACTIVATED phase = %s, want PLAYING", activated.Phase)
	}
}

type countingSyncer struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSyncer) Sync(owner GameOwner, history []TrackedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *countingSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// A dormant game whose history points at GAME_OVER reactivates the moment
// its only player rejoins. The tracker replay belongs to the reactivation
// transition and must run exactly once.
func TestDormantRejoinIntoGameOverSyncsOnce(t *testing.T) {
	env := newTestEnv(t)
	syncer := &countingSyncer{}
	env.deps.syncer = syncer

	gameID := newUUID()
	p1 := newUUID()
	ctx := &GameContext{
		GameID:         gameID,
		ActivePlayerID: p1,
		GameOwner: GameOwner{
			PlayerID:        p1,
			JiraCompanyName: "acme",
			JiraAPIToken:    "secret",
		},
		Players:     []*Player{{PlayerID: p1, Name: "Alice", Status: StatusAwaitingMove}},
		MoveHistory: []TrackedEvent{{Type: EventUpdatePoints, IssueID: newUUID(), Points: 5}},
	}
	in := newGameInstance(gameID, MachineState{Value: StatePersisted, History: StateGameOver}, ctx, env.deps)

	in.apply(clientEvent(EventJoinGame, gameID, p1, newFakeConn()))
	if in.state.Value != StateGameOver {
		t.Fatalf("state after rejoin = %s, want GAME_OVER", in.state.Value)
	}

	deadline := time.Now().Add(2 * time.Second)
	for syncer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := syncer.count(); got != 1 {
		t.Fatalf("tracker sync ran %d times, want 1", got)
	}
}

func TestInstanceLoopSerializesEvents(t *testing.T) {
	env := newTestEnv(t)
	gameID := newUUID()
	in := newTestInstance(env, gameID)
	go in.run()
	defer in.Stop()

	conn := newFakeConn()
	p1 := newUUID()
	if err := in.Deliver(clientEvent(EventCreateGame, gameID, p1, conn)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(conn.ofType(EventGameState)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for GAME_STATE")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.deps.snapshots.Flush()
	if _, err := env.deps.snapshots.Load(gameID); err != nil {
		t.Errorf("loop did not persist after the event: %v", err)
	}
}
