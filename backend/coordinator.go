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
	"os"
	"sync"
	"time"
)

// ErrLockTimeout is returned when the per-game creation lock cannot be
// acquired in time. The event is not retried and no state is created.
var ErrLockTimeout = errors.New("game lock acquisition timed out")

const defaultLockTimeout = 5 * time.Second

// keyedLock is a per-key mutex with bounded acquisition. It serializes the
// "does this game's instance exist, create or restore it" decision.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]chan struct{})}
}

func (kl *keyedLock) acquire(key string, timeout time.Duration) error {
	kl.mu.Lock()
	ch, ok := kl.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		kl.locks[key] = ch
	}
	kl.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-time.After(timeout):
		return ErrLockTimeout
	}
}

func (kl *keyedLock) release(key string) {
	kl.mu.Lock()
	ch, ok := kl.locks[key]
	kl.mu.Unlock()
	if ok {
		<-ch
	}
}

// Coordinator owns the in-memory registry of running game instances. An
// inbound event resolves (or creates, or restores) the instance for its
// game under the per-game lock, then is delivered to the instance loop,
// which needs no further locking.
type Coordinator struct {
	deps        *instanceDeps
	importer    IssueImporter
	owner       GameOwner // env-default tracker credentials
	lockTimeout time.Duration

	locks *keyedLock

	mu        sync.RWMutex
	instances map[string]*GameInstance
}

// CoordinatorOptions configure a Coordinator.
type CoordinatorOptions struct {
	Scheduler   *Scheduler
	Snapshots   *SnapshotStore
	Registry    *Registry
	Avatars     *AvatarService
	Issues      *IssueStore
	Syncer      IssueSyncer
	Importer    IssueImporter
	MintToken   func(gameID, playerID string) string
	Owner       GameOwner
	Delays      Delays
	LockTimeout time.Duration
	Debugf      func(string, ...any)
}

// NewCoordinator creates the coordinator and wires the shared instance
// dependencies.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.LockTimeout == 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.Debugf == nil {
		opts.Debugf = func(string, ...any) {}
	}
	c := &Coordinator{
		importer:    opts.Importer,
		owner:       opts.Owner,
		lockTimeout: opts.LockTimeout,
		locks:       newKeyedLock(),
		instances:   make(map[string]*GameInstance),
	}
	c.deps = &instanceDeps{
		sched:     opts.Scheduler,
		snapshots: opts.Snapshots,
		registry:  opts.Registry,
		avatars:   opts.Avatars,
		issues:    opts.Issues,
		syncer:    opts.Syncer,
		mintToken: opts.MintToken,
		remove:    c.remove,
		delays:    opts.Delays.withDefaults(),
		debugf:    opts.Debugf,
	}
	return c
}

// ProcessEvent routes one inbound player event. A game that cannot be found
// or created answers with FSM_NOT_FOUND on the requesting connection.
func (c *Coordinator) ProcessEvent(ev *ClientEvent, conn PlayerConn) error {
	if ev.GameID == "" {
		ev.GameID = newUUID()
	}
	if ev.PlayerID == "" {
		ev.PlayerID = newUUID()
	}
	ev.conn = conn
	log.Printf("Processing player event %s, playerId %s, eventId %s, gameId %s", ev.Type, ev.PlayerID, ev.ID, ev.GameID)

	if ev.Type == EventCreateGame {
		c.stageTrackerIssues(ev)
	}

	in, err := c.getInstance(ev)
	if err != nil {
		return err
	}
	if in == nil {
		if conn != nil {
			notFound := NewServerEvent(EventFSMNotFound)
			notFound.GameID = ev.GameID
			if err := conn.Send(notFound); err != nil {
				log.Printf("Sending FSM_NOT_FOUND for game %s: %v", ev.GameID, err)
			}
		}
		return nil
	}
	return in.Deliver(ev)
}

// ProcessDisconnect synthesizes a PLAYER_DISCONNECT for a dropped
// transport connection. Only delivered to an already-running instance; a
// disconnect never creates or restores a game.
func (c *Coordinator) ProcessDisconnect(gameID, playerID string) {
	c.mu.RLock()
	in := c.instances[gameID]
	c.mu.RUnlock()
	if in == nil {
		return
	}
	ev := &ClientEvent{
		Type:     EventPlayerDisconnect,
		ID:       newUUID(),
		GameID:   gameID,
		PlayerID: playerID,
	}
	if err := in.Deliver(ev); err != nil {
		c.deps.debugf("delivering disconnect for game %s: %v", gameID, err)
	}
}

// stageTrackerIssues pulls the backlog from the external tracker ahead of
// game creation so instance setup never does tracker I/O under the lock.
func (c *Coordinator) stageTrackerIssues(ev *ClientEvent) {
	if c.importer == nil {
		return
	}
	owner := c.gameOwner(ev)
	if owner.JiraCompanyName == "" || owner.JiraProjectID == "" || owner.JiraAPIToken == "" {
		return
	}
	issues, err := c.importer.FetchIssues(owner)
	if err != nil {
		log.Printf("Fetching tracker issues for game %s: %v", ev.GameID, err)
		return
	}
	c.deps.issues.Put(ev.GameID, issues)
}

func (c *Coordinator) gameOwner(ev *ClientEvent) GameOwner {
	owner := GameOwner{
		PlayerID:        ev.PlayerID,
		JiraEmail:       ev.JiraEmail,
		JiraAPIToken:    ev.JiraAPIToken,
		JiraCompanyName: ev.JiraCompanyName,
		JiraProjectID:   ev.JiraProjectID,
	}
	if owner.JiraEmail == "" {
		owner.JiraEmail = c.owner.JiraEmail
	}
	if owner.JiraAPIToken == "" {
		owner.JiraAPIToken = c.owner.JiraAPIToken
	}
	if owner.JiraCompanyName == "" {
		owner.JiraCompanyName = c.owner.JiraCompanyName
	}
	if owner.JiraProjectID == "" {
		owner.JiraProjectID = c.owner.JiraProjectID
	}
	return owner
}

// getInstance resolves the running instance for the event's game,
// restoring it from the snapshot store or creating it (CREATE_GAME only)
// as needed. Returns nil when neither is possible.
func (c *Coordinator) getInstance(ev *ClientEvent) (*GameInstance, error) {
	gameID := ev.GameID

	c.mu.RLock()
	in := c.instances[gameID]
	c.mu.RUnlock()
	if in != nil {
		return in, nil
	}

	if err := c.locks.acquire(gameID, c.lockTimeout); err != nil {
		log.Printf("Game %s: %v", gameID, err)
		return nil, err
	}
	defer c.locks.release(gameID)

	c.mu.RLock()
	in = c.instances[gameID]
	c.mu.RUnlock()
	if in != nil {
		return in, nil
	}

	var resumeFinished bool
	rec, err := c.deps.snapshots.Load(gameID)
	switch {
	case err == nil:
		state, ctx, err := restoreSnapshot(rec)
		if err != nil {
			log.Printf("Game %s: %v", gameID, err)
			return nil, nil
		}
		log.Printf("Restoring game %s in state %s (history %s)", gameID, state.Value, state.History)
		in = newGameInstance(gameID, state, ctx, c.deps)
		resumeFinished = state.Value == StateFinished
	case os.IsNotExist(err) && ev.Type == EventCreateGame:
		log.Printf("Creating game %s, owner %s", gameID, ev.PlayerID)
		ctx := &GameContext{
			GameID:    gameID,
			GameOwner: c.gameOwner(ev),
			Issues:    c.deps.issues.Take(gameID),
		}
		in = newGameInstance(gameID, MachineState{Value: StateStart}, ctx, c.deps)
	case os.IsNotExist(err):
		return nil, nil
	default:
		log.Printf("Game %s: loading snapshot: %v", gameID, err)
		return nil, nil
	}

	c.mu.Lock()
	c.instances[gameID] = in
	c.mu.Unlock()
	go in.run()
	if resumeFinished {
		// A restored FINISHED game lost its purge timer with the old
		// process. Re-arm it so the record does not outlive the delay.
		in.do(func() { actionScheduleCleanup(in, ev) })
	}
	return in, nil
}

// remove evicts a stopped or dormant instance from the in-memory registry.
// The game's keyed lock stays in the map: dropping it while another
// goroutine holds the channel would let a fresh acquirer into the
// create-or-restore section alongside the holder.
func (c *Coordinator) remove(gameID string) {
	c.mu.Lock()
	delete(c.instances, gameID)
	c.mu.Unlock()
}

// InstanceCount returns the number of running instances.
func (c *Coordinator) InstanceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instances)
}

// Shutdown stops every running instance and waits for queued snapshot
// writes to drain.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for _, in := range c.instances {
		in.Stop()
	}
	c.instances = make(map[string]*GameInstance)
	c.mu.Unlock()
	c.deps.snapshots.Flush()
}
