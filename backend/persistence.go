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
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
)

// GameRecord is the durable per-game state record: the machine snapshot
// plus coarse metadata.
type GameRecord struct {
	ID          string          `json:"id"`
	Snapshot    json.RawMessage `json:"snapshot"`
	Phase       string          `json:"phase"`
	CreatedDate time.Time       `json:"createdDate"`
	UpdatedDate time.Time       `json:"updatedDate"`
}

// snapshotBody is the serialized machine position and context. Live
// connection handles and timer handles are excluded by construction (tagged
// json:"-" or unexported on the model types).
type snapshotBody struct {
	State   MachineState `json:"state"`
	Context *GameContext `json:"context"`
}

// persistedForm maps a live machine position to its stored form: an active
// game is stored as PERSISTED with the current sub-state as the history
// re-entry point, so a restore lands dormant and reactivates through
// ACTIVATE. FINISHED is stored as-is; cleanup will purge it.
func persistedForm(state MachineState) MachineState {
	if !state.Value.Active() || state.Value == StateFinished {
		return state
	}
	return MachineState{Value: StatePersisted, History: state.History}
}

// newGameRecord serializes the snapshot. Must be called on the instance
// loop; the resulting record is immutable and safe to hand to the writer.
func newGameRecord(gameID string, state MachineState, ctx *GameContext) (*GameRecord, error) {
	body, err := json.Marshal(snapshotBody{State: persistedForm(state), Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return &GameRecord{
		ID:          gameID,
		Snapshot:    body,
		Phase:       state.Phase(),
		UpdatedDate: time.Now().UTC(),
	}, nil
}

// restoreSnapshot rebuilds the machine position and context from a durable
// record. Connection handles are absent until players reconnect.
func restoreSnapshot(rec *GameRecord) (MachineState, *GameContext, error) {
	var body snapshotBody
	if err := json.Unmarshal(rec.Snapshot, &body); err != nil {
		return MachineState{}, nil, fmt.Errorf("unmarshaling snapshot for game %s: %w", rec.ID, err)
	}
	if body.Context == nil {
		return MachineState{}, nil, fmt.Errorf("snapshot for game %s has no context", rec.ID)
	}
	body.Context.normalize()
	return body.State, body.Context, nil
}

// SnapshotStore writes game records to durable storage. Writes are
// asynchronous relative to the transition that produced them but strictly
// ordered per game: a pending record is replaced, never reordered, so the
// latest state always wins.
type SnapshotStore struct {
	dataDir string
	storage *storage.Storage

	mu      sync.Mutex
	pending map[string]*GameRecord
	writing map[string]bool
	created map[string]time.Time
	wg      sync.WaitGroup
}

// NewSnapshotStore creates a snapshot store rooted at dataDir.
func NewSnapshotStore(dataDir string, s *storage.Storage) *SnapshotStore {
	return &SnapshotStore{
		dataDir: dataDir,
		storage: s,
		pending: make(map[string]*GameRecord),
		writing: make(map[string]bool),
		created: make(map[string]time.Time),
	}
}

func recordFilename(gameID string) string {
	return filepath.Join("fsm", fmt.Sprintf("%s.json", url.PathEscape(gameID)))
}

// Save queues rec as the latest record for its game and returns
// immediately. One writer goroutine per game drains queued records in
// order.
func (ss *SnapshotStore) Save(rec *GameRecord) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.pending[rec.ID] = rec
	if !ss.writing[rec.ID] {
		ss.writing[rec.ID] = true
		ss.wg.Add(1)
		go ss.drain(rec.ID)
	}
}

func (ss *SnapshotStore) drain(gameID string) {
	defer ss.wg.Done()
	for {
		ss.mu.Lock()
		rec, ok := ss.pending[gameID]
		if !ok {
			ss.writing[gameID] = false
			ss.mu.Unlock()
			return
		}
		delete(ss.pending, gameID)
		created, haveCreated := ss.created[gameID]
		ss.mu.Unlock()

		if !haveCreated {
			// First write since startup; preserve the original creation
			// time if a record already exists on disk.
			if existing, err := ss.Load(gameID); err == nil {
				created = existing.CreatedDate
			} else {
				created = rec.UpdatedDate
			}
			ss.mu.Lock()
			ss.created[gameID] = created
			ss.mu.Unlock()
		}
		rec.CreatedDate = created

		if err := ss.storage.SaveDataFile(recordFilename(gameID), rec); err != nil {
			log.Printf("SnapshotStore: writing record for game %s: %v", gameID, err)
		}
	}
}

// Load reads the durable record for a game. Returns os.ErrNotExist when no
// record exists.
func (ss *SnapshotStore) Load(gameID string) (*GameRecord, error) {
	var rec GameRecord
	if err := ss.storage.ReadDataFile(recordFilename(gameID), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	return &rec, nil
}

// Delete removes the durable record and forgets any queued write.
func (ss *SnapshotStore) Delete(gameID string) error {
	ss.mu.Lock()
	delete(ss.pending, gameID)
	delete(ss.created, gameID)
	ss.mu.Unlock()

	fullPath := filepath.Join(ss.dataDir, recordFilename(gameID))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing record for game %s: %w", gameID, err)
	}
	return nil
}

// ListIDs returns the game ids with a durable record on disk.
func (ss *SnapshotStore) ListIDs() ([]string, error) {
	dir := filepath.Join(ss.dataDir, "fsm")
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading fsm directory: %w", err)
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(f.Name(), ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Flush blocks until all queued writes have drained. Used on shutdown and
// in tests.
func (ss *SnapshotStore) Flush() {
	ss.wg.Wait()
}
