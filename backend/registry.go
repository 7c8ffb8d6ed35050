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
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RecordMeta is the lightweight listing view of a persisted game.
type RecordMeta struct {
	ID          string    `json:"id"`
	Phase       string    `json:"phase"`
	PlayerCount int       `json:"playerCount"`
	UpdatedDate time.Time `json:"updatedDate"`
}

// Registry tracks which games exist on disk and caches their listing
// metadata so /api/games never has to scan and parse every snapshot.
type Registry struct {
	snapshots *SnapshotStore

	mu   sync.RWMutex
	ids  map[string]struct{}
	meta *lru.Cache[string, RecordMeta]
}

// NewRegistry creates a Registry and rebuilds the id set from the
// snapshot store.
func NewRegistry(ss *SnapshotStore) *Registry {
	cache, _ := lru.New[string, RecordMeta](5000)
	r := &Registry{
		snapshots: ss,
		ids:       make(map[string]struct{}),
		meta:      cache,
	}
	r.Rebuild()
	return r
}

// Rebuild scans the snapshot store for game records. Metadata is loaded
// lazily on first listing, not here.
func (r *Registry) Rebuild() {
	ids, err := r.snapshots.ListIDs()
	if err != nil {
		log.Printf("Registry: scanning snapshots: %v", err)
		return
	}
	r.mu.Lock()
	r.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
	r.mu.Unlock()
	log.Printf("Registry: found %d games", len(ids))
}

// Update records the latest metadata for a game.
func (r *Registry) Update(meta RecordMeta) {
	r.mu.Lock()
	r.ids[meta.ID] = struct{}{}
	r.mu.Unlock()
	r.meta.Add(meta.ID, meta)
}

// Remove forgets a game.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
	r.meta.Remove(id)
}

// Count returns the number of known games.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// List returns metadata for every known game, most recently updated
// first. Games whose metadata fell out of the cache are re-read from the
// snapshot store.
func (r *Registry) List() []RecordMeta {
	r.mu.RLock()
	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]RecordMeta, 0, len(ids))
	for _, id := range ids {
		m, ok := r.meta.Get(id)
		if !ok {
			loaded, err := r.loadMeta(id)
			if err != nil {
				log.Printf("Registry: loading metadata for game %s: %v", id, err)
				continue
			}
			m = loaded
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedDate.Equal(out[j].UpdatedDate) {
			return out[i].UpdatedDate.After(out[j].UpdatedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) loadMeta(id string) (RecordMeta, error) {
	rec, err := r.snapshots.Load(id)
	if err != nil {
		return RecordMeta{}, err
	}
	_, ctx, err := restoreSnapshot(rec)
	if err != nil {
		return RecordMeta{}, err
	}
	m := RecordMeta{
		ID:          rec.ID,
		Phase:       rec.Phase,
		PlayerCount: len(ctx.Players),
		UpdatedDate: rec.UpdatedDate,
	}
	r.meta.Add(id, m)
	return m, nil
}
