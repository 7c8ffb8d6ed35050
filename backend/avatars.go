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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Avatar ids are deterministic v5 UUIDs derived from file names, so the
// same avatar directory always yields the same ids across restarts.
var avatarNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// AvatarSet is one selectable group of avatar images.
type AvatarSet struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AvatarService serves avatar images from a directory tree where each
// subdirectory is a set and each image file inside it an avatar.
type AvatarService struct {
	sets      []AvatarSet
	setIDs    map[string][]string // setId -> ordered avatar ids
	filePaths map[string]string   // avatarId -> path on disk
	defaultID string
}

// NewAvatarService scans dir for avatar sets. A missing or empty dir
// yields a service with no sets; games then get players without avatars.
func NewAvatarService(dir string) *AvatarService {
	as := &AvatarService{
		setIDs:    make(map[string][]string),
		filePaths: make(map[string]string),
	}
	if dir == "" {
		return as
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("Avatars: reading %s: %v", dir, err)
		return as
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		setName := e.Name()
		setID := uuid.NewSHA1(avatarNamespace, []byte(setName)).String()
		files, err := os.ReadDir(filepath.Join(dir, setName))
		if err != nil {
			log.Printf("Avatars: reading set %s: %v", setName, err)
			continue
		}
		var ids []string
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			id := uuid.NewSHA1(avatarNamespace, []byte(setName+"/"+f.Name())).String()
			ids = append(ids, id)
			as.filePaths[id] = filepath.Join(dir, setName, f.Name())
		}
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		as.setIDs[setID] = ids
		as.sets = append(as.sets, AvatarSet{ID: setID, Name: setName, Count: len(ids)})
	}
	sort.Slice(as.sets, func(i, j int) bool { return as.sets[i].Name < as.sets[j].Name })
	if len(as.sets) > 0 {
		as.defaultID = as.sets[0].ID
	}
	log.Printf("Avatars: loaded %d sets, %d images", len(as.sets), len(as.filePaths))
	return as
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return true
	}
	return false
}

// Sets lists the available avatar sets.
func (as *AvatarService) Sets() []AvatarSet {
	return as.sets
}

// AvatarIDs returns the avatar ids of a set. An unknown or empty setId
// falls back to the default set.
func (as *AvatarService) AvatarIDs(setID string) []string {
	if ids, ok := as.setIDs[setID]; ok {
		return ids
	}
	return as.setIDs[as.defaultID]
}

// FilePath resolves an avatar id to the image file backing it.
func (as *AvatarService) FilePath(avatarID string) (string, bool) {
	p, ok := as.filePaths[avatarID]
	return p, ok
}
