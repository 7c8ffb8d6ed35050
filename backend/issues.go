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
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

//go:embed data/issues_small.json
var sampleIssuesJSON []byte

// sampleIssues returns the built-in demo backlog used when a game is
// created without a CSV import or tracker credentials.
func sampleIssues() []*Issue {
	var issues []*Issue
	if err := json.Unmarshal(sampleIssuesJSON, &issues); err != nil {
		log.Printf("Parsing embedded sample issues: %v", err)
		return nil
	}
	return issues
}

// IssueStore stages imported backlogs by game id until the game is
// created. Take removes the staged backlog so a retry of CREATE_GAME
// falls back to the sample set.
type IssueStore struct {
	mu     sync.Mutex
	byGame map[string][]*Issue
}

func NewIssueStore() *IssueStore {
	return &IssueStore{byGame: make(map[string][]*Issue)}
}

// Put stages a backlog for a game about to be created.
func (s *IssueStore) Put(gameID string, issues []*Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGame[gameID] = issues
}

// Take returns the staged backlog for a game, or the sample backlog when
// nothing was staged. The staged entry is consumed.
func (s *IssueStore) Take(gameID string) []*Issue {
	s.mu.Lock()
	issues, ok := s.byGame[gameID]
	if ok {
		delete(s.byGame, gameID)
	}
	s.mu.Unlock()
	if !ok || len(issues) == 0 {
		return sampleIssues()
	}
	return issues
}

// Clear drops any staged backlog for a game.
func (s *IssueStore) Clear(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byGame, gameID)
}

// Column headers of a standard JIRA CSV export.
const (
	csvColIssueID            = "Issue id"
	csvColIssueKey           = "Issue key"
	csvColSummary            = "Summary"
	csvColDescription        = "Description"
	csvColAcceptanceCriteria = "Custom field (Acceptance Criteria)"
	csvColStoryPoints        = "Custom field (Story Points)"
	csvColEpicLink           = "Custom field (Epic Link)"
	csvColCreated            = "Created"
	csvColReporter           = "Reporter"
	csvColStatus             = "Status"
	csvColIssueType          = "Issue Type"
)

// ParseIssuesCSV reads a JIRA CSV export into issues. Epic links are
// resolved in a second pass so that an issue referencing an epic by key
// also carries the epic's id.
func ParseIssuesCSV(r io.Reader) ([]*Issue, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		// Repeated columns (e.g. Comment) keep their first index.
		if _, ok := col[name]; !ok {
			col[name] = i
		}
	}
	if _, ok := col[csvColIssueKey]; !ok {
		return nil, fmt.Errorf("CSV export has no %q column", csvColIssueKey)
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var issues []*Issue
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		points, _ := strconv.Atoi(field(row, csvColStoryPoints))
		issue := &Issue{
			ID:                 field(row, csvColIssueID),
			Key:                field(row, csvColIssueKey),
			Title:              field(row, csvColSummary),
			Description:        field(row, csvColDescription),
			AcceptanceCriteria: field(row, csvColAcceptanceCriteria),
			EpicKey:            field(row, csvColEpicLink),
			Created:            parseCSVDate(field(row, csvColCreated)),
			CurrentPoints:      points,
			OriginalPoints:     points,
			Reporter:           field(row, csvColReporter),
			Status:             field(row, csvColStatus),
			Type:               field(row, csvColIssueType),
		}
		if issue.ID == "" {
			issue.ID = newUUID()
		}
		issues = append(issues, issue)
	}

	assignEpicIDs(issues)
	return issues, nil
}

var csvDateLayouts = []string{
	"02/Jan/06 3:04 PM",
	"02/Jan/2006 15:04",
	time.RFC3339,
}

func parseCSVDate(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
