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
	"strings"
	"testing"
	"time"
)

const issuesCSV = `Issue id,Issue key,Summary,Description,Custom field (Story Points),Custom field (Epic Link),Created,Reporter,Status,Issue Type,Comment,Comment
10001,PP-1,Login page,Build the login page,5,PP-3,01/Feb/26 2:30 PM,alice,To Do,Story,first,second
10002,PP-2,"Rate limiter","Token bucket, per user",8,PP-3,02/Feb/26 9:15 AM,bob,To Do,Story,,
10003,PP-3,Auth epic,,,,03/Feb/26 10:00 AM,alice,To Do,Epic,,
,PP-4,No id row,,3,PP-9,,carol,In Progress,Task,,
`

func TestParseIssuesCSV(t *testing.T) {
	issues, err := ParseIssuesCSV(strings.NewReader(issuesCSV))
	if err != nil {
		t.Fatalf("ParseIssuesCSV: %v", err)
	}
	if len(issues) != 4 {
		t.Fatalf("parsed %d issues, want 4", len(issues))
	}

	first := issues[0]
	if first.ID != "10001" || first.Key != "PP-1" {
		t.Errorf("first issue = %s/%s, want 10001/PP-1", first.ID, first.Key)
	}
	if first.Title != "Login page" || first.Description != "Build the login page" {
		t.Errorf("unexpected title/description: %q / %q", first.Title, first.Description)
	}
	if first.CurrentPoints != 5 || first.OriginalPoints != 5 {
		t.Errorf("points = %d/%d, want 5/5", first.CurrentPoints, first.OriginalPoints)
	}
	want := time.Date(2026, time.February, 1, 14, 30, 0, 0, time.UTC).UnixMilli()
	if first.Created != want {
		t.Errorf("created = %d, want %d", first.Created, want)
	}

	// Epic links resolve to the epic's id in the same export.
	if issues[0].EpicID != "10003" || issues[1].EpicID != "10003" {
		t.Errorf("epic ids = %q, %q, want 10003 for both", issues[0].EpicID, issues[1].EpicID)
	}
	// A link to an epic outside the export keeps the key, gets no id.
	if issues[3].EpicKey != "PP-9" || issues[3].EpicID != "" {
		t.Errorf("unresolved epic = %q/%q, want PP-9 with empty id", issues[3].EpicKey, issues[3].EpicID)
	}

	// Rows without an id get a generated one.
	if !isValidUUID(issues[3].ID) {
		t.Errorf("generated issue id %q is not a UUID", issues[3].ID)
	}
}

func TestParseIssuesCSVRequiresIssueKey(t *testing.T) {
	_, err := ParseIssuesCSV(strings.NewReader("Summary,Status\nFoo,To Do\n"))
	if err == nil {
		t.Fatal("ParseIssuesCSV accepted an export without an Issue key column")
	}
}

func TestParseIssuesCSVEmptyBody(t *testing.T) {
	issues, err := ParseIssuesCSV(strings.NewReader("Issue id,Issue key,Summary\n"))
	if err != nil {
		t.Fatalf("ParseIssuesCSV: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("parsed %d issues from a header-only export", len(issues))
	}
}

func TestIssueStoreTakeConsumes(t *testing.T) {
	s := NewIssueStore()
	gameID := newUUID()
	staged := []*Issue{{ID: "1", Key: "PP-1", Title: "staged"}}
	s.Put(gameID, staged)

	got := s.Take(gameID)
	if len(got) != 1 || got[0].Title != "staged" {
		t.Fatalf("Take returned %+v, want the staged backlog", got)
	}

	// The staged entry is gone; the next Take falls back to samples.
	again := s.Take(gameID)
	if len(again) == 0 {
		t.Fatal("fallback Take returned no issues")
	}
	if again[0].Title == "staged" {
		t.Fatal("Take did not consume the staged backlog")
	}
}

func TestIssueStoreClear(t *testing.T) {
	s := NewIssueStore()
	gameID := newUUID()
	s.Put(gameID, []*Issue{{ID: "1", Key: "PP-1", Title: "staged"}})
	s.Clear(gameID)
	if got := s.Take(gameID); len(got) > 0 && got[0].Title == "staged" {
		t.Fatal("Clear left the staged backlog in place")
	}
}

func TestSampleIssues(t *testing.T) {
	issues := sampleIssues()
	if len(issues) == 0 {
		t.Fatal("embedded sample backlog is empty")
	}
	seen := make(map[string]bool)
	for _, issue := range issues {
		if issue.ID == "" {
			t.Errorf("sample issue %q has no id", issue.Key)
		}
		if seen[issue.ID] {
			t.Errorf("duplicate sample issue id %s", issue.ID)
		}
		seen[issue.ID] = true
	}
}
