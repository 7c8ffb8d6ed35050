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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// IssueImporter fetches a project's open backlog from an external
// tracker ahead of game creation.
type IssueImporter interface {
	FetchIssues(owner GameOwner) ([]*Issue, error)
}

// IssueSyncer replays a finished game's move history back to the
// external tracker.
type IssueSyncer interface {
	Sync(owner GameOwner, history []TrackedEvent) error
}

const (
	jiraPageSize    = 50
	jiraSyncRetries = 3
	jiraSyncBackoff = 2 * time.Second
)

// JiraClient talks to the JIRA Cloud REST API with the credentials the
// game owner supplied. It implements both IssueImporter and IssueSyncer.
type JiraClient struct {
	httpClient *http.Client
	baseURL    func(company string) string // overridable in tests

	mu     sync.Mutex
	fields map[string]string // company -> custom field id of "Story Points"
}

func NewJiraClient(hc *http.Client) *JiraClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &JiraClient{
		httpClient: hc,
		baseURL: func(company string) string {
			return "https://" + company + ".atlassian.net/rest/api/2"
		},
		fields: make(map[string]string),
	}
}

func jiraAuthHeader(owner GameOwner) string {
	token := base64.StdEncoding.EncodeToString([]byte(owner.JiraEmail + ":" + owner.JiraAPIToken))
	return "Basic " + token
}

func (jc *JiraClient) doJSON(method, url string, owner GameOwner, body any, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", jiraAuthHeader(owner))
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	resp, err := jc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func jiraSearchJQL(projectID string) string {
	return "project = " + projectID + " AND type != Sub-task AND resolution = Unresolved AND " +
		"(Sprint is EMPTY OR Sprint not in openSprints()) ORDER BY key DESC"
}

type jiraSearchPage struct {
	Total  int               `json:"total"`
	Names  map[string]string `json:"names"`
	Issues []jiraIssue       `json:"issues"`
}

type jiraIssue struct {
	ID             string                     `json:"id"`
	Key            string                     `json:"key"`
	Fields         map[string]json.RawMessage `json:"fields"`
	RenderedFields map[string]json.RawMessage `json:"renderedFields"`
}

// FetchIssues pulls every page of the project's unresolved backlog.
func (jc *JiraClient) FetchIssues(owner GameOwner) ([]*Issue, error) {
	url := jc.baseURL(owner.JiraCompanyName) + "/search"
	jql := jiraSearchJQL(owner.JiraProjectID)

	var issues []*Issue
	for startAt := 0; ; startAt += jiraPageSize {
		page, err := jc.searchPage(url, owner, jql, startAt)
		if err != nil {
			return nil, err
		}
		jc.rememberFields(owner.JiraCompanyName, page.Names)
		for i := range page.Issues {
			issue, err := mapJiraIssue(&page.Issues[i], page.Names)
			if err != nil {
				log.Printf("JIRA: skipping issue %s: %v", page.Issues[i].Key, err)
				continue
			}
			issues = append(issues, issue)
		}
		if startAt+jiraPageSize >= page.Total {
			break
		}
	}
	assignEpicIDs(issues)
	log.Printf("Retrieved %d issues from JIRA for company '%s', project '%s'",
		len(issues), owner.JiraCompanyName, owner.JiraProjectID)
	return issues, nil
}

func (jc *JiraClient) searchPage(url string, owner GameOwner, jql string, startAt int) (*jiraSearchPage, error) {
	body := map[string]any{
		"expand":     []string{"renderedFields", "names"},
		"fields":     []string{"*navigable", "comment"},
		"jql":        jql,
		"maxResults": jiraPageSize,
		"startAt":    startAt,
	}
	var page jiraSearchPage
	if err := jc.doJSON(http.MethodPost, url, owner, body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// rememberFields caches the custom field id carrying story points, it is
// needed again when the game's history is synced back.
func (jc *JiraClient) rememberFields(company string, names map[string]string) {
	for id, name := range names {
		if name == "Story Points" {
			jc.mu.Lock()
			jc.fields[company] = id
			jc.mu.Unlock()
			return
		}
	}
}

func (jc *JiraClient) storyPointsField(owner GameOwner) (string, error) {
	jc.mu.Lock()
	id, ok := jc.fields[owner.JiraCompanyName]
	jc.mu.Unlock()
	if ok {
		return id, nil
	}
	var fields []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	url := jc.baseURL(owner.JiraCompanyName) + "/field"
	if err := jc.doJSON(http.MethodGet, url, owner, nil, &fields); err != nil {
		return "", err
	}
	for _, f := range fields {
		if f.Name == "Story Points" {
			jc.mu.Lock()
			jc.fields[owner.JiraCompanyName] = f.ID
			jc.mu.Unlock()
			return f.ID, nil
		}
	}
	return "", fmt.Errorf("no 'Story Points' field in JIRA project")
}

// Sync replays point updates and comments onto their tracker issues.
// Each update is retried a few times with exponential backoff; a
// persistently failing update is logged and skipped so the rest of the
// history still lands.
func (jc *JiraClient) Sync(owner GameOwner, history []TrackedEvent) error {
	var pointsField string
	var firstErr error
	for _, ev := range history {
		var body map[string]any
		switch ev.Type {
		case EventUpdatePoints:
			if pointsField == "" {
				f, err := jc.storyPointsField(owner)
				if err != nil {
					return err
				}
				pointsField = f
			}
			body = map[string]any{"fields": map[string]any{pointsField: ev.Points}}
		case EventAddComment:
			body = map[string]any{
				"update": map[string]any{
					"comment": []map[string]any{{"add": map[string]any{"body": ev.Comment}}},
				},
			}
		default:
			continue
		}
		url := jc.baseURL(owner.JiraCompanyName) + "/issue/" + ev.IssueID
		if err := jc.putWithRetry(url, owner, body); err != nil {
			log.Printf("JIRA: updating issue %s: %v", ev.IssueID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		log.Printf("Updated %d issues in JIRA for company '%s'", len(history), owner.JiraCompanyName)
	}
	return firstErr
}

func (jc *JiraClient) putWithRetry(url string, owner GameOwner, body any) error {
	backoff := jiraSyncBackoff
	var err error
	for attempt := 1; attempt <= jiraSyncRetries; attempt++ {
		if err = jc.doJSON(http.MethodPut, url, owner, body, nil); err == nil {
			return nil
		}
		if attempt < jiraSyncRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}

func mapJiraIssue(src *jiraIssue, names map[string]string) (*Issue, error) {
	byName := func(m map[string]json.RawMessage, name string) json.RawMessage {
		for id, raw := range m {
			if names[id] == name {
				return raw
			}
		}
		return nil
	}
	str := func(raw json.RawMessage) string {
		var s string
		if raw != nil {
			json.Unmarshal(raw, &s)
		}
		return s
	}
	num := func(raw json.RawMessage) int {
		var f float64
		if raw != nil {
			json.Unmarshal(raw, &f)
		}
		return int(f)
	}
	if src.Key == "" {
		return nil, fmt.Errorf("issue has no key")
	}

	var created struct {
		Created string `json:"created"`
	}
	var reporter struct {
		Reporter struct {
			DisplayName string `json:"displayName"`
		} `json:"reporter"`
	}
	var status struct {
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
	}
	var itype struct {
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
	}
	fieldsJSON, _ := json.Marshal(src.Fields)
	json.Unmarshal(fieldsJSON, &created)
	json.Unmarshal(fieldsJSON, &reporter)
	json.Unmarshal(fieldsJSON, &status)
	json.Unmarshal(fieldsJSON, &itype)

	var comments []Comment
	if raw, ok := src.RenderedFields["comment"]; ok {
		var wrapper struct {
			Comments []struct {
				Author struct {
					DisplayName string `json:"displayName"`
				} `json:"author"`
				Body string `json:"body"`
			} `json:"comments"`
		}
		if err := json.Unmarshal(raw, &wrapper); err == nil {
			for _, c := range wrapper.Comments {
				comments = append(comments, Comment{Author: c.Author.DisplayName, Body: c.Body})
			}
		}
	}

	points := num(byName(src.Fields, "Story Points"))
	createdMillis := int64(0)
	if t, err := time.Parse("2006-01-02T15:04:05.000-0700", created.Created); err == nil {
		createdMillis = t.UnixMilli()
	}
	return &Issue{
		ID:                 src.ID,
		Key:                src.Key,
		Title:              str(byName(src.Fields, "Summary")),
		Description:        str(byName(src.RenderedFields, "Description")),
		AcceptanceCriteria: str(byName(src.RenderedFields, "Acceptance Criteria")),
		EpicKey:            str(byName(src.Fields, "Epic Link")),
		Created:            createdMillis,
		CurrentPoints:      points,
		OriginalPoints:     points,
		Reporter:           reporter.Reporter.DisplayName,
		Status:             status.Status.Name,
		Type:               itype.IssueType.Name,
		Comments:           comments,
	}, nil
}

func assignEpicIDs(issues []*Issue) {
	byKey := make(map[string]*Issue, len(issues))
	for _, issue := range issues {
		byKey[issue.Key] = issue
	}
	for _, issue := range issues {
		if issue.EpicKey == "" {
			continue
		}
		if epic, ok := byKey[issue.EpicKey]; ok {
			issue.EpicID = epic.ID
		}
	}
}
