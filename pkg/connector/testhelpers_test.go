// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// TeamMembers maps "teamID:userID" to a team membership.
	TeamMembers map[string]*model.TeamMember
	// Groups maps group ID to member user IDs. Unknown groups return 404.
	Groups map[string][]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// Posts collects created posts.
	Posts []*model.Post
	// FailEndpoints causes specific path prefixes to return the given status.
	FailEndpoints map[string]int
	// Delay holds every response until it elapses or the client gives up.
	Delay time.Duration
}

func newFakeMM(t *testing.T) *fakeMM {
	t.Helper()
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   map[string]string{"test-token": "bot-id"},
		TeamMembers:   make(map[string]*model.TeamMember),
		Groups:        make(map[string][]string),
		Channels:      make(map[string]*model.Channel),
		FailEndpoints: make(map[string]int),
	}
	f.Users["bot-id"] = &model.User{Id: "bot-id", Username: "gamebridge", IsBot: true}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.Server.Close)
	return f
}

// addMember registers an active user that belongs to team.
func (f *fakeMM) addMember(team string, user *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[user.Id] = user
	f.TeamMembers[team+":"+user.Id] = &model.TeamMember{TeamId: team, UserId: user.Id}
}

func (f *fakeMM) fail(pathPart string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailEndpoints[pathPart] = status
}

func (f *fakeMM) groupMembers(groupID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Groups[groupID])
}

func (f *fakeMM) posts() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Posts)
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeMM) CallCount(path string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			n++
		}
	}
	return n
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"id": "fake.error", "message": msg, "status_code": status})
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	f.mu.Lock()
	delay := f.Delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for part, status := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, part) {
			writeError(w, status, "fake error")
			return
		}
	}
	if f.resolveToken(r) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	path := r.URL.Path
	parts := strings.Split(strings.TrimPrefix(path, "/api/v4/"), "/")

	switch {
	// GET /api/v4/users/me
	case r.Method == http.MethodGet && path == "/api/v4/users/me":
		writeJSON(w, http.StatusOK, f.Users[f.resolveToken(r)])

	// GET /api/v4/users?in_group={group_id}&page=..&per_page=..
	case r.Method == http.MethodGet && path == "/api/v4/users":
		groupID := r.URL.Query().Get("in_group")
		ids, ok := f.Groups[groupID]
		if !ok {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		if perPage <= 0 {
			perPage = 60
		}
		users := []*model.User{}
		for i := page * perPage; i < len(ids) && i < (page+1)*perPage; i++ {
			users = append(users, f.Users[ids[i]])
		}
		writeJSON(w, http.StatusOK, users)

	// GET /api/v4/users/{user_id}
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "users":
		if u, ok := f.Users[parts[1]]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		writeError(w, http.StatusNotFound, "user not found")

	// GET /api/v4/teams/{team_id}/members/{user_id}
	case r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "teams" && parts[2] == "members":
		if tm, ok := f.TeamMembers[parts[1]+":"+parts[3]]; ok {
			writeJSON(w, http.StatusOK, tm)
			return
		}
		writeError(w, http.StatusNotFound, "team member not found")

	// POST|DELETE /api/v4/groups/{group_id}/members
	case len(parts) == 3 && parts[0] == "groups" && parts[2] == "members":
		groupID := parts[1]
		members, ok := f.Groups[groupID]
		if !ok {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		var req model.GroupModifyMembers
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad body")
			return
		}
		var changed []*model.GroupMember
		for _, uid := range req.UserIds {
			idx := slices.Index(members, uid)
			switch r.Method {
			case http.MethodPost:
				if idx < 0 {
					members = append(members, uid)
				}
				changed = append(changed, &model.GroupMember{GroupId: groupID, UserId: uid})
			case http.MethodDelete:
				if idx >= 0 {
					members = slices.Delete(members, idx, idx+1)
					changed = append(changed, &model.GroupMember{GroupId: groupID, UserId: uid})
				}
			}
		}
		f.Groups[groupID] = members
		if changed == nil {
			changed = []*model.GroupMember{}
		}
		writeJSON(w, http.StatusOK, changed)

	// POST /api/v4/posts
	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		if _, ok := f.Channels[post.ChannelId]; !ok {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		post.Id = "created-post-id"
		f.Posts = append(f.Posts, &post)
		writeJSON(w, http.StatusCreated, &post)

	// GET /api/v4/channels/{channel_id}
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "channels":
		if ch, ok := f.Channels[parts[1]]; ok {
			writeJSON(w, http.StatusOK, ch)
			return
		}
		writeError(w, http.StatusNotFound, "channel not found")

	default:
		writeError(w, http.StatusNotFound, "not found: "+path)
	}
}

// newTestPlatform creates a MattermostPlatform talking to fake.
func newTestPlatform(t *testing.T, fake *fakeMM, team string) *MattermostPlatform {
	t.Helper()
	p, err := NewMattermostPlatform(Config{
		ServerURL: fake.Server.URL,
		Token:     "test-token",
		TeamID:    team,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMattermostPlatform: %v", err)
	}
	return p
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

func postJSON(t *testing.T, post *model.Post) string {
	t.Helper()
	data, err := json.Marshal(post)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
