package main

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv *httptest.Server
	api *api
	fs  afero.Fs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fsys := afero.NewMemMapFs()
	st := newFileTestStore(t, fsys)
	blobs, err := newBlobStore(fsys, "uploads", 1024)
	require.NoError(t, err)
	cfg := &Config{
		Auth:  AuthConfig{SessionTTL: time.Hour},
		Relay: RelayConfig{Buffer: 8, MaxMessageBytes: 64 << 10},
		CORS:  CORSConfig{AllowedOrigins: []string{"*"}},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := newMetrics()
	a := newAPI(cfg, st, blobs, NewHub(cfg.Relay.Buffer, m, log), m, log)
	mux := http.NewServeMux()
	a.routes(mux)
	srv := httptest.NewServer(withLogging(log, m, withCORS(cfg.CORS.AllowedOrigins, mux)))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, api: a, fs: fsys}
}

// call sends body as JSON (nil sends nothing) and returns the status and raw
// response body.
func (e *testEnv) call(t *testing.T, method, path string, body any, token string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func errorOf(t *testing.T, raw []byte) string {
	t.Helper()
	body := decode[map[string]any](t, raw)
	assert.Equal(t, false, body["ok"])
	msg, _ := body["error"].(string)
	return msg
}

func (e *testEnv) board(t *testing.T, name string) Board {
	t.Helper()
	code, raw := e.call(t, "POST", "/api/boards", map[string]any{"name": name}, "")
	require.Equal(t, 201, code, string(raw))
	return decode[Board](t, raw)
}

func (e *testEnv) list(t *testing.T, boardID, title string) List {
	t.Helper()
	code, raw := e.call(t, "POST", "/api/lists", map[string]any{"title": title, "boardId": boardID}, "")
	require.Equal(t, 201, code, string(raw))
	return decode[List](t, raw)
}

func (e *testEnv) card(t *testing.T, listID, title string) Card {
	t.Helper()
	code, raw := e.call(t, "POST", "/api/cards", map[string]any{"title": title, "listId": listID}, "")
	require.Equal(t, 201, code, string(raw))
	return decode[Card](t, raw)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	code, raw := e.call(t, "GET", "/api/health", nil, "")
	require.Equal(t, 200, code)
	body := decode[map[string]any](t, raw)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "Epitrello API is running", body["message"])
}

func TestBoardEndpoints(t *testing.T) {
	e := newTestEnv(t)

	code, raw := e.call(t, "POST", "/api/boards", map[string]any{"name": "  "}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "name is required", errorOf(t, raw))

	code, raw = e.call(t, "POST", "/api/boards", map[string]any{"name": "Roadmap", "description": "Q3"}, "")
	require.Equal(t, 201, code)
	b := decode[Board](t, raw)
	assert.NotEmpty(t, b.ID)

	code, raw = e.call(t, "PUT", "/api/boards/"+b.ID, map[string]any{"name": "Roadmap 2"}, "")
	require.Equal(t, 200, code)
	updated := decode[Board](t, raw)
	assert.Equal(t, "Roadmap 2", updated.Name)
	assert.Equal(t, "Q3", updated.Description)

	code, raw = e.call(t, "GET", "/api/boards/nope", nil, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "board not found", errorOf(t, raw))

	code, _ = e.call(t, "PUT", "/api/boards/nope", map[string]any{"name": "x"}, "")
	assert.Equal(t, 404, code)

	code, raw = e.call(t, "GET", "/api/boards", nil, "")
	require.Equal(t, 200, code)
	assert.Len(t, decode[[]Board](t, raw), 1)

	code, _ = e.call(t, "DELETE", "/api/boards/"+b.ID, nil, "")
	assert.Equal(t, 204, code)
	code, _ = e.call(t, "DELETE", "/api/boards/"+b.ID, nil, "")
	assert.Equal(t, 204, code)
}

func TestBoardFull(t *testing.T) {
	e := newTestEnv(t)
	b := e.board(t, "Full")
	todo := e.list(t, b.ID, "Todo")
	done := e.list(t, b.ID, "Done")
	e.card(t, todo.ID, "one")
	e.card(t, todo.ID, "two")

	code, raw := e.call(t, "GET", "/api/boards/"+b.ID+"/full", nil, "")
	require.Equal(t, 200, code)
	body := decode[struct {
		Board Board             `json:"board"`
		Lists []List            `json:"lists"`
		Cards map[string][]Card `json:"cards"`
	}](t, raw)
	assert.Equal(t, b.ID, body.Board.ID)
	assert.Len(t, body.Lists, 2)
	assert.Len(t, body.Cards[todo.ID], 2)
	assert.Empty(t, body.Cards[done.ID])
}

func TestListEndpoints(t *testing.T) {
	e := newTestEnv(t)
	b := e.board(t, "Board")

	code, raw := e.call(t, "POST", "/api/lists", map[string]any{"boardId": b.ID}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "title is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/lists", map[string]any{"title": "x"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "boardId is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/lists", map[string]any{"title": "x", "boardId": "ghost"}, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "board not found", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/lists", map[string]any{"title": "x", "boardId": b.ID, "position": -1}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "invalid position", errorOf(t, raw))

	first := e.list(t, b.ID, "First")
	second := e.list(t, b.ID, "Second")
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)

	code, raw = e.call(t, "POST", "/api/lists", map[string]any{"title": "Zero", "boardId": b.ID, "position": 0}, "")
	require.Equal(t, 201, code)
	assert.Equal(t, 0, decode[List](t, raw).Position)

	code, raw = e.call(t, "GET", "/api/lists/board/"+b.ID, nil, "")
	require.Equal(t, 200, code)
	got := decode[[]List](t, raw)
	assert.Equal(t, []string{"First", "Zero", "Second"}, titles(got, func(l List) string { return l.Title }))

	code, raw = e.call(t, "PUT", "/api/lists/"+second.ID, map[string]any{"boardId": "ghost"}, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "board not found", errorOf(t, raw))

	code, raw = e.call(t, "GET", "/api/lists/nope", nil, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "list not found", errorOf(t, raw))
}

func TestCardEndpoints(t *testing.T) {
	e := newTestEnv(t)
	b := e.board(t, "Board")
	l := e.list(t, b.ID, "Todo")

	code, raw := e.call(t, "POST", "/api/cards", map[string]any{"title": "x", "listId": "ghost"}, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "list not found", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/cards", map[string]any{"listId": l.ID}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "title is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/cards", map[string]any{"title": "x"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "listId is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/cards", map[string]any{"title": "x", "listId": l.ID, "dueDate": "soon"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "invalid date", errorOf(t, raw))

	code, raw = e.call(t, "POST", "/api/cards", map[string]any{
		"title": "Ship", "listId": l.ID, "description": "v1", "dueDate": "2026-03-01",
		"attachments": []map[string]any{{"fileName": "brief.pdf", "storedName": "x_1_brief.pdf", "size": 42}},
	}, "")
	require.Equal(t, 201, code, string(raw))
	c := decode[Card](t, raw)
	require.NotNil(t, c.DueDate)
	assert.True(t, c.DueDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.Len(t, c.Attachments, 1)

	code, raw = e.call(t, "GET", "/api/attachments/card/"+c.ID, nil, "")
	require.Equal(t, 200, code)
	atts := decode[[]Attachment](t, raw)
	require.Len(t, atts, 1)
	assert.Equal(t, "brief.pdf", atts[0].FileName)

	code, raw = e.call(t, "PUT", "/api/cards/"+c.ID, map[string]any{"dueDate": nil, "title": "Ship it"}, "")
	require.Equal(t, 200, code, string(raw))
	updated := decode[Card](t, raw)
	assert.Nil(t, updated.DueDate)
	assert.Equal(t, "Ship it", updated.Title)
	assert.Equal(t, "v1", updated.Description)
	assert.Len(t, updated.Attachments, 1, "attachments are kept when absent")

	code, raw = e.call(t, "PUT", "/api/cards/"+c.ID, map[string]any{"attachments": []any{}}, "")
	require.Equal(t, 200, code)
	assert.Empty(t, decode[Card](t, raw).Attachments)

	code, raw = e.call(t, "PUT", "/api/cards/"+c.ID, map[string]any{"listId": "ghost"}, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "list not found", errorOf(t, raw))

	code, raw = e.call(t, "PUT", "/api/cards/nope", map[string]any{"title": "x"}, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "card not found", errorOf(t, raw))

	code, raw = e.call(t, "GET", "/api/cards/list/"+l.ID, nil, "")
	require.Equal(t, 200, code)
	assert.Len(t, decode[[]Card](t, raw), 1)

	code, _ = e.call(t, "DELETE", "/api/cards/"+c.ID, nil, "")
	assert.Equal(t, 204, code)
	code, _ = e.call(t, "GET", "/api/cards/"+c.ID, nil, "")
	assert.Equal(t, 404, code)
}

func TestCommentAndActivityEndpoints(t *testing.T) {
	e := newTestEnv(t)
	c := e.card(t, e.list(t, e.board(t, "B").ID, "L").ID, "Card")

	code, raw := e.call(t, "POST", "/api/comments", map[string]any{"cardId": c.ID, "content": " "}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "content is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/comments", map[string]any{"content": "hi"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "cardId is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/comments", map[string]any{"cardId": "ghost", "content": "hi"}, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "card not found", errorOf(t, raw))

	code, raw = e.call(t, "POST", "/api/comments", map[string]any{"cardId": c.ID, "content": "Looks good"}, "")
	require.Equal(t, 201, code)
	cm := decode[Comment](t, raw)
	assert.Nil(t, cm.UserID)

	code, raw = e.call(t, "PUT", "/api/comments/"+cm.ID, map[string]any{"content": "Looks great"}, "")
	require.Equal(t, 200, code)
	assert.Equal(t, "Looks great", decode[Comment](t, raw).Content)

	code, raw = e.call(t, "GET", "/api/comments/card/"+c.ID, nil, "")
	require.Equal(t, 200, code)
	assert.Len(t, decode[[]Comment](t, raw), 1)

	code, raw = e.call(t, "POST", "/api/activity", map[string]any{"cardId": c.ID}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "action is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/activity", map[string]any{"cardId": c.ID, "action": "moved", "details": "to Done"}, "")
	require.Equal(t, 201, code)
	entry := decode[ActivityEntry](t, raw)

	code, raw = e.call(t, "GET", "/api/activity/card/"+c.ID, nil, "")
	require.Equal(t, 200, code)
	acts := decode[[]ActivityEntry](t, raw)
	require.Len(t, acts, 2)
	assert.Equal(t, "moved", acts[0].Action)
	assert.Equal(t, "comment_added", acts[1].Action)
	assert.Equal(t, "Added comment: Looks good...", acts[1].Details)

	code, raw = e.call(t, "GET", "/api/activity/"+entry.ID, nil, "")
	require.Equal(t, 200, code)
	assert.Equal(t, "to Done", decode[ActivityEntry](t, raw).Details)
	code, raw = e.call(t, "GET", "/api/activity/nope", nil, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "activity not found", errorOf(t, raw))

	code, _ = e.call(t, "DELETE", "/api/comments/"+cm.ID, nil, "")
	assert.Equal(t, 204, code)
	code, raw = e.call(t, "GET", "/api/comments/"+cm.ID, nil, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "comment not found", errorOf(t, raw))
}

func TestCommentAuthorFromSession(t *testing.T) {
	e := newTestEnv(t)
	token, user := e.register(t, "sam", "sam@example.com")
	c := e.card(t, e.list(t, e.board(t, "B").ID, "L").ID, "Card")

	code, raw := e.call(t, "POST", "/api/comments", map[string]any{"cardId": c.ID, "content": "mine", "userId": "spoofed"}, token)
	require.Equal(t, 201, code)
	cm := decode[Comment](t, raw)
	require.NotNil(t, cm.UserID)
	assert.Equal(t, user.ID, *cm.UserID)
	require.NotNil(t, cm.UserName)
	assert.Equal(t, "sam", *cm.UserName)
}

func TestTemplateEndpoints(t *testing.T) {
	e := newTestEnv(t)
	b := e.board(t, "Sprint")
	todo := e.list(t, b.ID, "Todo")
	e.list(t, b.ID, "Done")
	e.card(t, todo.ID, "Standup")

	code, raw := e.call(t, "POST", "/api/templates", map[string]any{"boardId": b.ID}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "name is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/templates", map[string]any{"name": "T"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "boardId is required", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/templates", map[string]any{"name": "T", "boardId": "ghost"}, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "board not found", errorOf(t, raw))

	code, raw = e.call(t, "POST", "/api/templates", map[string]any{"name": "Sprint template", "boardId": b.ID}, "")
	require.Equal(t, 201, code)
	tpl := decode[Template](t, raw)
	assert.True(t, tpl.IsPublic)
	assert.Len(t, tpl.Data.Lists, 2)
	assert.Len(t, tpl.Data.Cards, 1)

	code, raw = e.call(t, "POST", "/api/templates", map[string]any{"name": "Hidden", "boardId": b.ID, "isPublic": false}, "")
	require.Equal(t, 201, code)
	hidden := decode[Template](t, raw)

	code, raw = e.call(t, "GET", "/api/templates", nil, "")
	require.Equal(t, 200, code)
	listed := decode[[]Template](t, raw)
	require.Len(t, listed, 1)
	assert.Equal(t, tpl.ID, listed[0].ID)

	code, raw = e.call(t, "GET", "/api/templates/"+hidden.ID, nil, "")
	require.Equal(t, 200, code)
	assert.False(t, decode[Template](t, raw).IsPublic)

	// no body: the board takes the template's name, not the source board's
	code, raw = e.call(t, "POST", "/api/templates/"+tpl.ID+"/create-board", nil, "")
	require.Equal(t, 201, code, string(raw))
	fromTpl := decode[Board](t, raw)
	assert.NotEqual(t, b.ID, fromTpl.ID)
	assert.Equal(t, "Sprint template", fromTpl.Name)

	code, raw = e.call(t, "POST", "/api/templates/"+tpl.ID+"/create-board", map[string]any{"name": "   "}, "")
	require.Equal(t, 201, code)
	assert.Equal(t, "Sprint template", decode[Board](t, raw).Name)

	code, raw = e.call(t, "POST", "/api/templates/"+tpl.ID+"/create-board", map[string]any{"name": "Sprint 2"}, "")
	require.Equal(t, 201, code)
	named := decode[Board](t, raw)
	assert.Equal(t, "Sprint 2", named.Name)

	code, raw = e.call(t, "GET", "/api/lists/board/"+named.ID, nil, "")
	require.Equal(t, 200, code)
	lists := decode[[]List](t, raw)
	require.Len(t, lists, 2)
	code, raw = e.call(t, "GET", "/api/cards/list/"+lists[0].ID, nil, "")
	require.Equal(t, 200, code)
	assert.Equal(t, []string{"Standup"}, titles(decode[[]Card](t, raw), func(c Card) string { return c.Title }))

	code, raw = e.call(t, "POST", "/api/templates/ghost/create-board", nil, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "template not found", errorOf(t, raw))

	code, raw = e.call(t, "PUT", "/api/templates/"+hidden.ID, map[string]any{"isPublic": true}, "")
	require.Equal(t, 200, code)
	assert.True(t, decode[Template](t, raw).IsPublic)

	code, _ = e.call(t, "DELETE", "/api/templates/"+hidden.ID, nil, "")
	assert.Equal(t, 204, code)
	code, _ = e.call(t, "GET", "/api/templates/"+hidden.ID, nil, "")
	assert.Equal(t, 404, code)
}

func TestCreateBoardFromBrokenTemplate(t *testing.T) {
	e := newTestEnv(t)
	tpl, err := e.api.store.CreateTemplate(t.Context(), Template{Name: "Broken", IsPublic: true, Data: TemplateData{
		Lists: []TemplateList{{ID: "l1", Title: "A"}},
		Cards: []TemplateCard{{ListID: "ghost", Title: "lost"}},
	}})
	require.NoError(t, err)

	code, raw := e.call(t, "POST", "/api/templates/"+tpl.ID+"/create-board", nil, "")
	assert.Equal(t, 500, code)
	assert.Equal(t, "internal error", errorOf(t, raw))

	code, raw = e.call(t, "GET", "/api/boards", nil, "")
	require.Equal(t, 200, code)
	assert.Empty(t, decode[[]Board](t, raw))
}

func TestSearchEndpoints(t *testing.T) {
	e := newTestEnv(t)
	b := e.board(t, "Work")
	l := e.list(t, b.ID, "Todo")
	talked := e.card(t, l.ID, "Discussed")
	e.card(t, l.ID, "Quiet")
	code, _ := e.call(t, "POST", "/api/comments", map[string]any{"cardId": talked.ID, "content": "yes"}, "")
	require.Equal(t, 201, code)

	code, raw := e.call(t, "GET", "/api/search?sortBy=priority", nil, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "invalid sortBy", errorOf(t, raw))
	code, raw = e.call(t, "GET", "/api/search?dueDateFrom=yesterday", nil, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "invalid date", errorOf(t, raw))

	code, raw = e.call(t, "GET", "/api/search?hasComments=true", nil, "")
	require.Equal(t, 200, code)
	hits := decode[[]CardHit](t, raw)
	require.Len(t, hits, 1)
	assert.Equal(t, "Discussed", hits[0].Title)
	assert.Equal(t, 1, hits[0].CommentCount)
	assert.Equal(t, "Work", hits[0].BoardName)

	code, raw = e.call(t, "GET", "/api/search", nil, "")
	require.Equal(t, 200, code)
	assert.Equal(t, []string{"Quiet", "Discussed"}, titles(decode[[]CardHit](t, raw), hitTitle), "newest first by default")

	code, raw = e.call(t, "GET", "/api/search?sortBy=title&sortOrder=asc", nil, "")
	require.Equal(t, 200, code)
	assert.Equal(t, []string{"Discussed", "Quiet"}, titles(decode[[]CardHit](t, raw), hitTitle))

	code, raw = e.call(t, "GET", "/api/search/boards?query=wor", nil, "")
	require.Equal(t, 200, code)
	assert.Len(t, decode[[]Board](t, raw), 1)
}

func TestDueEndpoints(t *testing.T) {
	e := newTestEnv(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	e.api.now = func() time.Time { return now }
	l := e.list(t, e.board(t, "B").ID, "L")
	for title, due := range map[string]time.Time{
		"late":    now.Add(-time.Hour),
		"soon":    now.Add(48 * time.Hour),
		"edge":    now.Add(7 * 24 * time.Hour),
		"distant": now.Add(8 * 24 * time.Hour),
	} {
		code, raw := e.call(t, "POST", "/api/cards", map[string]any{"title": title, "listId": l.ID, "dueDate": due.Format(time.RFC3339)}, "")
		require.Equal(t, 201, code, string(raw))
	}

	code, raw := e.call(t, "GET", "/api/search/overdue", nil, "")
	require.Equal(t, 200, code)
	assert.Equal(t, []string{"late"}, titles(decode[[]CardHit](t, raw), hitTitle))

	code, raw = e.call(t, "GET", "/api/search/due-soon", nil, "")
	require.Equal(t, 200, code)
	assert.Equal(t, []string{"soon", "edge"}, titles(decode[[]CardHit](t, raw), hitTitle))
}

func (e *testEnv) register(t *testing.T, username, email string) (string, User) {
	t.Helper()
	code, raw := e.call(t, "POST", "/api/auth/register", map[string]any{"username": username, "email": email, "password": "hunter22"}, "")
	require.Equal(t, 201, code, string(raw))
	body := decode[struct {
		User  User   `json:"user"`
		Token string `json:"token"`
	}](t, raw)
	require.NotEmpty(t, body.Token)
	return body.Token, body.User
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)

	code, raw := e.call(t, "POST", "/api/auth/register", map[string]any{"username": "kim"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "username, email and password are required", errorOf(t, raw))

	token, user := e.register(t, "kim", "kim@example.com")
	assert.Equal(t, "kim", user.Username)
	assert.NotContains(t, string(mustJSON(t, user)), "hunter22")

	code, raw = e.call(t, "POST", "/api/auth/register", map[string]any{"username": "kim2", "email": "KIM@example.com", "password": "x"}, "")
	assert.Equal(t, 409, code)
	assert.Equal(t, "user already exists", errorOf(t, raw))

	code, raw = e.call(t, "POST", "/api/auth/login", map[string]any{"email": "kim@example.com", "password": "wrong"}, "")
	assert.Equal(t, 401, code)
	assert.Equal(t, "invalid credentials", errorOf(t, raw))
	code, _ = e.call(t, "POST", "/api/auth/login", map[string]any{"email": "nobody@example.com", "password": "x"}, "")
	assert.Equal(t, 401, code)

	code, raw = e.call(t, "POST", "/api/auth/login", map[string]any{"email": "kim@example.com", "password": "hunter22"}, "")
	require.Equal(t, 200, code)
	second := decode[map[string]any](t, raw)["token"].(string)
	assert.NotEqual(t, token, second)

	code, raw = e.call(t, "GET", "/api/auth/me", nil, token)
	require.Equal(t, 200, code)
	assert.Equal(t, user.ID, decode[User](t, raw).ID)

	code, raw = e.call(t, "GET", "/api/auth/me", nil, "")
	assert.Equal(t, 401, code)
	assert.Equal(t, "unauthorized", errorOf(t, raw))

	code, _ = e.call(t, "POST", "/api/auth/logout", nil, token)
	assert.Equal(t, 204, code)
	code, _ = e.call(t, "GET", "/api/auth/me", nil, token)
	assert.Equal(t, 401, code)
	code, _ = e.call(t, "GET", "/api/auth/me", nil, second)
	assert.Equal(t, 200, code)
}

func TestBoardOwnerFromSession(t *testing.T) {
	e := newTestEnv(t)
	token, user := e.register(t, "owner", "owner@example.com")
	code, raw := e.call(t, "POST", "/api/boards", map[string]any{"name": "Mine"}, token)
	require.Equal(t, 201, code)
	b := decode[Board](t, raw)
	require.NotNil(t, b.OwnerID)
	assert.Equal(t, user.ID, *b.OwnerID)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.api.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		assert.True(t, e.api.allow("1.2.3.4", "auth", 3, time.Minute))
	}
	assert.False(t, e.api.allow("1.2.3.4", "auth", 3, time.Minute))
	assert.True(t, e.api.allow("5.6.7.8", "auth", 3, time.Minute), "buckets are per address")

	now = now.Add(2 * time.Minute)
	assert.True(t, e.api.allow("1.2.3.4", "auth", 3, time.Minute))
}

func TestUploadDownloadDelete(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("hello attachment")

	code, raw := e.call(t, "POST", "/api/uploads/upload", map[string]any{"fileName": "notes.txt"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "missing required fields", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/uploads/upload", map[string]any{"fileName": "n.txt", "cardId": "c1", "fileData": "***"}, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "invalid file data", errorOf(t, raw))
	code, raw = e.call(t, "POST", "/api/uploads/upload", map[string]any{
		"fileName": "big.bin", "cardId": "c1", "fileData": base64.StdEncoding.EncodeToString(make([]byte, 2000)),
	}, "")
	assert.Equal(t, 413, code)
	assert.Equal(t, "file too large", errorOf(t, raw))

	code, raw = e.call(t, "POST", "/api/uploads/upload", map[string]any{
		"fileName": "../my notes.txt",
		"cardId":   "c1",
		"fileData": "data:text/plain;base64," + base64.StdEncoding.EncodeToString(content),
	}, "")
	require.Equal(t, 201, code, string(raw))
	up := decode[map[string]any](t, raw)
	stored := up["storedName"].(string)
	assert.True(t, strings.HasPrefix(stored, "c1_"), stored)
	assert.True(t, strings.HasSuffix(stored, "_my_notes.txt"), stored)
	assert.Equal(t, float64(len(content)), up["size"])
	assert.Equal(t, "../my notes.txt", up["fileName"])
	assert.Contains(t, up["mimeType"], "text/plain")

	res, err := e.srv.Client().Get(e.srv.URL + "/api/uploads/download/" + stored)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	assert.Equal(t, content, body)
	assert.Contains(t, res.Header.Get("Content-Disposition"), `filename=my_notes.txt`)

	code, raw = e.call(t, "GET", "/api/uploads/download/.hidden", nil, "")
	assert.Equal(t, 400, code)
	assert.Equal(t, "invalid file name", errorOf(t, raw))
	code, raw = e.call(t, "GET", "/api/uploads/download/missing.txt", nil, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "file not found", errorOf(t, raw))

	code, _ = e.call(t, "DELETE", "/api/uploads/"+stored, nil, "")
	assert.Equal(t, 204, code)
	code, _ = e.call(t, "DELETE", "/api/uploads/"+stored, nil, "")
	assert.Equal(t, 204, code)
	exists, err := afero.Exists(e.fs, "uploads/"+stored)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheckNameRejectsTraversal(t *testing.T) {
	for _, name := range []string{"", "..", "../etc/passwd", "a/b", `a\b`, ".env"} {
		assert.ErrorIs(t, checkName(name), errBadFileName, name)
	}
	assert.NoError(t, checkName("c1_1700000000000_report.pdf"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "report_v2.pdf", sanitizeName("report v2.pdf"))
	assert.Equal(t, "passwd", sanitizeName("../../etc/passwd"))
	assert.Equal(t, "evil.exe", sanitizeName(`C:\temp\evil.exe`))
	assert.Equal(t, "file", sanitizeName(".."))
	assert.Equal(t, "my notes.txt", originalName("c1_123_my notes.txt"))
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	req, err := http.NewRequest("OPTIONS", e.srv.URL+"/api/boards", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, 204, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := withCORS([]string{"https://app.example.com"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/boards", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/boards", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	code, _ := e.call(t, "GET", "/api/health", nil, "")
	require.Equal(t, 200, code)

	code, raw := e.call(t, "GET", "/metrics", nil, "")
	require.Equal(t, 200, code)
	assert.Contains(t, string(raw), `epitrello_http_requests_total{code="200",method="GET",route="GET /api/health"}`)
}

func TestBoardEventsStream(t *testing.T) {
	e := newTestEnv(t)
	b := e.board(t, "Live")

	code, raw := e.call(t, "GET", "/api/boards/nope/events", nil, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "board not found", errorOf(t, raw))

	res, err := e.srv.Client().Get(e.srv.URL + "/api/boards/" + b.ID + "/events")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	rd := bufio.NewReader(res.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	require.Equal(t, 1, e.api.hub.RoomSize(b.ID))

	frame := `{"event":"card-created","data":{"boardId":"` + b.ID + `"}}`
	e.api.hub.Deliver(b.ID, []byte(frame))
	_, err = rd.ReadString('\n') // blank line closing the connected comment
	require.NoError(t, err)
	line, err = rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: "+frame+"\n", line)
}

func TestBoardEventsStreamSplitsMultilineFrames(t *testing.T) {
	e := newTestEnv(t)
	b := e.board(t, "Live")

	res, err := e.srv.Client().Get(e.srv.URL + "/api/boards/" + b.ID + "/events")
	require.NoError(t, err)
	defer res.Body.Close()
	rd := bufio.NewReader(res.Body)
	for _, want := range []string{": connected\n", "\n"} {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
	require.Equal(t, 1, e.api.hub.RoomSize(b.ID))

	frame := "{\"event\":\"card-created\",\r\n\"data\":{\"boardId\":\"" + b.ID + "\"}\n}"
	e.api.hub.Deliver(b.ID, []byte(frame))

	var data []string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			break
		}
		require.True(t, strings.HasPrefix(line, "data: "), "every line of the event is a data field: %q", line)
		data = append(data, strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n"))
	}
	assert.Len(t, data, 3)
	assert.JSONEq(t, frame, strings.Join(data, "\n"))
}
