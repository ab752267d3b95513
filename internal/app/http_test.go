package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"codex/api/internal/auth"
	"codex/api/internal/moderation"
	"codex/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	return payload
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	env.store.pingErr = errors.New("connection refused")
	rr = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not_ready", decode(t, rr)["status"])
}

func TestRequestLogFields(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := env.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "request", entry.Message)
	assert.Equal(t, "req-123", entry.Data["request_id"])
	assert.Equal(t, "/api/health", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])
}

func TestLoginFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/auth/login", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	login := decode(t, rr)
	state, _ := login["state"].(string)
	require.NotEmpty(t, state)
	assert.Contains(t, login["url"], "state="+state)

	rr = doRequest(t, handler, http.MethodGet, "/api/callback?code=good-code&state="+state, "", nil)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "http://localhost:3000/callback?code=good-code&state="+state, rr.Header().Get("Location"))

	rr = doRequest(t, handler, http.MethodPost, "/api/auth/callback", "", map[string]string{"code": "good-code", "state": state})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	session := decode(t, rr)
	token, _ := session["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "viewer", session["role"])

	rr = doRequest(t, handler, http.MethodGet, "/api/session", token, nil)
	assert.Equal(t, true, decode(t, rr)["authenticated"])

	rr = doRequest(t, handler, http.MethodPost, "/api/session/logout", token, map[string]string{"refreshToken": session["refreshToken"].(string)})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, handler, http.MethodGet, "/api/session", token, nil)
	assert.Equal(t, false, decode(t, rr)["authenticated"])
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, rr)["code"])
}

func TestAdminRoutesRequireRole(t *testing.T) {
	env := newTestEnv(t, merkin())
	handler := NewHTTPServer(env.svc, "*").Handler()
	viewer := env.signIn(t, "blake@example.test")
	admin := env.signIn(t, "admin@example.test")

	rr := doRequest(t, handler, http.MethodGet, "/api/submissions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, handler, http.MethodGet, "/api/submissions", viewer.Token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rr)["code"])

	rr = doRequest(t, handler, http.MethodGet, "/api/submissions?status=pending", admin.Token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, handler, http.MethodDelete, "/api/entries/merkin", viewer.Token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = doRequest(t, handler, http.MethodDelete, "/api/entries/merkin", admin.Token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = doRequest(t, handler, http.MethodGet, "/api/entries/merkin", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmissionModerationOverHTTP(t *testing.T) {
	env := newTestEnv(t, merkin(), burpee())
	handler := NewHTTPServer(env.svc, "*").Handler()
	admin := env.signIn(t, "admin@example.test")

	rr := doRequest(t, handler, http.MethodPost, "/api/submissions", "", map[string]any{
		"submissionType": "edit",
		"data": map[string]any{
			"entryId": "burpee",
			"changes": map[string]any{"description": "<p>Squat, @push-up, jump.</p>"},
		},
		"submitterName":  "Pat",
		"submitterEmail": "pat@example.test",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := int64(decode(t, rr)["id"].(float64))

	rr = doRequest(t, handler, http.MethodGet, fmt.Sprintf("/api/submissions/%d/review", id), admin.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	diff := decode(t, rr)["diff"].(map[string]any)
	assert.Equal(t, true, diff["canApprove"])

	rr = doRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/submissions/%d/reject", id), admin.Token, map[string]string{"reason": " "})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/submissions/%d/approve", id), admin.Token, map[string]any{
		"overrides":  map[string]any{"videoLink": "https://example.test/burpee"},
		"adminNotes": "Added a video",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	entry := decode(t, rr)["entry"].(map[string]any)
	assert.Equal(t, []any{"merkin"}, entry["mentionedEntries"])
	assert.Equal(t, "https://example.test/burpee", entry["videoLink"])

	rr = doRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/submissions/%d/approve", id), admin.Token, map[string]any{})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doRequest(t, handler, http.MethodPost, "/api/submissions/999/approve", admin.Token, map[string]any{})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, handler, http.MethodGet, "/api/entries/burpee/history", admin.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	revisions := decode(t, rr)["revisions"].([]any)
	require.Len(t, revisions, 1)
	hash := revisions[0].(map[string]any)["hash"].(string)

	rr = doRequest(t, handler, http.MethodGet, "/api/entries/burpee/history/"+hash, admin.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snapshot := decode(t, rr)["snapshot"].(map[string]any)
	assert.Equal(t, "Burpee", snapshot["name"])

	rr = doRequest(t, handler, http.MethodGet, "/api/entries/burpee/history/deadbee", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmitValidationErrorsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/submissions", "", map[string]any{
		"submissionType": "new",
		"data":           map[string]any{"name": "Wall sit", "type": "poem", "description": "Sit."},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	payload := decode(t, rr)
	assert.Equal(t, "VALIDATION_ERROR", payload["code"])
	assert.Equal(t, "oneof", payload["details"].(map[string]any)["type"])

	req := httptest.NewRequest(http.MethodPost, "/api/submissions", bytes.NewBufferString("{"))
	rr = httptest.NewRecorder()
	NewHTTPServer(env.svc, "*").Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEntryReadRoutes(t *testing.T) {
	b := burpee()
	b.Description = `<p>Then <span class="mention" data-id="merkin">@Merkin</span>.</p>`
	b.MentionedEntries = []string{"merkin"}
	env := newTestEnv(t, merkin(), b)
	env.store.refs["burpee"] = []store.EntryReference{{SourceEntryID: "burpee", TargetEntryID: "merkin"}}
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/entries?type=exicon&letter=b", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode(t, rr)["entries"].([]any)
	require.Len(t, entries, 1)

	rr = doRequest(t, handler, http.MethodGet, "/api/entries?type=poem", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doRequest(t, handler, http.MethodGet, "/api/entries/search?q=merk", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	suggestions := decode(t, rr)["entries"].([]any)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "A push-up.", suggestions[0].(map[string]any)["description"])

	rr = doRequest(t, handler, http.MethodGet, "/api/entries/burpee", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rendered := decode(t, rr)
	assert.Contains(t, rendered["descriptionHtml"], `class="mention"`)
	assert.Contains(t, rendered["resolvedMentionsData"], "merkin")

	rr = doRequest(t, handler, http.MethodGet, "/api/entries/merkin/references", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	refs := decode(t, rr)["entries"].([]any)
	require.Len(t, refs, 1)
	assert.Equal(t, "burpee", refs[0].(map[string]any)["id"])
}

func TestPreviewSanitizesAndLinks(t *testing.T) {
	env := newTestEnv(t, merkin())
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/richtext/preview", "", map[string]string{
		"html": `<p>Do a @Merkin <script>alert(1)</script></p>`,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	payload := decode(t, rr)
	html := payload["html"].(string)
	assert.NotContains(t, html, "<script")
	assert.Contains(t, html, `data-id="merkin"`)
	assert.Len(t, payload["mentions"], 1)
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t, merkin())
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/export?type=exicon&format=csv", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, rr.Body.String(), "Merkin")

	rr = doRequest(t, handler, http.MethodGet, "/api/export?format=docx", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSearchRoute(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/search?q=merk&tags=Core,Arms&tagLogic=and", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), decode(t, rr)["total"])
	assert.Equal(t, []string{"Core", "Arms"}, env.searcher.query.Tags)
	assert.Equal(t, store.TagLogicAnd, env.searcher.query.TagLogic)

	rr = doRequest(t, handler, http.MethodGet, "/api/search?q=merk&limit=x", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestTagRoutes(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()
	admin := env.signIn(t, "admin@example.test")

	rr := doRequest(t, handler, http.MethodPost, "/api/tags", admin.Token, map[string]string{"name": "Core"})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = doRequest(t, handler, http.MethodPost, "/api/tags", admin.Token, map[string]string{"name": "core"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doRequest(t, handler, http.MethodPut, "/api/tags/tag-core", admin.Token, map[string]string{"name": "Core work"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, handler, http.MethodGet, "/api/tags", "", nil)
	tags := decode(t, rr)["tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "Core work", tags[0].(map[string]any)["name"])

	rr = doRequest(t, handler, http.MethodDelete, "/api/tags/missing", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domainError(http.StatusTeapot, "TEA", "tea", nil), http.StatusTeapot, "TEA"},
		{&moderation.NotFoundError{Resource: "entry", ID: "x"}, http.StatusNotFound, "NOT_FOUND"},
		{&moderation.ValidationError{Message: "bad"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{&moderation.MergeConflictError{SubmissionID: 1, Status: store.StatusApproved}, http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("wrap: %w", store.ErrVersionConflict), http.StatusConflict, "VERSION_CONFLICT"},
		{fmt.Errorf("wrap: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
