package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticklist/api/internal/repository/memory"
	"github.com/ticklist/api/internal/service/auth"
	"github.com/ticklist/api/internal/service/todo"
	"github.com/ticklist/api/internal/service/token"
	"github.com/ticklist/api/internal/service/user"
	"github.com/ticklist/api/pkg/config"
)

func newTestRouter(t *testing.T) (*Router, *memory.Repository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	cfg := config.APIConfig{
		JWTSecret:       "router-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 168 * time.Hour,
	}
	tokenSvc := token.New(store, logger, cfg)
	authSvc := auth.New(store, tokenSvc, logger)
	userSvc := user.New(store, logger)
	todoSvc := todo.New(store, logger)
	router := NewRouter(logger, authSvc, userSvc, todoSvc, []string{"*"}, store.Ping)
	return router, store
}

func doRequest(t *testing.T, router *Router, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

func registerUser(t *testing.T, router *Router, email string) tokenResponse {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":        email,
		"password":     "password123",
		"display_name": "Test User",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out tokenResponse
	parseJSON(t, rec, &out)
	return out
}

func createTodoVia(t *testing.T, router *Router, bearer, text string) todoResponse {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/v1/todos", bearer, map[string]any{"text": text})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out todoResponse
	parseJSON(t, rec, &out)
	return out
}

func TestRegisterValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing email", map[string]any{"password": "password123"}},
		{"email without at sign", map[string]any{"email": "nobody", "password": "password123"}},
		{"email with trailing at sign", map[string]any{"email": "nobody@", "password": "password123"}},
		{"short password", map[string]any{"email": "a@example.com", "password": "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/register", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid JSON body")
	})
}

func TestRegisterLoginFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	issued := registerUser(t, router, "Alice@Example.COM")
	assert.NotEmpty(t, issued.AccessToken)
	assert.NotEmpty(t, issued.RefreshToken)
	assert.Equal(t, "bearer", issued.TokenType)
	assert.Equal(t, int64(900), issued.ExpiresIn)
	assert.Equal(t, "alice@example.com", issued.User.Email)
	assert.Equal(t, "Test User", issued.User.DisplayName)
	assert.False(t, issued.User.EmailVerified)
	assert.True(t, issued.User.IsActive)
	assert.Nil(t, issued.User.LastLogin)

	// Same address in a different case is the same account.
	rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":    "ALICE@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "email already registered")

	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    "ALICE@EXAMPLE.COM",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session tokenResponse
	parseJSON(t, rec, &session)
	assert.NotEmpty(t, session.AccessToken)
	require.NotNil(t, session.User.LastLogin)
}

func TestLoginFailureModes(t *testing.T) {
	router, store := newTestRouter(t)
	registerUser(t, router, "bob@example.com")

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		wrongPassword := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":    "bob@example.com",
			"password": "not-the-password",
		})
		unknownEmail := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":    "nobody@example.com",
			"password": "password123",
		})
		assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
		assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
		assert.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "bob@example.com"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deactivated account", func(t *testing.T) {
		account, err := store.GetUserByEmail(context.Background(), "bob@example.com")
		require.NoError(t, err)
		account.IsActive = false
		require.NoError(t, store.UpdateUser(context.Background(), account))

		rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":    "bob@example.com",
			"password": "password123",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestRefreshRotationSingleUse(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "carol@example.com")

	rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": issued.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated tokenResponse
	parseJSON(t, rec, &rotated)
	assert.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, issued.User.ID, rotated.User.ID)

	// The redeemed secret is spent.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": issued.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The replacement still works.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": rotated.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": "garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "dave@example.com")

	rec := doRequest(t, router, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{
		"refresh_token": issued.RefreshToken,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": issued.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logging out twice, or with a secret that never existed, still succeeds.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{
		"refresh_token": issued.RefreshToken,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{
		"refresh_token": "never-issued",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a bearer scheme", "Basic abc123"},
		{"bearer without token", "Bearer"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/todos", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("token of a deleted user is rejected", func(t *testing.T) {
		issued := registerUser(t, router, "ghost@example.com")
		rec := doRequest(t, router, http.MethodDelete, "/api/v1/users/me", issued.AccessToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doRequest(t, router, http.MethodGet, "/api/v1/todos", issued.AccessToken, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTodoLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "erin@example.com")
	bearer := issued.AccessToken

	created := createTodoVia(t, router, bearer, "buy milk")
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.Completed)
	assert.Equal(t, issued.User.ID, created.UserID)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/todos/"+created.ID, bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Guarded update bumps the version.
	rec = doRequest(t, router, http.MethodPatch, "/api/v1/todos/"+created.ID, bearer, map[string]any{
		"version":   1,
		"text":      "buy oat milk",
		"completed": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated todoResponse
	parseJSON(t, rec, &updated)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "buy oat milk", updated.Text)
	assert.True(t, updated.Completed)

	// Replaying the stale version is rejected and changes nothing.
	rec = doRequest(t, router, http.MethodPatch, "/api/v1/todos/"+created.ID, bearer, map[string]any{
		"version": 1,
		"text":    "overwritten by a stale client",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "version-mismatch", rec.Header().Get("X-Conflict"))

	rec = doRequest(t, router, http.MethodGet, "/api/v1/todos/"+created.ID, bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current todoResponse
	parseJSON(t, rec, &current)
	assert.Equal(t, int64(2), current.Version)
	assert.Equal(t, "buy oat milk", current.Text)

	// Soft delete hides the record from reads but keeps the version.
	rec = doRequest(t, router, http.MethodDelete, "/api/v1/todos/"+created.ID, bearer, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, router, http.MethodGet, "/api/v1/todos/"+created.ID, bearer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, router, http.MethodDelete, "/api/v1/todos/"+created.ID, bearer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/"+created.ID+"/restore", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var restored todoResponse
	parseJSON(t, rec, &restored)
	assert.Equal(t, int64(2), restored.Version)
	assert.Equal(t, "buy oat milk", restored.Text)

	// Restore only applies to deleted records.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/"+created.ID+"/restore", bearer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTodoValidation(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "frank@example.com")
	bearer := issued.AccessToken
	existing := createTodoVia(t, router, bearer, "seed")

	longText := strings.Repeat("x", 501)

	cases := []struct {
		name   string
		method string
		path   string
		body   map[string]any
	}{
		{"create without text", http.MethodPost, "/api/v1/todos", map[string]any{}},
		{"create with oversized text", http.MethodPost, "/api/v1/todos", map[string]any{"text": longText}},
		{"update without version", http.MethodPatch, "/api/v1/todos/" + existing.ID, map[string]any{"text": "new"}},
		{"update with zero version", http.MethodPatch, "/api/v1/todos/" + existing.ID, map[string]any{"version": 0, "text": "new"}},
		{"update with empty text", http.MethodPatch, "/api/v1/todos/" + existing.ID, map[string]any{"version": 1, "text": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, tc.method, tc.path, bearer, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/todos/no-such-id", bearer, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTodoListQuery(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "grace@example.com")
	bearer := issued.AccessToken

	first := createTodoVia(t, router, bearer, "alpha errand")
	second := createTodoVia(t, router, bearer, "beta chore")
	third := createTodoVia(t, router, bearer, "gamma errand")

	rec := doRequest(t, router, http.MethodPatch, "/api/v1/todos/"+second.ID, bearer, map[string]any{
		"version":   1,
		"completed": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	listTodos := func(query string) todoListResponse {
		t.Helper()
		rec := doRequest(t, router, http.MethodGet, "/api/v1/todos"+query, bearer, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out todoListResponse
		parseJSON(t, rec, &out)
		return out
	}

	all := listTodos("")
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, 50, all.PerPage)

	active := listTodos("?status=active")
	assert.Equal(t, 2, active.Total)
	for _, item := range active.Items {
		assert.False(t, item.Completed)
	}

	completed := listTodos("?status=completed")
	require.Equal(t, 1, completed.Total)
	assert.Equal(t, second.ID, completed.Items[0].ID)

	search := listTodos("?q=errand")
	assert.Equal(t, 2, search.Total)

	alpha := listTodos("?sort=alpha")
	require.Len(t, alpha.Items, 3)
	assert.Equal(t, first.ID, alpha.Items[0].ID)
	assert.Equal(t, second.ID, alpha.Items[1].ID)
	assert.Equal(t, third.ID, alpha.Items[2].ID)

	paged := listTodos("?sort=alpha&per_page=2&page=2")
	assert.Equal(t, 3, paged.Total)
	require.Len(t, paged.Items, 1)
	assert.Equal(t, third.ID, paged.Items[0].ID)

	// Soft-deleted records drop out of every listing.
	rec = doRequest(t, router, http.MethodDelete, "/api/v1/todos/"+first.ID, bearer, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, listTodos("").Total)

	badQueries := []struct {
		name  string
		query string
	}{
		{"bad status", "?status=archived"},
		{"bad sort", "?sort=priority"},
		{"bad since", "?since=yesterday"},
		{"zero page", "?page=0"},
		{"non numeric page", "?page=abc"},
		{"oversized per_page", "?per_page=201"},
	}
	for _, tc := range badQueries {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/v1/todos"+tc.query, bearer, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTodoOwnershipIsolation(t *testing.T) {
	router, _ := newTestRouter(t)
	owner := registerUser(t, router, "owner@example.com")
	intruder := registerUser(t, router, "intruder@example.com")

	created := createTodoVia(t, router, owner.AccessToken, "private note")

	rec := doRequest(t, router, http.MethodGet, "/api/v1/todos/"+created.ID, intruder.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPatch, "/api/v1/todos/"+created.ID, intruder.AccessToken, map[string]any{
		"version": 1,
		"text":    "hijacked",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/todos/"+created.ID, intruder.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	listed := doRequest(t, router, http.MethodGet, "/api/v1/todos", intruder.AccessToken, nil)
	require.Equal(t, http.StatusOK, listed.Code)
	var out todoListResponse
	parseJSON(t, listed, &out)
	assert.Zero(t, out.Total)
}

func TestBulkCreate(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "heidi@example.com")
	bearer := issued.AccessToken

	rec := doRequest(t, router, http.MethodPost, "/api/v1/todos/bulk", bearer, map[string]any{
		"items": []map[string]any{
			{"text": "one"},
			{"text": "two", "completed": true},
			{"text": "three", "client_id": "local-3"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Items []todoResponse `json:"items"`
	}
	parseJSON(t, rec, &out)
	require.Len(t, out.Items, 3)
	assert.Equal(t, "one", out.Items[0].Text)
	assert.Equal(t, "two", out.Items[1].Text)
	assert.True(t, out.Items[1].Completed)
	assert.Equal(t, "three", out.Items[2].Text)
	for _, item := range out.Items {
		assert.Equal(t, int64(1), item.Version)
		assert.NotEmpty(t, item.ID)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/bulk", bearer, map[string]any{
		"items": []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	oversized := make([]map[string]any, 101)
	for i := range oversized {
		oversized[i] = map[string]any{"text": fmt.Sprintf("item %d", i)}
	}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/bulk", bearer, map[string]any{"items": oversized})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/bulk", bearer, map[string]any{
		"items": []map[string]any{{"text": "ok"}, {"text": ""}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncCreatesUnknownIDs(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "ivan@example.com")
	bearer := issued.AccessToken

	rec := doRequest(t, router, http.MethodPost, "/api/v1/todos/sync", bearer, map[string]any{
		"last_sync": nil,
		"todos": []map[string]any{
			{"id": "client-a", "version": 1, "text": "from phone", "client_id": "client-a"},
			{"id": "client-b", "version": 3, "text": "also new", "completed": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out syncResponse
	parseJSON(t, rec, &out)

	// Applied echoes the client ids so the device can re-map them.
	assert.ElementsMatch(t, []string{"client-a", "client-b"}, out.Applied)
	assert.Empty(t, out.Conflicts)
	assert.False(t, out.SyncTimestamp.IsZero())

	// Fresh records got server-minted ids at version 1.
	require.Len(t, out.ServerChanges, 2)
	for _, change := range out.ServerChanges {
		assert.NotContains(t, []string{"client-a", "client-b"}, change.ID)
		assert.Equal(t, int64(1), change.Version)
	}
}

func TestSyncAppliesAndConflicts(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "judy@example.com")
	bearer := issued.AccessToken

	matching := createTodoVia(t, router, bearer, "in step")
	stale := createTodoVia(t, router, bearer, "server text")

	// Move the second record ahead so the client's copy is stale.
	rec := doRequest(t, router, http.MethodPatch, "/api/v1/todos/"+stale.ID, bearer, map[string]any{
		"version": 1,
		"text":    "server moved on",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/sync", bearer, map[string]any{
		"todos": []map[string]any{
			{"id": matching.ID, "version": 1, "text": "edited offline", "completed": true},
			{"id": stale.ID, "version": 1, "text": "stale edit"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out syncResponse
	parseJSON(t, rec, &out)

	assert.Equal(t, []string{matching.ID}, out.Applied)
	require.Len(t, out.Conflicts, 1)
	conflict := out.Conflicts[0]
	assert.Equal(t, stale.ID, conflict.ID)
	assert.Equal(t, int64(1), conflict.ClientVersion)
	assert.Equal(t, int64(2), conflict.ServerVersion)
	assert.Equal(t, "server moved on", conflict.ServerData.Text)

	// The applied entry advanced; the conflicting one kept the server state.
	rec = doRequest(t, router, http.MethodGet, "/api/v1/todos/"+matching.ID, bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var applied todoResponse
	parseJSON(t, rec, &applied)
	assert.Equal(t, int64(2), applied.Version)
	assert.Equal(t, "edited offline", applied.Text)
	assert.True(t, applied.Completed)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/todos/"+stale.ID, bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var untouched todoResponse
	parseJSON(t, rec, &untouched)
	assert.Equal(t, int64(2), untouched.Version)
	assert.Equal(t, "server moved on", untouched.Text)
}

func TestSyncDeletedRowStaysDeleted(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "kate@example.com")
	bearer := issued.AccessToken

	created := createTodoVia(t, router, bearer, "soon gone")
	rec := doRequest(t, router, http.MethodDelete, "/api/v1/todos/"+created.ID, bearer, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// A version-matched entry still applies to the deleted record.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/sync", bearer, map[string]any{
		"todos": []map[string]any{
			{"id": created.ID, "version": 1, "completed": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out syncResponse
	parseJSON(t, rec, &out)
	assert.Equal(t, []string{created.ID}, out.Applied)

	// It does not resurface in reads or in server changes.
	rec = doRequest(t, router, http.MethodGet, "/api/v1/todos/"+created.ID, bearer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	for _, change := range out.ServerChanges {
		assert.NotEqual(t, created.ID, change.ID)
	}

	// Restoring reveals the mutation that happened while deleted.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/todos/"+created.ID+"/restore", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var restored todoResponse
	parseJSON(t, rec, &restored)
	assert.Equal(t, int64(2), restored.Version)
	assert.True(t, restored.Completed)
}

func TestSyncValidation(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "leo@example.com")
	bearer := issued.AccessToken

	cases := []struct {
		name string
		body map[string]any
	}{
		{"entry without id", map[string]any{"todos": []map[string]any{{"version": 1}}}},
		{"entry without version", map[string]any{"todos": []map[string]any{{"id": "x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/todos/sync", bearer, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("empty batch returns server changes", func(t *testing.T) {
		createTodoVia(t, router, bearer, "only change")
		rec := doRequest(t, router, http.MethodPost, "/api/v1/todos/sync", bearer, map[string]any{
			"todos": []map[string]any{},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out syncResponse
		parseJSON(t, rec, &out)
		assert.NotNil(t, out.Applied)
		assert.NotNil(t, out.Conflicts)
		assert.Len(t, out.ServerChanges, 1)
	})
}

func TestUserProfile(t *testing.T) {
	router, _ := newTestRouter(t)
	issued := registerUser(t, router, "mary@example.com")
	registerUser(t, router, "taken@example.com")
	bearer := issued.AccessToken

	rec := doRequest(t, router, http.MethodGet, "/api/v1/users/me", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me userResponse
	parseJSON(t, rec, &me)
	assert.Equal(t, "mary@example.com", me.Email)

	rec = doRequest(t, router, http.MethodPatch, "/api/v1/users/me", bearer, map[string]any{
		"display_name": "Mary Major",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	parseJSON(t, rec, &me)
	assert.Equal(t, "Mary Major", me.DisplayName)
	assert.Equal(t, "mary@example.com", me.Email)

	// Changing the email resets verification.
	rec = doRequest(t, router, http.MethodPatch, "/api/v1/users/me", bearer, map[string]any{
		"email": "Mary.New@Example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	parseJSON(t, rec, &me)
	assert.Equal(t, "mary.new@example.com", me.Email)
	assert.False(t, me.EmailVerified)

	rec = doRequest(t, router, http.MethodPatch, "/api/v1/users/me", bearer, map[string]any{
		"email": "TAKEN@example.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodPatch, "/api/v1/users/me", bearer, map[string]any{
		"email": "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/users/me", bearer, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, router, http.MethodGet, "/api/v1/users/me", bearer, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeleteUserCascades(t *testing.T) {
	router, store := newTestRouter(t)
	issued := registerUser(t, router, "nina@example.com")
	bearer := issued.AccessToken
	createTodoVia(t, router, bearer, "goes away with the account")

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/users/me", bearer, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The refresh token died with the account.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": issued.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := store.GetUserByEmail(context.Background(), "nina@example.com")
	assert.Error(t, err)
}

func TestHealthzAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status     string                       `json:"status"`
		Components map[string]map[string]string `json:"components"`
	}
	parseJSON(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "up", health.Components["database"]["status"])

	rec = doRequest(t, router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ticklist_api_http_requests_total")
}

func TestUnknownRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")

	rec = doRequest(t, router, http.MethodPut, "/api/v1/auth/login", "", map[string]any{})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
