package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the ticklist API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8080"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User reflects API account payloads.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	EmailVerified bool       `json:"email_verified"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login"`
}

// TokenResponse captures the session payload emitted by the auth endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	User         User   `json:"user"`
}

// Register creates an account and returns the initial session.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (TokenResponse, error) {
	body := map[string]string{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", body, "", &resp); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, "", &resp); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// Refresh rotates the refresh token and returns a fresh session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", body, "", &resp); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// Logout revokes the refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", body, "", nil)
}

// Me fetches the authenticated account.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/me", nil, token, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateProfileInput carries profile changes; nil fields stay untouched.
type UpdateProfileInput struct {
	DisplayName *string `json:"display_name,omitempty"`
	Email       *string `json:"email,omitempty"`
}

// UpdateMe applies profile changes to the authenticated account.
func (c *Client) UpdateMe(ctx context.Context, token string, input UpdateProfileInput) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodPatch, "/api/v1/users/me", input, token, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// DeleteMe removes the authenticated account and everything it owns.
func (c *Client) DeleteMe(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/users/me", nil, token, nil)
}

// Todo reflects API todo payloads.
type Todo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TodoList is one page of matching todos.
type TodoList struct {
	Items   []Todo `json:"items"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Total   int    `json:"total"`
}

// ListTodosOptions narrow and page the listing. Zero values are omitted so
// the server applies its defaults.
type ListTodosOptions struct {
	Status  string
	Search  string
	Sort    string
	Page    int
	PerPage int
}

// ListTodos returns one page of the caller's todos.
func (c *Client) ListTodos(ctx context.Context, token string, opts ListTodosOptions) (TodoList, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Search != "" {
		query.Set("q", opts.Search)
	}
	if opts.Sort != "" {
		query.Set("sort", opts.Sort)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	path := "/api/v1/todos"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var list TodoList
	if err := c.do(ctx, http.MethodGet, path, nil, token, &list); err != nil {
		return TodoList{}, err
	}
	return list, nil
}

// CreateTodo adds a new todo.
func (c *Client) CreateTodo(ctx context.Context, token, text string, completed bool) (Todo, error) {
	body := map[string]any{
		"text":      text,
		"completed": completed,
	}
	var created Todo
	if err := c.do(ctx, http.MethodPost, "/api/v1/todos", body, token, &created); err != nil {
		return Todo{}, err
	}
	return created, nil
}

// BulkCreateTodosInput is one entry of a bulk insert.
type BulkCreateTodosInput struct {
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
	ClientID  *string `json:"client_id,omitempty"`
}

// BulkCreateTodos inserts a batch in one call.
func (c *Client) BulkCreateTodos(ctx context.Context, token string, items []BulkCreateTodosInput) ([]Todo, error) {
	body := map[string]any{"items": items}
	var resp struct {
		Items []Todo `json:"items"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/todos/bulk", body, token, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetTodo fetches a single todo.
func (c *Client) GetTodo(ctx context.Context, token, id string) (Todo, error) {
	path := fmt.Sprintf("/api/v1/todos/%s", url.PathEscape(id))
	var found Todo
	if err := c.do(ctx, http.MethodGet, path, nil, token, &found); err != nil {
		return Todo{}, err
	}
	return found, nil
}

// UpdateTodoInput carries a guarded partial update. Version must match the
// server's current version or the call fails with a conflict.
type UpdateTodoInput struct {
	Version   int64   `json:"version"`
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// UpdateTodo applies a version-guarded update.
func (c *Client) UpdateTodo(ctx context.Context, token, id string, input UpdateTodoInput) (Todo, error) {
	path := fmt.Sprintf("/api/v1/todos/%s", url.PathEscape(id))
	var updated Todo
	if err := c.do(ctx, http.MethodPatch, path, input, token, &updated); err != nil {
		return Todo{}, err
	}
	return updated, nil
}

// DeleteTodo soft-deletes a todo.
func (c *Client) DeleteTodo(ctx context.Context, token, id string) error {
	path := fmt.Sprintf("/api/v1/todos/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}

// RestoreTodo brings a soft-deleted todo back.
func (c *Client) RestoreTodo(ctx context.Context, token, id string) (Todo, error) {
	path := fmt.Sprintf("/api/v1/todos/%s/restore", url.PathEscape(id))
	var restored Todo
	if err := c.do(ctx, http.MethodPost, path, nil, token, &restored); err != nil {
		return Todo{}, err
	}
	return restored, nil
}

// SyncEntry is one client-side todo state submitted for reconciliation.
type SyncEntry struct {
	ID        string  `json:"id"`
	Version   int64   `json:"version"`
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
	ClientID  *string `json:"client_id,omitempty"`
}

// SyncConflict reports an entry whose version guard failed.
type SyncConflict struct {
	ID            string `json:"id"`
	ClientVersion int64  `json:"client_version"`
	ServerVersion int64  `json:"server_version"`
	ServerData    Todo   `json:"server_data"`
}

// SyncResult is the server's reconciliation outcome.
type SyncResult struct {
	ServerChanges []Todo         `json:"server_changes"`
	Applied       []string       `json:"applied"`
	Conflicts     []SyncConflict `json:"conflicts"`
	SyncTimestamp time.Time      `json:"sync_timestamp"`
}

// SyncTodos reconciles a batch of local states against the server.
func (c *Client) SyncTodos(ctx context.Context, token string, lastSync *time.Time, entries []SyncEntry) (SyncResult, error) {
	body := map[string]any{
		"last_sync": lastSync,
		"todos":     entries,
	}
	var result SyncResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/todos/sync", body, token, &result); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}
