// Package memory holds an in-process implementation of the repository
// interfaces. It backs service and router tests; the mutex makes every
// operation atomic, which mirrors the conditional-update guarantee the
// PostgreSQL repository gets from single-statement writes.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/repository"
)

// Repository stores everything in maps guarded by one mutex.
type Repository struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	tokens map[string]*domain.RefreshToken
	todos  map[string]*domain.Todo
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		users:  make(map[string]*domain.User),
		tokens: make(map[string]*domain.RefreshToken),
		todos:  make(map[string]*domain.Todo),
	}
}

var (
	_ repository.UserRepository         = (*Repository)(nil)
	_ repository.RefreshTokenRepository = (*Repository)(nil)
	_ repository.TodoRepository         = (*Repository)(nil)
)

// Ping always succeeds.
func (r *Repository) Ping(ctx context.Context) error { return nil }

func copyUser(u *domain.User) *domain.User {
	c := *u
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		c.PasswordHash = &h
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

func copyToken(t *domain.RefreshToken) *domain.RefreshToken {
	c := *t
	return &c
}

func copyTodo(t *domain.Todo) *domain.Todo {
	c := *t
	if t.ClientID != nil {
		s := *t.ClientID
		c.ClientID = &s
	}
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// CreateUser inserts a user, enforcing email uniqueness.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = copyUser(user)
	return nil
}

// GetUserByEmail fetches a user by exact email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

// GetUserByID fetches a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyUser(u), nil
}

// UpdateUser persists mutable profile fields.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, other := range r.users {
		if id != user.ID && other.Email == user.Email {
			return repository.ErrConflict
		}
	}
	existing.Email = user.Email
	existing.DisplayName = user.DisplayName
	existing.EmailVerified = user.EmailVerified
	existing.IsActive = user.IsActive
	return nil
}

// UpdateLastLogin stamps the latest login time.
func (r *Repository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	stamp := at
	u.LastLogin = &stamp
	return nil
}

// DeleteUser removes the user and cascades to todos and refresh tokens.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	for tokenID, t := range r.tokens {
		if t.UserID == id {
			delete(r.tokens, tokenID)
		}
	}
	for todoID, t := range r.todos {
		if t.UserID == id {
			delete(r.todos, todoID)
		}
	}
	return nil
}

// CreateRefreshToken inserts a token record, enforcing hash uniqueness.
func (r *Repository) CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.TokenHash == token.TokenHash {
			return repository.ErrConflict
		}
	}
	r.tokens[token.ID] = copyToken(token)
	return nil
}

// GetRefreshTokenByHash finds a record by hash in any state.
func (r *Repository) GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			return copyToken(t), nil
		}
	}
	return nil, repository.ErrNotFound
}

// RevokeRefreshToken flips revoked on a not-yet-revoked row.
func (r *Repository) RevokeRefreshToken(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.Revoked {
		return repository.ErrNotFound
	}
	t.Revoked = true
	return nil
}

// RevokeRefreshTokenByHash revokes a matching row; missing rows succeed.
func (r *Repository) RevokeRefreshTokenByHash(ctx context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			t.Revoked = true
			return nil
		}
	}
	return nil
}

// PruneRefreshTokens drops rows expired before the cutoff.
func (r *Repository) PruneRefreshTokens(ctx context.Context, expiredBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(expiredBefore) {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// CreateTodo inserts a todo.
func (r *Repository) CreateTodo(ctx context.Context, todo *domain.Todo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.todos[todo.ID] = copyTodo(todo)
	return nil
}

// CreateTodos inserts a batch.
func (r *Repository) CreateTodos(ctx context.Context, todos []*domain.Todo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, todo := range todos {
		r.todos[todo.ID] = copyTodo(todo)
	}
	return nil
}

// GetTodoByID returns a non-deleted todo owned by the user.
func (r *Repository) GetTodoByID(ctx context.Context, userID, id string) (*domain.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.todos[id]
	if !ok || t.UserID != userID || t.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return copyTodo(t), nil
}

// GetTodoIncludingDeleted also matches soft-deleted rows.
func (r *Repository) GetTodoIncludingDeleted(ctx context.Context, userID, id string) (*domain.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.todos[id]
	if !ok || t.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return copyTodo(t), nil
}

// ListTodos filters, sorts and pages the user's live todos.
func (r *Repository) ListTodos(ctx context.Context, userID string, filter repository.TodoFilter) ([]domain.Todo, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.Todo
	for _, t := range r.todos {
		if t.UserID != userID || t.DeletedAt != nil {
			continue
		}
		switch filter.Status {
		case repository.StatusActive:
			if t.Completed {
				continue
			}
		case repository.StatusCompleted:
			if !t.Completed {
				continue
			}
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.Text), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.Since != nil && t.UpdatedAt.Before(*filter.Since) {
			continue
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch filter.Sort {
		case repository.SortOldest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case repository.SortAlpha:
			la, lb := strings.ToLower(a.Text), strings.ToLower(b.Text)
			if la != lb {
				return la < lb
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start > total {
		start = total
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	page := make([]domain.Todo, 0, end-start)
	for _, t := range matched[start:end] {
		page = append(page, *copyTodo(t))
	}
	return page, total, nil
}

// ListTodosUpdatedSince returns live todos touched at or after since.
func (r *Repository) ListTodosUpdatedSince(ctx context.Context, userID string, since time.Time) ([]domain.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.Todo
	for _, t := range r.todos {
		if t.UserID != userID || t.DeletedAt != nil || t.UpdatedAt.Before(since) {
			continue
		}
		matched = append(matched, *copyTodo(t))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

// UpdateTodoVersioned applies a guarded partial update under the lock.
func (r *Repository) UpdateTodoVersioned(ctx context.Context, userID, id string, expectedVersion int64, changes repository.TodoChanges, now time.Time) (*domain.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.todos[id]
	if !ok || t.UserID != userID || t.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	if t.Version != expectedVersion {
		return nil, repository.ErrVersionMismatch
	}
	if changes.Text != nil {
		t.Text = *changes.Text
	}
	if changes.Completed != nil {
		t.Completed = *changes.Completed
	}
	t.Version++
	t.UpdatedAt = now
	return copyTodo(t), nil
}

// UpdateTodoVersionedIncludingDeleted applies the guard to any row, deleted
// or not. Soft-deleted rows stay deleted.
func (r *Repository) UpdateTodoVersionedIncludingDeleted(ctx context.Context, userID, id string, expectedVersion int64, changes repository.TodoChanges, now time.Time) (*domain.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.todos[id]
	if !ok || t.UserID != userID {
		return nil, repository.ErrNotFound
	}
	if t.Version != expectedVersion {
		return nil, repository.ErrVersionMismatch
	}
	if changes.Text != nil {
		t.Text = *changes.Text
	}
	if changes.Completed != nil {
		t.Completed = *changes.Completed
	}
	t.Version++
	t.UpdatedAt = now
	return copyTodo(t), nil
}

// SoftDeleteTodo stamps deleted_at on a live row.
func (r *Repository) SoftDeleteTodo(ctx context.Context, userID, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.todos[id]
	if !ok || t.UserID != userID || t.DeletedAt != nil {
		return repository.ErrNotFound
	}
	stamp := now
	t.DeletedAt = &stamp
	return nil
}

// RestoreTodo clears deleted_at on a soft-deleted row.
func (r *Repository) RestoreTodo(ctx context.Context, userID, id string) (*domain.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.todos[id]
	if !ok || t.UserID != userID || t.DeletedAt == nil {
		return nil, repository.ErrNotFound
	}
	t.DeletedAt = nil
	return copyTodo(t), nil
}
