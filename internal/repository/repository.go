package repository

import (
	"context"
	"time"

	"github.com/ticklist/api/internal/domain"
)

// Todo sort orders accepted by ListTodos.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortAlpha  = "alpha"
)

// Todo status filters accepted by ListTodos.
const (
	StatusAll       = "all"
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// TodoFilter narrows and pages a todo listing. Zero values mean "no filter";
// Page and PerPage must already be validated as positive by the caller.
type TodoFilter struct {
	Status  string
	Search  string
	Since   *time.Time
	Sort    string
	Page    int
	PerPage int
}

// TodoChanges carries the fields of a partial update. Nil means "leave as is".
type TodoChanges struct {
	Text      *string
	Completed *bool
}

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
}

// RefreshTokenRepository persists refresh-token records. Only hashes of the
// bearer secrets are ever stored.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// RevokeRefreshToken flips revoked on a known, not-yet-revoked row and
	// returns ErrNotFound otherwise. Of two concurrent callers exactly one
	// succeeds, which is what makes rotation single-use.
	RevokeRefreshToken(ctx context.Context, id string) error
	// RevokeRefreshTokenByHash revokes whatever row matches the hash,
	// regardless of its current state. Missing rows are a silent success.
	RevokeRefreshTokenByHash(ctx context.Context, hash string) error
	// PruneRefreshTokens deletes rows whose expiry passed before the cutoff
	// and returns how many were removed.
	PruneRefreshTokens(ctx context.Context, expiredBefore time.Time) (int64, error)
}

// TodoRepository persists todos. Every method is scoped to one owning user;
// rows of other users are invisible, not forbidden.
type TodoRepository interface {
	CreateTodo(ctx context.Context, todo *domain.Todo) error
	// CreateTodos inserts a batch, preserving submission order.
	CreateTodos(ctx context.Context, todos []*domain.Todo) error
	// GetTodoByID returns a non-deleted todo.
	GetTodoByID(ctx context.Context, userID, id string) (*domain.Todo, error)
	// GetTodoIncludingDeleted also matches soft-deleted rows. Sync uses it so
	// that a deleted row still counts as "exists" for the version guard.
	GetTodoIncludingDeleted(ctx context.Context, userID, id string) (*domain.Todo, error)
	ListTodos(ctx context.Context, userID string, filter TodoFilter) ([]domain.Todo, int, error)
	// ListTodosUpdatedSince returns non-deleted todos with updated_at at or
	// after the bound, newest first.
	ListTodosUpdatedSince(ctx context.Context, userID string, since time.Time) ([]domain.Todo, error)
	// UpdateTodoVersioned applies changes iff the stored version equals
	// expectedVersion, incrementing it by one. The check and the write are a
	// single atomic statement. Returns ErrVersionMismatch when the row exists
	// but the version moved, ErrNotFound when no live row matches.
	UpdateTodoVersioned(ctx context.Context, userID, id string, expectedVersion int64, changes TodoChanges, now time.Time) (*domain.Todo, error)
	// UpdateTodoVersionedIncludingDeleted is the sync variant: the guard also
	// admits soft-deleted rows, which keep their deleted_at through the
	// update. ErrNotFound only when no row exists at all.
	UpdateTodoVersionedIncludingDeleted(ctx context.Context, userID, id string, expectedVersion int64, changes TodoChanges, now time.Time) (*domain.Todo, error)
	SoftDeleteTodo(ctx context.Context, userID, id string, now time.Time) error
	RestoreTodo(ctx context.Context, userID, id string) (*domain.Todo, error)
}
