package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/repository"
)

// Repository implements the persistence interfaces on PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New constructs a Repository. timeout caps every store call; zero disables
// the per-call deadline.
func New(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository         = (*Repository)(nil)
	_ repository.RefreshTokenRepository = (*Repository)(nil)
	_ repository.TodoRepository         = (*Repository)(nil)
)

// Ping verifies store connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return translateErr(err)
	}
	return nil
}

// Close releases the underlying pool.
func (r *Repository) Close() {
	r.pool.Close()
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// translateErr maps driver failures onto the repository sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", repository.ErrUnavailable, err)
	}
	return err
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `INSERT INTO users (id, email, password_hash, display_name, email_verified, is_active, created_at, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.EmailVerified,
		user.IsActive,
		user.CreatedAt,
		user.LastLogin,
	)
	return translateErr(err)
}

const userColumns = `id, email, password_hash, display_name, email_verified, is_active, created_at, last_login`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.EmailVerified, &u.IsActive, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// UpdateUser persists mutable profile fields.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE users
		SET email = $2, display_name = $3, email_verified = $4, is_active = $5
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.DisplayName, user.EmailVerified, user.IsActive)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateLastLogin stamps the most recent successful login.
func (r *Repository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE users SET last_login = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteUser removes the account. Todos and refresh tokens go with it via
// FK cascade.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `DELETE FROM users WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateRefreshToken inserts a refresh-token record.
func (r *Repository) CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.Revoked,
		token.CreatedAt,
	)
	return translateErr(err)
}

// GetRefreshTokenByHash finds a record by its stored hash, in any state.
func (r *Repository) GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT id, user_id, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash = $1`
	row := r.pool.QueryRow(ctx, query, hash)
	var t domain.RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		return nil, translateErr(err)
	}
	return &t, nil
}

// RevokeRefreshToken flips revoked on a not-yet-revoked row. The condition
// makes the flip single-winner under concurrent redemptions.
func (r *Repository) RevokeRefreshToken(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RevokeRefreshTokenByHash revokes whatever row matches; missing rows are a
// silent success so logout stays idempotent.
func (r *Repository) RevokeRefreshTokenByHash(ctx context.Context, hash string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`
	_, err := r.pool.Exec(ctx, query, hash)
	return translateErr(err)
}

// PruneRefreshTokens deletes rows whose expiry passed before the cutoff.
func (r *Repository) PruneRefreshTokens(ctx context.Context, expiredBefore time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	tag, err := r.pool.Exec(ctx, query, expiredBefore)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

const todoColumns = `id, user_id, text, completed, client_id, version, created_at, updated_at, deleted_at`

const todoInsert = `INSERT INTO todos (id, user_id, text, completed, client_id, version, created_at, updated_at, deleted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func scanTodo(row pgx.Row) (*domain.Todo, error) {
	var t domain.Todo
	err := row.Scan(&t.ID, &t.UserID, &t.Text, &t.Completed, &t.ClientID, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &t, nil
}

// CreateTodo inserts a todo.
func (r *Repository) CreateTodo(ctx context.Context, todo *domain.Todo) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, todoInsert,
		todo.ID,
		todo.UserID,
		todo.Text,
		todo.Completed,
		todo.ClientID,
		todo.Version,
		todo.CreatedAt,
		todo.UpdatedAt,
		todo.DeletedAt,
	)
	return translateErr(err)
}

// CreateTodos inserts a batch in submission order.
func (r *Repository) CreateTodos(ctx context.Context, todos []*domain.Todo) error {
	if len(todos) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	batch := &pgx.Batch{}
	for _, todo := range todos {
		batch.Queue(todoInsert,
			todo.ID,
			todo.UserID,
			todo.Text,
			todo.Completed,
			todo.ClientID,
			todo.Version,
			todo.CreatedAt,
			todo.UpdatedAt,
			todo.DeletedAt,
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	for range todos {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return translateErr(err)
		}
	}
	return translateErr(br.Close())
}

// GetTodoByID returns a non-deleted todo.
func (r *Repository) GetTodoByID(ctx context.Context, userID, id string) (*domain.Todo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT ` + todoColumns + ` FROM todos
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	return scanTodo(r.pool.QueryRow(ctx, query, id, userID))
}

// GetTodoIncludingDeleted also matches soft-deleted rows.
func (r *Repository) GetTodoIncludingDeleted(ctx context.Context, userID, id string) (*domain.Todo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT ` + todoColumns + ` FROM todos
		WHERE id = $1 AND user_id = $2`
	return scanTodo(r.pool.QueryRow(ctx, query, id, userID))
}

// ListTodos returns one page of non-deleted todos plus the total match count.
func (r *Repository) ListTodos(ctx context.Context, userID string, filter repository.TodoFilter) ([]domain.Todo, int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var where strings.Builder
	where.WriteString(`WHERE user_id = $1 AND deleted_at IS NULL`)
	args := []any{userID}

	switch filter.Status {
	case repository.StatusActive:
		where.WriteString(` AND completed = FALSE`)
	case repository.StatusCompleted:
		where.WriteString(` AND completed = TRUE`)
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		fmt.Fprintf(&where, ` AND text ILIKE $%d`, len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		fmt.Fprintf(&where, ` AND updated_at >= $%d`, len(args))
	}

	var total int
	countQuery := `SELECT COUNT(1) FROM todos ` + where.String()
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, translateErr(err)
	}

	order := ` ORDER BY created_at DESC, id`
	switch filter.Sort {
	case repository.SortOldest:
		order = ` ORDER BY created_at ASC, id`
	case repository.SortAlpha:
		order = ` ORDER BY lower(text) ASC, id`
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := fmt.Sprintf(`SELECT %s FROM todos %s%s LIMIT $%d OFFSET $%d`,
		todoColumns, where.String(), order, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, translateErr(err)
	}
	defer rows.Close()

	var todos []domain.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, 0, err
		}
		todos = append(todos, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translateErr(err)
	}
	return todos, total, nil
}

// ListTodosUpdatedSince returns non-deleted todos touched at or after since.
func (r *Repository) ListTodosUpdatedSince(ctx context.Context, userID string, since time.Time) ([]domain.Todo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT ` + todoColumns + ` FROM todos
		WHERE user_id = $1 AND deleted_at IS NULL AND updated_at >= $2
		ORDER BY updated_at DESC, id`
	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var todos []domain.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return todos, nil
}

// UpdateTodoVersioned applies a guarded partial update. The version check and
// the write are one conditional statement so concurrent updates to the same
// row cannot both pass.
func (r *Repository) UpdateTodoVersioned(ctx context.Context, userID, id string, expectedVersion int64, changes repository.TodoChanges, now time.Time) (*domain.Todo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE todos
		SET text = COALESCE($4, text),
			completed = COALESCE($5, completed),
			version = version + 1,
			updated_at = $6
		WHERE id = $1 AND user_id = $2 AND version = $3 AND deleted_at IS NULL
		RETURNING ` + todoColumns
	todo, err := scanTodo(r.pool.QueryRow(ctx, query, id, userID, expectedVersion, changes.Text, changes.Completed, now))
	if err == nil {
		return todo, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	// No row passed the guard: tell a stale version apart from a missing row.
	const probe = `SELECT version FROM todos WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	var current int64
	if probeErr := r.pool.QueryRow(ctx, probe, id, userID).Scan(&current); probeErr != nil {
		return nil, translateErr(probeErr)
	}
	return nil, repository.ErrVersionMismatch
}

// UpdateTodoVersionedIncludingDeleted applies the same guarded update without
// the live-row filter. A soft-deleted row that passes the version check is
// mutated in place and stays deleted.
func (r *Repository) UpdateTodoVersionedIncludingDeleted(ctx context.Context, userID, id string, expectedVersion int64, changes repository.TodoChanges, now time.Time) (*domain.Todo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE todos
		SET text = COALESCE($4, text),
			completed = COALESCE($5, completed),
			version = version + 1,
			updated_at = $6
		WHERE id = $1 AND user_id = $2 AND version = $3
		RETURNING ` + todoColumns
	todo, err := scanTodo(r.pool.QueryRow(ctx, query, id, userID, expectedVersion, changes.Text, changes.Completed, now))
	if err == nil {
		return todo, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	const probe = `SELECT version FROM todos WHERE id = $1 AND user_id = $2`
	var current int64
	if probeErr := r.pool.QueryRow(ctx, probe, id, userID).Scan(&current); probeErr != nil {
		return nil, translateErr(probeErr)
	}
	return nil, repository.ErrVersionMismatch
}

// SoftDeleteTodo stamps deleted_at on a live row. Version is untouched.
func (r *Repository) SoftDeleteTodo(ctx context.Context, userID, id string, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE todos SET deleted_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, id, userID, now)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RestoreTodo clears deleted_at on a soft-deleted row.
func (r *Repository) RestoreTodo(ctx context.Context, userID, id string) (*domain.Todo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `UPDATE todos SET deleted_at = NULL
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NOT NULL
		RETURNING ` + todoColumns
	return scanTodo(r.pool.QueryRow(ctx, query, id, userID))
}

// escapeLike neutralises LIKE metacharacters in user-supplied search text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
