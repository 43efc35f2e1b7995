package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/repository"
)

func seedTodo(t *testing.T, store *Repository, userID, text string, completed bool, createdAt time.Time) *domain.Todo {
	t.Helper()
	todo := &domain.Todo{
		ID:        fmt.Sprintf("todo-%s-%d", text, createdAt.UnixNano()),
		UserID:    userID,
		Text:      text,
		Completed: completed,
		Version:   1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, store.CreateTodo(context.Background(), todo))
	return todo
}

func TestListTodosFilters(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	oldest := seedTodo(t, store, "u1", "water the plants", false, base)
	middle := seedTodo(t, store, "u1", "buy groceries", true, base.Add(time.Hour))
	newest := seedTodo(t, store, "u1", "call the plumber", false, base.Add(2*time.Hour))
	seedTodo(t, store, "u2", "someone else's", false, base)

	baseFilter := repository.TodoFilter{
		Status: repository.StatusAll, Sort: repository.SortNewest, Page: 1, PerPage: 50,
	}

	t.Run("newest first", func(t *testing.T) {
		items, total, err := store.ListTodos(ctx, "u1", baseFilter)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, items, 3)
		assert.Equal(t, newest.ID, items[0].ID)
		assert.Equal(t, oldest.ID, items[2].ID)
	})

	t.Run("oldest first", func(t *testing.T) {
		filter := baseFilter
		filter.Sort = repository.SortOldest
		items, _, err := store.ListTodos(ctx, "u1", filter)
		require.NoError(t, err)
		assert.Equal(t, oldest.ID, items[0].ID)
	})

	t.Run("alphabetical", func(t *testing.T) {
		filter := baseFilter
		filter.Sort = repository.SortAlpha
		items, _, err := store.ListTodos(ctx, "u1", filter)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, middle.ID, items[0].ID) // buy groceries
		assert.Equal(t, newest.ID, items[1].ID) // call the plumber
		assert.Equal(t, oldest.ID, items[2].ID) // water the plants
	})

	t.Run("status", func(t *testing.T) {
		filter := baseFilter
		filter.Status = repository.StatusCompleted
		items, total, err := store.ListTodos(ctx, "u1", filter)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, middle.ID, items[0].ID)

		filter.Status = repository.StatusActive
		_, total, err = store.ListTodos(ctx, "u1", filter)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("search is case insensitive", func(t *testing.T) {
		filter := baseFilter
		filter.Search = "THE"
		_, total, err := store.ListTodos(ctx, "u1", filter)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("since", func(t *testing.T) {
		filter := baseFilter
		since := base.Add(time.Hour)
		filter.Since = &since
		_, total, err := store.ListTodos(ctx, "u1", filter)
		require.NoError(t, err)
		// Matches rows updated at or after the cutoff.
		assert.Equal(t, 2, total)
	})

	t.Run("page beyond the end is empty not an error", func(t *testing.T) {
		filter := baseFilter
		filter.Page = 9
		filter.PerPage = 2
		items, total, err := store.ListTodos(ctx, "u1", filter)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Empty(t, items)
	})

	t.Run("soft deleted rows are invisible", func(t *testing.T) {
		require.NoError(t, store.SoftDeleteTodo(ctx, "u1", newest.ID, time.Now().UTC()))
		_, total, err := store.ListTodos(ctx, "u1", baseFilter)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		_, err = store.RestoreTodo(ctx, "u1", newest.ID)
		require.NoError(t, err)
	})
}

func TestRevokeRefreshTokenIsConditional(t *testing.T) {
	store := New()
	ctx := context.Background()

	record := &domain.RefreshToken{
		ID: "tok-1", UserID: "u1", TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRefreshToken(ctx, record))

	require.NoError(t, store.RevokeRefreshToken(ctx, "tok-1"))
	// The second taker loses: the row is already revoked.
	assert.ErrorIs(t, store.RevokeRefreshToken(ctx, "tok-1"), repository.ErrNotFound)
	assert.ErrorIs(t, store.RevokeRefreshToken(ctx, "missing"), repository.ErrNotFound)
}

func TestPruneRefreshTokens(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, expiry := range []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Minute), now.Add(time.Hour)} {
		require.NoError(t, store.CreateRefreshToken(ctx, &domain.RefreshToken{
			ID: fmt.Sprintf("tok-%d", i), UserID: "u1", TokenHash: fmt.Sprintf("hash-%d", i),
			ExpiresAt: expiry, CreatedAt: now,
		}))
	}

	removed, err := store.PruneRefreshTokens(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.PruneRefreshTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetRefreshTokenByHash(ctx, "hash-2")
	assert.NoError(t, err)
}

func TestCopySemantics(t *testing.T) {
	store := New()
	ctx := context.Background()

	original := &domain.Todo{
		ID: "todo-1", UserID: "u1", Text: "immutable outside", Version: 1,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateTodo(ctx, original))

	// Mutating the caller's struct after insert must not leak into the store.
	original.Text = "mutated by caller"
	stored, err := store.GetTodoByID(ctx, "u1", "todo-1")
	require.NoError(t, err)
	assert.Equal(t, "immutable outside", stored.Text)

	// Mutating a fetched copy must not change the store either.
	stored.Text = "mutated by reader"
	again, err := store.GetTodoByID(ctx, "u1", "todo-1")
	require.NoError(t, err)
	assert.Equal(t, "immutable outside", again.Text)
}
