package todo

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/repository"
)

// Service implements todo CRUD with optimistic versioning plus the batch
// sync reconciliation used by offline clients.
type Service struct {
	todos  repository.TodoRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(todos repository.TodoRepository, logger *slog.Logger) Service {
	return Service{todos: todos, logger: logger}
}

// CreateInput captures one todo creation.
type CreateInput struct {
	Text      string
	Completed bool
	ClientID  *string
}

// UpdateInput captures a guarded partial update. Version is the version the
// caller last observed; nil fields stay untouched.
type UpdateInput struct {
	Version   int64
	Text      *string
	Completed *bool
}

// SyncEntry is one client-side todo state submitted for reconciliation.
type SyncEntry struct {
	ID        string
	Version   int64
	Text      *string
	Completed *bool
	ClientID  *string
}

// SyncConflict reports one entry whose version guard failed. ServerData is
// the authoritative record; the client decides how to merge.
type SyncConflict struct {
	ID            string
	ClientVersion int64
	ServerVersion int64
	ServerData    domain.Todo
}

// SyncResult is the outcome of one reconciliation call.
type SyncResult struct {
	ServerChanges []domain.Todo
	Applied       []string
	Conflicts     []SyncConflict
	SyncTimestamp time.Time
}

// List returns one page of the caller's live todos and the total match count.
func (s Service) List(ctx context.Context, userID string, filter repository.TodoFilter) ([]domain.Todo, int, error) {
	return s.todos.ListTodos(ctx, userID, filter)
}

// Get returns a single live todo.
func (s Service) Get(ctx context.Context, userID, id string) (*domain.Todo, error) {
	return s.todos.GetTodoByID(ctx, userID, id)
}

// Create inserts a new todo at version 1.
func (s Service) Create(ctx context.Context, userID string, input CreateInput) (*domain.Todo, error) {
	now := time.Now().UTC()
	todo := &domain.Todo{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      input.Text,
		Completed: input.Completed,
		ClientID:  input.ClientID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.todos.CreateTodo(ctx, todo); err != nil {
		return nil, err
	}
	return todo, nil
}

// BulkCreate inserts a batch and returns the records in submission order.
// Ids are always minted server-side, so no entry can conflict.
func (s Service) BulkCreate(ctx context.Context, userID string, inputs []CreateInput) ([]domain.Todo, error) {
	now := time.Now().UTC()
	todos := make([]*domain.Todo, 0, len(inputs))
	for _, input := range inputs {
		todos = append(todos, &domain.Todo{
			ID:        uuid.NewString(),
			UserID:    userID,
			Text:      input.Text,
			Completed: input.Completed,
			ClientID:  input.ClientID,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := s.todos.CreateTodos(ctx, todos); err != nil {
		return nil, err
	}
	out := make([]domain.Todo, 0, len(todos))
	for _, t := range todos {
		out = append(out, *t)
	}
	return out, nil
}

// Update applies a version-guarded partial update. A stale version surfaces
// as repository.ErrVersionMismatch and leaves the record untouched.
func (s Service) Update(ctx context.Context, userID, id string, input UpdateInput) (*domain.Todo, error) {
	changes := repository.TodoChanges{Text: input.Text, Completed: input.Completed}
	return s.todos.UpdateTodoVersioned(ctx, userID, id, input.Version, changes, time.Now().UTC())
}

// Delete soft-deletes a live todo. The version stays as it was so a later
// restore picks up where the item left off.
func (s Service) Delete(ctx context.Context, userID, id string) error {
	return s.todos.SoftDeleteTodo(ctx, userID, id, time.Now().UTC())
}

// Restore brings a soft-deleted todo back.
func (s Service) Restore(ctx context.Context, userID, id string) (*domain.Todo, error) {
	return s.todos.RestoreTodo(ctx, userID, id)
}

// Sync reconciles a batch of client states against the store. Entries are
// processed sequentially and independently: a conflicting entry is reported
// and skipped, never blocking the rest. Only a store failure aborts the
// batch, leaving earlier applications committed.
func (s Service) Sync(ctx context.Context, userID string, lastSync time.Time, entries []SyncEntry) (*SyncResult, error) {
	applied := make([]string, 0, len(entries))
	var conflicts []SyncConflict

	for _, entry := range entries {
		existing, err := s.todos.GetTodoIncludingDeleted(ctx, userID, entry.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// Unknown id: treat the entry as brand new. The server mints its
			// own id; the client's id is echoed in applied for re-mapping.
			created, cerr := s.createFromEntry(ctx, userID, entry)
			if cerr != nil {
				return nil, cerr
			}
			applied = append(applied, entry.ID)
			s.logger.Debug("sync created todo", "user_id", userID, "todo_id", created.ID)
			continue
		case err != nil:
			return nil, err
		}

		if existing.Version != entry.Version {
			conflicts = append(conflicts, SyncConflict{
				ID:            entry.ID,
				ClientVersion: entry.Version,
				ServerVersion: existing.Version,
				ServerData:    *existing,
			})
			continue
		}

		changes := repository.TodoChanges{Text: entry.Text, Completed: entry.Completed}
		_, err = s.todos.UpdateTodoVersionedIncludingDeleted(ctx, userID, entry.ID, entry.Version, changes, time.Now().UTC())
		switch {
		case err == nil:
			applied = append(applied, entry.ID)
		case errors.Is(err, repository.ErrVersionMismatch), errors.Is(err, repository.ErrNotFound):
			// The row moved between the read and the guarded write; report
			// the freshest state we can get.
			snapshot := existing
			if current, cerr := s.todos.GetTodoIncludingDeleted(ctx, userID, entry.ID); cerr == nil {
				snapshot = current
			}
			conflicts = append(conflicts, SyncConflict{
				ID:            entry.ID,
				ClientVersion: entry.Version,
				ServerVersion: snapshot.Version,
				ServerData:    *snapshot,
			})
		default:
			return nil, err
		}
	}

	changes, err := s.todos.ListTodosUpdatedSince(ctx, userID, lastSync)
	if err != nil {
		return nil, err
	}
	return &SyncResult{
		ServerChanges: changes,
		Applied:       applied,
		Conflicts:     conflicts,
		SyncTimestamp: time.Now().UTC(),
	}, nil
}

func (s Service) createFromEntry(ctx context.Context, userID string, entry SyncEntry) (*domain.Todo, error) {
	now := time.Now().UTC()
	todo := &domain.Todo{
		ID:        uuid.NewString(),
		UserID:    userID,
		Completed: entry.Completed != nil && *entry.Completed,
		ClientID:  entry.ClientID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entry.Text != nil {
		todo.Text = *entry.Text
	}
	if err := s.todos.CreateTodo(ctx, todo); err != nil {
		return nil, err
	}
	return todo, nil
}
