package domain

import "time"

// Todo is a single list item owned by exactly one user. Version starts at 1
// and increments by exactly 1 on every accepted mutation; DeletedAt non-nil
// hides the item from normal reads until restored.
type Todo struct {
	ID        string
	UserID    string
	Text      string
	Completed bool
	ClientID  *string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the todo is currently soft-deleted.
func (t Todo) Deleted() bool {
	return t.DeletedAt != nil
}
