package httpx

import (
	"time"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/service/todo"
	"github.com/ticklist/api/internal/service/token"
)

type userResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	EmailVerified bool       `json:"email_verified"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		IsActive:      u.IsActive,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
	}
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

func toTokenResponse(u *domain.User, pair token.Pair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
		User:         toUserResponse(u),
	}
}

type todoResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toTodoResponse(t domain.Todo) todoResponse {
	return todoResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Text:      t.Text,
		Completed: t.Completed,
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toTodoResponses(todos []domain.Todo) []todoResponse {
	out := make([]todoResponse, 0, len(todos))
	for _, t := range todos {
		out = append(out, toTodoResponse(t))
	}
	return out
}

type todoListResponse struct {
	Items   []todoResponse `json:"items"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
	Total   int            `json:"total"`
}

type syncConflictResponse struct {
	ID            string       `json:"id"`
	ClientVersion int64        `json:"client_version"`
	ServerVersion int64        `json:"server_version"`
	ServerData    todoResponse `json:"server_data"`
}

type syncResponse struct {
	ServerChanges []todoResponse         `json:"server_changes"`
	Applied       []string               `json:"applied"`
	Conflicts     []syncConflictResponse `json:"conflicts"`
	SyncTimestamp time.Time              `json:"sync_timestamp"`
}

func toSyncResponse(result *todo.SyncResult) syncResponse {
	conflicts := make([]syncConflictResponse, 0, len(result.Conflicts))
	for _, c := range result.Conflicts {
		conflicts = append(conflicts, syncConflictResponse{
			ID:            c.ID,
			ClientVersion: c.ClientVersion,
			ServerVersion: c.ServerVersion,
			ServerData:    toTodoResponse(c.ServerData),
		})
	}
	return syncResponse{
		ServerChanges: toTodoResponses(result.ServerChanges),
		Applied:       result.Applied,
		Conflicts:     conflicts,
		SyncTimestamp: result.SyncTimestamp,
	}
}
