package user

import (
	"context"

	"log/slog"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/repository"
)

// Service manages the authenticated account's own profile.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger) Service {
	return Service{users: users, logger: logger}
}

// UpdateInput carries profile changes; nil fields stay untouched.
type UpdateInput struct {
	DisplayName *string
	Email       *string
}

// Get returns the account.
func (s Service) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// Update applies profile changes. Changing the email re-checks uniqueness
// and resets the verified flag.
func (s Service) Update(ctx context.Context, userID string, input UpdateInput) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if input.DisplayName != nil {
		user.DisplayName = *input.DisplayName
	}
	if input.Email != nil {
		normalized := domain.NormalizeEmail(*input.Email)
		if normalized != user.Email {
			user.Email = normalized
			user.EmailVerified = false
		}
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes the account. Todos and refresh tokens cascade away with it.
func (s Service) Delete(ctx context.Context, userID string) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("account deleted", "user_id", userID)
	return nil
}
