package auth

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/repository"
	"github.com/ticklist/api/internal/service/token"
	"github.com/ticklist/api/pkg/crypto"
)

// ErrInvalidCredentials covers unknown email, failed password verification
// and unusable bearer tokens alike; it never says which factor failed.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrAccountInactive marks a correctly authenticated but deactivated account.
var ErrAccountInactive = errors.New("auth: account inactive")

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	tokens token.Service
	logger *slog.Logger
}

// New constructs a Service.
func New(users repository.UserRepository, tokens token.Service, logger *slog.Logger) Service {
	return Service{users: users, tokens: tokens, logger: logger}
}

// Register creates an account and signs it in. Duplicate emails surface as
// repository.ErrConflict.
func (s Service) Register(ctx context.Context, email, password, displayName string) (*domain.User, token.Pair, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, token.Pair{}, err
	}
	user := &domain.User{
		ID:            uuid.NewString(),
		Email:         domain.NormalizeEmail(email),
		PasswordHash:  &hash,
		DisplayName:   displayName,
		EmailVerified: false,
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, token.Pair{}, err
	}
	pair, err := s.tokens.IssuePair(ctx, user.ID)
	if err != nil {
		return nil, token.Pair{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, pair, nil
}

// Login authenticates a user and returns a fresh token pair. An account
// without a password hash fails verification the same way a wrong password
// does.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, token.Pair, error) {
	user, err := s.users.GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, token.Pair{}, ErrInvalidCredentials
		}
		return nil, token.Pair{}, err
	}
	var stored string
	if user.PasswordHash != nil {
		stored = *user.PasswordHash
	}
	if err := crypto.ComparePassword(stored, password); err != nil {
		return nil, token.Pair{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, token.Pair{}, ErrAccountInactive
	}
	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, token.Pair{}, err
	}
	user.LastLogin = &now
	pair, err := s.tokens.IssuePair(ctx, user.ID)
	if err != nil {
		return nil, token.Pair{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, pair, nil
}

// Refresh redeems a refresh secret for a rotated pair and the owning user.
func (s Service) Refresh(ctx context.Context, secret string) (*domain.User, token.Pair, error) {
	userID, pair, err := s.tokens.Redeem(ctx, secret)
	if err != nil {
		return nil, token.Pair{}, err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, token.Pair{}, ErrInvalidCredentials
		}
		return nil, token.Pair{}, err
	}
	if !user.IsActive {
		return nil, token.Pair{}, ErrAccountInactive
	}
	return user, pair, nil
}

// Logout revokes the refresh secret. Unknown secrets succeed silently.
func (s Service) Logout(ctx context.Context, secret string) error {
	return s.tokens.Revoke(ctx, secret)
}

// Authorize validates a bearer access token and loads the account behind it.
// Unknown and inactive users both fail as invalid credentials.
func (s Service) Authorize(ctx context.Context, raw string) (*domain.User, error) {
	userID, err := s.tokens.ValidateAccess(raw)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
