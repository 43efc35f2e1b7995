package token

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ticklist/api/internal/domain"
	"github.com/ticklist/api/internal/repository"
	"github.com/ticklist/api/pkg/config"
	"github.com/ticklist/api/pkg/crypto"
	jwtpkg "github.com/ticklist/api/pkg/jwt"
)

// KindAccess marks short-lived request credentials.
const KindAccess = "access"

// ErrInvalidToken covers every unusable credential: bad signature, expiry,
// wrong kind, unknown or revoked refresh secret. Callers get no finer detail.
var ErrInvalidToken = errors.New("token: invalid token")

// Service issues and validates both halves of the credential pair: stateless
// signed access tokens and stateful hashed-at-rest refresh tokens.
type Service struct {
	tokens repository.RefreshTokenRepository
	logger *slog.Logger
	cfg    config.APIConfig
	now    func() time.Time
}

// New constructs a Service.
func New(tokens repository.RefreshTokenRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{tokens: tokens, logger: logger, cfg: cfg, now: time.Now}
}

// Pair carries one issuance: a signed access token and the plaintext refresh
// secret. The secret is never persisted and never logged.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// IssuePair mints an access token and a fresh refresh-token record for the
// user, returning the bearer secret alongside the signed token.
func (s Service) IssuePair(ctx context.Context, userID string) (Pair, error) {
	access, err := jwtpkg.Generate(userID, KindAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Pair{}, err
	}
	secret, err := crypto.NewRefreshSecret()
	if err != nil {
		return Pair{}, err
	}
	now := s.now().UTC()
	record := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: crypto.HashToken(secret),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		Revoked:   false,
		CreatedAt: now,
	}
	if err := s.tokens.CreateRefreshToken(ctx, record); err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: secret, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

// ValidateAccess checks signature, expiry and kind of a raw access token and
// returns the subject user id. The caller still has to confirm the user
// exists and is active before trusting the request.
func (s Service) ValidateAccess(raw string) (string, error) {
	claims, err := jwtpkg.Parse(raw, s.cfg.JWTSecret)
	if err != nil {
		return "", ErrInvalidToken
	}
	if claims.Kind != KindAccess || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Redeem exchanges a refresh secret for a rotated pair. The redeemed record
// is revoked in the same step that admits it, so a secret is spendable once:
// a second redemption, or any redemption after logout or expiry, fails.
func (s Service) Redeem(ctx context.Context, secret string) (string, Pair, error) {
	record, err := s.tokens.GetRefreshTokenByHash(ctx, crypto.HashToken(secret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", Pair{}, ErrInvalidToken
		}
		return "", Pair{}, err
	}
	if !record.Usable(s.now().UTC()) {
		return "", Pair{}, ErrInvalidToken
	}
	if err := s.tokens.RevokeRefreshToken(ctx, record.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race against a concurrent redemption or prune.
			return "", Pair{}, ErrInvalidToken
		}
		return "", Pair{}, err
	}
	pair, err := s.IssuePair(ctx, record.UserID)
	if err != nil {
		return "", Pair{}, err
	}
	s.logger.Debug("refresh token rotated", "user_id", record.UserID)
	return record.UserID, pair, nil
}

// Revoke implements logout: the matching record is flagged revoked whatever
// state it was in. Unknown secrets are a silent success.
func (s Service) Revoke(ctx context.Context, secret string) error {
	return s.tokens.RevokeRefreshTokenByHash(ctx, crypto.HashToken(secret))
}
