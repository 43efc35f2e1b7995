package token

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticklist/api/internal/repository/memory"
	"github.com/ticklist/api/pkg/config"
	"github.com/ticklist/api/pkg/crypto"
	jwtpkg "github.com/ticklist/api/pkg/jwt"
)

func newTestService(t *testing.T) (Service, *memory.Repository) {
	t.Helper()
	store := memory.New()
	cfg := config.APIConfig{
		JWTSecret:       "token-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 168 * time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger, cfg), store
}

func TestIssuePairStoresHashedSecret(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, 15*time.Minute, pair.ExpiresIn)

	// The record is retrievable by hash only; the raw secret never lands in
	// the store.
	record, err := store.GetRefreshTokenByHash(ctx, crypto.HashToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
	assert.False(t, record.Revoked)
	assert.NotEqual(t, pair.RefreshToken, record.TokenHash)

	_, err = store.GetRefreshTokenByHash(ctx, pair.RefreshToken)
	assert.Error(t, err)
}

func TestValidateAccess(t *testing.T) {
	svc, _ := newTestService(t)

	pair, err := svc.IssuePair(context.Background(), "user-1")
	require.NoError(t, err)

	userID, err := svc.ValidateAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = svc.ValidateAccess("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A signed token of the wrong kind is rejected even though the signature
	// checks out.
	other, err := jwtpkg.Generate("user-1", "password-reset", "token-test-secret", time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateAccess(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Wrong secret.
	forged, err := jwtpkg.Generate("user-1", KindAccess, "other-secret", time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateAccess(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRedeemRotatesAndSpendsSecret(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssuePair(ctx, "user-1")
	require.NoError(t, err)

	userID, rotated, err := svc.Redeem(ctx, issued.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)

	// The first secret is spent for good.
	_, _, err = svc.Redeem(ctx, issued.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The replacement chain keeps working.
	_, _, err = svc.Redeem(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRedeemUnknownSecret(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Redeem(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRedeemExpiredSecret(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssuePair(ctx, "user-1")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(169 * time.Hour) }
	_, _, err = svc.Redeem(ctx, issued.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssuePair(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, issued.RefreshToken))
	_, _, err = svc.Redeem(ctx, issued.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Revoking twice or revoking garbage is a silent success.
	assert.NoError(t, svc.Revoke(ctx, issued.RefreshToken))
	assert.NoError(t, svc.Revoke(ctx, "never-issued"))
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssuePair(ctx, "user-1")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Redeem(ctx, issued.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrInvalidToken)
		}
	}
	assert.Equal(t, 1, winners)
}
