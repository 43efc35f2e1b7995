// Package janitor prunes refresh-token rows that can never be redeemed
// again. Rows are kept for a retention window past their expiry, then
// dropped.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ticklist/api/internal/repository"
	"github.com/ticklist/api/pkg/config"
)

const pruneTimeout = 30 * time.Second

// Janitor runs the periodic prune loop.
type Janitor struct {
	tokens    repository.RefreshTokenRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// New constructs a Janitor. It returns nil when pruning is disabled.
func New(tokens repository.RefreshTokenRepository, logger *slog.Logger, cfg config.APIConfig) *Janitor {
	if tokens == nil || cfg.TokenPruneInterval <= 0 {
		return nil
	}
	j := &Janitor{
		tokens:    tokens,
		logger:    logger,
		interval:  cfg.TokenPruneInterval,
		retention: cfg.TokenPruneRetention,
		now:       time.Now,
	}
	if j.logger != nil {
		j.logger = j.logger.With("component", "janitor")
	}
	return j
}

// Run executes the prune loop until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("token janitor started", "interval", j.interval, "retention", j.retention)
	j.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("token janitor stopped")
			return
		case <-ticker.C:
			j.runIteration(ctx)
		}
	}
}

func (j *Janitor) runIteration(parent context.Context) {
	timeout := pruneTimeout
	if j.interval < timeout {
		timeout = j.interval
	}
	opCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cutoff := j.now().UTC().Add(-j.retention)
	removed, err := j.tokens.PruneRefreshTokens(opCtx, cutoff)
	if err != nil {
		j.logger.Warn("failed to prune refresh tokens", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("pruned refresh tokens", "removed", removed, "cutoff", cutoff)
	}
}
