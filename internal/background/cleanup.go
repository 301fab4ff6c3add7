package background

import (
	"context"
	"log/slog"
	"time"
)

type SessionSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type AttemptSweeper interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type CsrfSweeper interface {
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// Cleaner periodically removes expired sessions, stale login attempts and
// CSRF tokens whose sessions are gone. Expiry is enforced lazily at read
// time; this sweep just keeps the tables from growing without bound.
type Cleaner struct {
	sessions         SessionSweeper
	attempts         AttemptSweeper
	csrf             CsrfSweeper
	interval         time.Duration
	attemptRetention time.Duration
	logger           *slog.Logger
}

func NewCleaner(
	sessions SessionSweeper,
	attempts AttemptSweeper,
	csrf CsrfSweeper,
	interval, attemptRetention time.Duration,
	logger *slog.Logger,
) *Cleaner {
	return &Cleaner{
		sessions:         sessions,
		attempts:         attempts,
		csrf:             csrf,
		interval:         interval,
		attemptRetention: attemptRetention,
		logger:           logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
// One sweep runs immediately on startup.
func (c *Cleaner) Run(ctx context.Context) {
	c.sweep(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cleanup worker stopping")
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := c.sessions.DeleteExpired(sweepCtx)
	if err != nil {
		c.logger.Error("expired session sweep failed", "error", err)
	}

	cutoff := time.Now().Add(-c.attemptRetention)
	stale, err := c.attempts.DeleteOlderThan(sweepCtx, cutoff)
	if err != nil {
		c.logger.Error("login attempt sweep failed", "error", err)
	}

	orphaned, err := c.csrf.DeleteOrphaned(sweepCtx)
	if err != nil {
		c.logger.Error("csrf token sweep failed", "error", err)
	}

	if expired > 0 || stale > 0 || orphaned > 0 {
		c.logger.Info("cleanup sweep completed",
			"expired_sessions", expired,
			"stale_attempts", stale,
			"orphaned_csrf_tokens", orphaned,
		)
	}
}
