package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/metrics"
	"github.com/gatehouse/gatehouse/internal/models"
)

// LockoutRepository defines the attempt-log operations the tracker needs
type LockoutRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedByUsername(ctx context.Context, username string, since time.Time) (int, error)
	CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	LastFailureByUsername(ctx context.Context, username string, since time.Time) (*time.Time, error)
	LastFailureByIP(ctx context.Context, ipAddress string, since time.Time) (*time.Time, error)
}

// Alerter notifies operators when a lockout engages (best effort)
type Alerter interface {
	LockoutEngaged(ctx context.Context, scope, identifier string, until time.Time)
}

// LockoutState is the result of a lockout check
type LockoutState struct {
	Locked      bool
	Scope       string // "account" or "ip"
	RetryAfter  time.Duration
	LockedUntil time.Time
}

// LockoutService is the Lockout Tracker: it counts failed attempts in a
// rolling window per account and per IP and computes escalating lockout
// durations. All state lives in the attempt log; nothing is held in memory,
// so concurrent handlers and restarts see one truth.
type LockoutService struct {
	repo    LockoutRepository
	config  config.LockoutConfig
	logger  *slog.Logger
	alerter Alerter
	metrics *metrics.Metrics
}

func NewLockoutService(repo LockoutRepository, cfg config.LockoutConfig, logger *slog.Logger, alerter Alerter, m *metrics.Metrics) *LockoutService {
	return &LockoutService{
		repo:    repo,
		config:  cfg,
		logger:  logger,
		alerter: alerter,
		metrics: m,
	}
}

// LockoutDurationForEpisode returns the progressive lockout duration for the
// nth lockout episode (1-based). Past the last step the final one applies.
func LockoutDurationForEpisode(steps []time.Duration, episode int) time.Duration {
	if len(steps) == 0 || episode < 1 {
		return 0
	}
	if episode > len(steps) {
		episode = len(steps)
	}
	return steps[episode-1]
}

// CheckLockout evaluates both axes. Both must pass for an attempt to
// proceed; on lock the credential store is never consulted so a locked
// caller cannot probe which accounts exist.
func (s *LockoutService) CheckLockout(ctx context.Context, username, ip string) (*LockoutState, error) {
	now := time.Now()
	// Failures are read over the longest lock a step can impose, not just
	// the counting window: a 30m or 24h lock keeps holding after its
	// triggering failures age past the window, and lifts only when the
	// promised duration has elapsed since the last failure.
	since := now.Add(-s.lookback())

	// Account axis: lower threshold, progressive episode backoff.
	accountFailures, err := s.repo.CountFailedByUsername(ctx, username, since)
	if err != nil {
		return nil, err
	}

	if accountFailures >= s.config.AccountThreshold {
		episode := accountFailures / s.config.AccountThreshold
		duration := s.capped(LockoutDurationForEpisode(s.config.AccountSteps, episode))

		state, err := s.lockState(ctx, "account", username, duration, now, since)
		if err != nil {
			return nil, err
		}
		if state != nil {
			return state, nil
		}
	}

	// IP axis: higher threshold, duration escalates linearly with episodes.
	ipFailures, err := s.repo.CountFailedByIP(ctx, ip, since)
	if err != nil {
		return nil, err
	}

	if ipFailures >= s.config.IPThreshold {
		episode := ipFailures / s.config.IPThreshold
		duration := s.capped(s.config.IPBaseLockout * time.Duration(episode))

		state, err := s.lockStateIP(ctx, ip, duration, now, since)
		if err != nil {
			return nil, err
		}
		if state != nil {
			return state, nil
		}
	}

	return &LockoutState{Locked: false}, nil
}

// RecordFailure inserts a failed-attempt row unconditionally, even while
// already locked, to extend the evidence trail.
func (s *LockoutService) RecordFailure(ctx context.Context, username, ip, userAgent, reason string) error {
	attempt := &models.LoginAttempt{
		Username:      username,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: &reason,
	}

	if err := s.repo.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
		return err
	}
	return nil
}

// RecordSuccess logs a successful attempt. No rows are deleted; the window
// simply ages past failures out.
func (s *LockoutService) RecordSuccess(ctx context.Context, username, ip, userAgent string) error {
	attempt := &models.LoginAttempt{
		Username:  username,
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   true,
	}

	if err := s.repo.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login success", slog.Any("error", err))
		return err
	}
	return nil
}

// lockState computes the account lock expiry from the most recent failure.
// Returns nil when the lock window has already elapsed.
func (s *LockoutService) lockState(ctx context.Context, scope, username string, duration time.Duration, now, since time.Time) (*LockoutState, error) {
	lastFailure, err := s.repo.LastFailureByUsername(ctx, username, since)
	if err != nil {
		return nil, err
	}
	return s.buildState(ctx, scope, username, lastFailure, duration, now), nil
}

func (s *LockoutService) lockStateIP(ctx context.Context, ip string, duration time.Duration, now, since time.Time) (*LockoutState, error) {
	lastFailure, err := s.repo.LastFailureByIP(ctx, ip, since)
	if err != nil {
		return nil, err
	}
	return s.buildState(ctx, "ip", ip, lastFailure, duration, now), nil
}

func (s *LockoutService) buildState(ctx context.Context, scope, identifier string, lastFailure *time.Time, duration time.Duration, now time.Time) *LockoutState {
	if lastFailure == nil {
		return nil
	}

	lockedUntil := lastFailure.Add(duration)
	if !now.Before(lockedUntil) {
		return nil
	}

	s.logger.Warn("lockout engaged",
		slog.String("scope", scope),
		slog.Duration("retry_after", lockedUntil.Sub(now)),
		slog.Time("locked_until", lockedUntil))

	if s.metrics != nil {
		s.metrics.Lockouts.WithLabelValues(scope).Inc()
	}
	if s.alerter != nil {
		s.alerter.LockoutEngaged(ctx, scope, identifier, lockedUntil)
	}

	return &LockoutState{
		Locked:      true,
		Scope:       scope,
		RetryAfter:  lockedUntil.Sub(now),
		LockedUntil: lockedUntil,
	}
}

// lookback is how far back failures stay relevant: the counting window
// stretched to the longest lock the config can hand out, so an active lock
// is never cut short by its own evidence aging out.
func (s *LockoutService) lookback() time.Duration {
	lb := s.config.Window
	if s.config.MaxLockout > lb {
		lb = s.config.MaxLockout
	}
	for _, step := range s.config.AccountSteps {
		if step > lb {
			lb = step
		}
	}
	return lb
}

func (s *LockoutService) capped(d time.Duration) time.Duration {
	if s.config.MaxLockout > 0 && d > s.config.MaxLockout {
		return s.config.MaxLockout
	}
	return d
}
