package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/background"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/database"
	"github.com/gatehouse/gatehouse/internal/handlers"
	"github.com/gatehouse/gatehouse/internal/metrics"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/gatehouse/gatehouse/internal/repositories"
	"github.com/gatehouse/gatehouse/internal/routes"
	"github.com/gatehouse/gatehouse/internal/services"
	pkgauth "github.com/gatehouse/gatehouse/pkg/auth"
	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
	pkglogger "github.com/gatehouse/gatehouse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.RunMigrations {
		if err := database.Migrate(cfg.Database.DSN()); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	csrfRepo := repositories.NewCsrfRepository(db)

	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		return err
	}

	m := metrics.New()
	audit := pkglogger.NewAuditLogger(logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.TokenSecret, cfg.Auth.SessionMaxLifetime, cfg.Auth.MfaTokenExpiry)
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 100, RandomDelayMs: 100})

	var totpManager *auth.TOTPManager
	if len(cfg.Auth.TotpEncryptionKey) > 0 {
		totpManager, err = auth.NewTOTPManager(cfg.Auth.TotpEncryptionKey, cfg.Auth.TotpIssuer)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("TOTP_ENCRYPTION_KEY not set, MFA enrollment disabled")
	}

	var alerter services.Alerter
	if cfg.Alert.AWSRegion != "" && cfg.Alert.OperatorAddress != "" {
		sesAlerter, err := services.NewSESAlertService(cfg.Alert.AWSRegion, cfg.Alert.FromAddress, cfg.Alert.OperatorAddress, logger)
		if err != nil {
			logger.Warn("lockout alerting disabled", "error", err)
		} else {
			alerter = sesAlerter
		}
	}

	lockoutService := services.NewLockoutService(attemptRepo, cfg.Lockout, logger, alerter, m)
	csrfService := services.NewCsrfService(csrfRepo, logger)
	sessionService := services.NewSessionService(db, sessionRepo, csrfRepo, userRepo, tokenManager, cfg.Auth, logger, audit, m)
	authService := services.NewAuthService(userRepo, lockoutService, sessionService, tokenManager, totpManager, timing, logger, audit, m)
	mfaService := services.NewMfaService(userRepo, totpManager, logger, audit)

	guard := auth.NewGuard(tokenManager, userRepo, sessionRepo, auth.GuardConfig{
		IdleTimeout:   cfg.Auth.SessionIdleTimeout,
		TouchInterval: cfg.Auth.TouchInterval,
	}, audit)

	cookieConfig := auth.CookieConfig{Secure: cfg.Auth.CookieSecure}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	router := routes.New(cfg, logger, m, guard, csrfService, routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService, csrfService, cookieConfig, ipConfig, logger),
		Sessions: handlers.NewSessionHandler(sessionService, logger),
		Mfa:      handlers.NewMfaHandler(mfaService, logger),
		Health:   handlers.NewHealthHandler(db, logger),
	})

	cleaner := background.NewCleaner(sessionRepo, attemptRepo, csrfRepo, cfg.Auth.CleanupInterval, cfg.Auth.AttemptRetention, logger)
	go cleaner.Run(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// ensureAdminUser bootstraps the first admin account from the environment.
// The account is created with force_password_change set so the bootstrap
// password cannot live past the first login.
func ensureAdminUser(ctx context.Context, users *repositories.UserRepository, logger *slog.Logger) error {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}

	_, err := users.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = users.Create(ctx, &models.AdminUser{
		Username:            username,
		PasswordHash:        hash,
		Role:                models.RoleAdmin,
		ForcePasswordChange: true,
	})
	if err != nil {
		return err
	}

	logger.Info("bootstrap admin user created", "username", pkglogger.SanitizedUsername(username))
	return nil
}
