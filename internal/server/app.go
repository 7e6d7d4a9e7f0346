// Package server wires the auth core together and runs the internal
// auth-check gRPC API with the optional in-process retention loop.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/auth"
	"github.com/dmitrijs2005/storeauth/internal/server/config"
	"github.com/dmitrijs2005/storeauth/internal/server/notify"
	"github.com/dmitrijs2005/storeauth/internal/server/rbac"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/storeauth/internal/server/retention"
	"github.com/dmitrijs2005/storeauth/internal/server/services"

	gs "github.com/dmitrijs2005/storeauth/internal/server/grpc"
)

// handleRetention is how long anonymous transport handles are kept.
const handleRetention = 24 * time.Hour

// Core holds every service of the auth core bound to one database.
type Core struct {
	Repos       repomanager.RepositoryManager
	Audit       *services.AuditLog
	Limiter     *services.RateLimiter
	Credentials *services.CredentialStore
	Otp         *services.OtpTokenService
	Totp        *auth.TotpService
	Sessions    *services.SessionManager
	Auth        *services.AuthService
	Guard       *rbac.Guard
	Retention   *retention.Job
}

// NewCore builds the services from c. Nothing touches db until a service
// method runs.
func NewCore(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (*Core, error) {
	policy, err := services.ParseFailurePolicy(c.RateLimitFailurePolicy)
	if err != nil {
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	audit := services.NewAuditLog(db, rm, logger)
	limiter := services.NewRateLimiter(db, rm, policy, logger)

	credentials := services.NewCredentialStore(db, rm, limiter, audit, logger, services.LoginLimits{
		PerIdentifier: services.Limit{MaxAttempts: c.LoginMaxAttempts, Window: c.LoginWindow},
		PerIP:         services.Limit{MaxAttempts: c.IPLoginMaxAttempts, Window: c.LoginWindow},
	}, c.BcryptCost)

	otpLimit := services.Limit{MaxAttempts: c.OtpMaxAttempts, Window: c.OtpWindow}
	otp := services.NewOtpTokenService(db, dbx.NewTransactor(db, nil), rm, limiter, audit, logger, services.OtpOptions{
		Pepper:         c.OtpPepper,
		VerifyLimit:    otpLimit,
		ResendInterval: c.OtpResendInterval,
		ResendBurst:    c.OtpResendBurst,
	})

	sessions := services.NewSessionManager(db, rm, audit, logger, c.SessionTTL, services.CookieOptions{
		SessionName: c.SessionCookieName,
		HandleName:  c.HandleCookieName,
		SameSite:    services.ParseSameSite(c.CookieSameSite),
	})

	totp := auth.NewTotpService(c.TotpTolerance)
	flow := services.NewAuthService(db, rm, credentials, limiter, otp, totp, sessions, notify.NewLogNotifier(logger),
		audit, logger, services.FlowOptions{
			OtpTTL:        c.OtpTTL,
			TotpIssuer:    c.TotpIssuer,
			TotpFailLimit: otpLimit,
		})

	var archiver retention.Archiver
	if c.ArchiveEnabled() {
		a, err := retention.NewS3Archiver(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("s3 archiver: %w", err)
		}
		archiver = a
	}
	job := retention.NewJob(otp, sessions, db, rm, archiver, retention.Options{
		AttemptRetention: c.AttemptRetention,
		HandleRetention:  handleRetention,
		AuditRetention:   c.AuditRetention,
		Interval:         c.RetentionInterval,
	}, logger)

	return &Core{
		Repos:       rm,
		Audit:       audit,
		Limiter:     limiter,
		Credentials: credentials,
		Otp:         otp,
		Totp:        totp,
		Sessions:    sessions,
		Auth:        flow,
		Guard:       rbac.NewGuard(rbac.DefaultModel, audit),
		Retention:   job,
	}, nil
}

// OpenDB opens the PostgreSQL pool through the pgx stdlib driver.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	core   *Core
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.New(c.LogFormat)

	db, err := OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	core, err := NewCore(ctx, c, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{config: c, logger: logger, db: db, core: core}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.core.Sessions, app.core.Guard, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until a termination signal arrives or a component fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.core.Retention.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
