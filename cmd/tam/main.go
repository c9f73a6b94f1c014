package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/teamaccess/team-access-manager/internal/app"
	"github.com/teamaccess/team-access-manager/internal/audit"
	audithttp "github.com/teamaccess/team-access-manager/internal/audit/http"
	"github.com/teamaccess/team-access-manager/internal/auth"
	"github.com/teamaccess/team-access-manager/internal/features"
	"github.com/teamaccess/team-access-manager/internal/loginrequests"
	"github.com/teamaccess/team-access-manager/internal/observability"
	"github.com/teamaccess/team-access-manager/internal/platform/cache"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/requests"
	"github.com/teamaccess/team-access-manager/internal/roles"
	"github.com/teamaccess/team-access-manager/internal/shared"
	"github.com/teamaccess/team-access-manager/internal/teams"
	"github.com/teamaccess/team-access-manager/internal/users"
	"github.com/teamaccess/team-access-manager/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	reporter, err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
		Release:     cfg.AppRelease,
		SampleRate:  cfg.SentrySampleRate,
	})
	if err != nil {
		logger.Error("init sentry", slog.Any("error", err))
		os.Exit(1)
	}
	defer reporter.Flush(2 * time.Second)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.TokenTTL)
	locker := shared.NewLocker(redisClient, cfg.LockTTL)
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Logger: logger}

	tokens := auth.NewTokens(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL)
	otpStore := auth.NewOTPStore(redisClient, cfg.OTPTTL)
	authService := auth.NewService(auth.NewRepository(dbpool), sessionManager, tokens, otpStore, jobClient, logger)
	authHandler := auth.NewHandler(logger, authService)

	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audithttp.NewHandler(logger, auditService, audit.CSVExporter{}, rbacMiddleware)

	featureCache := features.NewCache(redisClient, cfg.FeatureCacheTTL)
	featureService := features.NewService(features.NewRepository(dbpool, auditLogger), featureCache, logger)
	featureHandler := features.NewHandler(logger, featureService, rbacMiddleware)

	teamService := teams.NewService(teams.NewRepository(dbpool, auditLogger), auditService, logger)
	teamHandler := teams.NewHandler(logger, teamService, rbacMiddleware)

	userService := users.NewService(users.NewRepository(dbpool, auditLogger), auditService, sessionManager, jobClient, auth.GeneratePassword, logger)
	userHandler := users.NewHandler(logger, userService, rbacMiddleware)

	requestRepo := requests.NewRepository(dbpool, auditLogger, approvalRecorder, idempotencyStore)
	requestService := requests.NewService(requestRepo, locker, jobClient, logger)
	requestHandler := requests.NewHandler(logger, requestService, rbacMiddleware)

	loginRepo := loginrequests.NewRepository(dbpool, auditLogger, approvalRecorder)
	loginService := loginrequests.NewService(loginRepo, locker, jobClient, auth.GeneratePassword, logger)
	loginHandler := loginrequests.NewHandler(logger, loginService, rbacMiddleware)

	roleService := roles.NewService(roles.NewRepository(dbpool, auditLogger), logger)
	roleHandler := roles.NewHandler(logger, roleService, rbacMiddleware)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Metrics:             metrics,
		Reporter:            reporter,
		Authenticate:        auth.Authenticator(authService, rbacService, logger),
		RBAC:                rbacMiddleware,
		AuthHandler:         authHandler,
		LoginRequestHandler: loginHandler,
		FeaturesHandler:     featureHandler,
		TeamsHandler:        teamHandler,
		UsersHandler:        userHandler,
		RequestsHandler:     requestHandler,
		RolesHandler:        roleHandler,
		PermissionsHandler:  rbac.NewPermissionsHandler(rbacMiddleware),
		AuditHandler:        auditHandler,
		JobHandler:          jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
