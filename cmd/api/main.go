package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"loanwise/loan-portal/loan-portal-backend/internal/applications"
	"loanwise/loan-portal/loan-portal-backend/internal/auth"
	"loanwise/loan-portal/loan-portal-backend/internal/config"
	"loanwise/loan-portal/loan-portal-backend/internal/documents"
	"loanwise/loan-portal/loan-portal-backend/internal/metrics"
	"loanwise/loan-portal/loan-portal-backend/internal/notifications"
	"loanwise/loan-portal/loan-portal-backend/internal/verifier"
	"loanwise/loan-portal/loan-portal-backend/migrations"
	"loanwise/loan-portal/loan-portal-backend/pkg/workerpool"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		zap.NewExample().Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	logger.Info("Connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.String("db_name", cfg.Database.DBName))
	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if cfg.Database.RunMigrations {
		if err := migrations.Run(db.DB, logger); err != nil {
			return err
		}
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return err
	}

	// Collaborators
	store, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	documentService := documents.NewService(
		documents.NewRepository(db),
		store,
		documents.ContentPolicy{MaxFileBytes: cfg.Storage.MaxFileBytes},
		logger.Named("documents"),
	)

	logs, closeLogs, err := newValidationLogs(ctx, cfg.ValidationLogs, gormDB, logger)
	if err != nil {
		return err
	}
	defer closeLogs()

	invoker, err := verifier.NewProcessInvoker(cfg.Verifier, logger.Named("verifier"))
	if err != nil {
		return err
	}

	pool := workerpool.New(cfg.Pool, logger.Named("pool"))
	collector := metrics.NewCollector("loan_portal")
	collector.RegisterPool("loan_portal", pool.Stats)

	deps := applications.Dependencies{
		Repository: applications.NewRepository(db),
		Documents:  documentService,
		Logs:       logs,
		Invoker:    invoker,
		Pool:       pool,
		Metrics:    collector,
		Logger:     logger.Named("applications"),
	}
	reviewers, authHandler, err := newReviewers(cfg.Review, logger.Named("auth"))
	if err != nil {
		return err
	}
	if reviewers != nil {
		deps.Reviewers = reviewers
	} else {
		logger.Warn("No reviewer credential configured; manual decisions are disabled")
	}
	hub := notifications.NewStreamHub(cfg.Notifications.StreamOrigins, logger.Named("stream"))
	defer hub.Close()
	notifier, err := newNotifier(ctx, cfg.Notifications, hub, logger.Named("notifications"))
	if err != nil {
		return err
	}
	deps.Notifier = notifier

	applicationService := applications.NewService(deps)
	applicationHandler := applications.NewHandler(applicationService, cfg.Storage.MaxFileBytes, logger.Named("http"))

	sweeper := applications.NewSweeper(applicationService, cfg.Sweeper, logger.Named("sweeper"))
	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	// Setup Router
	if !cfg.Logging.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger.Named("http")), cors())

	api := router.Group("/api/v1")
	{
		applicationHandler.RegisterRoutes(api)
		hub.RegisterRoutes(api)
		if authHandler != nil {
			auth.RegisterRoutes(api, authHandler)
		}
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now(),
			"pool":      pool.Stats(),
		})
	})
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	sweeper.Stop()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("Worker pool did not drain", zap.Error(err))
	}
	return runErr
}
