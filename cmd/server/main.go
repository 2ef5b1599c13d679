package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ppm-changes/internal/cache"
	"github.com/pesio-ai/be-ppm-changes/internal/client"
	"github.com/pesio-ai/be-ppm-changes/internal/config"
	"github.com/pesio-ai/be-ppm-changes/internal/database"
	"github.com/pesio-ai/be-ppm-changes/internal/handler"
	"github.com/pesio-ai/be-ppm-changes/internal/middleware"
	"github.com/pesio-ai/be-ppm-changes/internal/repository"
	"github.com/pesio-ai/be-ppm-changes/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Change Order Approval Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Approval rules cache, optional
	var rulesCache *cache.RulesCache
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		rulesCache = cache.New(redisClient, cfg.Redis.RuleTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Approval rules cache enabled")
	} else {
		log.Info().Msg("Redis not configured; approval rules cache disabled")
	}

	// Notifications publisher, optional
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsConn.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Info().Msg("NATS not configured; notifications disabled")
	}
	notifier := client.NewNotificationPublisher(natsConn, log)

	// Repositories
	changeOrderRepo := repository.NewChangeOrderRepository(db)
	workflowRepo := repository.NewApprovalWorkflowRepository(db)
	recordsRepo := repository.NewApprovalRecordsRepository(db)
	rulesRepo := repository.NewApprovalRulesRepository(db, rulesCache)
	membershipRepo := repository.NewMembershipRepository(db)
	auditRepo := repository.NewApprovalAuditRepository(db)

	// Services
	workflowSvc := service.NewApprovalWorkflowService(
		changeOrderRepo, workflowRepo, recordsRepo, rulesRepo,
		membershipRepo, auditRepo, notifier, log)
	changeOrderSvc := service.NewChangeOrderService(
		changeOrderRepo, workflowSvc, auditRepo, notifier, log)
	rulesSvc := service.NewApprovalRulesService(rulesRepo, log)

	// HTTP server
	if cfg.Service.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.CORS(),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	h := handler.NewHandlers(
		handler.NewChangeOrderHandler(changeOrderSvc),
		handler.NewApprovalHandler(workflowSvc),
		handler.NewApprovalRulesHandler(rulesSvc),
	)
	h.RegisterRoutes(router, cfg.JWT.Secret)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Logger()

	if cfg.Service.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	return logger
}
