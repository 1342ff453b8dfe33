package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/api"
	"github.com/samuelleonard/expiro/internal/auth"
	"github.com/samuelleonard/expiro/internal/circuitbreaker"
	"github.com/samuelleonard/expiro/internal/config"
	"github.com/samuelleonard/expiro/internal/db"
	"github.com/samuelleonard/expiro/internal/dispatch"
	"github.com/samuelleonard/expiro/internal/expiry"
	"github.com/samuelleonard/expiro/internal/mail"
	"github.com/samuelleonard/expiro/internal/metrics"
	"github.com/samuelleonard/expiro/internal/observ"
	"github.com/samuelleonard/expiro/internal/product"
	"github.com/samuelleonard/expiro/internal/redis"
	"github.com/samuelleonard/expiro/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting expiro server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("mail_provider", cfg.MailProvider),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs API rate limiting and create idempotency. The server
	// still works without it, just without those protections.
	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting and idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		defer redisClient.Close()
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.APIRateLimit,
			Window: time.Duration(cfg.APIRateWindow) * time.Second,
		})
	}

	sender, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(sender.Name()), logger)
	protectedSender := circuitbreaker.NewProtectedSender(sender, breaker, logger)

	var queue dispatch.Queue
	var consumer dispatch.Consumer
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL}

		producer, err := sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs unavailable, multi-batch runs will use in-process delays",
				zap.Error(err),
			)
		} else {
			defer producer.Close()
			queue = producer

			sqsConsumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
			if err != nil {
				logger.Warn("sqs consumer unavailable, continuations will not resume here",
					zap.Error(err),
				)
			} else {
				defer sqsConsumer.Close()
				consumer = sqsConsumer
			}
		}
	}

	policy := expiry.Policy{ThresholdDays: cfg.ThresholdDays}

	dispatcher := dispatch.New(repo, repo, protectedSender, queue, policy, dispatch.Config{
		DailyCap:         cfg.DailyEmailCap,
		ChunkSize:        cfg.DispatchChunkSize,
		BatchDelay:       time.Duration(cfg.DispatchBatchDelay) * time.Second,
		MaxBatchesPerRun: cfg.MaxBatchesPerRun,
	}, logger)

	scheduler := dispatch.NewScheduler(dispatcher, consumer,
		time.Duration(cfg.DispatchInterval)*time.Hour, logger)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	go scheduler.Start(schedulerCtx)

	productService := product.NewService(repo, policy, logger)

	verifier := auth.NewVerifier(cfg.JWTSecret, logger)
	verifier.OnExpired(func(reason string) {
		logger.Debug("session expired", zap.String("reason", reason))
	})

	handler := api.NewHandler(logger, productService, dispatcher, idempotencyService, cfg.CronSecret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

		r.Group(func(r chi.Router) {
			r.Use(api.AuthMiddleware(verifier, logger))

			r.Post("/products", handler.CreateProduct)
			r.Get("/products", handler.ListProducts)
			r.Delete("/products/{id}", handler.DeleteProduct)
			r.Get("/notifications", handler.ListNotifications)
		})

		// guarded by the cron secret, not a user session
		r.Post("/dispatch/run", handler.RunDispatch)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		schedulerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// newSender builds the configured mail transport.
func newSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (mail.Sender, error) {
	switch cfg.MailProvider {
	case "ses":
		sender, err := mail.NewSESSender(ctx, mail.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES sender: %w", err)
		}
		return sender, nil
	case "resend":
		return mail.NewResendSender(mail.ResendConfig{
			APIKey: cfg.ResendAPIKey,
			From:   cfg.ResendFrom,
		}, logger), nil
	default:
		logger.Warn("mail delivery is log-only, no provider configured")
		return mail.NewLogSender(logger), nil
	}
}
