package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"refundflow/api"
	"refundflow/audit"
	"refundflow/auth"
	"refundflow/cache"
	"refundflow/config"
	"refundflow/db"
	"refundflow/eta"
	"refundflow/irs"
	"refundflow/ml"
	"refundflow/outbox"
	"refundflow/refund"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("refundflow: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	redisClient := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	defer redisClient.Close()
	store := cache.NewRedisStore(redisClient)

	outboxRepo := outbox.NewRepository(pool)
	mockIrs := irs.NewMockAdapter()

	refundService := refund.NewService(
		pool,
		nil,
		mockIrs,
		store,
		outboxRepo,
		eta.NewRepository(pool),
		audit.NewRecorder(pool),
	)

	authService := auth.NewService(
		auth.NewRepository(pool),
		auth.NewRedisTokenStore(redisClient),
		cfg.JWTSecret,
	)

	dispatcher := outbox.NewDispatcher(pool, outboxRepo, ml.NewClient(cfg.MLBaseURL), outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})

	router := api.NewRouter(api.Deps{
		Auth:   authService,
		Refund: refundService,
		Irs:    mockIrs,
		Cache:  store,
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("http_server_started addr=%s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := dispatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
