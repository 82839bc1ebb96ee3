package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/config"
	"github.com/vedran77/mailbox/internal/database"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/metrics"
	postgresrepo "github.com/vedran77/mailbox/internal/repository/postgres"
	"github.com/vedran77/mailbox/internal/transport/http/handlers"
	"github.com/vedran77/mailbox/internal/transport/http/middleware"
	"github.com/vedran77/mailbox/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log, err := logger.New(logger.Config{Development: cfg.LogDevelopment, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Infow("connected to database", "host", cfg.DBHost, "name", cfg.DBName)

	// Repositories
	convRepo := postgresrepo.NewConversationRepo(pool)

	// Hub
	hub := ws.NewHub(convRepo, log.Named("hub"))
	go hub.Run(ctx)

	// Every inserted row is fanned out; the hub filters per subscriber.
	listener := postgresrepo.NewListener(pool, cfg.NotifyChannel, log.Named("listener"))
	sub, err := listener.Subscribe(ctx, uuid.Nil, hub.PublishInsert)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	// Routes
	health := handlers.NewHealthHandler(pool, hub)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Health)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", ws.ServeWS(hub, cfg.JWTSecret))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.RelayPort),
		Handler:           middleware.Recover(log)(middleware.Logging(log)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("starting relay", "addr", srv.Addr, "channel", cfg.NotifyChannel)
		errCh <- srv.ListenAndServe()
	}()

	var listenErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-sub.Done():
		stop()
		if listenErr = sub.Err(); listenErr != nil {
			log.Errorw("notification listener stopped", "error", listenErr)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(listenErr, srv.Shutdown(shutdownCtx))
}
