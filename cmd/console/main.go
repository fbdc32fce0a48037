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

	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/p2pconsole/internal/api"
	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/config"
	"github.com/punchamoorthee/p2pconsole/internal/credential"
	"github.com/punchamoorthee/p2pconsole/internal/flash"
	"github.com/punchamoorthee/p2pconsole/internal/service"
	"github.com/punchamoorthee/p2pconsole/internal/store"
	"github.com/punchamoorthee/p2pconsole/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var logger *slog.Logger
	if cfg.Production() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("console stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := backend.New(cfg.APIBaseURL, cfg.RequestTimeout, logger)
	if err != nil {
		return err
	}

	var audit store.Recorder = store.Nop{}
	if cfg.AuditDBSource != "" {
		db, err := store.NewStore(ctx, cfg.AuditDBSource)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		audit = db
		logger.Info("audit log enabled")
	}

	registry := workspace.NewRegistry(client, cfg.WorkspaceIdleTTL,
		workspace.WithDescribe(api.Describe),
		workspace.WithLogger(logger),
	)
	secure := cfg.Production()
	handler, err := api.NewHandler(api.Config{
		Backend:      client,
		Credentials:  credential.NewStore(cfg.CookieSecret, secure),
		Flash:        flash.New(cfg.CookieSecret, secure),
		Workspaces:   registry,
		Actions:      service.NewActions(client, audit, logger),
		LoadingAfter: cfg.GuardLoadingAfter,
		Revalidate:   cfg.SessionRevalidate,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env, "api", cfg.APIBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
