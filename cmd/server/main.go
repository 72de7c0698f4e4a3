package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/averill/relaychat/internal/auth"
	"github.com/averill/relaychat/internal/config"
	"github.com/averill/relaychat/internal/history"
	"github.com/averill/relaychat/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "relaychat")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var store history.Store
	switch cfg.History.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.History.RedisAddr})
		store = history.NewRedisStore(client, "", cfg.History.Retention)
		logger.Info("using redis history store", slog.String("addr", cfg.History.RedisAddr))
	default:
		store = history.NewMemoryStore(cfg.History.Retention)
		logger.Info("using in-memory history store")
	}

	authenticator := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)

	core := server.New(logger, cfg, authenticator, store)
	core.Start()

	httpServer := server.CreateServer(cfg.Server.Addr, core.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = server.ShutdownServer(logger, httpServer, cfg.Server.ShutdownTimeout)
	}()

	if err := server.StartServer(logger, httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := core.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("shutdown finished with timeout", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server shut down successfully")
}
