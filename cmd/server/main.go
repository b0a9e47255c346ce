package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"securechat/internal/auth"
	"securechat/internal/chat"
	"securechat/internal/config"
	"securechat/internal/server"
	"securechat/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	badgerDB, err := store.OpenBadger(cfg.BadgerPath)
	if err != nil {
		return err
	}
	defer badgerDB.Close()

	sqliteDB, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer sqliteDB.Close()

	messages := store.NewMessages(badgerDB, log)
	users := store.NewUsers(sqliteDB, log)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	registry := chat.NewRegistry()
	rooms := chat.NewRooms(log)
	router := chat.NewRouter(registry, rooms, messages, users, cfg.MaxContentLength, log)
	hub := chat.NewHub(registry, rooms, router, chat.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: chat.RateLimitConfig{
			Burst:          cfg.RateLimitBurst,
			RefillInterval: cfg.RateLimitRefillInterval,
		},
	}, log)
	go hub.Run()

	api := server.New(hub, registry, router, users, tokens, cfg.Origins(), log)
	srv := server.CreateServer(cfg.Port, api.Routes())

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	// Drain HTTP first so no new connections arrive, then close the hub.
	if err := server.ShutdownServer(srv, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub shutdown incomplete", "error", err)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
