package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer builds the HTTP server with production timeout defaults.
// The WebSocket endpoint hijacks its connections before the write timeout
// applies, so long-lived chat sessions are unaffected.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ShutdownServer drains the HTTP server, waiting up to timeout for active
// requests to finish.
func ShutdownServer(srv *http.Server, timeout time.Duration, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown", "error", err)
		return err
	}
	log.Info("http server shutdown completed")
	return nil
}
