package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"securechat/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// Routes assembles the HTTP router. The chat API group requires a valid
// token; registration, login, health, and the WebSocket endpoint (which
// does its own pre-upgrade authentication) sit outside it.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Get("/ws", a.handleWebSocket)

	r.Post("/api/register", a.handleRegister)
	r.Post("/api/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/api/users", a.handleUsers)
		r.Post("/api/messages", a.handleSendMessage)
		r.Get("/api/messages/{userID}", a.handleHistory)
	})

	return r
}

// requireAuth rejects requests without a valid token and stashes the
// verified claims in the request context.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.tokens.FromRequest(r)
		if err != nil {
			a.respondError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}
