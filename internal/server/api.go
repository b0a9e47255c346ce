package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"securechat/internal/auth"
	"securechat/internal/chat"
	"securechat/internal/store"
)

// API bundles the HTTP handlers with their collaborators. There are no
// package-level singletons: everything is constructed once in main and
// passed by handle.
type API struct {
	hub      *chat.Hub
	registry *chat.Registry
	router   *chat.Router
	users    *store.Users
	tokens   *auth.TokenManager
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// New wires the HTTP surface. allowedOrigins feeds the WebSocket origin
// check.
func New(hub *chat.Hub, registry *chat.Registry, router *chat.Router, users *store.Users,
	tokens *auth.TokenManager, allowedOrigins []string, log *slog.Logger) *API {

	origins := newOriginChecker(allowedOrigins, log)
	return &API{
		hub:      hub,
		registry: registry,
		router:   router,
		users:    users,
		tokens:   tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: log,
	}
}

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online,omitempty"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// handleRegister creates an account. The password policy matches the
// registration form: minimum 8 characters with upper, lower, digit, and
// special character.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		a.respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		a.respondError(w, http.StatusBadRequest, "passwords do not match")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := a.users.Create(r.Context(), req.Username, hash)
	if errors.Is(err, store.ErrUsernameTaken) {
		a.respondError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		a.log.Error("create user", "username", req.Username, "error", err)
		a.respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	a.log.Info("user registered", "user_id", user.ID, "username", user.Username)
	a.respondJSON(w, http.StatusCreated, userResponse{ID: user.ID, Username: user.Username})
}

// handleLogin verifies credentials and issues a token for the realtime
// connection.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, hash, err := a.users.GetByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(req.Password, hash) {
		a.respondError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := a.tokens.Generate(user.ID, user.Username)
	if err != nil {
		a.log.Error("issue token", "user_id", user.ID, "error", err)
		a.respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if err := a.users.UpdateLastLogin(r.Context(), user.ID, time.Now()); err != nil {
		a.log.Warn("update last_login", "user_id", user.ID, "error", err)
	}

	a.log.Info("user logged in", "user_id", user.ID, "username", user.Username)
	a.respondJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User:  userResponse{ID: user.ID, Username: user.Username},
	})
}

// handleUsers returns the roster with an online flag per user, derived
// from the presence registry snapshot.
func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.ListUsers(r.Context())
	if err != nil {
		a.log.Error("list users", "error", err)
		a.respondError(w, http.StatusInternalServerError, "roster unavailable")
		return
	}

	online := make(map[chat.Identity]struct{})
	for _, id := range a.registry.Snapshot() {
		online[id] = struct{}{}
	}

	out := make([]userResponse, 0, len(users))
	for _, user := range users {
		_, isOnline := online[chat.Identity(user.ID)]
		out = append(out, userResponse{ID: user.ID, Username: user.Username, Online: isOnline})
	}
	a.respondJSON(w, http.StatusOK, out)
}

// handleSendMessage accepts a direct message over plain HTTP, funneling
// into the same send path as the send_message realtime event: identical
// validation, persistence, and fan-out to any live connections.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil {
		a.respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var p chat.SendMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		a.respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sent, err := a.router.Send(r.Context(), chat.Identity(claims.UserID), claims.Username, p)
	switch {
	case errors.Is(err, chat.ErrUnknownRecipient):
		a.respondError(w, http.StatusNotFound, "recipient not found")
		return
	case errors.Is(err, chat.ErrInvalidMessage):
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.log.Error("send message", "user_id", claims.UserID, "error", err)
		a.respondError(w, http.StatusInternalServerError, "send failed")
		return
	}

	a.respondJSON(w, http.StatusCreated, sent)
}

// handleHistory serves a conversation's message history over plain HTTP,
// mirroring the get_messages realtime event.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil {
		a.respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	other, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || other <= 0 {
		a.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	messages, err := a.router.History(r.Context(), chat.Identity(claims.UserID), other)
	if err != nil {
		a.log.Error("fetch history", "user_id", claims.UserID, "other", other, "error", err)
		a.respondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	a.respondJSON(w, http.StatusOK, chat.MessageHistoryEvent{Messages: messages})
}

// handleWebSocket authenticates the request, upgrades the transport, and
// hands the connection to the lifecycle manager. An unauthenticated dial
// is refused before the upgrade; the router is never engaged for it.
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := a.tokens.FromRequest(r)
	if err != nil {
		a.respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := chat.NewClient(conn, a.hub, chat.Identity(claims.UserID), claims.Username, r.RemoteAddr)
	a.hub.Register(client)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("write response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, message string) {
	a.respondJSON(w, status, map[string]string{"error": message})
}
