package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/metrics"
	"github.com/stocktrak/stocktrak/internal/model"
	"github.com/stocktrak/stocktrak/internal/store"
)

// Handler serves register, login and logout.
type Handler struct {
	store        store.Store
	sessions     SessionStore
	initialCash  decimal.Decimal
	sessionTTL   time.Duration
	cookieSecure bool
}

// Config holds account and cookie settings for Handler.
type Config struct {
	InitialCash  decimal.Decimal
	SessionTTL   time.Duration
	CookieSecure bool
}

// NewHandler creates the auth HTTP handler.
func NewHandler(st store.Store, sessions SessionStore, cfg Config) *Handler {
	return &Handler{
		store:        st,
		sessions:     sessions,
		initialCash:  cfg.InitialCash,
		sessionTTL:   cfg.SessionTTL,
		cookieSecure: cfg.CookieSecure,
	}
}

// CreateUser hashes password and persists a new account funded with the
// configured starting cash.
func CreateUser(ctx context.Context, st store.Store, username, password string, cash decimal.Decimal) (*model.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Cash:         cash,
		InitialCash:  cash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	confirmation := r.FormValue("confirmation")

	if username == "" || password == "" || confirmation == "" {
		writeError(w, "must provide username and password", http.StatusBadRequest)
		return
	}
	if password != confirmation {
		writeError(w, "passwords do not match", http.StatusBadRequest)
		return
	}
	if len(password) > MaxPasswordBytes {
		writeError(w, "password too long", http.StatusBadRequest)
		return
	}

	u, err := CreateUser(r.Context(), h.store, username, password, h.initialCash)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, "username already exists", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("register failed", "username", username, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !h.startSession(w, r, u.ID) {
		return
	}
	slog.Info("user registered", "user", u.ID, "username", username)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Registered successfully!", "user_id": u.ID})
}

// LoginInfo handles GET /login, the landing spot for unauthenticated redirects.
func (h *Handler) LoginInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "log in with POST /login (username, password)"})
}

// Login handles POST /login. Any session already on the request is
// destroyed first.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		writeError(w, "must provide username and password", http.StatusBadRequest)
		return
	}

	u, err := h.store.GetUserByUsername(r.Context(), username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("login lookup failed", "username", username, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if u == nil || !CheckPassword(u.PasswordHash, password) {
		writeError(w, "invalid username and/or password", http.StatusBadRequest)
		return
	}

	if !h.startSession(w, r, u.ID) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged in successfully!", "user_id": u.ID})
}

// Logout handles GET/POST /logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID string) bool {
	token, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		slog.Error("session create failed", "user", userID, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return false
	}
	metrics.ActiveSessions.Inc()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return
	}
	removed, err := h.sessions.Destroy(r.Context(), c.Value)
	if err != nil {
		slog.Warn("session destroy failed", "err", err)
	} else if removed {
		metrics.ActiveSessions.Dec()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
