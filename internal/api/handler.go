// ABOUTME: HTTP handlers for profile, credential, preference, and password management
// ABOUTME: Every /api route runs behind the auth gate; /health is public

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-keyring/internal/auth"
	"github.com/2389/coven-keyring/internal/secrets"
	"github.com/2389/coven-keyring/internal/store"
	"github.com/2389/coven-keyring/internal/throttle"
	"github.com/2389/coven-keyring/internal/user"
)

// maxBodyBytes bounds request bodies; API keys and passwords are small.
const maxBodyBytes = 64 << 10

// Users is the store capability the handlers need.
type Users interface {
	FindByID(ctx context.Context, id string, opts ...store.FindOption) (*user.User, error)
	SaveUser(ctx context.Context, u *user.User) error
	store.AuditLog
}

// Handler serves the keyring API.
type Handler struct {
	users    Users
	cipher   user.Decrypter
	verifier user.PasswordVerifier
	gate     *auth.Gate
	attempts *throttle.Limiter
	logger   *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default().
func NewHandler(users Users, cipher user.Decrypter, verifier user.PasswordVerifier, gate *auth.Gate, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		users:    users,
		cipher:   cipher,
		verifier: verifier,
		gate:     gate,
		logger:   logger.With("component", "api"),
	}
}

// LimitPasswordAttempts locks PUT /api/password for a user once l reports
// too many wrong current passwords.
func (h *Handler) LimitPasswordAttempts(l *throttle.Limiter) {
	h.attempts = l
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)

	mux.Handle("GET /api/me", h.gate.Middleware(http.HandlerFunc(h.handleMe)))
	mux.Handle("PUT /api/credentials/{provider}", h.gate.Middleware(http.HandlerFunc(h.handleSetCredential)))
	mux.Handle("DELETE /api/credentials/{provider}", h.gate.Middleware(http.HandlerFunc(h.handleDeleteCredential)))
	mux.Handle("PUT /api/preferences", h.gate.Middleware(http.HandlerFunc(h.handlePreferences)))
	mux.Handle("PUT /api/password", h.gate.Middleware(http.HandlerFunc(h.handleChangePassword)))
	mux.Handle("GET /api/audit", h.gate.Middleware(http.HandlerFunc(h.handleAudit)))

	return mux
}

// handleHealth returns 200 OK if the server is running.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleMe handles GET /api/me.
// Credentials are decrypted only to produce masked previews.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u := auth.MustFromContext(r.Context()).User

	response := ProfileResponse{
		ID:                u.ID,
		Name:              u.Name,
		Email:             u.Email,
		PreferredProvider: string(u.PreferredProvider),
		CreatedAt:         u.CreatedAt.UTC().Format(time.RFC3339),
		Providers:         make([]ProviderStatus, 0, len(user.Providers)),
	}

	for _, p := range user.Providers {
		response.Providers = append(response.Providers, h.providerStatus(u, p))
	}

	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) providerStatus(u *user.User, p user.Provider) ProviderStatus {
	status := ProviderStatus{Provider: string(p), Status: StatusNotConfigured}
	if !u.HasCredential(p) {
		return status
	}

	plaintext, err := u.DecryptedCredential(h.cipher, string(p))
	if err != nil {
		if errors.Is(err, secrets.ErrDecryption) {
			h.logger.Warn("stored credential cannot be decrypted", "user_id", u.ID, "provider", p)
		} else {
			h.logger.Error("failed to read credential", "user_id", u.ID, "provider", p, "error", err)
		}
		status.Status = StatusUnavailable
		return status
	}

	status.Status = StatusConfigured
	status.MaskedKey = maskKey(plaintext)
	return status
}

// maskKey keeps a short prefix and the last four characters.
// Counts runes so a multibyte key is never cut mid-character.
func maskKey(key string) string {
	runes := []rune(key)
	if len(runes) <= 8 {
		return "****"
	}
	prefix := string(runes[:3])
	if len(runes) < 16 {
		prefix = ""
	}
	return prefix + "..." + string(runes[len(runes)-4:])
}

// handleSetCredential handles PUT /api/credentials/{provider}.
func (h *Handler) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.pathProvider(w, r)
	if !ok {
		return
	}

	var req SetCredentialRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.APIKey == "" {
		h.sendJSONError(w, http.StatusBadRequest, "apiKey is required")
		return
	}

	u := auth.MustFromContext(r.Context()).User
	if err := u.SetCredential(string(provider), req.APIKey); err != nil {
		h.logger.Error("failed to set credential", "user_id", u.ID, "provider", provider, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !h.save(w, r.Context(), u) {
		return
	}

	h.logger.Info("credential updated", "user_id", u.ID, "provider", provider)
	h.audit(r.Context(), u.ID, store.AuditSetCredential, map[string]any{"provider": string(provider)})
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteCredential handles DELETE /api/credentials/{provider}.
func (h *Handler) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.pathProvider(w, r)
	if !ok {
		return
	}

	u := auth.MustFromContext(r.Context()).User
	if !u.HasCredential(provider) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := u.SetCredential(string(provider), ""); err != nil {
		h.logger.Error("failed to clear credential", "user_id", u.ID, "provider", provider, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !h.save(w, r.Context(), u) {
		return
	}

	h.logger.Info("credential removed", "user_id", u.ID, "provider", provider)
	h.audit(r.Context(), u.ID, store.AuditClearCredential, map[string]any{"provider": string(provider)})
	w.WriteHeader(http.StatusNoContent)
}

// handlePreferences handles PUT /api/preferences.
func (h *Handler) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	u := auth.MustFromContext(r.Context()).User
	if err := u.SetPreferredProvider(req.PreferredProvider); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	if !h.save(w, r.Context(), u) {
		return
	}

	h.audit(r.Context(), u.ID, store.AuditSetPreference, map[string]any{"provider": string(u.PreferredProvider)})
	h.writeJSON(w, http.StatusOK, PreferencesResponse{PreferredProvider: string(u.PreferredProvider)})
}

// handleChangePassword handles PUT /api/password.
// The gate loads users without their hash, so the full record is fetched here.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		h.sendJSONError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}

	ctx := r.Context()
	id := auth.MustFromContext(ctx).UserID()

	// The attempt is reserved before the slow bcrypt check so parallel
	// guesses are counted against the same limit.
	if h.attempts != nil && !h.attempts.Attempt(id) {
		h.logger.Warn("password change rejected", "user_id", id, "reason", "too_many_attempts")
		h.sendJSONError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	u, err := h.users.FindByID(ctx, id, store.Exclude(user.FieldCredentials))
	if err != nil {
		h.logger.Error("failed to load user for password change", "user_id", id, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !u.MatchPassword(h.verifier, req.CurrentPassword) {
		h.logger.Warn("password change rejected", "user_id", id, "reason", "current_password_mismatch")
		h.sendJSONError(w, http.StatusForbidden, "current password is incorrect")
		return
	}
	if h.attempts != nil {
		h.attempts.Reset(id)
	}

	u.SetPassword(req.NewPassword)
	if !h.save(w, ctx, u) {
		return
	}

	h.logger.Info("password changed", "user_id", id)
	h.audit(ctx, id, store.AuditChangePassword, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleAudit handles GET /api/audit, listing the caller's own history.
func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.MustFromContext(ctx).UserID()

	filter := store.AuditFilter{UserID: &id}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			h.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.users.ListAuditLog(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list audit log", "user_id", id, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, AuditEntryResponse{
			ID:        e.ID,
			Actor:     e.Actor,
			Action:    string(e.Action),
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Detail:    e.Detail,
		})
	}
	h.writeJSON(w, http.StatusOK, response)
}

// audit records a self-service change. Failures are logged, not returned;
// the change itself is already persisted.
func (h *Handler) audit(ctx context.Context, userID string, action store.AuditAction, detail map[string]any) {
	err := h.users.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:  userID,
		Action: action,
		UserID: userID,
		Detail: detail,
	})
	if err != nil {
		h.logger.Warn("failed to append audit log", "user_id", userID, "action", action, "error", err)
	}
}

// pathProvider parses the {provider} path value, writing 400 on failure.
func (h *Handler) pathProvider(w http.ResponseWriter, r *http.Request) (user.Provider, bool) {
	provider, err := user.ParseProvider(r.PathValue("provider"))
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "unknown provider")
		return "", false
	}
	return provider, true
}

// save persists u, mapping protection failures to client errors where the
// client can fix them.
func (h *Handler) save(w http.ResponseWriter, ctx context.Context, u *user.User) bool {
	err := h.users.SaveUser(ctx, u)
	switch {
	case err == nil:
		return true
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		h.sendJSONError(w, http.StatusBadRequest, "password is too long")
	case errors.Is(err, store.ErrNotFound):
		// Deleted between the gate's lookup and this write.
		auth.WriteUnauthorized(w)
	default:
		h.logger.Error("failed to save user", "user_id", u.ID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
	return false
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError sends a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
