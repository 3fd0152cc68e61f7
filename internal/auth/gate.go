// ABOUTME: Request gate that turns a bearer token into a loaded user
// ABOUTME: Shared by the HTTP middleware and the gRPC interceptors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/coven-keyring/internal/store"
	"github.com/2389/coven-keyring/internal/user"
)

// UserLookup defines the store capability the gate needs.
type UserLookup interface {
	FindByID(ctx context.Context, id string, opts ...store.FindOption) (*user.User, error)
}

// Gate authorizes requests. It is immutable after construction and safe for
// concurrent use.
type Gate struct {
	verifier TokenVerifier
	users    UserLookup
	logger   *slog.Logger
}

// NewGate creates a gate. A nil logger uses slog.Default().
func NewGate(verifier TokenVerifier, users UserLookup, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier: verifier,
		users:    users,
		logger:   logger.With("component", "auth"),
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// The scheme is matched exactly and case-sensitively.
func extractBearerToken(authHeader string) (string, Reason, bool) {
	if authHeader == "" {
		return "", ReasonMissingHeader, false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ReasonMalformedHeader, false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", ReasonMalformedHeader, false
	}
	return token, "", true
}

// Authorize verifies the Authorization header value and loads the identified
// user without its password hash. Any error is a *Failure.
func (g *Gate) Authorize(ctx context.Context, authHeader string) (*AuthContext, error) {
	token, reason, ok := extractBearerToken(authHeader)
	if !ok {
		return nil, &Failure{Reason: reason}
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		return nil, &Failure{Reason: reasonForToken(err), Err: err}
	}

	u, err := g.users.FindByID(ctx, claims.IdentityID, store.Exclude(user.FieldPassword))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Failure{Reason: ReasonIdentityNotFound, Err: err}
		}
		return nil, &Failure{Reason: ReasonLookupFailed, Err: err}
	}

	return &AuthContext{User: u, Claims: claims}, nil
}

// logFailure logs an authorization failure with its reason. Tokens are never logged.
func (g *Gate) logFailure(err error, attrs ...any) {
	var f *Failure
	reason := ReasonInvalidToken
	if errors.As(err, &f) {
		reason = f.Reason
	}
	baseAttrs := []any{"reason", string(reason)}
	if reason == ReasonLookupFailed {
		baseAttrs = append(baseAttrs, "error", err)
	}
	g.logger.Warn("auth failure", append(baseAttrs, attrs...)...)
}

// Middleware creates an HTTP middleware that authorizes every request and
// adds the AuthContext to the request context. Rejections never reach next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := g.Authorize(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			g.logFailure(err, "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			WriteUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}
