// ABOUTME: Authorization failure type and its single mapping to each transport
// ABOUTME: Every failure reason produces the same 401 body or gRPC status

package auth

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnauthorizedMessage is the only message clients ever see for a rejected request.
const UnauthorizedMessage = "Not authorized to access this route"

// ErrUnauthorized is matched by every *Failure.
var ErrUnauthorized = errors.New("unauthorized")

// Reason is the internal cause of an authorization failure. It is logged,
// never returned to clients.
type Reason string

const (
	ReasonMissingHeader    Reason = "missing_header"
	ReasonMalformedHeader  Reason = "malformed_header"
	ReasonMalformedToken   Reason = "malformed_token"
	ReasonBadSignature     Reason = "bad_signature"
	ReasonExpiredToken     Reason = "expired_token"
	ReasonInvalidToken     Reason = "invalid_token"
	ReasonIdentityNotFound Reason = "identity_not_found"
	ReasonLookupFailed     Reason = "lookup_failed"
)

// Failure is returned by Gate.Authorize when a request is rejected.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "unauthorized: " + string(f.Reason)
	}
	return "unauthorized: " + string(f.Reason) + ": " + f.Err.Error()
}

// Is reports whether target is ErrUnauthorized.
func (f *Failure) Is(target error) bool {
	return target == ErrUnauthorized
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// reasonForToken picks the failure reason for a verifier error.
func reasonForToken(err error) Reason {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return ReasonExpiredToken
	case errors.Is(err, ErrBadSignature):
		return ReasonBadSignature
	case errors.Is(err, ErrMalformedToken):
		return ReasonMalformedToken
	default:
		return ReasonInvalidToken
	}
}

// unauthorizedBody is the JSON body written for every HTTP rejection.
const unauthorizedBody = `{"error":"` + UnauthorizedMessage + `"}`

// WriteUnauthorized writes the uniform 401 response.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(unauthorizedBody))
}

// UnauthenticatedStatus returns the uniform gRPC rejection.
func UnauthenticatedStatus() error {
	return status.Error(codes.Unauthenticated, UnauthorizedMessage)
}
