// Package auth provides request authorization for coven-keyring.
//
// # Tokens
//
// Clients authenticate with HMAC-signed JWTs (HS256/384/512) sent as
//
//	Authorization: Bearer <token>
//
// Tokens must carry an expiry. The identity is read from the "id" claim,
// falling back to "sub". The signing secret is injected at construction:
//
//	verifier, err := NewJWTVerifier(secret)
//
// # Gate
//
// Gate.Authorize extracts the token, verifies it, and loads the user without
// its password hash. Verification and lookup are attempted once; there is no
// retry. A deleted user holding a still-valid token is rejected like any
// other failure.
//
// # Failures
//
// Every rejection is a *Failure carrying an internal Reason (missing header,
// bad signature, expired, identity not found, ...). The reason is logged at
// warn level; it is never shown to the client. Each transport maps failures
// through exactly one function:
//
//   - HTTP: WriteUnauthorized writes 401 {"error":"Not authorized to access this route"}
//   - gRPC: UnauthenticatedStatus returns codes.Unauthenticated with the same message
//
// # Context
//
// On success the AuthContext is attached with WithAuth; handlers read it
// with FromContext or MustFromContext.
package auth
