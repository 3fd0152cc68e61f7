// ABOUTME: JWT token verification for authenticating API requests
// ABOUTME: Uses HMAC signing with a configurable secret and a required expiry

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted JWT signing secret length in bytes.
const MinSecretLength = 32

// Token errors. They are internal distinctions for logging; callers outside
// the gate only ever see ErrUnauthorized.
var (
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrInvalidToken   = errors.New("invalid token")
)

// Claims is the verified content of a token.
type Claims struct {
	IdentityID string
	ExpiresAt  time.Time
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HMAC signed JWTs
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
// The secret is copied and must be at least MinSecretLength bytes.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &JWTVerifier{
		secret: append([]byte(nil), secret...),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify validates the token and extracts the identity from the "id" claim,
// falling back to "sub".
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	id := stringClaim(claims, "id")
	if id == "" {
		id = stringClaim(claims, "sub")
	}
	if id == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingClaim)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: exp", ErrMissingClaim)
	}

	return &Claims{IdentityID: id, ExpiresAt: exp.Time}, nil
}

// classifyParseError maps jwt parse errors onto the package's token errors.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMissingClaim, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

// stringClaim returns a claim as a string. Numeric ids are accepted.
func stringClaim(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// Generate creates a new HS256 token for the given identity with expiration.
func (v *JWTVerifier) Generate(identityID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"id":  identityID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
