// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expiry, and claim handling

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTestSecret is a 32-byte secret that meets MinSecretLength requirement.
var tokenTestSecret = []byte("token-verifier-test-secret-32b!!")

func signClaims(t *testing.T, method jwt.SigningMethod, secret any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("too-short"))
	if !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrSecretTooShort", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(tokenTestSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	token, err := verifier.Generate("user-123", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if claims.IdentityID != "user-123" {
		t.Errorf("IdentityID = %q, want %q", claims.IdentityID, "user-123")
	}
	if time.Until(claims.ExpiresAt) <= 0 {
		t.Errorf("ExpiresAt = %v, want a future time", claims.ExpiresAt)
	}
}

func TestJWTVerifier_ClaimVariants(t *testing.T) {
	verifier, _ := NewJWTVerifier(tokenTestSecret)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		method jwt.SigningMethod
		claims jwt.MapClaims
		wantID string
	}{
		{
			name:   "id claim",
			method: jwt.SigningMethodHS256,
			claims: jwt.MapClaims{"id": "abc", "exp": exp},
			wantID: "abc",
		},
		{
			name:   "sub fallback",
			method: jwt.SigningMethodHS256,
			claims: jwt.MapClaims{"sub": "from-sub", "exp": exp},
			wantID: "from-sub",
		},
		{
			name:   "id preferred over sub",
			method: jwt.SigningMethodHS256,
			claims: jwt.MapClaims{"id": "from-id", "sub": "from-sub", "exp": exp},
			wantID: "from-id",
		},
		{
			name:   "numeric id",
			method: jwt.SigningMethodHS256,
			claims: jwt.MapClaims{"id": 42, "exp": exp},
			wantID: "42",
		},
		{
			name:   "HS512",
			method: jwt.SigningMethodHS512,
			claims: jwt.MapClaims{"id": "abc", "exp": exp},
			wantID: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signClaims(t, tt.method, tokenTestSecret, tt.claims)
			claims, err := verifier.Verify(token)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if claims.IdentityID != tt.wantID {
				t.Errorf("IdentityID = %q, want %q", claims.IdentityID, tt.wantID)
			}
		})
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(tokenTestSecret)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrMalformedToken,
		},
		{
			name:    "garbage token",
			token:   "not-a-jwt-token",
			wantErr: ErrMalformedToken,
		},
		{
			name:    "malformed JWT",
			token:   "header.payload.signature",
			wantErr: ErrMalformedToken,
		},
		{
			name: "wrong secret",
			token: func() string {
				other, _ := NewJWTVerifier([]byte("a-completely-different-secret-32b"))
				token, _ := other.Generate("user-123", time.Hour)
				return token
			}(),
			wantErr: ErrBadSignature,
		},
		{
			name:    "alg none",
			token:   signClaims(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"id": "abc", "exp": exp}),
			wantErr: ErrBadSignature,
		},
		{
			name:    "missing exp",
			token:   signClaims(t, jwt.SigningMethodHS256, tokenTestSecret, jwt.MapClaims{"id": "abc"}),
			wantErr: ErrMissingClaim,
		},
		{
			name:    "missing identity",
			token:   signClaims(t, jwt.SigningMethodHS256, tokenTestSecret, jwt.MapClaims{"exp": exp}),
			wantErr: ErrMissingClaim,
		},
		{
			name:    "empty identity",
			token:   signClaims(t, jwt.SigningMethodHS256, tokenTestSecret, jwt.MapClaims{"id": "", "exp": exp}),
			wantErr: ErrMissingClaim,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := verifier.Verify(tt.token)
			if err == nil {
				t.Fatalf("Verify() = %+v, want error", claims)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(tokenTestSecret)

	token, err := verifier.Generate("user-123", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_SecretIsCopied(t *testing.T) {
	secret := append([]byte(nil), tokenTestSecret...)
	verifier, _ := NewJWTVerifier(secret)
	token, _ := verifier.Generate("user-123", time.Hour)

	secret[0] ^= 0xff

	if _, err := verifier.Verify(token); err != nil {
		t.Errorf("Verify() error = %v after mutating caller's secret", err)
	}
}
