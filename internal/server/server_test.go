// ABOUTME: Tests for keyring server wiring and lifecycle
// ABOUTME: Starts real listeners on loopback and exercises HTTP and gRPC end to end

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/coven-keyring/internal/api"
	"github.com/2389/coven-keyring/internal/auth"
	"github.com/2389/coven-keyring/internal/config"
	"github.com/2389/coven-keyring/internal/user"
)

func testConfig(t *testing.T, withGRPC bool) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:          "127.0.0.1:0",
			ReadHeaderTimeout: time.Second,
		},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "keyring.db")},
		Auth: config.AuthConfig{
			JWTSecret:     "server-test-jwt-secret-32-bytes!",
			EncryptionKey: "server-test-encryption-key",
			BcryptCost:    4,
			TokenTTL:      time.Hour,

			MaxPasswordAttempts: 5,
			LockoutWindow:       time.Minute,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
	if withGRPC {
		cfg.Server.GRPCAddr = "127.0.0.1:0"
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// startServer runs s in the background and returns a stop function that
// cancels it and waits for Run to return.
func startServer(t *testing.T, s *Server) func() error {
	t.Helper()
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("server did not shut down")
			return nil
		}
	}
}

func TestNewComponents_WiresProtection(t *testing.T) {
	cfg := testConfig(t, false)

	c, err := NewComponents(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	u := user.New("Ada", "ada@example.com", "hunter2")
	require.NoError(t, u.SetCredential("openai", "sk-live-1"))
	require.NoError(t, c.Store.CreateUser(context.Background(), u))

	loaded, err := c.Store.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, loaded.MatchPassword(c.Hasher, "hunter2"))

	got, err := loaded.DecryptedCredential(c.Cipher, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-1", got)
}

func TestNewComponents_RejectsBadSecrets(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Auth.JWTSecret = "short"

	_, err := NewComponents(cfg, nil)
	assert.ErrorIs(t, err, auth.ErrSecretTooShort)
}

func TestServer_HTTPEndToEnd(t *testing.T) {
	s, err := New(testConfig(t, false), nil)
	require.NoError(t, err)
	stop := startServer(t, s)

	c := s.Components()
	u := user.New("Ada", "ada@example.com", "hunter2")
	require.NoError(t, u.SetCredential("claude", "sk-ant-api03-abcdefgh"))
	require.NoError(t, c.Store.CreateUser(context.Background(), u))

	base := "http://" + s.HTTPAddr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(base + "/api/me")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Not authorized to access this route"}`, string(body))

	token, err := c.Verifier.Generate(u.ID, time.Hour)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, base+"/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var profile api.ProfileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, u.ID, profile.ID)

	require.NoError(t, stop())
	assert.Equal(t, "", s.GRPCAddr())
}

func TestServer_GRPCHealthIsPublicAndGateGuardsTheRest(t *testing.T) {
	s, err := New(testConfig(t, true), nil)
	require.NoError(t, err)
	stop := startServer(t, s)
	defer func() { require.NoError(t, stop()) }()

	conn, err := grpc.NewClient(s.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	// Any non-public method is rejected by the gate before the server looks it up.
	badCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer not-a-jwt")
	err = conn.Invoke(badCtx, "/keyring.v1.Keyring/GetProfile", &healthpb.HealthCheckRequest{}, &healthpb.HealthCheckResponse{})
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, auth.UnauthorizedMessage, st.Message())

	// With a valid token the call gets past the gate and reaches the unknown-method handler.
	c := s.Components()
	u := user.New("Ada", "ada@example.com", "hunter2")
	require.NoError(t, c.Store.CreateUser(context.Background(), u))
	token, err := c.Verifier.Generate(u.ID, time.Hour)
	require.NoError(t, err)

	goodCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	err = conn.Invoke(goodCtx, "/keyring.v1.Keyring/GetProfile", &healthpb.HealthCheckRequest{}, &healthpb.HealthCheckResponse{})
	require.Error(t, err)
	st, _ = status.FromError(err)
	assert.Equal(t, codes.Unimplemented, st.Code())
}
