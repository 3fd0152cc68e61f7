// ABOUTME: Keyring server wiring config, store, secret protection, and auth into HTTP and gRPC
// ABOUTME: Owns listener setup, serving, and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/2389/coven-keyring/internal/api"
	"github.com/2389/coven-keyring/internal/auth"
	"github.com/2389/coven-keyring/internal/config"
	"github.com/2389/coven-keyring/internal/password"
	"github.com/2389/coven-keyring/internal/secrets"
	"github.com/2389/coven-keyring/internal/store"
	"github.com/2389/coven-keyring/internal/throttle"
	"github.com/2389/coven-keyring/internal/user"
)

// shutdownTimeout bounds graceful shutdown once Run's context is canceled.
const shutdownTimeout = 5 * time.Second

// maxTrackedPasswordUsers bounds the password attempt limiter's memory.
const maxTrackedPasswordUsers = 10_000

// publicGRPCMethods bypass the auth gate.
var publicGRPCMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// Components are the long-lived pieces built from config. The CLI uses them
// directly for operator commands; Server serves them.
type Components struct {
	Store    *store.SQLiteStore
	Cipher   *secrets.Cipher
	Hasher   *password.Hasher
	Verifier *auth.JWTVerifier
	Gate     *auth.Gate
}

// NewComponents builds the cipher, hasher, verifier, store, and gate.
// Secrets are taken from cfg and never logged.
func NewComponents(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	cipher, err := secrets.NewCipher([]byte(cfg.Auth.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	hasher, err := password.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("creating password hasher: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path, user.Protector{Hasher: hasher, Cipher: cipher})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	return &Components{
		Store:    s,
		Cipher:   cipher,
		Hasher:   hasher,
		Verifier: verifier,
		Gate:     auth.NewGate(verifier, s, logger),
	}, nil
}

// Close releases the store.
func (c *Components) Close() error {
	return c.Store.Close()
}

// Server runs the keyring HTTP API and, when configured, a gRPC listener.
type Server struct {
	config     *config.Config
	components *Components
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	attempts   *throttle.Limiter
	logger     *slog.Logger

	httpLn net.Listener
	grpcLn net.Listener
}

// New creates a Server with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	components, err := NewComponents(cfg, logger)
	if err != nil {
		return nil, err
	}

	handler := api.NewHandler(components.Store, components.Cipher, components.Hasher, components.Gate, logger)

	attempts := throttle.New(cfg.Auth.LockoutWindow, cfg.Auth.MaxPasswordAttempts, maxTrackedPasswordUsers)
	handler.LimitPasswordAttempts(attempts)

	s := &Server{
		config:     cfg,
		components: components,
		attempts:   attempts,
		logger:     logger.With("component", "server"),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
	}

	if cfg.Server.GRPCAddr != "" {
		s.grpcServer, s.health = createGRPCServer(components.Gate)
		s.logger.Info("gRPC auth interceptors enabled")
	}

	return s, nil
}

// createGRPCServer creates a gRPC server whose every non-public method runs
// through the gate, with the standard health service registered.
func createGRPCServer(gate *auth.Gate) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(gate, publicGRPCMethods...)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(gate, publicGRPCMethods...)),
		// Unknown methods still pass through the stream interceptor.
		grpc.UnknownServiceHandler(func(srv any, stream grpc.ServerStream) error {
			return status.Error(codes.Unimplemented, "unknown method")
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server, hs
}

// Components exposes the server's wired components.
func (s *Server) Components() *Components {
	return s.components
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen opens the configured listeners. Run calls it if needed.
func (s *Server) Listen() error {
	if s.httpLn != nil {
		return nil
	}

	httpLn, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.grpcServer != nil {
		grpcLn, err := net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on gRPC address: %w", err)
		}
		s.grpcLn = grpcLn
	}

	s.httpLn = httpLn
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" before Listen.
func (s *Server) HTTPAddr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" if gRPC is disabled or before Listen.
func (s *Server) GRPCAddr() string {
	if s.grpcLn == nil {
		return ""
	}
	return s.grpcLn.Addr().String()
}

// startServers starts the HTTP and optional gRPC servers in goroutines, returning error channel.
func (s *Server) startServers() chan error {
	errCh := make(chan error, 2)

	if s.grpcServer != nil {
		go func() {
			s.logger.Info("gRPC server listening", "addr", s.grpcLn.Addr().String())
			if err := s.grpcServer.Serve(s.grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpLn.Addr().String())
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run serves until ctx is canceled or a server fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		s.attempts.Close()
		s.components.Close()
		return err
	}

	errCh := s.startServers()
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all servers and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down keyring server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.shutdownGRPCServer(ctx)
	s.attempts.Close()

	errs = appendCloseError(errs, "store close", s.components.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
