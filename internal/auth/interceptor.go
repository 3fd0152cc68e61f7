// ABOUTME: gRPC interceptors for authenticating requests with the same gate as HTTP
// ABOUTME: Extracts auth from metadata and populates context for handlers

package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// authorizeMetadata runs the gate against the "authorization" metadata value.
func (g *Gate) authorizeMetadata(ctx context.Context, method string) (*AuthContext, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
	}

	authCtx, err := g.Authorize(ctx, header)
	if err != nil {
		attrs := []any{"method", method}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			attrs = append(attrs, "peer_addr", p.Addr.String())
		}
		g.logFailure(err, attrs...)
		return nil, UnauthenticatedStatus()
	}
	return authCtx, nil
}

func methodSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
// Full method names listed in publicMethods bypass the gate.
func UnaryInterceptor(gate *Gate, publicMethods ...string) grpc.UnaryServerInterceptor {
	public := methodSet(publicMethods)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if public[info.FullMethod] {
			return handler(ctx, req)
		}

		authCtx, err := gate.authorizeMetadata(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}

		ctx = WithAuth(ctx, authCtx)
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
// Full method names listed in publicMethods bypass the gate.
func StreamInterceptor(gate *Gate, publicMethods ...string) grpc.StreamServerInterceptor {
	public := methodSet(publicMethods)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if public[info.FullMethod] {
			return handler(srv, ss)
		}

		authCtx, err := gate.authorizeMetadata(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}

		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithAuth(ss.Context(), authCtx),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
