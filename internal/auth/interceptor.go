// ABOUTME: gRPC interceptors authenticating requests with JWT bearer metadata
// ABOUTME: The health service is exempt; failures are logged with the peer address

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(ctx context.Context, logger *slog.Logger, reason string, attrs ...any) {
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", append(baseAttrs, attrs...)...)
}

// UnaryInterceptor authenticates unary calls.
func UnaryInterceptor(principals PrincipalStore, tokens TokenVerifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	logger = componentLogger(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}
		authCtx, err := extractAuth(ctx, principals, tokens, logger)
		if err != nil {
			return nil, err
		}
		return handler(WithAuth(ctx, authCtx), req)
	}
}

// StreamInterceptor authenticates streaming calls.
func StreamInterceptor(principals PrincipalStore, tokens TokenVerifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	logger = componentLogger(logger)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(srv, ss)
		}
		authCtx, err := extractAuth(ss.Context(), principals, tokens, logger)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: WithAuth(ss.Context(), authCtx)})
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

func componentLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "auth")
}

// extractAuth authenticates the bearer token in the call's metadata.
func extractAuth(ctx context.Context, principals PrincipalStore, tokens TokenVerifier, logger *slog.Logger) (*AuthContext, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(ctx, logger, "missing_metadata")
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		logAuthFailure(ctx, logger, "missing_authorization")
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token, errMsg := extractBearerToken(authHeaders[0])
	if errMsg != "" {
		logAuthFailure(ctx, logger, "bad_authorization")
		return nil, status.Error(codes.Unauthenticated, errMsg)
	}

	principalID, err := tokens.Verify(token)
	if err != nil {
		logAuthFailure(ctx, logger, "jwt_auth_failed", "error", err.Error())
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	authCtx, err := resolve(ctx, principals, principalID)
	switch {
	case errors.Is(err, errUnknownPrincipal):
		logAuthFailure(ctx, logger, "unknown_principal", "principal_id", principalID)
		return nil, status.Error(codes.Unauthenticated, "principal not found")
	case errors.Is(err, errDisabledPrincipal):
		logAuthFailure(ctx, logger, "principal_disabled", "principal_id", principalID)
		return nil, status.Error(codes.PermissionDenied, "principal is disabled")
	case err != nil:
		return nil, status.Errorf(codes.Internal, "failed to lookup principal: %v", err)
	}
	return authCtx, nil
}
