// ABOUTME: Tests for the gRPC auth interceptors
// ABOUTME: Calls the interceptors directly with incoming metadata

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func callUnary(t *testing.T, icpt grpc.UnaryServerInterceptor, ctx context.Context, method string) (*AuthContext, error) {
	t.Helper()
	var got *AuthContext
	_, err := icpt(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, _ any) (any, error) {
		got = FromContext(ctx)
		return nil, nil
	})
	return got, err
}

func withBearer(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func TestUnaryInterceptor(t *testing.T) {
	v := newVerifier(t)
	icpt := UnaryInterceptor(newDirectory(), v, nil)
	const method = "/support.v1.ChatService/GetConversation"

	got, err := callUnary(t, icpt, withBearer(tokenFor(t, v, "agent-1")), method)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsElevated())

	tests := map[string]struct {
		ctx  context.Context
		code codes.Code
	}{
		"no metadata":  {context.Background(), codes.Unauthenticated},
		"no header":    {metadata.NewIncomingContext(context.Background(), metadata.MD{}), codes.Unauthenticated},
		"bad token":    {withBearer("nope"), codes.Unauthenticated},
		"unknown":      {withBearer(tokenFor(t, v, "ghost")), codes.Unauthenticated},
		"disabled":     {withBearer(tokenFor(t, v, "gone-1")), codes.PermissionDenied},
		"wrong scheme": {metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Token x")), codes.Unauthenticated},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := callUnary(t, icpt, tc.ctx, method)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestUnaryInterceptor_HealthExempt(t *testing.T) {
	icpt := UnaryInterceptor(newDirectory(), newVerifier(t), nil)

	got, err := callUnary(t, icpt, context.Background(), "/grpc.health.v1.Health/Check")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnaryInterceptor_DirectoryError(t *testing.T) {
	v := newVerifier(t)
	icpt := UnaryInterceptor(&mapPrincipals{err: errDirectoryDown}, v, nil)

	_, err := callUnary(t, icpt, withBearer(tokenFor(t, v, "cust-1")), "/support.v1.ChatService/SendMessage")
	assert.Equal(t, codes.Internal, status.Code(err))
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor(t *testing.T) {
	v := newVerifier(t)
	icpt := StreamInterceptor(newDirectory(), v, nil)

	var got *AuthContext
	handler := func(_ any, ss grpc.ServerStream) error {
		got = FromContext(ss.Context())
		return nil
	}

	err := icpt(nil, &fakeStream{ctx: withBearer(tokenFor(t, v, "cust-1"))}, &grpc.StreamServerInfo{FullMethod: "/support.v1.ChatService/Watch"}, handler)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cust-1", got.PrincipalID)

	err = icpt(nil, &fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/support.v1.ChatService/Watch"}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
