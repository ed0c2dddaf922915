package grpc

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeAuthorizer struct {
	err  error
	seen []string
}

func (f *fakeAuthorizer) Authorize(_ context.Context, raw string) (string, error) {
	f.seen = append(f.seen, raw)
	if f.err != nil {
		return "", f.err
	}
	return "user-" + raw, nil
}

// helper to build server
func newTestServer(a *fakeAuthorizer) *GRPCServer {
	return NewGRPCServer("", nopLogger{}, a)
}

func withAuth(value string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", value))
}

func TestInterceptor_HealthAllowsWithoutToken(t *testing.T) {
	a := &fakeAuthorizer{}
	s := newTestServer(a)

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	handlerCalled := false
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled || resp != "ok" {
		t.Fatalf("handler not called properly: %v", resp)
	}
	if len(a.seen) != 0 {
		t.Fatal("authorizer must not be consulted for health checks")
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer(&fakeAuthorizer{})
	info := &grpc.UnaryServerInfo{FullMethod: "/contacts.v1.Contacts/List"}

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	for _, ctx := range []context.Context{
		context.Background(),
		withAuth("Basic abc"),
		withAuth("Bearer "),
	} {
		_, err := s.accessTokenInterceptor(ctx, nil, info, h)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("want Unauthenticated, got %v", err)
		}
	}
}

func TestInterceptor_ValidToken_SetsIdentity(t *testing.T) {
	a := &fakeAuthorizer{}
	s := newTestServer(a)
	info := &grpc.UnaryServerInfo{FullMethod: "/contacts.v1.Contacts/List"}

	var got string
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = IdentityFromContext(ctx)
		return nil, nil
	}

	if _, err := s.accessTokenInterceptor(withAuth("Bearer abc"), nil, info, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user-abc" {
		t.Fatalf("identity = %q", got)
	}
	if len(a.seen) != 1 || a.seen[0] != "abc" {
		t.Fatalf("authorizer saw %v", a.seen)
	}
}

func TestInterceptor_ErrorCodes(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/contacts.v1.Contacts/List"}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called")
		return nil, nil
	}

	tests := []struct {
		err  error
		code codes.Code
	}{
		{common.ErrMalformedToken, codes.Unauthenticated},
		{common.ErrInvalidSignature, codes.Unauthenticated},
		{common.ErrTokenExpired, codes.Unauthenticated},
		{common.ErrTokenRevoked, codes.Unauthenticated},
		{common.ErrRateLimited, codes.ResourceExhausted},
		{common.ErrCacheUnavailable, codes.Unavailable},
		{common.ErrorInternal, codes.Internal},
	}
	for _, tt := range tests {
		s := newTestServer(&fakeAuthorizer{err: tt.err})
		_, err := s.accessTokenInterceptor(withAuth("Bearer abc"), nil, info, h)
		if status.Code(err) != tt.code {
			t.Fatalf("%v: want %v, got %v", tt.err, tt.code, err)
		}
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor(t *testing.T) {
	s := newTestServer(&fakeAuthorizer{})
	info := &grpc.StreamServerInfo{FullMethod: "/contacts.v1.Contacts/Watch"}

	var got string
	h := func(srv interface{}, ss grpc.ServerStream) error {
		got, _ = IdentityFromContext(ss.Context())
		return nil
	}

	if err := s.streamAccessTokenInterceptor(nil, &fakeStream{ctx: withAuth("Bearer xyz")}, info, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user-xyz" {
		t.Fatalf("identity = %q", got)
	}

	err := s.streamAccessTokenInterceptor(nil, &fakeStream{ctx: context.Background()}, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}

	health := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	if err := s.streamAccessTokenInterceptor(nil, &fakeStream{ctx: context.Background()}, health, func(interface{}, grpc.ServerStream) error { return nil }); err != nil {
		t.Fatalf("health watch must be public: %v", err)
	}
}
