package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const identityKey ctxKey = "identity"

// methods under these prefixes are served without a token
var publicPrefixes = []string{
	"/grpc.health.v1.Health/",
}

func isPublic(fullMethod string) bool {
	for _, p := range publicPrefixes {
		if strings.HasPrefix(fullMethod, p) {
			return true
		}
	}
	return false
}

// IdentityFromContext returns the identity attached by the interceptors.
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(string)
	return id, ok && id != ""
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(common.AuthorizationHeaderName)
	if len(values) == 0 {
		return ""
	}
	scheme, token, ok := strings.Cut(values[0], " ")
	if !ok || !strings.EqualFold(scheme, common.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

// authorize returns ctx extended with the caller's identity.
func (s *GRPCServer) authorize(ctx context.Context, method string) (context.Context, error) {
	token := bearerFromMetadata(ctx)
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	id, err := s.authorizer.Authorize(ctx, token)
	if err != nil {
		st := statusFromError(err)
		if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
			s.logger.Error(ctx, "authorization failed", "method", method, "error", err)
		}
		return nil, st.Err()
	}

	return context.WithValue(ctx, identityKey, id), nil
}

func statusFromError(err error) *status.Status {
	switch {
	case errors.Is(err, common.ErrMalformedToken):
		return status.New(codes.Unauthenticated, "malformed token")
	case errors.Is(err, common.ErrInvalidSignature):
		return status.New(codes.Unauthenticated, "invalid token signature")
	case errors.Is(err, common.ErrTokenExpired):
		return status.New(codes.Unauthenticated, "token expired")
	case errors.Is(err, common.ErrTokenRevoked):
		return status.New(codes.Unauthenticated, "token revoked")
	case errors.Is(err, common.ErrRateLimited):
		return status.New(codes.ResourceExhausted, "rate limit exceeded")
	case errors.Is(err, common.ErrCacheUnavailable):
		return status.New(codes.Unavailable, "service temporarily unavailable")
	default:
		return status.New(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if isPublic(info.FullMethod) {
		return handler(ctx, req)
	}

	ctx, err := s.authorize(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}

	return handler(ctx, req)
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *identityStream) Context() context.Context { return w.ctx }

func (s *GRPCServer) streamAccessTokenInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {

	if isPublic(info.FullMethod) {
		return handler(srv, ss)
	}

	ctx, err := s.authorize(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}

	return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
}
