package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/server/auth"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	serviceKey   ctxKey = "service"
	requestIDKey ctxKey = "requestID"
)

// ServiceFromContext returns the caller name taken from its service token.
func ServiceFromContext(ctx context.Context) string {
	v, _ := ctx.Value(serviceKey).(string)
	return v
}

// RequestIDFromContext returns the request id assigned by the interceptor.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func firstMetadata(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// requestIDInterceptor propagates the caller's request id or assigns one.
func (s *GRPCServer) requestIDInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	id := firstMetadata(ctx, common.RequestIDHeaderName)
	if id == "" {
		id = uuid.NewString()
	}
	ctx = context.WithValue(ctx, requestIDKey, id)
	// fails outside a real transport stream, e.g. in unit tests
	_ = grpc.SetHeader(ctx, metadata.Pairs(common.RequestIDHeaderName, id))
	return handler(ctx, req)
}

// serviceTokenInterceptor requires a valid service JWT on every method
// except Ping.
func (s *GRPCServer) serviceTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if info.FullMethod == methodPing {
		return handler(ctx, req)
	}

	token := strings.TrimSpace(firstMetadata(ctx, common.ServiceTokenHeaderName))
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	service, err := auth.ParseServiceToken(token, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		s.logger.Warn(ctx, "service token rejected", "method", info.FullMethod, "request_id", RequestIDFromContext(ctx))
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(context.WithValue(ctx, serviceKey, service), req)
}
