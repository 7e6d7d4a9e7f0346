package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/server/rbac"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName           = "storeauth.v1.AuthCheck"
	methodValidateSession = "/" + serviceName + "/ValidateSession"
	methodAuthorize       = "/" + serviceName + "/Authorize"
	methodPing            = "/" + serviceName + "/Ping"
)

// AuthCheckServer is the contract behind AuthCheckServiceDesc. Messages are
// google.protobuf.Struct so that callers need no generated stubs.
type AuthCheckServer interface {
	ValidateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Ping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var AuthCheckServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AuthCheckServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateSession", Handler: unaryHandler(methodValidateSession, AuthCheckServer.ValidateSession)},
		{MethodName: "Authorize", Handler: unaryHandler(methodAuthorize, AuthCheckServer.Authorize)},
		{MethodName: "Ping", Handler: unaryHandler(methodPing, AuthCheckServer.Ping)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storeauth/v1/authcheck",
}

type methodFunc func(AuthCheckServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call methodFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthCheckServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthCheckServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ValidateSession answers {"valid": bool} for {"owner_id", "token"}.
func (s *GRPCServer) ValidateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	ownerID := int64(f["owner_id"].GetNumberValue())
	token := f["token"].GetStringValue()
	if ownerID <= 0 || token == "" {
		return nil, status.Error(codes.InvalidArgument, "owner_id and token are required")
	}

	valid := s.sessions.Validate(ctx, ownerID, token)
	s.logger.Debug(ctx, "session validated", "owner_id", ownerID, "valid", valid,
		"caller", ServiceFromContext(ctx), "request_id", RequestIDFromContext(ctx))
	return structpb.NewStruct(map[string]any{"valid": valid})
}

// Authorize checks a subject against a "required_role", a "permission", or
// both. It answers {"allowed": true} or fails with PermissionDenied; the
// guard audits every denial.
func (s *GRPCServer) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	subject := rbac.Subject{
		ID:   int64(f["subject_id"].GetNumberValue()),
		Role: rbac.Role(f["role"].GetStringValue()),
	}
	res := rbac.Resource{
		Type: f["resource_type"].GetStringValue(),
		ID:   f["resource_id"].GetStringValue(),
	}
	permission := f["permission"].GetStringValue()
	required := f["required_role"].GetStringValue()

	if permission == "" && required == "" {
		return nil, status.Error(codes.InvalidArgument, "permission or required_role is required")
	}
	if required != "" && !s.guard.Model().Valid(rbac.Role(required)) {
		return nil, status.Error(codes.InvalidArgument, "unknown required_role")
	}

	if required != "" {
		if err := s.guard.RequireRole(ctx, subject, rbac.Role(required), res); err != nil {
			return nil, s.denied(ctx, subject, err)
		}
	}
	if permission != "" {
		if err := s.guard.RequirePermission(ctx, subject, rbac.Permission(permission), res); err != nil {
			return nil, s.denied(ctx, subject, err)
		}
	}

	return structpb.NewStruct(map[string]any{"allowed": true})
}

func (s *GRPCServer) denied(ctx context.Context, subject rbac.Subject, err error) error {
	s.logger.Info(ctx, "authorization denied", "subject_id", subject.ID, "role", subject.Role,
		"caller", ServiceFromContext(ctx), "request_id", RequestIDFromContext(ctx))
	if errors.Is(err, common.ErrPermissionDenied) {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return status.Error(codes.Internal, "authorization failed")
}

func (s *GRPCServer) Ping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "OK"})
}
