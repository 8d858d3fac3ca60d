package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"refreshguard/internal/platform/rbac"
	"refreshguard/internal/security"
	"refreshguard/internal/server/interceptors"
	"refreshguard/internal/session/domain"
	"refreshguard/internal/session/service"
)

// SessionServiceName is the gRPC service name of the session API.
const SessionServiceName = "refreshguard.session.v1.SessionService"

// SessionServiceServer is the gRPC session API. Messages are protobuf well-known
// types, so clients need no generated stubs.
type SessionServiceServer interface {
	// WhoAmI returns the caller's user_id and role.
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListSessions returns the caller's active sessions, newest first.
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// RevokeAllSessions revokes every session of the given user id, or of the
	// caller when the value is empty. Revoking another user requires role admin.
	RevokeAllSessions(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
}

// SessionServer implements SessionServiceServer on top of the session manager.
type SessionServer struct {
	sessions Sessions
}

// NewSessionServer returns a SessionServer. Callers are authenticated by interceptors.AuthUnary.
func NewSessionServer(sessions Sessions) *SessionServer {
	return &SessionServer{sessions: sessions}
}

// RegisterSessionServiceServer registers srv on s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&sessionServiceDesc, srv)
}

func (s *SessionServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	userID, err := rbac.RequireRole(ctx, domain.RoleUser, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	role, _ := interceptors.GetRole(ctx)
	return structpb.NewStruct(map[string]any{"user_id": userID, "role": string(role)})
}

func (s *SessionServer) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	userID, err := rbac.RequireRole(ctx, domain.RoleUser, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		log.Printf("grpc: list sessions: %v", err)
		return nil, status.Error(codes.Internal, "failed to list sessions")
	}
	list := make([]any, 0, len(sessions))
	for _, ses := range sessions {
		list = append(list, map[string]any{
			"fingerprint": security.ShortFingerprint(ses.Fingerprint),
			"created_at":  ses.CreatedAt.UTC().Format(time.RFC3339),
			"expires_at":  ses.ExpiresAt.UTC().Format(time.RFC3339),
			"ip":          ses.CreatedByIP,
			"user_agent":  ses.UserAgent,
		})
	}
	return structpb.NewStruct(map[string]any{"sessions": list})
}

func (s *SessionServer) RevokeAllSessions(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	callerID, err := rbac.RequireRole(ctx, domain.RoleUser, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	target := req.GetValue()
	if target == "" {
		target = callerID
	}
	if target != callerID {
		if _, err := rbac.RequireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, err
		}
	}
	n, err := s.sessions.RevokeAll(ctx, target)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		log.Printf("grpc: revoke all sessions for %s: %v", target, err)
		return nil, status.Error(codes.Internal, "failed to revoke sessions")
	}
	return wrapperspb.Int64(n), nil
}

func whoAmIHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SessionServiceName + "/WhoAmI"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listSessionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SessionServiceName + "/ListSessions"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).ListSessions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func revokeAllSessionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).RevokeAllSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SessionServiceName + "/RevokeAllSessions"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).RevokeAllSessions(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
		{MethodName: "ListSessions", Handler: listSessionsHandler},
		{MethodName: "RevokeAllSessions", Handler: revokeAllSessionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "refreshguard/session/v1/session",
}
