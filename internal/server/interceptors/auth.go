package interceptors

import (
	"context"
	"log"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"refreshguard/internal/session/service"
)

const bearerPrefix = "bearer "

// Authenticator verifies access tokens; *service.Manager implements it.
type Authenticator interface {
	Authenticate(accessToken string) (service.Subject, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets user_id and role in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. the health check). A valid token on a public method still populates the context.
func AuthUnary(auth Authenticator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := authenticate(ctx, auth, info.FullMethod, publicMethods[info.FullMethod])
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// AuthStream is the streaming counterpart of AuthUnary.
func AuthStream(auth Authenticator, publicMethods map[string]bool) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), auth, info.FullMethod, publicMethods[info.FullMethod])
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticate(ctx context.Context, auth Authenticator, method string, public bool) (context.Context, error) {
	token := extractBearer(ctx)
	if token == "" {
		if public {
			return ctx, nil
		}
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	subject, err := auth.Authenticate(token)
	if err != nil {
		if public {
			return ctx, nil
		}
		log.Printf("grpc: rejected token for %s from %s", method, ClientIP(ctx))
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return WithIdentity(ctx, subject.ID, subject.Role), nil
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
