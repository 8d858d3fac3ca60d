// Package server assembles the gRPC server: auth interceptors, OpenTelemetry
// instrumentation, the standard health service and the session API.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"refreshguard/internal/server/interceptors"
	sessionhandler "refreshguard/internal/session/handler"
)

// Deps holds the service dependencies for gRPC handlers.
type Deps struct {
	// Sessions backs the session API. If nil, the session service is not registered.
	Sessions sessionhandler.Sessions
	// Health reports serving status. If nil, a new health server is created.
	Health *health.Server
}

// PublicMethods returns the full method names that do not require a Bearer token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
}

// NewGRPCServer returns a server whose RPCs pass through otelgrpc and the bearer
// auth interceptors. Extra options are appended after the defaults.
func NewGRPCServer(auth interceptors.Authenticator, publicMethods map[string]bool, opts ...grpc.ServerOption) *grpc.Server {
	if publicMethods == nil {
		publicMethods = PublicMethods()
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.AuthUnary(auth, publicMethods)),
		grpc.ChainStreamInterceptor(interceptors.AuthStream(auth, publicMethods)),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// RegisterServices registers the health service and, when configured, the session API.
// It returns the health server so callers can flip serving status on shutdown.
//
// Service → handler mapping:
//   - grpc.health.v1.Health                 → google.golang.org/grpc/health
//   - refreshguard.session.v1.SessionService → internal/session/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) *health.Server {
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
	if deps.Sessions != nil {
		sessionhandler.RegisterSessionServiceServer(s, sessionhandler.NewSessionServer(deps.Sessions))
		hs.SetServingStatus(sessionhandler.SessionServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	return hs
}
