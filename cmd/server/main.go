package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"refreshguard/internal/audit"
	"refreshguard/internal/config"
	"refreshguard/internal/db"
	identityrepo "refreshguard/internal/identity/repository"
	identityservice "refreshguard/internal/identity/service"
	"refreshguard/internal/security"
	"refreshguard/internal/server"
	sessionhandler "refreshguard/internal/session/handler"
	sessionrepo "refreshguard/internal/session/repository"
	sessionservice "refreshguard/internal/session/service"
	"refreshguard/internal/telemetry/otel"
)

const serviceName = "refreshguard"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, otel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	var database *sql.DB
	if cfg.DatabaseURL != "" {
		database, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer database.Close()
	}

	checks := map[string]server.Pinger{}
	if database != nil {
		checks["postgres"] = database
	}
	sessions, closeStore, err := openSessionStore(ctx, cfg, database, checks)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	defer closeStore()

	var users identityrepo.Repository = identityrepo.NewMemoryRepository()
	if database != nil {
		users = identityrepo.NewPostgresRepository(database)
	}

	accessKey, err := security.LoadSigningKey(cfg.JWTAccessSecret)
	if err != nil {
		log.Fatalf("access signing key: %v", err)
	}
	refreshKey, err := security.LoadSigningKey(cfg.JWTRefreshSecret)
	if err != nil {
		log.Fatalf("refresh signing key: %v", err)
	}
	tokens, err := security.NewTokenProvider(accessKey, refreshKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		log.Fatalf("token provider: %v", err)
	}
	tokens.WithLeeway(cfg.Leeway())

	metrics, err := sessionservice.NewMetrics(providers.Meter(serviceName))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	var kafkaSink audit.Sink
	if publisher := audit.NewKafkaPublisher(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic); publisher != nil {
		async := audit.Async(publisher, 5*time.Second)
		// Runs after the servers stop: drains pending events, then closes the writer.
		defer func() {
			if err := async.Close(); err != nil {
				log.Printf("audit: close kafka publisher: %v", err)
			}
		}()
		kafkaSink = async
	}
	recorder := audit.NewLogger(audit.Multi(audit.NewOTelSink(providers.LoggerProvider), kafkaSink))

	manager := sessionservice.NewManager(sessions, tokens,
		sessionservice.WithAudit(recorder),
		sessionservice.WithMetrics(metrics),
		sessionservice.WithSubjectLookup(identityservice.NewSubjectResolver(users)),
	)
	hasher, err := security.NewHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatalf("password hasher: %v", err)
	}
	accounts := identityservice.NewAuthService(users, manager, hasher, recorder, metrics)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", server.ReadyHandler(checks))
	sessionhandler.NewHandler(manager, accounts, sessionhandler.CookieOptions{
		Name:     cfg.CookieName,
		Path:     cfg.CookiePath,
		Secure:   cfg.CookieSecure,
		SameSite: cfg.SameSite(),
		MaxAge:   cfg.RefreshTTL(),
	}).RegisterRoutes(router)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := server.NewGRPCServer(manager, nil)
	health := server.RegisterServices(grpcServer, server.Deps{Sessions: manager})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()
	go func() {
		log.Printf("HTTP server listening on %s (session store: %s)", cfg.HTTPAddr, cfg.SessionStore)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down servers...")
	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcServer.GracefulStop()
	log.Println("servers stopped")
}

// openSessionStore builds the configured session repository and a func that releases it.
// Network-backed stores add themselves to checks for /ready.
func openSessionStore(ctx context.Context, cfg *config.Config, database *sql.DB, checks map[string]server.Pinger) (sessionrepo.Repository, func(), error) {
	switch cfg.SessionStore {
	case config.StorePostgres:
		if database == nil {
			return nil, nil, errors.New("postgres session store requires DATABASE_URL")
		}
		return sessionrepo.NewPostgresRepository(database), func() {}, nil
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		checks["redis"] = server.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		return sessionrepo.NewRedisRepository(rdb, serviceName, cfg.RedisRetentionDuration()), func() { _ = rdb.Close() }, nil
	default:
		log.Printf("session store: using in-memory sessions; they do not survive restarts")
		return sessionrepo.NewMemoryRepository(), func() {}, nil
	}
}
