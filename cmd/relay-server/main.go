package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/database"
	"callrelay-backend/internal/directory"
	relayHandler "callrelay-backend/internal/handler/http/relay"
	wsHandler "callrelay-backend/internal/handler/ws"
	"callrelay-backend/internal/liveness"
	"callrelay-backend/internal/middleware"
	"callrelay-backend/internal/registry"
	cassandraRepo "callrelay-backend/internal/repository/cassandra"
	"callrelay-backend/internal/repository/cockroach"
	redisRepo "callrelay-backend/internal/repository/redis"
	"callrelay-backend/internal/router"
	"callrelay-backend/internal/service/call"
	"callrelay-backend/internal/service/chat"
	"callrelay-backend/internal/service/groupcall"
	"callrelay-backend/pkg/config"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/jwt"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
	"callrelay-backend/pkg/push"
	"callrelay-backend/pkg/resilience"
)

const connectAttempts = 5

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
		Service:  cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, warning := range cfg.Warnings() {
		logger.Warn("Configuration warning", zap.String("warning", warning))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	probes := map[string]middleware.HealthProbe{}

	// Redis backs the presence mirror, token revocation, rate limiting and push tokens
	var redisDB *database.RedisClient
	if cfg.Redis.Enabled {
		redisDB = database.NewRedisDB(&database.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		}, appMetrics)
		defer redisDB.Close()

		if err := redisDB.HealthCheck(ctx); err != nil {
			logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
		}
		redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)
		probes["redis"] = redisDB.Probe
	}

	var presenceRepo *redisRepo.PresenceRepository
	if redisDB != nil {
		presenceRepo = redisRepo.NewPresenceRepository(redisDB)
		if err := presenceRepo.Reset(ctx); err != nil {
			logger.Warn("Failed to reset presence mirror", zap.Error(err))
		}
	}

	dir, db, err := openDirectory(ctx, cfg, presenceRepo)
	if err != nil {
		logger.Fatal("Failed to open directory", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
		probes["cockroachdb"] = db.Ping
	}

	// Chat persistence is optional
	var messageStore chat.MessageStore
	if cfg.Cassandra.Enabled {
		var cassDB *database.CassandraDB
		err := database.Retry(ctx, "cassandra", connectAttempts, time.Second, 30*time.Second, func(context.Context) error {
			var err error
			cassDB, err = database.NewCassandraDB(&database.CassandraConfig{
				Hosts:       cfg.Cassandra.Hosts,
				Keyspace:    cfg.Cassandra.Keyspace,
				Username:    cfg.Cassandra.Username,
				Password:    cfg.Cassandra.Password,
				Consistency: cfg.Cassandra.Consistency,
				Timeout:     cfg.Cassandra.Timeout,

				ReplicationFactor: cfg.Cassandra.ReplicationFactor,
			})
			return err
		})
		if err != nil {
			logger.Warn("Cassandra unavailable, chat messages will not be persisted", zap.Error(err))
		} else {
			defer cassDB.Close()
			probes["cassandra"] = cassDB.Ping
			repo := cassandraRepo.NewMessageRepository(cassDB)
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.Fatal("Failed to prepare messages table", zap.Error(err))
			}
			messageStore = repo
		}
	}

	// Missed-call push
	var notifier call.MissedCallNotifier
	var tokens wsHandler.TokenRegistrar
	if redisDB != nil {
		provider, err := push.NewProvider(ctx, push.ProviderConfig{
			Type: push.ProviderType(cfg.Push.Provider),
			FCM: push.FCMConfig{
				ProjectID:       cfg.Push.FirebaseProjectID,
				CredentialsPath: cfg.Push.FirebaseCredentials,
			},
			APNs: push.APNsConfig{
				KeyPath:    cfg.Push.APNsKeyPath,
				KeyID:      cfg.Push.APNsKeyID,
				TeamID:     cfg.Push.APNsTeamID,
				BundleID:   cfg.Push.APNsBundleID,
				Production: cfg.Push.APNsProduction,
			},
		})
		if err != nil {
			logger.Fatal("Failed to initialise push provider", zap.Error(err))
		}
		provider = push.Guard(provider, resilience.NewCircuitBreaker("push",
			constants.PushBreakerThreshold, constants.PushBreakerCooldown,
			func(name string, state resilience.State) {
				appMetrics.SetCircuitBreakerState(name, string(state))
			}))
		pushSvc := push.NewService(provider, redisRepo.NewPushTokenRepository(redisDB))
		notifier = pushSvc
		tokens = pushSvc
	}

	// Relay core
	reg := registry.New()
	msgRouter := router.New(reg, dir, appMetrics)
	groups := groupcall.NewManager(dir, msgRouter, appMetrics)
	reg.OnOffline(func(userID uuid.UUID) {
		leaveCtx, cancel := context.WithTimeout(context.Background(), constants.DirectoryTimeout)
		defer cancel()
		groups.LeaveAll(leaveCtx, userID, groupcall.ReasonDisconnected)
	})
	calls := call.NewService(dir, msgRouter, notifier, appMetrics)
	chatSvc := chat.NewService(dir, msgRouter, messageStore, appMetrics)

	monitor := liveness.NewMonitor(reg, dir, msgRouter, cfg.Liveness.Period, appMetrics)
	monitor.Start(ctx)

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	var revocation middleware.RevocationChecker
	var revoker *middleware.RedisRevocationChecker
	if redisDB != nil {
		revoker = middleware.NewRedisRevocationChecker(redisDB)
		revoker.StartCleanup(ctx, time.Minute)
		revocation = revoker
	}
	auth := middleware.NewAuthenticator(jwtManager, revocation)

	gateway := wsHandler.NewGateway(wsHandler.Deps{
		Registry:  reg,
		Directory: dir,
		Presence:  msgRouter,
		Auth:      auth,
		Calls:     calls,
		Groups:    groups,
		Chat:      chatSvc,
		Tokens:    tokens,
		Metrics:   appMetrics,
	}, wsHandler.Config{
		MaxConnections: cfg.WebSocket.MaxConnections,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		AuthTimeout:    cfg.WebSocket.AuthTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// HTTP
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.HealthCheck(cfg.Server.ServiceName, probes))
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	engine.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Websocket endpoints authenticate with their first frame
	gateway.RegisterRoutes(engine)

	v1 := engine.Group("/v1")
	v1.Use(middleware.SecurityHeaders())
	v1.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	v1.Use(middleware.AuthMiddleware(auth))
	if redisDB != nil && cfg.Server.RateLimit > 0 {
		v1.Use(middleware.NewRateLimiter(redisDB, cfg.Server.RateLimit, time.Minute).Middleware())
	}
	relay := relayHandler.NewHandler(reg, groups, dir, chatSvc)
	if revoker != nil {
		relay.WithRevoker(revoker)
	}
	relay.RegisterRoutes(v1)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Relay server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("directory", cfg.DirectoryBackend),
			zap.Duration("stale_after", monitor.StaleAfter()),
			zap.Bool("chat_persistence", messageStore != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down relay server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown
	for _, conn := range reg.All() {
		conn.Transport.Close()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Relay server stopped")
}

// openDirectory builds the configured directory backend. The returned pool is
// nil for the in-memory backend.
func openDirectory(ctx context.Context, cfg *config.Config, presence *redisRepo.PresenceRepository) (directory.Directory, *database.DB, error) {
	if cfg.DirectoryBackend == config.DirectoryMemory {
		return directory.NewMemory(), nil, nil
	}

	var db *database.DB
	err := database.Retry(ctx, "cockroachdb", connectAttempts, time.Second, 30*time.Second, func(ctx context.Context) error {
		var err error
		db, err = database.NewCockroachDB(ctx, &database.CockroachConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to CockroachDB: %w", err)
	}

	if err := cockroach.EnsureSchema(ctx, db.Pool); err != nil {
		db.Close()
		return nil, nil, err
	}

	var mirror directory.PresenceMirror
	if presence != nil {
		mirror = presence
	}

	return directory.NewStore(
		cockroach.NewUserRepository(db.Pool),
		cockroach.NewRoomRepository(db.Pool),
		cockroach.NewCallRepository(db.Pool),
		mirror,
	), db, nil
}
