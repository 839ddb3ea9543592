package config

import (
	"fmt"
	"time"

	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/env"
)

// Directory backends
const (
	DirectoryCockroach = "cockroach"
	DirectoryMemory    = "memory"
)

// Config holds all configuration for the relay
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Log       LogConfig
	Liveness  LivenessConfig
	WebSocket WebSocketConfig
	Push      PushConfig

	// DirectoryBackend selects where users, rooms and call records live
	DirectoryBackend string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
	RateLimit      int // requests per minute on /v1, 0 disables
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Enabled     bool
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration

	// ReplicationFactor > 0 creates the keyspace on boot
	ReplicationFactor int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// LivenessConfig holds the heartbeat sweep interval
type LivenessConfig struct {
	Period time.Duration
}

// WebSocketConfig holds connection limits
type WebSocketConfig struct {
	MaxConnections int
	SendBuffer     int
	AuthTimeout    time.Duration
}

// PushConfig selects the missed-call push provider
type PushConfig struct {
	Provider            string // mock, fcm, apns
	FirebaseProjectID   string
	FirebaseCredentials string
	APNsKeyPath         string
	APNsKeyID           string
	APNsTeamID          string
	APNsBundleID        string
	APNsProduction      bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8080),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "relay-server"),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:8080",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:8080",
			}),
			RateLimit: env.GetInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "callrelay"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  env.GetBool("REDIS_ENABLED", true),
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Enabled:     env.GetBool("CASSANDRA_ENABLED", false),
			Hosts:       env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "callrelay"),
			Username:    env.GetString("CASSANDRA_USER", ""),
			Password:    env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),

			ReplicationFactor: env.GetInt("CASSANDRA_REPLICATION_FACTOR", 0),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", constants.AccessTokenExpiry),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/relay.log"),
		},
		Liveness: LivenessConfig{
			Period: env.GetDuration("LIVENESS_PERIOD", constants.LivenessPeriod),
		},
		WebSocket: WebSocketConfig{
			MaxConnections: env.GetInt("WS_MAX_CONNECTIONS", constants.DefaultMaxConnections),
			SendBuffer:     env.GetInt("WS_SEND_BUFFER", constants.DefaultSendBuffer),
			AuthTimeout:    env.GetDuration("WS_AUTH_TIMEOUT", constants.AuthHandshakeTimeout),
		},
		Push: PushConfig{
			Provider:            env.GetString("PUSH_PROVIDER", "mock"),
			FirebaseProjectID:   env.GetString("FIREBASE_PROJECT_ID", ""),
			FirebaseCredentials: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
			APNsKeyPath:         env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:           env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:          env.GetString("APNS_TEAM_ID", ""),
			APNsBundleID:        env.GetString("APNS_BUNDLE_ID", ""),
			APNsProduction:      env.GetBool("APNS_PRODUCTION", false),
		},
		DirectoryBackend: env.GetString("DIRECTORY_BACKEND", DirectoryCockroach),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DirectoryBackend == DirectoryMemory {
			return fmt.Errorf("DIRECTORY_BACKEND=memory is not allowed in production")
		}
	}

	switch c.DirectoryBackend {
	case DirectoryCockroach, DirectoryMemory:
	default:
		return fmt.Errorf("DIRECTORY_BACKEND must be %q or %q, got %q", DirectoryCockroach, DirectoryMemory, c.DirectoryBackend)
	}

	switch c.Push.Provider {
	case "mock", "fcm", "apns":
	default:
		return fmt.Errorf("PUSH_PROVIDER must be mock, fcm or apns, got %q", c.Push.Provider)
	}

	if c.Liveness.Period <= 0 {
		return fmt.Errorf("LIVENESS_PERIOD must be positive")
	}
	if c.WebSocket.MaxConnections <= 0 || c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS and WS_SEND_BUFFER must be positive")
	}

	return nil
}

// Warnings lists settings that are accepted but unsafe outside development
func (c *Config) Warnings() []string {
	var warnings []string
	if c.JWT.Secret == "" || len(c.JWT.Secret) < 32 {
		warnings = append(warnings, "JWT secret is empty or shorter than 32 characters")
	}
	if c.DirectoryBackend == DirectoryMemory {
		warnings = append(warnings, "in-memory directory: users, rooms and call records are lost on restart")
	}
	if !c.Redis.Enabled {
		warnings = append(warnings, "Redis disabled: no presence mirror, token revocation, rate limiting or push tokens")
	}
	return warnings
}
