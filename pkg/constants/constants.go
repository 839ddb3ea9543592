// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DirectoryTimeout bounds every Directory call made while handling one inbound frame
	DirectoryTimeout = 5 * time.Second

	// LivenessPeriod is the default sweep interval of the liveness monitor
	LivenessPeriod = 30 * time.Second

	// StaleAfterPeriods is how many liveness periods without a heartbeat make a connection stale
	StaleAfterPeriods = 2

	// WebSocketPingInterval keeps intermediaries from dropping idle sockets
	WebSocketPingInterval = 25 * time.Second

	// WebSocketWriteWait is the deadline for a single frame write
	WebSocketWriteWait = 10 * time.Second

	// AuthHandshakeTimeout is how long a fresh connection may stay unauthenticated
	AuthHandshakeTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// RedisHealthCheckInterval is the interval between Redis pings
	RedisHealthCheckInterval = 10 * time.Second

	// LocalRevocationCacheSize bounds the in-process revoked token cache
	LocalRevocationCacheSize = 10000

	// PushBreakerThreshold is how many consecutive provider failures open the push breaker
	PushBreakerThreshold = 5

	// PushBreakerCooldown is how long the push breaker stays open before a trial send
	PushBreakerCooldown = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// TokenAudience is the audience every connection token must carry
	TokenAudience = "callrelay-api"

	// TokenIssuer is the issuer stamped on tokens minted by this service
	TokenIssuer = "callrelay-auth"
)

// Database connection constants
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)

// WebSocket limits
const (
	// DefaultMaxConnections caps concurrent websocket connections per process
	DefaultMaxConnections = 10000

	// DefaultSendBuffer is the per-connection outbound queue length
	DefaultSendBuffer = 256

	// MaxFrameSize is the largest inbound frame accepted (SDP blobs can be large)
	MaxFrameSize = 64 * 1024
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Validation constants
const (
	MinUsernameLength    = 3
	MaxUsernameLength    = 50
	MinPasswordLength    = 8
	MaxDisplayNameLength = 100
	MaxRoomNameLength    = 100
)

// Message constants
const (
	// MaxHistoryLimit caps how many messages one history request returns
	MaxHistoryLimit = 50

	// MaxMessageLength is the maximum allowed chat message length
	MaxMessageLength = 10000
)

// User status constants
const (
	UserStatusOnline  = "online"
	UserStatusOffline = "offline"
)
