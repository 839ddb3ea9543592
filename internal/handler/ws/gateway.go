// Package ws serves the chat, voice, video and legacy websocket channels.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callrelay-backend/internal/protocol"
	"callrelay-backend/internal/registry"
	"callrelay-backend/internal/service/call"
	"callrelay-backend/internal/service/chat"
	"callrelay-backend/internal/service/groupcall"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/jwt"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
	"callrelay-backend/pkg/push"
	"callrelay-backend/pkg/response"
)

// Authenticator validates the token carried by the auth frame
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*jwt.Claims, error)
}

// StatusUpdater records online status in the directory
type StatusUpdater interface {
	UpdateUserOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error
}

// PresenceBroadcaster sends the online user snapshot to every connection
type PresenceBroadcaster interface {
	BroadcastPresence() int
}

// TokenRegistrar stores push tokens
type TokenRegistrar interface {
	RegisterToken(ctx context.Context, token *push.Token) error
}

// Config holds websocket limits
type Config struct {
	MaxConnections int
	SendBuffer     int
	AuthTimeout    time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Deps are the collaborators a Gateway dispatches to. Tokens and Metrics
// may be nil.
type Deps struct {
	Registry  *registry.Registry
	Directory StatusUpdater
	Presence  PresenceBroadcaster
	Auth      Authenticator
	Calls     *call.Service
	Groups    *groupcall.Manager
	Chat      *chat.Service
	Tokens    TokenRegistrar
	Metrics   *metrics.Metrics
}

// Gateway accepts websocket connections, authenticates them with the first
// frame and dispatches every later frame to the services
type Gateway struct {
	Deps
	cfg       Config
	upgrader  websocket.Upgrader
	semaphore chan struct{}
}

// NewGateway creates a Gateway
func NewGateway(deps Deps, cfg Config) *Gateway {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = constants.DefaultMaxConnections
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = constants.DefaultSendBuffer
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = constants.AuthHandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = constants.WebSocketPingInterval
	}

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}

	return &Gateway{
		Deps:      deps,
		cfg:       cfg,
		semaphore: make(chan struct{}, cfg.MaxConnections),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Native clients send no Origin header
				return origin == "" || allowed[origin]
			},
		},
	}
}

// RegisterRoutes mounts one endpoint per channel
func (g *Gateway) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/chat", g.ServeChannel(registry.ChannelChat))
	r.GET("/ws/voice", g.ServeChannel(registry.ChannelVoice))
	r.GET("/ws/video", g.ServeChannel(registry.ChannelVideo))
	r.GET("/ws", g.ServeChannel(registry.ChannelLegacy))
}

// session is one authenticated connection
type session struct {
	userID    uuid.UUID
	channel   registry.Channel
	transport *socketTransport
}

// ServeChannel upgrades the request and serves the connection until it
// closes. The handler goroutine runs the read loop.
func (g *Gateway) ServeChannel(channel registry.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		case g.semaphore <- struct{}{}:
			defer func() { <-g.semaphore }()
		default:
			logger.Warn("WebSocket connection rejected: max connections reached",
				zap.Int("max_connections", g.cfg.MaxConnections))
			appErr := apperrors.TooManyConnectionsError()
			response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
			return
		}

		conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed",
				zap.String("channel", string(channel)),
				zap.Error(err))
			return
		}
		conn.SetReadLimit(constants.MaxFrameSize)

		transport := newSocketTransport(conn, g.cfg.SendBuffer)
		go transport.writePump(g.cfg.PingInterval)

		s, ok := g.authenticate(c.Request.Context(), conn, transport, channel)
		if !ok {
			transport.Close()
			return
		}

		g.connected(s)
		defer g.disconnected(s)

		g.readLoop(conn, s)
	}
}

// authenticate waits for the auth frame and registers the connection
func (g *Gateway) authenticate(ctx context.Context, conn *websocket.Conn, transport *socketTransport, channel registry.Channel) (*session, bool) {
	conn.SetReadDeadline(time.Now().Add(g.cfg.AuthTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		logger.Debug("WebSocket closed before auth",
			zap.String("channel", string(channel)),
			zap.Error(err))
		return nil, false
	}
	conn.SetReadDeadline(time.Time{})

	msg, err := protocol.Decode(data)
	if err == nil {
		if _, isAuth := msg.(protocol.Auth); !isAuth {
			err = apperrors.UnauthorizedError("First frame must be auth")
		}
	}
	if err != nil {
		g.sendTo(transport, protocol.ErrorEvent(err, protocol.TypeAuth))
		return nil, false
	}

	authCtx, cancel := context.WithTimeout(ctx, constants.DirectoryTimeout)
	defer cancel()
	claims, err := g.Auth.Authenticate(authCtx, msg.(protocol.Auth).Token)
	if err != nil {
		g.sendTo(transport, protocol.ErrorEvent(err, protocol.TypeAuth))
		return nil, false
	}

	return &session{userID: claims.UserID, channel: channel, transport: transport}, true
}

// connected registers the session and announces a user coming online
func (g *Gateway) connected(s *session) {
	_, cameOnline := g.Registry.Register(s.userID, s.channel, s.transport)

	g.send(s, protocol.NewEvent(protocol.EventAuthOK, protocol.AuthOKData{
		UserID:  s.userID,
		Channel: string(s.channel),
	}))
	g.recordConnections()

	logger.Info("WebSocket connected",
		zap.String("user_id", s.userID.String()),
		zap.String("channel", string(s.channel)),
		zap.Bool("came_online", cameOnline))

	if cameOnline {
		g.presenceChanged(s.userID, true)
	}
}

// disconnected unregisters the session. The liveness sweep may already
// have done so, in which case nothing is announced twice.
func (g *Gateway) disconnected(s *session) {
	wentOffline := g.Registry.Unregister(s.transport)
	s.transport.Close()
	g.recordConnections()

	logger.Info("WebSocket disconnected",
		zap.String("user_id", s.userID.String()),
		zap.String("channel", string(s.channel)),
		zap.Bool("went_offline", wentOffline))

	if wentOffline {
		g.presenceChanged(s.userID, false)
	}
}

func (g *Gateway) presenceChanged(userID uuid.UUID, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DirectoryTimeout)
	defer cancel()

	if err := g.Directory.UpdateUserOnlineStatus(ctx, userID, online); err != nil {
		logger.Warn("Failed to update online status",
			zap.String("user_id", userID.String()),
			zap.Bool("online", online),
			zap.Error(err))
	}
	g.Presence.BroadcastPresence()
}

func (g *Gateway) readLoop(conn *websocket.Conn, s *session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", s.userID.String()),
					zap.String("channel", string(s.channel)),
					zap.Error(err))
			}
			return
		}
		g.handleFrame(s, data)
	}
}

// send encodes an event for the session's own connection
func (g *Gateway) send(s *session, event *protocol.Event) {
	g.sendTo(s.transport, event)
}

func (g *Gateway) sendTo(transport registry.Transport, event *protocol.Event) {
	data, err := event.Encode()
	if err != nil {
		logger.Error("Failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := transport.Send(data); err != nil {
		logger.Debug("Reply dropped", zap.String("type", event.Type), zap.Error(err))
		if g.Metrics != nil {
			g.Metrics.RecordWebSocketError("reply_dropped")
		}
		return
	}
	if g.Metrics != nil {
		g.Metrics.RecordWebSocketMessage(event.Type, "out")
	}
}

func (g *Gateway) recordConnections() {
	if g.Metrics == nil {
		return
	}
	stats := g.Registry.Stats()
	for _, ch := range registry.Channels {
		g.Metrics.SetWebSocketConnections(string(ch), stats[ch])
	}
}
