// Package relay serves read-only HTTP introspection of the relay state.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/registry"
	"callrelay-backend/internal/service/groupcall"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/pagination"
	"callrelay-backend/pkg/response"
)

// MembershipChecker answers room membership
type MembershipChecker interface {
	IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
}

// HistoryReader returns recent room messages
type HistoryReader interface {
	History(ctx context.Context, userID, roomID uuid.UUID, limit int) ([]*domain.Message, error)
}

// Revoker blacklists a token id for ttl
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}

// Handler handles introspection HTTP requests
type Handler struct {
	registry *registry.Registry
	groups   *groupcall.Manager
	members  MembershipChecker
	history  HistoryReader
	revoker  Revoker
}

// NewHandler creates a new relay handler
func NewHandler(reg *registry.Registry, groups *groupcall.Manager, members MembershipChecker, history HistoryReader) *Handler {
	return &Handler{
		registry: reg,
		groups:   groups,
		members:  members,
		history:  history,
	}
}

// WithRevoker enables DELETE /session
func (h *Handler) WithRevoker(revoker Revoker) *Handler {
	h.revoker = revoker
	return h
}

// RegisterRoutes mounts the handler on an authenticated group
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/presence", h.GetPresence)
	r.GET("/stats", h.GetStats)
	r.GET("/group-calls", h.ListGroupCalls)
	r.GET("/group-calls/:room_id", h.GetGroupCall)
	r.GET("/rooms/:room_id/messages", h.GetMessages)
	r.DELETE("/session", h.Logout)
}

// PresenceResponse lists online users
type PresenceResponse struct {
	OnlineUsers []uuid.UUID `json:"online_users"`
	Count       int         `json:"count"`
}

// GetPresence returns the users with at least one open connection
// GET /v1/presence
func (h *Handler) GetPresence(c *gin.Context) {
	online := h.registry.OnlineUsers()
	response.Success(c, http.StatusOK, PresenceResponse{
		OnlineUsers: online,
		Count:       len(online),
	})
}

// StatsResponse summarises the relay
type StatsResponse struct {
	Connections      map[registry.Channel]int `json:"connections"`
	OnlineUsers      int                      `json:"online_users"`
	ActiveGroupCalls int                      `json:"active_group_calls"`
}

// GetStats returns connection counts per channel and active group calls
// GET /v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	response.Success(c, http.StatusOK, StatsResponse{
		Connections:      h.registry.Stats(),
		OnlineUsers:      len(h.registry.OnlineUsers()),
		ActiveGroupCalls: h.groups.Count(),
	})
}

// ListGroupCalls returns the active group calls in rooms the caller belongs to
// GET /v1/group-calls
func (h *Handler) ListGroupCalls(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	calls := make([]groupcall.GroupCall, 0)
	for _, gc := range h.groups.Snapshot() {
		member, err := h.members.IsUserInRoom(c.Request.Context(), userID, gc.RoomID)
		if err != nil {
			logger.Warn("Membership lookup failed while listing group calls",
				zap.String("room_id", gc.RoomID.String()),
				zap.Error(err))
			continue
		}
		if member {
			calls = append(calls, gc)
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"group_calls": calls,
		"count":       len(calls),
	})
}

// GetGroupCall returns the active call of one room
// GET /v1/group-calls/:room_id
func (h *Handler) GetGroupCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	if err := h.requireMember(c.Request.Context(), userID, roomID); err != nil {
		response.FromError(c, err)
		return
	}

	gc, active := h.groups.Active(roomID)
	if !active {
		response.NotFound(c, "No active group call in this room")
		return
	}
	response.Success(c, http.StatusOK, gc)
}

// GetMessages returns recent messages of a room
// GET /v1/rooms/:room_id/messages?limit=50
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	limit, err := pagination.ParseLimit(c.Query("limit"), constants.MaxHistoryLimit, constants.MaxHistoryLimit)
	if err != nil {
		response.FromError(c, apperrors.ValidationError("Invalid limit"))
		return
	}
	messages, err := h.history.History(c.Request.Context(), userID, roomID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// LogoutResponse reports what a logout tore down
type LogoutResponse struct {
	Revoked           bool `json:"revoked"`
	ClosedConnections int  `json:"closed_connections"`
}

// Logout revokes the caller's token and closes their live connections
// DELETE /v1/session
func (h *Handler) Logout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if h.revoker == nil {
		response.FromError(c, apperrors.ServiceUnavailableError("Token revocation is not configured"))
		return
	}

	tokenID := c.GetString("token_id")
	if tokenID == "" {
		response.FromError(c, apperrors.InvalidTokenError("Token has no id"))
		return
	}
	ttl := time.Until(c.GetTime("token_expires_at"))
	if ttl <= 0 {
		ttl = time.Minute
	}

	if err := h.revoker.Revoke(c.Request.Context(), tokenID, ttl); err != nil {
		response.FromError(c, apperrors.OperationFailed("revoke token", err))
		return
	}

	closed := 0
	for _, conn := range h.registry.ConnectionsOf(userID) {
		if err := conn.Transport.Close(); err == nil {
			closed++
		}
	}

	logger.Info("User logged out",
		zap.String("user_id", userID.String()),
		zap.Int("closed_connections", closed))

	response.Success(c, http.StatusOK, LogoutResponse{Revoked: true, ClosedConnections: closed})
}

func (h *Handler) requireMember(ctx context.Context, userID, roomID uuid.UUID) error {
	member, err := h.members.IsUserInRoom(ctx, userID, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.NotFoundError("Room")
		}
		return apperrors.OperationFailed("verify room membership", err)
	}
	if !member {
		return apperrors.ForbiddenError("Not a member of this room")
	}
	return nil
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func roomParam(c *gin.Context) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("room_id"))
	if err != nil {
		response.FromError(c, apperrors.ValidationError("Invalid room ID"))
		return uuid.Nil, false
	}
	return roomID, true
}
