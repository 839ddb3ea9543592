package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"callrelay-backend/internal/database"
)

const onlineSetKey = "presence:online"

// PresenceRepository mirrors the relay's online set into Redis so other
// services can read presence without talking to the relay
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetUserOnline adds the user to the online set
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeSAdd(ctx, onlineSetKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetUserOffline removes the user from the online set
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeSRem(ctx, onlineSetKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// Reset clears the online set. Connections do not survive a restart, so
// the relay calls this on boot.
func (r *PresenceRepository) Reset(ctx context.Context) error {
	if err := r.client.SafeDel(ctx, onlineSetKey).Err(); err != nil {
		return fmt.Errorf("failed to reset online set: %w", err)
	}
	return nil
}
