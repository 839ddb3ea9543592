package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callrelay-backend/internal/domain"
)

// CallRepository handles call data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create creates a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, caller_id, receiver_id, room_id, kind, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.CallerID,
		call.ReceiverID,
		call.RoomID,
		string(call.Kind),
		string(call.Status),
		call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// UpdateStatus moves a call to status; endedAt and duration are only written when non-nil
func (r *CallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error {
	query := `
		UPDATE calls
		SET status = $2,
		    ended_at = COALESCE($3, ended_at),
		    duration = COALESCE($4, duration)
		WHERE call_id = $1
	`

	cmdTag, err := r.pool.Exec(ctx, query, callID, string(status), endedAt, duration)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("call: %w", domain.ErrNotFound)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, caller_id, receiver_id, room_id, kind, status,
		       started_at, ended_at, duration
		FROM calls
		WHERE call_id = $1
	`

	var kind, status string
	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&call.RoomID,
		&kind,
		&status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("call: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	call.Kind = domain.CallKind(kind)
	call.Status = domain.CallStatus(status)

	return call, nil
}
