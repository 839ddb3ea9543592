// Package liveness evicts connections that stopped sending heartbeats.
package liveness

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/registry"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// StatusUpdater persists a user's online status
type StatusUpdater interface {
	UpdateUserOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error
}

// PresenceBroadcaster sends the online user snapshot to every connection
type PresenceBroadcaster interface {
	BroadcastPresence() int
}

// SweepResult summarises one sweep
type SweepResult struct {
	Evicted     int
	WentOffline []uuid.UUID
}

// Monitor periodically closes stale connections
type Monitor struct {
	registry  *registry.Registry
	directory StatusUpdater
	presence  PresenceBroadcaster
	metrics   *metrics.Metrics
	period    time.Duration
}

// NewMonitor creates a Monitor sweeping every period. m may be nil.
func NewMonitor(reg *registry.Registry, directory StatusUpdater, presence PresenceBroadcaster, period time.Duration, m *metrics.Metrics) *Monitor {
	if period <= 0 {
		period = constants.LivenessPeriod
	}
	return &Monitor{
		registry:  reg,
		directory: directory,
		presence:  presence,
		metrics:   m,
		period:    period,
	}
}

// StaleAfter is how long a connection may go without a heartbeat
func (m *Monitor) StaleAfter() time.Duration {
	return constants.StaleAfterPeriods * m.period
}

// Start sweeps every period until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Sweep(ctx, now)
			}
		}
	}()
}

// Sweep closes and unregisters every connection whose last heartbeat is
// older than StaleAfter at now. Users left without connections are marked
// offline and one presence snapshot is broadcast if any user changed.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) SweepResult {
	var result SweepResult
	staleAfter := m.StaleAfter()

	for _, conn := range m.registry.All() {
		if now.Sub(conn.LastHeartbeat()) <= staleAfter {
			continue
		}
		if !conn.MarkClosing() {
			continue
		}

		wentOffline := m.registry.Unregister(conn.Transport)
		if err := conn.Transport.Close(); err != nil {
			logger.Debug("Failed to close stale connection", zap.Error(err))
		}
		result.Evicted++

		logger.Info("Evicted stale connection",
			zap.String("user_id", conn.UserID.String()),
			zap.String("channel", string(conn.Channel)),
			zap.Time("last_heartbeat", conn.LastHeartbeat()))

		if wentOffline {
			result.WentOffline = append(result.WentOffline, conn.UserID)
		}
	}

	for _, userID := range result.WentOffline {
		m.markOffline(ctx, userID)
	}
	if len(result.WentOffline) > 0 {
		m.presence.BroadcastPresence()
	}

	if m.metrics != nil && result.Evicted > 0 {
		m.metrics.RecordLivenessEvictions(result.Evicted)
	}
	return result
}

func (m *Monitor) markOffline(ctx context.Context, userID uuid.UUID) {
	dirCtx, cancel := context.WithTimeout(ctx, constants.DirectoryTimeout)
	defer cancel()

	if err := m.directory.UpdateUserOnlineStatus(dirCtx, userID, false); err != nil {
		logger.Warn("Failed to update user status",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}
