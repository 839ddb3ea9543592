package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/protocol"
	"callrelay-backend/internal/registry"
	"callrelay-backend/internal/registry/registrytest"
	"callrelay-backend/internal/router"
	"callrelay-backend/pkg/metrics"
)

const period = 30 * time.Second

type MockStatusUpdater struct {
	mock.Mock
}

func (m *MockStatusUpdater) UpdateUserOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error {
	args := m.Called(ctx, userID, online)
	return args.Error(0)
}

type countingBroadcaster struct {
	mu    sync.Mutex
	calls int
}

func (b *countingBroadcaster) BroadcastPresence() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return 0
}

func (b *countingBroadcaster) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRegistry() (*registry.Registry, *clock) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg := registry.New()
	reg.SetClock(c.Now)
	return reg, c
}

func connect(reg *registry.Registry, userID uuid.UUID, ch registry.Channel) *registrytest.Transport {
	transport := registrytest.NewTransport()
	reg.Register(userID, ch, transport)
	return transport
}

func TestSweep_EvictsStaleOnly(t *testing.T) {
	reg, c := newRegistry()
	dir := new(MockStatusUpdater)
	presence := &countingBroadcaster{}
	monitor := NewMonitor(reg, dir, presence, period, metrics.NewMetrics("liveness-test"))

	stale, fresh := uuid.New(), uuid.New()
	staleConn := connect(reg, stale, registry.ChannelChat)
	freshConn := connect(reg, fresh, registry.ChannelVideo)

	c.Advance(50 * time.Second)
	reg.Touch(freshConn)
	c.Advance(11 * time.Second)

	dir.On("UpdateUserOnlineStatus", mock.Anything, stale, false).Return(nil).Once()

	result := monitor.Sweep(context.Background(), c.Now())

	assert.Equal(t, 1, result.Evicted)
	assert.Equal(t, []uuid.UUID{stale}, result.WentOffline)
	assert.True(t, staleConn.Closed())
	assert.False(t, freshConn.Closed())
	assert.False(t, reg.IsOnline(stale))
	assert.True(t, reg.IsOnline(fresh))
	assert.Equal(t, 1, presence.Calls())
	dir.AssertExpectations(t)
}

func TestSweep_ExactlyTwoPeriodsIsNotStale(t *testing.T) {
	reg, c := newRegistry()
	dir := new(MockStatusUpdater)
	presence := &countingBroadcaster{}
	monitor := NewMonitor(reg, dir, presence, period, nil)

	transport := connect(reg, uuid.New(), registry.ChannelChat)
	c.Advance(2 * period)

	result := monitor.Sweep(context.Background(), c.Now())

	assert.Zero(t, result.Evicted)
	assert.False(t, transport.Closed())
	assert.Zero(t, presence.Calls())
	dir.AssertNotCalled(t, "UpdateUserOnlineStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep_NoStatusChangeNoBroadcast(t *testing.T) {
	reg, c := newRegistry()
	dir := new(MockStatusUpdater)
	presence := &countingBroadcaster{}
	monitor := NewMonitor(reg, dir, presence, period, nil)

	userID := uuid.New()
	chat := connect(reg, userID, registry.ChannelChat)
	c.Advance(45 * time.Second)
	video := connect(reg, userID, registry.ChannelVideo)
	c.Advance(20 * time.Second)

	result := monitor.Sweep(context.Background(), c.Now())

	assert.Equal(t, 1, result.Evicted)
	assert.Empty(t, result.WentOffline)
	assert.True(t, chat.Closed())
	assert.False(t, video.Closed())
	assert.True(t, reg.IsOnline(userID))
	assert.Zero(t, presence.Calls())
	dir.AssertNotCalled(t, "UpdateUserOnlineStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep_SingleBroadcastForManyUsers(t *testing.T) {
	reg, c := newRegistry()
	dir := new(MockStatusUpdater)
	presence := &countingBroadcaster{}
	monitor := NewMonitor(reg, dir, presence, period, nil)

	for i := 0; i < 3; i++ {
		connect(reg, uuid.New(), registry.ChannelLegacy)
	}
	c.Advance(time.Hour)

	dir.On("UpdateUserOnlineStatus", mock.Anything, mock.Anything, false).Return(errors.New("connection refused"))

	result := monitor.Sweep(context.Background(), c.Now())

	assert.Equal(t, 3, result.Evicted)
	assert.Len(t, result.WentOffline, 3)
	assert.Equal(t, 1, presence.Calls())
	dir.AssertNumberOfCalls(t, "UpdateUserOnlineStatus", 3)
}

func TestSweep_RunsOfflineHooks(t *testing.T) {
	reg, c := newRegistry()
	dir := new(MockStatusUpdater)
	monitor := NewMonitor(reg, dir, &countingBroadcaster{}, period, nil)

	userID := uuid.New()
	var hooked []uuid.UUID
	reg.OnOffline(func(id uuid.UUID) { hooked = append(hooked, id) })
	connect(reg, userID, registry.ChannelVoice)
	c.Advance(3 * period)

	dir.On("UpdateUserOnlineStatus", mock.Anything, userID, false).Return(nil)

	monitor.Sweep(context.Background(), c.Now())

	assert.Equal(t, []uuid.UUID{userID}, hooked)
}

type presenceFrame struct {
	Data protocol.PresenceData `json:"data"`
}

func TestSweep_PresenceSnapshotThroughRouter(t *testing.T) {
	reg, c := newRegistry()
	dir := new(MockStatusUpdater)
	r := router.New(reg, nil, nil)
	monitor := NewMonitor(reg, dir, r, period, nil)

	gone, stays := uuid.New(), uuid.New()
	connect(reg, gone, registry.ChannelChat)
	c.Advance(45 * time.Second)
	staysConn := connect(reg, stays, registry.ChannelChat)
	c.Advance(20 * time.Second)

	dir.On("UpdateUserOnlineStatus", mock.Anything, gone, false).Return(nil)

	monitor.Sweep(context.Background(), c.Now())

	frames := staysConn.Decode(protocol.EventPresence, func() any { return new(presenceFrame) })
	require.Len(t, frames, 1)
	assert.Equal(t, []uuid.UUID{stays}, frames[0].(*presenceFrame).Data.OnlineUsers)
}

func TestStart_StopsWithContext(t *testing.T) {
	reg, _ := newRegistry()
	monitor := NewMonitor(reg, new(MockStatusUpdater), &countingBroadcaster{}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	assert.Equal(t, 20*time.Millisecond, monitor.StaleAfter())
}
