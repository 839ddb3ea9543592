package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/registry/registrytest"
)

func TestRegister_OnlineTransitions(t *testing.T) {
	reg := New()
	userID := uuid.New()
	chat, video := registrytest.NewTransport(), registrytest.NewTransport()

	_, cameOnline := reg.Register(userID, ChannelChat, chat)
	assert.True(t, cameOnline)
	assert.True(t, reg.IsOnline(userID))

	_, cameOnline = reg.Register(userID, ChannelVideo, video)
	assert.False(t, cameOnline)

	assert.False(t, reg.Unregister(chat))
	assert.True(t, reg.IsOnline(userID))

	assert.True(t, reg.Unregister(video))
	assert.False(t, reg.IsOnline(userID))
}

func TestRegister_DoesNotEvict(t *testing.T) {
	reg := New()
	userID := uuid.New()
	first, second := registrytest.NewTransport(), registrytest.NewTransport()

	reg.Register(userID, ChannelChat, first)
	reg.Register(userID, ChannelChat, second)

	assert.Len(t, reg.ConnectionsOf(userID), 2)
	assert.Equal(t, 2, reg.Stats()[ChannelChat])
}

func TestRegister_SameTransportTwice(t *testing.T) {
	reg := New()
	userID := uuid.New()
	transport := registrytest.NewTransport()

	first, _ := reg.Register(userID, ChannelChat, transport)
	second, cameOnline := reg.Register(userID, ChannelChat, transport)

	assert.Same(t, first, second)
	assert.False(t, cameOnline)
	assert.Len(t, reg.All(), 1)
}

func TestUnregister_Idempotent(t *testing.T) {
	reg := New()
	transport := registrytest.NewTransport()
	reg.Register(uuid.New(), ChannelVoice, transport)

	assert.True(t, reg.Unregister(transport))
	assert.False(t, reg.Unregister(transport))
	assert.Empty(t, reg.All())
}

func TestUnregister_RemovesOnlyMatching(t *testing.T) {
	reg := New()
	userID := uuid.New()
	keep, drop := registrytest.NewTransport(), registrytest.NewTransport()

	kept, _ := reg.Register(userID, ChannelChat, keep)
	reg.Register(userID, ChannelChat, drop)
	reg.Unregister(drop)

	conns := reg.ConnectionsOf(userID)
	require.Len(t, conns, 1)
	assert.Same(t, kept, conns[0])
}

func TestOfflineHook(t *testing.T) {
	reg := New()
	userID := uuid.New()
	var offline []uuid.UUID
	reg.OnOffline(func(id uuid.UUID) {
		// hooks run unlocked, so reading the registry here must not deadlock
		assert.False(t, reg.IsOnline(id))
		offline = append(offline, id)
	})

	a, b := registrytest.NewTransport(), registrytest.NewTransport()
	reg.Register(userID, ChannelChat, a)
	reg.Register(userID, ChannelLegacy, b)

	reg.Unregister(a)
	assert.Empty(t, offline)

	reg.Unregister(b)
	assert.Equal(t, []uuid.UUID{userID}, offline)
}

func TestFind(t *testing.T) {
	reg := New()
	userID := uuid.New()
	older, newer := registrytest.NewTransport(), registrytest.NewTransport()

	reg.Register(userID, ChannelVideo, older)
	newerConn, _ := reg.Register(userID, ChannelVideo, newer)
	newerConn.touch(time.Now().Add(time.Second))

	assert.Same(t, newerConn, reg.Find(userID, ChannelVideo))
	assert.Nil(t, reg.Find(userID, ChannelChat))
	assert.Nil(t, reg.Find(uuid.New(), ChannelVideo))

	newerConn.MarkClosing()
	found := reg.Find(userID, ChannelVideo)
	require.NotNil(t, found)
	assert.Same(t, older, found.Transport)
}

func TestTouch(t *testing.T) {
	reg := New()
	transport := registrytest.NewTransport()
	conn, _ := reg.Register(uuid.New(), ChannelChat, transport)
	before := conn.LastHeartbeat()

	time.Sleep(2 * time.Millisecond)
	assert.True(t, reg.Touch(transport))
	assert.True(t, conn.LastHeartbeat().After(before))

	assert.False(t, reg.Touch(registrytest.NewTransport()))
}

func TestConnectionSend_Closing(t *testing.T) {
	reg := New()
	transport := registrytest.NewTransport()
	conn, _ := reg.Register(uuid.New(), ChannelChat, transport)

	require.NoError(t, conn.Send([]byte(`{"type":"heartbeat-ack"}`)))
	assert.True(t, conn.MarkClosing())
	assert.False(t, conn.MarkClosing())
	assert.ErrorIs(t, conn.Send([]byte(`{}`)), ErrConnectionClosed)
	assert.Len(t, transport.Frames(), 1)
}

func TestOnlineUsersAndStats(t *testing.T) {
	reg := New()
	alice, bob := uuid.New(), uuid.New()

	reg.Register(alice, ChannelChat, registrytest.NewTransport())
	reg.Register(alice, ChannelVoice, registrytest.NewTransport())
	reg.Register(bob, ChannelLegacy, registrytest.NewTransport())

	assert.ElementsMatch(t, []uuid.UUID{alice, bob}, reg.OnlineUsers())
	assert.Equal(t, map[Channel]int{
		ChannelChat:   1,
		ChannelVoice:  1,
		ChannelVideo:  0,
		ChannelLegacy: 1,
	}, reg.Stats())
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	reg := New()
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			transport := registrytest.NewTransport()
			reg.Register(userID, Channels[i%len(Channels)], transport)
			reg.Touch(transport)
			reg.Unregister(transport)
		}(i)
	}
	wg.Wait()

	assert.False(t, reg.IsOnline(userID))
	assert.Empty(t, reg.All())
}

func TestChannelValid(t *testing.T) {
	assert.True(t, ChannelLegacy.Valid())
	assert.False(t, Channel("sms").Valid())
}
