package registry

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Channel is the logical endpoint a connection authenticated on
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelVoice  Channel = "voice"
	ChannelVideo  Channel = "video"
	ChannelLegacy Channel = "legacy"
)

// Channels lists every channel type
var Channels = []Channel{ChannelChat, ChannelVoice, ChannelVideo, ChannelLegacy}

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelChat, ChannelVoice, ChannelVideo, ChannelLegacy:
		return true
	}
	return false
}

// ErrConnectionClosed is returned when writing to a connection that is closing
var ErrConnectionClosed = errors.New("connection closed")

// Transport is the physical duplex stream behind a Connection.
// Send must not block; a full queue is reported as an error.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Connection is one registered duplex channel instance owned by the Registry
type Connection struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Channel     Channel
	Transport   Transport
	ConnectedAt time.Time

	lastHeartbeat atomic.Int64
	closing       atomic.Bool
}

func newConnection(userID uuid.UUID, channel Channel, transport Transport, now time.Time) *Connection {
	conn := &Connection{
		ID:          uuid.New(),
		UserID:      userID,
		Channel:     channel,
		Transport:   transport,
		ConnectedAt: now,
	}
	conn.lastHeartbeat.Store(now.UnixNano())
	return conn
}

// LastHeartbeat returns the time of the most recent heartbeat
func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// IsOpen reports whether the connection has not started closing
func (c *Connection) IsOpen() bool {
	return !c.closing.Load()
}

// MarkClosing moves the connection to the closing state. Returns false if it already was.
func (c *Connection) MarkClosing() bool {
	return c.closing.CompareAndSwap(false, true)
}

// Send writes data to the transport unless the connection is closing
func (c *Connection) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}
	return c.Transport.Send(data)
}

func (c *Connection) touch(now time.Time) {
	c.lastHeartbeat.Store(now.UnixNano())
}
