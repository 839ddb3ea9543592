package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callrelay-backend/internal/registry"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/logger"
)

// ErrBackpressure is returned by Send when the connection's send buffer is full
var ErrBackpressure = errors.New("send buffer full")

// socketTransport adapts a websocket connection to registry.Transport.
// Frames are queued and written by writePump, so Send never blocks on the
// network. The send channel is never closed; done signals shutdown.
type socketTransport struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSocketTransport(conn *websocket.Conn, buffer int) *socketTransport {
	if buffer <= 0 {
		buffer = constants.DefaultSendBuffer
	}
	return &socketTransport{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Send queues one text frame
func (t *socketTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return registry.ErrConnectionClosed
	default:
	}

	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return registry.ErrConnectionClosed
	default:
		return ErrBackpressure
	}
}

// Close stops the write pump, which closes the socket
func (t *socketTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}

// writePump writes queued frames and pings until Close is called or a
// write fails
func (t *socketTransport) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		t.Close()
		t.conn.Close()
	}()

	for {
		select {
		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			t.drain()
			t.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes frames queued before Close, such as a final error event
func (t *socketTransport) drain() {
	for {
		select {
		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
