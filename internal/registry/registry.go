// Package registry tracks which users are reachable on which channel.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OfflineHook is called after a user's last connection is unregistered
type OfflineHook func(userID uuid.UUID)

// Registry maps users to their live connections, per channel
type Registry struct {
	mu          sync.RWMutex
	channels    map[Channel]map[uuid.UUID][]*Connection
	byTransport map[Transport]*Connection
	perUser     map[uuid.UUID]int

	hooksMu      sync.RWMutex
	offlineHooks []OfflineHook

	now func() time.Time
}

// New creates an empty Registry
func New() *Registry {
	channels := make(map[Channel]map[uuid.UUID][]*Connection, len(Channels))
	for _, ch := range Channels {
		channels[ch] = make(map[uuid.UUID][]*Connection)
	}
	return &Registry{
		channels:    channels,
		byTransport: make(map[Transport]*Connection),
		perUser:     make(map[uuid.UUID]int),
		now:         time.Now,
	}
}

// SetClock replaces the time source used for heartbeats
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// OnOffline adds a hook run whenever a user goes from online to offline
func (r *Registry) OnOffline(hook OfflineHook) {
	r.hooksMu.Lock()
	r.offlineHooks = append(r.offlineHooks, hook)
	r.hooksMu.Unlock()
}

// Register adds a connection for userID on channel. Existing connections are kept.
// cameOnline is true when this is the user's first connection.
func (r *Registry) Register(userID uuid.UUID, channel Channel, transport Transport) (conn *Connection, cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byTransport[transport]; ok {
		return existing, false
	}

	conn = newConnection(userID, channel, transport, r.now())
	r.channels[channel][userID] = append(r.channels[channel][userID], conn)
	r.byTransport[transport] = conn
	r.perUser[userID]++

	return conn, r.perUser[userID] == 1
}

// Unregister removes the connection backed by transport. It is a no-op when
// the transport is not registered. wentOffline is true when the user has no
// connections left; offline hooks have run by the time it returns.
func (r *Registry) Unregister(transport Transport) (wentOffline bool) {
	r.mu.Lock()
	conn, ok := r.byTransport[transport]
	if !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.byTransport, transport)
	users := r.channels[conn.Channel]
	conns := users[conn.UserID]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(users, conn.UserID)
	} else {
		users[conn.UserID] = conns
	}

	r.perUser[conn.UserID]--
	if r.perUser[conn.UserID] <= 0 {
		delete(r.perUser, conn.UserID)
		wentOffline = true
	}
	r.mu.Unlock()

	if wentOffline {
		r.hooksMu.RLock()
		hooks := append([]OfflineHook(nil), r.offlineHooks...)
		r.hooksMu.RUnlock()
		for _, hook := range hooks {
			hook(conn.UserID)
		}
	}
	return wentOffline
}

// Touch records a heartbeat on the connection backed by transport
func (r *Registry) Touch(transport Transport) bool {
	r.mu.RLock()
	conn, ok := r.byTransport[transport]
	now := r.now
	r.mu.RUnlock()

	if !ok {
		return false
	}
	conn.touch(now())
	return true
}

// Lookup returns the connection backed by transport
func (r *Registry) Lookup(transport Transport) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byTransport[transport]
	return conn, ok
}

// Find returns the user's open connection on channel with the most recent heartbeat
func (r *Registry) Find(userID uuid.UUID, channel Channel) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Connection
	for _, conn := range r.channels[channel][userID] {
		if !conn.IsOpen() {
			continue
		}
		if best == nil || conn.lastHeartbeat.Load() > best.lastHeartbeat.Load() {
			best = conn
		}
	}
	return best
}

// IsOnline reports whether the user has at least one registered connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perUser[userID] > 0
}

// ConnectionsOf returns every connection of the user across all channels
func (r *Registry) ConnectionsOf(userID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, ch := range Channels {
		conns = append(conns, r.channels[ch][userID]...)
	}
	return conns
}

// All returns a snapshot of every registered connection
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byTransport))
	for _, ch := range Channels {
		for _, userConns := range r.channels[ch] {
			conns = append(conns, userConns...)
		}
	}
	return conns
}

// OnlineUsers returns the ids of every online user, sorted
func (r *Registry) OnlineUsers() []uuid.UUID {
	r.mu.RLock()
	users := make([]uuid.UUID, 0, len(r.perUser))
	for userID := range r.perUser {
		users = append(users, userID)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		return users[i].String() < users[j].String()
	})
	return users
}

// Stats returns the number of connections per channel
func (r *Registry) Stats() map[Channel]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[Channel]int, len(Channels))
	for _, ch := range Channels {
		n := 0
		for _, userConns := range r.channels[ch] {
			n += len(userConns)
		}
		stats[ch] = n
	}
	return stats
}
