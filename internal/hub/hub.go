package hub

import (
	"context"
	"sort"
	"sync"

	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// Hub is the instance-local registry of live connections, indexed by
// connection, by user and by room.
type Hub struct {
	clients map[string]*Client            // connID -> client
	users   map[string]map[string]*Client // userID -> connID -> client
	rooms   map[string]map[string]*Client // room -> connID -> client
	evict   chan *Client
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[string]map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		evict:   make(chan *Client, 256),
	}
}

// Run evicts connections whose send buffer overflowed until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.evict:
			l := log.L()
			l.Warn().Str(log.FieldConnID, c.ID).Str(log.FieldUserID, c.UserID()).Msg("evicting slow client")
			h.Unregister(c)
		}
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
	conns, ok := h.users[c.UserID()]
	if !ok {
		conns = make(map[string]*Client)
		h.users[c.UserID()] = conns
	}
	conns[c.ID] = c

	l := log.L()
	l.Debug().Str(log.FieldConnID, c.ID).Str(log.FieldUserID, c.UserID()).Msg("client registered")
}

// Unregister detaches a connection from every room and closes its send
// channel. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	if conns, ok := h.users[c.UserID()]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.users, c.UserID())
		}
	}
	for _, room := range c.Rooms() {
		h.removeFromRoomLocked(c, room)
	}
	h.mu.Unlock()

	c.close()

	l := log.L()
	l.Debug().Str(log.FieldConnID, c.ID).Str(log.FieldUserID, c.UserID()).Msg("client unregistered")
}

// Join attaches a registered connection to room. It returns false when the
// connection was already attached or is no longer registered.
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joinLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) bool {
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	if !c.addRoom(room) {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	return true
}

// Leave detaches a connection from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(c, room)
}

func (h *Hub) removeFromRoomLocked(c *Client, room string) {
	c.removeRoom(room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// JoinUser attaches every local connection of userID to room and returns
// how many connections were newly attached.
func (h *Hub) JoinUser(userID, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.users[userID] {
		if h.joinLocked(c, room) {
			n++
		}
	}
	return n
}

// LeaveUser detaches every local connection of userID from room.
func (h *Hub) LeaveUser(userID, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.users[userID] {
		if c.InRoom(room) {
			h.removeFromRoomLocked(c, room)
			n++
		}
	}
	return n
}

// Deliver queues data for every connection in room except exceptConn and
// returns the number of connections reached.
func (h *Hub) Deliver(room string, data []byte, exceptConn string) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != exceptConn {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.enqueue(data) {
			n++
			continue
		}
		select {
		case h.evict <- c:
		default:
		}
	}
	return n
}

// ConnectedUserIDs returns the users with at least one local connection.
func (h *Hub) ConnectedUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.users))
	for id := range h.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UserConnectionCount returns the number of local connections of userID.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// RoomSize returns the number of local connections attached to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
