package collab

import (
	"errors"
	"sync"
)

// ErrReservedRoom indicates an attempt to join the broadcast-all room as a
// mutation room.
var ErrReservedRoom = errors.New("collab: room key is reserved")

// Registry tracks which room each live connection collaborates in. A
// connection belongs to at most one mutation room; joining a new room
// replaces membership in the old one. Every registered connection is an
// implicit member of the broadcast-all room.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// Add registers a connection for broadcast-all delivery. Mutation-room
// membership starts empty until the first join.
func (r *Registry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client] = struct{}{}
}

// Join places the connection in the given mutation room, leaving its previous
// room implicitly. The room springs into existence on first join.
func (r *Registry) Join(client *Client, roomKey string) error {
	if roomKey == BroadcastRoomAll {
		return ErrReservedRoom
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(client)

	members, ok := r.rooms[roomKey]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[roomKey] = members
	}
	members[client] = struct{}{}
	client.setRoom(roomKey)
	return nil
}

// Remove drops the connection from its room and from broadcast-all delivery.
// Called on transport close; emits nothing to peers.
func (r *Registry) Remove(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(client)
	delete(r.clients, client)
}

func (r *Registry) leaveLocked(client *Client) {
	roomKey := client.Room()
	if roomKey == "" {
		return
	}
	if members, ok := r.rooms[roomKey]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(r.rooms, roomKey)
		}
	}
	client.setRoom("")
}

// Peers snapshots the members of a room, excluding the given connection.
func (r *Registry) Peers(roomKey string, exclude *Client) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomKey]
	peers := make([]*Client, 0, len(members))
	for member := range members {
		if member == exclude {
			continue
		}
		peers = append(peers, member)
	}
	return peers
}

// All snapshots every live connection, excluding the given one. This is the
// broadcast-all room.
func (r *Registry) All(exclude *Client) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		if client == exclude {
			continue
		}
		clients = append(clients, client)
	}
	return clients
}

// RoomSize reports the current member count of a room.
func (r *Registry) RoomSize(roomKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomKey])
}
