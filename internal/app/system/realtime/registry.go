// internal/app/system/realtime/registry.go
package realtime

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Registry maps a ride to the connections currently subscribed to its chat.
// A room exists only while it has members.
//
// Mutations take the write lock; Each holds the read lock for the whole
// iteration, so a connection removed by Remove never sees a delivery that
// started after Remove returned.
type Registry struct {
	mu    sync.RWMutex
	rooms map[primitive.ObjectID]map[*Conn]struct{}
}

// RegistryStats is a point-in-time count of rooms and joined connections.
type RegistryStats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[primitive.ObjectID]map[*Conn]struct{})}
}

// Add subscribes c to rideID, creating the room if needed. Adding a
// connection that is already a member has no effect. It reports whether a
// new room was created.
func (r *Registry) Add(rideID primitive.ObjectID, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[rideID]
	if !ok {
		room = make(map[*Conn]struct{})
		r.rooms[rideID] = room
	}
	room[c] = struct{}{}
	return !ok
}

// Remove unsubscribes c from rideID and deletes the room once it is empty.
// Unknown rooms and connections are ignored. It reports whether the room
// was deleted.
func (r *Registry) Remove(rideID primitive.ObjectID, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[rideID]
	if !ok {
		return false
	}
	if _, member := room[c]; !member {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, rideID)
		return true
	}
	return false
}

// RemoveAll deletes the room for rideID and returns its former members.
func (r *Registry) RemoveAll(rideID primitive.ObjectID) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[rideID]
	delete(r.rooms, rideID)

	out := make([]*Conn, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}

// Members returns a snapshot of the room's connections. The slice is never
// shared with the registry.
func (r *Registry) Members(rideID primitive.ObjectID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[rideID]
	out := make([]*Conn, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}

// Contains reports whether c is subscribed to rideID.
func (r *Registry) Contains(rideID primitive.ObjectID, c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[rideID][c]
	return ok
}

// HasRoom reports whether a room exists for rideID.
func (r *Registry) HasRoom(rideID primitive.ObjectID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[rideID]
	return ok
}

// Each calls fn for every member of the room while holding the read lock.
// fn must not call back into the registry.
func (r *Registry) Each(rideID primitive.ObjectID, fn func(*Conn)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.rooms[rideID] {
		fn(c)
	}
}

// Stats returns room and connection counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := RegistryStats{Rooms: len(r.rooms)}
	for _, room := range r.rooms {
		s.Connections += len(room)
	}
	return s
}
