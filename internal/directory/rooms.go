package directory

import (
	"fmt"
	"sync"

	"github.com/aura-sfu/core/internal/metrics"
)

// Member is a (user-id, display-name) pair as it appears in room membership
// snapshots sent to clients.
type Member struct {
	ID   string
	Name string
}

// room holds ordered membership: members is insertion order, names backs
// O(1) presence/name lookup without disturbing that order.
type room struct {
	id      string
	members []string
	names   map[string]string
}

// Rooms is the Room Directory: room-id -> ordered membership. Rooms are
// created on demand and destroyed the instant they become empty (spec
// §4.5).
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewRooms creates an empty Room Directory.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*room)}
}

// Create makes a new room roomID whose sole member is (selfID, selfName)
// and returns the one-element membership snapshot.
func (r *Rooms) Create(roomID, selfID, selfName string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := &room{
		id:      roomID,
		members: []string{selfID},
		names:   map[string]string{selfID: selfName},
	}
	r.rooms[roomID] = rm
	metrics.SetRooms(len(r.rooms))
	return []Member{{ID: selfID, Name: selfName}}
}

// Join adds (selfID, selfName) to roomID. It returns the full post-mutation
// membership (including self, for the joiner's RoomJoined reply) and the
// pre-mutation membership (the members who must each receive
// UserJoined(self)). The two lists are computed under one lock acquisition
// so they are mutually consistent (spec §4.5 atomicity requirement).
func (r *Rooms) Join(roomID, selfID, selfName string) (all []Member, existing []Member, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, nil, fmt.Errorf("room not found: %s", roomID)
	}
	existing = snapshot(rm)
	rm.members = append(rm.members, selfID)
	rm.names[selfID] = selfName
	all = snapshot(rm)
	return all, existing, nil
}

// Leave removes selfID from roomID. It returns the members who remain
// immediately after removal (who must each receive UserLeft(self)) and
// whether the room was destroyed as a result (it had no other members).
func (r *Rooms) Leave(roomID, selfID string) (remaining []Member, destroyed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	out := rm.members[:0:0]
	for _, id := range rm.members {
		if id != selfID {
			out = append(out, id)
		}
	}
	rm.members = out
	delete(rm.names, selfID)
	remaining = snapshot(rm)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		destroyed = true
	}
	metrics.SetRooms(len(r.rooms))
	return remaining, destroyed
}

// Exists reports whether roomID is present in the directory.
func (r *Rooms) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Members returns the current membership snapshot of roomID, if it exists.
func (r *Rooms) Members(roomID string) ([]Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	return snapshot(rm), true
}

// Count returns the number of live rooms.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func snapshot(rm *room) []Member {
	out := make([]Member, len(rm.members))
	for i, id := range rm.members {
		out[i] = Member{ID: id, Name: rm.names[id]}
	}
	return out
}
