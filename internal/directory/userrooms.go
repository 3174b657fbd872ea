package directory

import "sync"

// UserRooms is the user-id -> room-id membership index named separately in
// spec §5's lock-ordering rules. It is kept distinct from Rooms itself so
// that "which room is this user in" can be answered (and locked) without
// touching the heavier Rooms map.
type UserRooms struct {
	mu   sync.RWMutex
	byID map[string]string
}

// NewUserRooms creates an empty membership index.
func NewUserRooms() *UserRooms {
	return &UserRooms{byID: make(map[string]string)}
}

// Set records that userID currently occupies roomID.
func (u *UserRooms) Set(userID, roomID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.byID[userID] = roomID
}

// Clear removes userID's room membership, if any.
func (u *UserRooms) Clear(userID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.byID, userID)
}

// Get returns the room userID currently occupies, if any.
func (u *UserRooms) Get(userID string) (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	roomID, ok := u.byID[userID]
	return roomID, ok
}
