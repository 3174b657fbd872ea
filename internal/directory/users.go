// Package directory implements the two process-wide, in-memory registries
// described in spec §3/§4.5: the User table and the Room Directory, plus
// the UserRooms membership index that ties the two together. All three are
// guarded by their own sync.RWMutex per the lock-ordering rules in spec §5
// (Rooms -> UserRooms -> Users -> Router.publishers -> Router.consumers).
package directory

import "sync"

// Sink is the outbound message sink owned by a session. Users and Rooms
// only ever hold a Sink, never a concrete session type, so this package has
// no dependency on the signaling wire format.
type Sink interface {
	Send(record interface{})
}

// User is a registered participant: an opaque user-id, its display name,
// and the sink used to deliver room-scoped fan-out notifications to it.
type User struct {
	ID   string
	Name string
	Sink Sink
}

// Users is the process-wide user-id -> User table.
type Users struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUsers creates an empty User table.
func NewUsers() *Users {
	return &Users{users: make(map[string]*User)}
}

// Add registers a user, overwriting any existing entry for the same id.
// Re-registration under the same id never happens in practice (ids are
// server-assigned), but overwrite semantics are preferred over leaking the
// old entry (spec §4.2 tie-break note, generalized to the User table).
func (u *Users) Add(id, name string, sink Sink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[id] = &User{ID: id, Name: name, Sink: sink}
}

// Remove deletes a user. Safe if absent.
func (u *Users) Remove(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.users, id)
}

// Get returns the user for id, if present.
func (u *Users) Get(id string) (*User, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	return user, ok
}

// Count returns the number of registered users.
func (u *Users) Count() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.users)
}
