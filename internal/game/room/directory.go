// Package room maintains the mapping between rooms and their member
// connections. A room holds at most two members; the matchmaking policy
// of who joins where belongs to the engine.
package room

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MaxMembers is the room capacity. Pairwise play is the current design;
// the directory itself does not care beyond this constant.
const MaxMembers = 2

// ErrRoomNotFound is returned when joining a room that does not exist.
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomFull is returned when joining a room already at capacity.
var ErrRoomFull = errors.New("room full")

// Directory tracks rooms and their ordered member lists.
// All methods are safe for concurrent use.
type Directory struct {
	mu       sync.RWMutex
	rooms    map[string][]string // roomID → ordered members
	byMember map[string]string   // connID → roomID
	order    []string            // room creation order for FindOpenRoom
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		rooms:    make(map[string][]string),
		byMember: make(map[string]string),
	}
}

// Create makes a new room containing only firstMember and returns its id.
//
// Precondition: firstMember must be non-empty and not already in any room.
// Postcondition: The room exists with exactly one member.
func (d *Directory) Create(firstMember string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	d.rooms[id] = []string{firstMember}
	d.byMember[firstMember] = id
	d.order = append(d.order, id)
	return id
}

// FindOpenRoom returns the first room with exactly one member, in room
// creation order.
//
// Postcondition: Returns (roomID, true) for a room below capacity with a
// member waiting, or ("", false) when every room is full or none exist.
func (d *Directory) FindOpenRoom() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.order {
		if len(d.rooms[id]) == 1 {
			return id, true
		}
	}
	return "", false
}

// Join adds member to the room with the given id.
//
// Postcondition: Returns nil and the member is appended, or ErrRoomNotFound,
// ErrRoomFull, or an error if the member is already in a room. On error the
// directory is unchanged.
func (d *Directory) Join(roomID, member string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, exists := d.rooms[roomID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	if len(members) >= MaxMembers {
		return fmt.Errorf("%w: %q", ErrRoomFull, roomID)
	}
	if existing, ok := d.byMember[member]; ok {
		return fmt.Errorf("connection %q already in room %q", member, existing)
	}

	d.rooms[roomID] = append(members, member)
	d.byMember[member] = roomID
	return nil
}

// Leave removes connID from whatever room holds it. A room that empties
// is destroyed.
//
// Postcondition: Returns (roomID, true) for the affected room, or
// ("", false) if the connection was in no room.
func (d *Directory) Leave(connID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	roomID, ok := d.byMember[connID]
	if !ok {
		return "", false
	}
	delete(d.byMember, connID)

	members := d.rooms[roomID]
	for i, m := range members {
		if m == connID {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}

	if len(members) == 0 {
		delete(d.rooms, roomID)
		for i, id := range d.order {
			if id == roomID {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	} else {
		d.rooms[roomID] = members
	}
	return roomID, true
}

// MembersOf returns an ordered snapshot of the room's members.
//
// Postcondition: Returns a copy (may be empty for unknown rooms).
func (d *Directory) MembersOf(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// RoomOf returns the room currently holding connID.
//
// Postcondition: Returns (roomID, true) if the connection is in a room,
// or ("", false) otherwise.
func (d *Directory) RoomOf(connID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	roomID, ok := d.byMember[connID]
	return roomID, ok
}

// Count returns the number of live rooms.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
