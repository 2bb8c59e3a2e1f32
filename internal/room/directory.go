// Package room tracks the local view of a relay room: the peer id the relay
// assigned to this client, the remote peers present, and the rooms last
// listed by the relay.
package room

import (
	"slices"
	"sync"
)

// AuthorityPeerID is the peer id of the room's authority. The relay assigns
// it to whoever created the room; every other member gets a larger id. The
// protocol does not enforce anything about the authority: it is a naming
// convention that peers use to decide who owns room state.
const AuthorityPeerID int32 = 1

// IsAuthority reports whether id denotes the room authority.
func IsAuthority(id int32) bool { return id == AuthorityPeerID }

// Summary describes a discoverable room.
type Summary struct {
	RoomID   string
	Metadata string
}

// Directory is safe for concurrent use. The zero value is an empty
// directory outside of any room.
type Directory struct {
	mu      sync.RWMutex
	roomID  string
	localID int32
	peers   map[int32]struct{}
	rooms   []Summary
}

// Assign records entry into a room as localID and forgets previous peers.
func (d *Directory) Assign(roomID string, localID int32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roomID = roomID
	d.localID = localID
	d.peers = make(map[int32]struct{})
}

// Add marks a remote peer present. It reports false if the peer was already
// present or if id is the local peer.
func (d *Directory) Add(id int32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id == d.localID && d.localID != 0 {
		return false
	}
	if d.peers == nil {
		d.peers = make(map[int32]struct{})
	}
	if _, ok := d.peers[id]; ok {
		return false
	}
	d.peers[id] = struct{}{}
	return true
}

// Remove marks a remote peer absent. It reports false if it was not present.
func (d *Directory) Remove(id int32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.peers[id]; !ok {
		return false
	}
	delete(d.peers, id)
	return true
}

// Has reports whether a remote peer is present.
func (d *Directory) Has(id int32) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.peers[id]
	return ok
}

// Peers returns the present remote peers in ascending order.
func (d *Directory) Peers() []int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]int32, 0, len(d.peers))
	for id := range d.peers {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of present remote peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// LocalID returns the peer id assigned to this client, or 0 outside a room.
func (d *Directory) LocalID() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localID
}

// RoomID returns the current room id, or "" outside a room.
func (d *Directory) RoomID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roomID
}

// IsAuthority reports whether this client is the room authority.
func (d *Directory) IsAuthority() bool {
	return IsAuthority(d.LocalID())
}

// SetRooms replaces the known room list.
func (d *Directory) SetRooms(rooms []Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms = slices.Clone(rooms)
}

// Rooms returns the room list from the most recent listing.
func (d *Directory) Rooms() []Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.rooms)
}

// LeaveRoom forgets the room and its peers but keeps the room list.
func (d *Directory) LeaveRoom() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roomID = ""
	d.localID = 0
	d.peers = nil
}

// Reset empties the directory.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roomID = ""
	d.localID = 0
	d.peers = nil
	d.rooms = nil
}
