package relay

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/1ureka/nodetunnel/internal/room"
)

// Room is a group of clients of the same app. The creator is the authority.
type Room struct {
	ID       string
	AppID    string
	Public   bool
	Metadata string

	members map[int32]*client
	nextID  int32
}

// RoomInfo is the public description of a room served by /rooms.
type RoomInfo struct {
	ID       string `json:"id"`
	AppID    string `json:"app_id"`
	Public   bool   `json:"public"`
	Metadata string `json:"metadata"`
	Peers    int    `json:"peers"`
}

// newRoomID returns an 8 character upper-case id.
func newRoomID() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

func newRoom(id, appID string, public bool, metadata string) *Room {
	return &Room{
		ID:       id,
		AppID:    appID,
		Public:   public,
		Metadata: metadata,
		members:  make(map[int32]*client),
		nextID:   room.AuthorityPeerID,
	}
}

// add assigns c the next peer id. The first member is the authority.
func (r *Room) add(c *client) int32 {
	id := r.nextID
	r.nextID++
	r.members[id] = c
	c.room = r
	c.peerID = id
	c.ready = false
	return id
}

// remove detaches c from the room.
func (r *Room) remove(c *client) {
	delete(r.members, c.peerID)
	c.room = nil
	c.peerID = 0
	c.ready = false
}

// readyPeers returns the ids of members that announced readiness, except
// the given one, in ascending order.
func (r *Room) readyPeers(except int32) []int32 {
	var ids []int32
	for id, m := range r.members {
		if id != except && m.ready {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// targets resolves a GameData target from peer from: a positive target is
// one member, 0 is every other member, and a negative target is every other
// member except -target.
func (r *Room) targets(from, target int32) []*client {
	if target > 0 {
		if m, ok := r.members[target]; ok && target != from {
			return []*client{m}
		}
		return nil
	}

	var out []*client
	for id, m := range r.members {
		if id == from || (target < 0 && id == -target) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		ID:       r.ID,
		AppID:    r.AppID,
		Public:   r.Public,
		Metadata: r.Metadata,
		Peers:    len(r.members),
	}
}
