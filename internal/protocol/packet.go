// Package protocol defines the relay message set and the datagram frame
// layout shared by clients and the relay.
package protocol

import "fmt"

// Tag identifies a message variant. Values are stable on the wire.
type Tag uint8

const (
	TagAuthenticate        Tag = 0
	TagCreateRoom          Tag = 1
	TagJoinRoom            Tag = 2
	TagUpdateRoom          Tag = 3
	TagListRooms           Tag = 4
	TagRoomsInfo           Tag = 5
	TagClientAuthenticated Tag = 6
	TagConnectedToRoom     Tag = 7
	TagPeerJoinedRoom      Tag = 8
	TagPeerLeftRoom        Tag = 9
	TagPeerReady           Tag = 10
	TagGameData            Tag = 11
	TagForceDisconnect     Tag = 12
	TagError               Tag = 13
)

var tagNames = [...]string{
	TagAuthenticate:        "Authenticate",
	TagCreateRoom:          "CreateRoom",
	TagJoinRoom:            "JoinRoom",
	TagUpdateRoom:          "UpdateRoom",
	TagListRooms:           "ListRooms",
	TagRoomsInfo:           "RoomsInfo",
	TagClientAuthenticated: "ClientAuthenticated",
	TagConnectedToRoom:     "ConnectedToRoom",
	TagPeerJoinedRoom:      "PeerJoinedRoom",
	TagPeerLeftRoom:        "PeerLeftRoom",
	TagPeerReady:           "PeerReady",
	TagGameData:            "GameData",
	TagForceDisconnect:     "ForceDisconnect",
	TagError:               "Error",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Error codes carried by Error messages from the relay.
const (
	CodeNotAuthenticated int32 = 1
	CodeVersionMismatch  int32 = 2
	CodeRoomNotFound     int32 = 3
	CodeRoomFull         int32 = 4
	CodeNotAuthority     int32 = 5
	CodeAlreadyInRoom    int32 = 6
	CodeBadRequest       int32 = 7
)

// Message is one variant of the relay message union.
type Message interface {
	Tag() Tag
	encode(w *writer)
}

// RoomSummary describes a discoverable room.
type RoomSummary struct {
	RoomID   string
	Metadata string
}

// Authenticate is the client's application handshake. ProtocolVersion may be
// empty when the client does not advertise one.
type Authenticate struct {
	AppID           string
	ProtocolVersion string
}

type CreateRoom struct {
	Public   bool
	Metadata string
}

type JoinRoom struct {
	RoomID string
}

type UpdateRoom struct {
	RoomID   string
	Metadata string
}

type ListRooms struct{}

type RoomsInfo struct {
	Rooms []RoomSummary
}

type ClientAuthenticated struct{}

// ConnectedToRoom assigns the local peer id and lists members already present.
type ConnectedToRoom struct {
	RoomID        string
	PeerID        int32
	ExistingPeers []int32
}

type PeerJoinedRoom struct {
	PeerID int32
}

type PeerLeftRoom struct {
	PeerID int32
}

// PeerReady tells the relay the client has applied ConnectedToRoom and may be
// announced to the rest of the room.
type PeerReady struct{}

// GameData carries an application payload. PeerID is the target when sent by
// a client and the source when delivered by the relay.
type GameData struct {
	PeerID  int32
	Payload []byte
}

// ForceDisconnect ends the session. Sent by a client it means "leaving".
type ForceDisconnect struct{}

type Error struct {
	Code    int32
	Message string
}

func (Authenticate) Tag() Tag        { return TagAuthenticate }
func (CreateRoom) Tag() Tag          { return TagCreateRoom }
func (JoinRoom) Tag() Tag            { return TagJoinRoom }
func (UpdateRoom) Tag() Tag          { return TagUpdateRoom }
func (ListRooms) Tag() Tag           { return TagListRooms }
func (RoomsInfo) Tag() Tag           { return TagRoomsInfo }
func (ClientAuthenticated) Tag() Tag { return TagClientAuthenticated }
func (ConnectedToRoom) Tag() Tag     { return TagConnectedToRoom }
func (PeerJoinedRoom) Tag() Tag      { return TagPeerJoinedRoom }
func (PeerLeftRoom) Tag() Tag        { return TagPeerLeftRoom }
func (PeerReady) Tag() Tag           { return TagPeerReady }
func (GameData) Tag() Tag            { return TagGameData }
func (ForceDisconnect) Tag() Tag     { return TagForceDisconnect }
func (Error) Tag() Tag               { return TagError }

func (m Authenticate) encode(w *writer) {
	w.str(m.AppID)
	w.str(m.ProtocolVersion)
}

func (m CreateRoom) encode(w *writer) {
	w.boolean(m.Public)
	w.str(m.Metadata)
}

func (m JoinRoom) encode(w *writer) { w.str(m.RoomID) }

func (m UpdateRoom) encode(w *writer) {
	w.str(m.RoomID)
	w.str(m.Metadata)
}

func (ListRooms) encode(*writer) {}

func (m RoomsInfo) encode(w *writer) {
	w.i32(int32(len(m.Rooms)))
	for _, r := range m.Rooms {
		w.str(r.RoomID)
		w.str(r.Metadata)
	}
}

func (ClientAuthenticated) encode(*writer) {}

func (m ConnectedToRoom) encode(w *writer) {
	w.str(m.RoomID)
	w.i32(m.PeerID)
	w.i32(int32(len(m.ExistingPeers)))
	for _, id := range m.ExistingPeers {
		w.i32(id)
	}
}

func (m PeerJoinedRoom) encode(w *writer) { w.i32(m.PeerID) }

func (m PeerLeftRoom) encode(w *writer) { w.i32(m.PeerID) }

func (PeerReady) encode(*writer) {}

func (m GameData) encode(w *writer) {
	w.i32(m.PeerID)
	w.bytes(m.Payload)
}

func (ForceDisconnect) encode(*writer) {}

func (m Error) encode(w *writer) {
	w.i32(m.Code)
	w.str(m.Message)
}
