package protocol

// Encode serializes a message as its tag byte followed by its fields.
func Encode(m Message) []byte {
	w := &writer{buf: make([]byte, 0, 16)}
	w.u8(byte(m.Tag()))
	m.encode(w)
	return w.buf
}

// Decode parses a single message. It never panics on malformed input; every
// failure is a *ParseError.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &ParseError{Kind: ErrTruncated, Field: "tag", Need: 1}
	}
	tag := Tag(data[0])
	r := &reader{tag: data[0], data: data[1:]}

	var m Message
	switch tag {
	case TagAuthenticate:
		m = Authenticate{AppID: r.str("app_id"), ProtocolVersion: r.str("protocol_version")}
	case TagCreateRoom:
		m = CreateRoom{Public: r.boolean("public"), Metadata: r.str("metadata")}
	case TagJoinRoom:
		m = JoinRoom{RoomID: r.str("room_id")}
	case TagUpdateRoom:
		m = UpdateRoom{RoomID: r.str("room_id"), Metadata: r.str("metadata")}
	case TagListRooms:
		m = ListRooms{}
	case TagRoomsInfo:
		m = decodeRoomsInfo(r)
	case TagClientAuthenticated:
		m = ClientAuthenticated{}
	case TagConnectedToRoom:
		m = decodeConnectedToRoom(r)
	case TagPeerJoinedRoom:
		m = PeerJoinedRoom{PeerID: r.i32("peer_id")}
	case TagPeerLeftRoom:
		m = PeerLeftRoom{PeerID: r.i32("peer_id")}
	case TagPeerReady:
		m = PeerReady{}
	case TagGameData:
		m = GameData{PeerID: r.i32("peer_id"), Payload: r.bytes("payload")}
	case TagForceDisconnect:
		m = ForceDisconnect{}
	case TagError:
		m = Error{Code: r.i32("code"), Message: r.str("message")}
	default:
		return nil, &ParseError{Kind: ErrUnknownTag, Tag: data[0], Field: "tag"}
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeRoomsInfo(r *reader) RoomsInfo {
	// Each summary is at least two empty strings.
	n := r.count("rooms", 8)
	if n == 0 {
		return RoomsInfo{}
	}
	rooms := make([]RoomSummary, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		rooms = append(rooms, RoomSummary{RoomID: r.str("rooms.room_id"), Metadata: r.str("rooms.metadata")})
	}
	return RoomsInfo{Rooms: rooms}
}

func decodeConnectedToRoom(r *reader) ConnectedToRoom {
	m := ConnectedToRoom{RoomID: r.str("room_id"), PeerID: r.i32("assigned_peer_id")}
	n := r.count("existing_peer_ids", 4)
	if n == 0 {
		return m
	}
	m.ExistingPeers = make([]int32, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		m.ExistingPeers = append(m.ExistingPeers, r.i32("existing_peer_ids"))
	}
	return m
}
