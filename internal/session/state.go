package session

import "fmt"

// State is the lifecycle position of a Client.
type State uint8

const (
	// Disconnected is both the state before Connect and the terminal state
	// after the relay, a timeout, or the host ends the session.
	Disconnected State = iota
	Connecting
	Connected
	Authenticated
	AwaitingRoom
	InRoom
)

var stateNames = [...]string{
	Disconnected:  "disconnected",
	Connecting:    "connecting",
	Connected:     "connected",
	Authenticated: "authenticated",
	AwaitingRoom:  "awaiting room",
	InRoom:        "in room",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// authenticated reports whether the relay has accepted this client.
func (s State) authenticated() bool {
	return s == Authenticated || s == AwaitingRoom || s == InRoom
}
