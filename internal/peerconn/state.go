package peerconn

// State of a peer connection.
type State int

// States of a connection.
const (
	Connecting State = iota
	Handshaking
	Exchanging
	Closing
	Closed
)

var stateStrings = [...]string{"connecting", "handshaking", "exchanging", "closing", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateStrings) {
		return "unknown"
	}
	return stateStrings[s]
}
