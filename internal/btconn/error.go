package btconn

var (
	errInvalidProtocol = &Error{"invalid protocol"}
	errInvalidInfoHash = &Error{"invalid info hash"}
	errOwnConnection   = &Error{"dropped own connection"}
)

// Error is returned when the handshake fails because of the data sent by the remote peer.
type Error struct {
	message string
}

func (e *Error) Error() string {
	return e.message
}
