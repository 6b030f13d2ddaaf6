package btconn

import (
	"context"
	"net"
	"time"
)

// Dial a TCP connection to the address. The dial is aborted when ctx is done.
func Dial(ctx context.Context, addr *net.TCPAddr, dialTimeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, addr.Network(), addr.String())
}

// Handshake does the BitTorrent protocol handshake on an outgoing connection.
// The handshake must be completed in handshakeTimeout. The deadline is cleared on success.
func Handshake(conn net.Conn, handshakeTimeout time.Duration, ih [20]byte, ourID [20]byte, ourExtensions Extensions) (
	peerExtensions Extensions, peerID [20]byte, err error) {
	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	if err = writeHandshake(conn, ih, ourID, ourExtensions); err != nil {
		return
	}
	var ihRead [20]byte
	peerExtensions, ihRead, err = readHandshake1(conn)
	if err != nil {
		return
	}
	if ihRead != ih {
		err = errInvalidInfoHash
		return
	}
	peerID, err = readHandshake2(conn)
	if err != nil {
		return
	}
	if peerID == ourID {
		err = errOwnConnection
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}
