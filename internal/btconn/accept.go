package btconn

import (
	"net"
	"time"
)

// Accept BitTorrent handshake from the connection.
// hasInfoHash is called with the info hash sent by the remote peer and must report if we serve that torrent.
func Accept(
	conn net.Conn,
	handshakeTimeout time.Duration,
	hasInfoHash func([20]byte) bool,
	ourExtensions Extensions,
	ourID [20]byte) (
	peerExtensions Extensions, peerID [20]byte, infoHash [20]byte, err error) {
	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	peerExtensions, infoHash, err = readHandshake1(conn)
	if err != nil {
		return
	}
	if !hasInfoHash(infoHash) {
		err = errInvalidInfoHash
		return
	}
	err = writeHandshake(conn, infoHash, ourID, ourExtensions)
	if err != nil {
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
