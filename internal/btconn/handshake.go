// Package btconn provides support for dialing and accepting BitTorrent connections.
package btconn

import (
	"encoding/binary"
	"io"
)

var pstr = [20]byte{19, 'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

// Extensions is the reserved bytes field of the handshake.
type Extensions [8]byte

// NewExtensions returns the reserved bytes with the extension protocol bit set if extended is true.
func NewExtensions(extended bool) Extensions {
	var e Extensions
	if extended {
		e[5] |= 0x10 // BEP 10
	}
	return e
}

// Extended returns true if the extension protocol bit is set.
func (e Extensions) Extended() bool {
	return e[5]&0x10 != 0
}

func writeHandshake(w io.Writer, ih [20]byte, id [20]byte, extensions Extensions) error {
	h := struct {
		Pstr       [20]byte
		Extensions [8]byte
		InfoHash   [20]byte
		PeerID     [20]byte
	}{
		Pstr:       pstr,
		Extensions: extensions,
		InfoHash:   ih,
		PeerID:     id,
	}
	return binary.Write(w, binary.BigEndian, h)
}

func readHandshake1(r io.Reader) (extensions Extensions, ih [20]byte, err error) {
	_, err = io.ReadFull(r, ih[:])
	if err != nil {
		return
	}
	if ih != pstr {
		err = errInvalidProtocol
		return
	}
	_, err = io.ReadFull(r, extensions[:])
	if err != nil {
		return
	}
	_, err = io.ReadFull(r, ih[:])
	return
}

func readHandshake2(r io.Reader) (id [20]byte, err error) {
	_, err = io.ReadFull(r, id[:])
	return
}
