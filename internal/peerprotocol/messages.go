// Package peerprotocol contains the messages of BitTorrent peer wire protocol and its extensions.
package peerprotocol

import (
	"encoding/binary"
	"errors"
)

var errInvalidLength = errors.New("invalid message length")

// Message is a Peer message of BitTorrent protocol.
type Message interface {
	ID() MessageID
	MarshalBinary() ([]byte, error)
}

// HaveMessage indicates a peer has the piece with index.
type HaveMessage struct {
	Index uint32
}

// ID returns the peer protocol message type.
func (m HaveMessage) ID() MessageID { return Have }

// MarshalBinary returns the bytes of the message payload.
func (m HaveMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b, nil
}

// UnmarshalBinary parses the message payload.
func (m *HaveMessage) UnmarshalBinary(b []byte) error {
	if len(b) != 4 {
		return errInvalidLength
	}
	m.Index = binary.BigEndian.Uint32(b)
	return nil
}

// RequestMessage is sent when a peer needs a certain block.
type RequestMessage struct {
	Index, Begin, Length uint32
}

// ID returns the peer protocol message type.
func (m RequestMessage) ID() MessageID { return Request }

// MarshalBinary returns the bytes of the message payload.
func (m RequestMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return b, nil
}

// UnmarshalBinary parses the message payload.
func (m *RequestMessage) UnmarshalBinary(b []byte) error {
	if len(b) != 12 {
		return errInvalidLength
	}
	m.Index = binary.BigEndian.Uint32(b[0:4])
	m.Begin = binary.BigEndian.Uint32(b[4:8])
	m.Length = binary.BigEndian.Uint32(b[8:12])
	return nil
}

// CancelMessage is sent to peer to cancel previously sent request.
type CancelMessage struct{ RequestMessage }

// ID returns the peer protocol message type.
func (m CancelMessage) ID() MessageID { return Cancel }

// PieceMessage is sent when a peer uploads block data.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

// ID returns the peer protocol message type.
func (m PieceMessage) ID() MessageID { return Piece }

// MarshalBinary returns the bytes of the message payload.
func (m PieceMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8+len(m.Data))
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	copy(b[8:], m.Data)
	return b, nil
}

// UnmarshalBinary parses the message payload. Data is not copied.
func (m *PieceMessage) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return errInvalidLength
	}
	m.Index = binary.BigEndian.Uint32(b[0:4])
	m.Begin = binary.BigEndian.Uint32(b[4:8])
	m.Data = b[8:]
	return nil
}

// BitfieldMessage sent after the peer handshake to exchange piece availability information between peers.
type BitfieldMessage struct {
	Data []byte
}

// ID returns the peer protocol message type.
func (m BitfieldMessage) ID() MessageID { return Bitfield }

// MarshalBinary returns the bytes of the message payload.
func (m BitfieldMessage) MarshalBinary() ([]byte, error) {
	return m.Data, nil
}

type emptyMessage struct{}

// MarshalBinary returns the bytes of the message payload.
func (m emptyMessage) MarshalBinary() ([]byte, error) {
	return nil, nil
}

// ChokeMessage is sent to peer that it should not request pieces.
type ChokeMessage struct{ emptyMessage }

// UnchokeMessage is sent to peer that it can request pieces.
type UnchokeMessage struct{ emptyMessage }

// InterestedMessage is sent to peer that we want to request pieces if you unchoke us.
type InterestedMessage struct{ emptyMessage }

// NotInterestedMessage is sent to peer that we don't want any piece from you.
type NotInterestedMessage struct{ emptyMessage }

// ID returns the peer protocol message type.
func (m ChokeMessage) ID() MessageID { return Choke }

// ID returns the peer protocol message type.
func (m UnchokeMessage) ID() MessageID { return Unchoke }

// ID returns the peer protocol message type.
func (m InterestedMessage) ID() MessageID { return Interested }

// ID returns the peer protocol message type.
func (m NotInterestedMessage) ID() MessageID { return NotInterested }
