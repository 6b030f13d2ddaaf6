package peerconn

import (
	"errors"
	"fmt"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerprotocol"
)

// EventKind is the type of an Event.
type EventKind int

// Kinds of events.
const (
	EventNone EventKind = iota
	EventStateChanged
	EventChoked
	EventUnchoked
	EventInterested
	EventNotInterested
	EventHave
	EventBitfield
	EventRequest
	EventCancel
	EventBlock
	EventExtensionHandshake
	EventMetadata
)

// Event is the result of a message received from the peer or a state transition.
type Event struct {
	Kind EventKind

	// EventStateChanged
	State State

	// EventHave, EventRequest, EventCancel, EventBlock
	Index, Begin, Length uint32

	// EventBlock
	Data      []byte
	Requested bool // block matches an outstanding request

	// EventChoked: outstanding requests dropped by the choke.
	Dropped []Request

	// EventMetadata
	Metadata peerprotocol.ExtensionMetadataMessage
}

var errBitfieldAfterHave = errors.New("bitfield received after have")

// Receive updates the connection state for a message read from the peer and returns the resulting event.
// A returned error is a protocol violation and the connection must be closed.
func (c *Conn) Receive(msg any, now time.Time) (Event, error) {
	if c.state != Exchanging {
		return Event{}, nil
	}
	switch m := msg.(type) {
	case peerprotocol.ChokeMessage:
		c.PeerChoking = true
		ev := Event{Kind: EventChoked}
		for r := range c.requests {
			ev.Dropped = append(ev.Dropped, r)
		}
		c.requests = make(map[Request]time.Time)
		return ev, nil
	case peerprotocol.UnchokeMessage:
		c.PeerChoking = false
		return Event{Kind: EventUnchoked}, nil
	case peerprotocol.InterestedMessage:
		c.PeerInterested = true
		return Event{Kind: EventInterested}, nil
	case peerprotocol.NotInterestedMessage:
		c.PeerInterested = false
		return Event{Kind: EventNotInterested}, nil
	case peerprotocol.HaveMessage:
		c.lastUseful = now
		if c.numPieces == 0 {
			c.pendingHv = append(c.pendingHv, m.Index)
			return Event{}, nil
		}
		if m.Index >= c.numPieces {
			return Event{}, fmt.Errorf("invalid have index: %d", m.Index)
		}
		c.Bitfield.Set(m.Index)
		return Event{Kind: EventHave, Index: m.Index}, nil
	case peerprotocol.BitfieldMessage:
		c.lastUseful = now
		if c.numPieces == 0 {
			if len(c.pendingHv) > 0 {
				return Event{}, errBitfieldAfterHave
			}
			c.pendingBf = m.Data
			return Event{}, nil
		}
		if c.Bitfield.Count() > 0 {
			return Event{}, errBitfieldAfterHave
		}
		bf, err := bitfield.NewBytes(m.Data, c.numPieces)
		if err != nil {
			return Event{}, err
		}
		c.Bitfield = bf
		return Event{Kind: EventBitfield}, nil
	case peerprotocol.RequestMessage:
		c.lastUseful = now
		if c.AmChoking {
			return Event{}, nil
		}
		return Event{Kind: EventRequest, Index: m.Index, Begin: m.Begin, Length: m.Length}, nil
	case peerprotocol.CancelMessage:
		c.writer.CancelPiece(m)
		return Event{Kind: EventCancel, Index: m.Index, Begin: m.Begin, Length: m.Length}, nil
	case peerprotocol.PieceMessage:
		c.lastUseful = now
		length := uint32(len(m.Data))
		r := Request{Index: m.Index, Begin: m.Begin, Length: length}
		_, requested := c.requests[r]
		delete(c.requests, r)
		c.BytesDownloaded += int64(length)
		c.DownloadSpeed.Update(int64(length))
		return Event{Kind: EventBlock, Index: m.Index, Begin: m.Begin, Length: length, Data: m.Data, Requested: requested}, nil
	case peerprotocol.ExtensionMessage:
		switch p := m.Payload.(type) {
		case peerprotocol.ExtensionHandshakeMessage:
			if !c.Extended {
				return Event{}, errors.New("extension handshake from peer without extension support")
			}
			c.ExtensionHandshake = &p
			return Event{Kind: EventExtensionHandshake}, nil
		case peerprotocol.ExtensionMetadataMessage:
			c.lastUseful = now
			return Event{Kind: EventMetadata, Metadata: p}, nil
		}
		return Event{}, nil
	}
	return Event{}, fmt.Errorf("unknown message type: %T", msg)
}
