// Package peerreader reads peer protocol messages from a connection.
package peerreader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerprotocol"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piece"
)

const (
	// time to wait for a message. peer must send keep-alive messages to keep connection alive.
	readTimeout = 2 * time.Minute
	// length + msgid + requestmsg
	readBufferSize = 4 + 1 + 12
	// maxMessageLength limits the allocation for a single message.
	maxMessageLength = 2 << 20
)

// PeerReader reads messages from the connection and sends them to the Messages channel.
// It does not keep any state about the peer.
type PeerReader struct {
	conn     net.Conn
	r        io.Reader
	log      logger.Logger
	messages chan any
	stopC    chan struct{}
	doneC    chan struct{}
	err      error
}

// New returns a new PeerReader.
func New(conn net.Conn, l logger.Logger) *PeerReader {
	return &PeerReader{
		conn:     conn,
		r:        bufio.NewReaderSize(conn, readBufferSize),
		log:      l,
		messages: make(chan any),
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Messages returns the channel of received messages.
func (p *PeerReader) Messages() <-chan any {
	return p.messages
}

// Stop the reader. The caller must close the connection to unblock pending reads.
func (p *PeerReader) Stop() {
	close(p.stopC)
}

// Done is closed when the reader stops.
func (p *PeerReader) Done() chan struct{} {
	return p.doneC
}

// Err returns the error that stopped the reader. Must be called after Done is closed.
func (p *PeerReader) Err() error {
	return p.err
}

// Run reads messages until an error or Stop.
func (p *PeerReader) Run() {
	defer close(p.doneC)

	var err error
	defer func() {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return
		}
		select {
		case <-p.stopC: // don't record error if peer is stopped
		default:
			p.err = err
			if _, ok := err.(*net.OpError); !ok {
				p.log.Debugln("read error:", err)
			}
		}
	}()

	first := true
	for {
		err = p.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err != nil {
			return
		}

		var length uint32
		err = binary.Read(p.r, binary.BigEndian, &length)
		if err != nil {
			return
		}

		if length == 0 { // keep-alive message
			p.log.Debug("Received message of type \"keep alive\"")
			continue
		}
		if length > maxMessageLength {
			err = fmt.Errorf("message too long: %d", length)
			return
		}

		var id peerprotocol.MessageID
		err = binary.Read(p.r, binary.BigEndian, &id)
		if err != nil {
			return
		}
		length--

		payload := make([]byte, length)
		_, err = io.ReadFull(p.r, payload)
		if err != nil {
			return
		}

		var msg any
		switch id {
		case peerprotocol.Choke:
			msg = peerprotocol.ChokeMessage{}
		case peerprotocol.Unchoke:
			msg = peerprotocol.UnchokeMessage{}
		case peerprotocol.Interested:
			msg = peerprotocol.InterestedMessage{}
		case peerprotocol.NotInterested:
			msg = peerprotocol.NotInterestedMessage{}
		case peerprotocol.Have:
			var hm peerprotocol.HaveMessage
			err = hm.UnmarshalBinary(payload)
			msg = hm
		case peerprotocol.Bitfield:
			if !first {
				err = errors.New("bitfield can only be sent after handshake")
				return
			}
			msg = peerprotocol.BitfieldMessage{Data: payload}
		case peerprotocol.Request:
			var rm peerprotocol.RequestMessage
			err = rm.UnmarshalBinary(payload)
			if err == nil && rm.Length > piece.BlockSize {
				err = fmt.Errorf("received a request with block size larger than allowed (%d > %d)", rm.Length, piece.BlockSize)
			}
			msg = rm
		case peerprotocol.Cancel:
			var cm peerprotocol.CancelMessage
			err = cm.UnmarshalBinary(payload)
			msg = cm
		case peerprotocol.Piece:
			var pm peerprotocol.PieceMessage
			err = pm.UnmarshalBinary(payload)
			if err == nil && len(pm.Data) > piece.BlockSize {
				err = fmt.Errorf("received a piece with block size larger than allowed (%d > %d)", len(pm.Data), piece.BlockSize)
			}
			msg = pm
		case peerprotocol.Extension:
			var em peerprotocol.ExtensionMessage
			err = em.UnmarshalBinary(payload)
			msg = em
		default:
			p.log.Debugf("unhandled message type: %s", id)
			continue
		}
		if err != nil {
			return
		}
		first = false
		select {
		case p.messages <- msg:
		case <-p.stopC:
			return
		}
	}
}
