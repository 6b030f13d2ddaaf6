// Package peerwriter queues and writes peer protocol messages to a connection.
package peerwriter

import (
	"bytes"
	"container/list"
	"encoding/binary"
	"net"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerprotocol"
)

const keepAlivePeriod = 2 * time.Minute

// PeerWriter writes messages in the order they are queued.
type PeerWriter struct {
	conn       net.Conn
	queueC     chan peerprotocol.Message
	cancelC    chan peerprotocol.CancelMessage
	writeQueue *list.List
	writeC     chan peerprotocol.Message
	log        logger.Logger
	stopC      chan struct{}
	doneC      chan struct{}
	writerDone chan struct{}
}

// New returns a new PeerWriter.
func New(conn net.Conn, l logger.Logger) *PeerWriter {
	return &PeerWriter{
		conn:       conn,
		queueC:     make(chan peerprotocol.Message),
		cancelC:    make(chan peerprotocol.CancelMessage),
		writeQueue: list.New(),
		writeC:     make(chan peerprotocol.Message),
		log:        l,
		stopC:      make(chan struct{}),
		doneC:      make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// SendMessage queues the message. It blocks only until the queue goroutine receives it.
func (p *PeerWriter) SendMessage(msg peerprotocol.Message) {
	select {
	case p.queueC <- msg:
	case <-p.doneC:
	}
}

// CancelPiece removes a queued piece message matching cm.
func (p *PeerWriter) CancelPiece(cm peerprotocol.CancelMessage) {
	select {
	case p.cancelC <- cm:
	case <-p.doneC:
	}
}

// Stop the writer. The caller must close the connection to unblock pending writes.
func (p *PeerWriter) Stop() {
	close(p.stopC)
}

// Done is closed when the writer stops.
func (p *PeerWriter) Done() chan struct{} {
	return p.doneC
}

// Run the writer until an error or Stop.
func (p *PeerWriter) Run() {
	defer close(p.doneC)

	go p.messageWriter()
	defer func() { <-p.writerDone }()

	for {
		var (
			e      *list.Element
			msg    peerprotocol.Message
			writeC chan peerprotocol.Message
		)
		if p.writeQueue.Len() > 0 {
			e = p.writeQueue.Front()
			msg = e.Value.(peerprotocol.Message)
			writeC = p.writeC
		}
		select {
		case msg = <-p.queueC:
			p.queueMessage(msg)
		case writeC <- msg:
			p.writeQueue.Remove(e)
		case cm := <-p.cancelC:
			p.cancelPiece(cm)
		case <-p.writerDone:
			return
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerWriter) queueMessage(msg peerprotocol.Message) {
	if _, ok := msg.(peerprotocol.ChokeMessage); ok {
		p.cancelQueuedPieceMessages()
	}
	p.writeQueue.PushBack(msg)
}

func (p *PeerWriter) cancelQueuedPieceMessages() {
	var next *list.Element
	for e := p.writeQueue.Front(); e != nil; e = next {
		next = e.Next()
		if _, ok := e.Value.(peerprotocol.PieceMessage); ok {
			p.writeQueue.Remove(e)
		}
	}
}

func (p *PeerWriter) cancelPiece(cm peerprotocol.CancelMessage) {
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if pm, ok := e.Value.(peerprotocol.PieceMessage); ok && pm.Index == cm.Index && pm.Begin == cm.Begin && uint32(len(pm.Data)) == cm.Length {
			p.writeQueue.Remove(e)
			break
		}
	}
}

func (p *PeerWriter) messageWriter() {
	defer close(p.writerDone)

	keepAliveTicker := time.NewTicker(keepAlivePeriod / 2)
	defer keepAliveTicker.Stop()

	lastWrite := time.Now()
	for {
		select {
		case msg := <-p.writeC:
			payload, err := msg.MarshalBinary()
			if err != nil {
				p.log.Errorf("cannot marshal message [%v]: %s", msg.ID(), err.Error())
				return
			}
			buf := bytes.NewBuffer(make([]byte, 0, 4+1+len(payload)))
			var header = struct {
				Length uint32
				ID     peerprotocol.MessageID
			}{
				Length: uint32(1 + len(payload)),
				ID:     msg.ID(),
			}
			_ = binary.Write(buf, binary.BigEndian, &header)
			buf.Write(payload)
			_, err = p.conn.Write(buf.Bytes())
			if err != nil {
				p.log.Debugf("cannot write message [%v]: %s", msg.ID(), err.Error())
				return
			}
			lastWrite = time.Now()
		case <-keepAliveTicker.C:
			if time.Since(lastWrite) < keepAlivePeriod {
				continue
			}
			_, err := p.conn.Write([]byte{0, 0, 0, 0})
			if err != nil {
				p.log.Debugf("cannot write keepalive message: %s", err.Error())
				return
			}
			lastWrite = time.Now()
		case <-p.stopC:
			return
		}
	}
}
