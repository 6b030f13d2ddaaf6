// Package peerconn manages a single BitTorrent peer connection.
//
// Methods of Conn must be called from the goroutine that owns the connection.
// Reading and writing is done by background goroutines that never modify the state of Conn.
package peerconn

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerconn/peerreader"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerconn/peerwriter"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerprotocol"
	"github.com/gofrs/uuid"
	"github.com/rcrowley/go-metrics"
)

var (
	// ErrChoked is returned from RequestBlock when the remote peer is choking us.
	ErrChoked = errors.New("peer is choking")
	// ErrPieceNotAvailable is returned from RequestBlock when the remote peer does not have the piece.
	ErrPieceNotAvailable = errors.New("peer does not have the piece")
	// ErrTooManyRequests is returned from RequestBlock when the outstanding request limit is reached.
	ErrTooManyRequests = errors.New("too many outstanding requests")
	// ErrInvalidState is returned when the operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid connection state")
)

// Message is a message received from the peer.
type Message struct {
	*Conn
	Message any
}

// Config for a connection.
type Config struct {
	// Maximum number of outstanding block requests to the remote peer.
	MaxRequests int
	// Received messages are sent to this channel.
	Messages chan<- Message
	// The connection is sent to this channel when reading or writing fails.
	Disconnected chan<- *Conn
}

// Request is a block request sent to or received from the peer.
type Request struct {
	Index, Begin, Length uint32
}

// Conn is a peer connection.
type Conn struct {
	Addr     *net.TCPAddr
	Key      uuid.UUID // unique per connection
	Outgoing bool

	// Set after handshake.
	ID                 [20]byte
	Extended           bool
	ExtensionHandshake *peerprotocol.ExtensionHandshakeMessage

	// Pieces that the remote peer has. Has zero length until the number of pieces is known.
	Bitfield bitfield.Bitfield

	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	DownloadSpeed   metrics.EWMA
	UploadSpeed     metrics.EWMA
	BytesDownloaded int64
	BytesUploaded   int64
	ConnectedAt     time.Time

	cfg        Config
	state      State
	conn       net.Conn
	reader     *peerreader.PeerReader
	writer     *peerwriter.PeerWriter
	requests   map[Request]time.Time
	lastUseful time.Time
	numPieces  uint32
	pendingBf  []byte
	pendingHv  []uint32
	log        logger.Logger
	closeC     chan struct{}
	doneC      chan struct{}
}

// New returns a new outgoing connection in Connecting state.
func New(addr *net.TCPAddr, cfg Config) (*Conn, error) {
	return newConn(addr, true, cfg)
}

// NewIncoming returns a new connection in Handshaking state for a connection accepted from a listener.
func NewIncoming(nc net.Conn, cfg Config) (*Conn, error) {
	addr, ok := nc.RemoteAddr().(*net.TCPAddr)
	if !ok {
		addr = &net.TCPAddr{}
	}
	c, err := newConn(addr, false, cfg)
	if err != nil {
		return nil, err
	}
	c.conn = nc
	c.state = Handshaking
	return c, nil
}

func newConn(addr *net.TCPAddr, outgoing bool, cfg Config) (*Conn, error) {
	key, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	if cfg.MaxRequests < 1 {
		cfg.MaxRequests = 1
	}
	dir := "->"
	if !outgoing {
		dir = "<-"
	}
	return &Conn{
		Addr:          addr,
		Key:           key,
		Outgoing:      outgoing,
		AmChoking:     true,
		PeerChoking:   true,
		DownloadSpeed: metrics.NewEWMA1(),
		UploadSpeed:   metrics.NewEWMA1(),
		cfg:           cfg,
		state:         Connecting,
		requests:      make(map[Request]time.Time),
		log:           logger.New("peer " + dir + " " + addr.String()),
		closeC:        make(chan struct{}),
		doneC:         make(chan struct{}),
	}, nil
}

// String returns the remote address as string.
func (c *Conn) String() string {
	return c.Addr.String()
}

// Logger for the peer that logs messages prefixed with peer address.
func (c *Conn) Logger() logger.Logger {
	return c.log
}

// State returns the current state of the connection.
func (c *Conn) State() State {
	return c.state
}

// NetConn returns the underlying connection. It is nil while Connecting.
func (c *Conn) NetConn() net.Conn {
	return c.conn
}

func (c *Conn) setState(s State) Event {
	c.log.Debugf("state: %s -> %s", c.state, s)
	c.state = s
	return Event{Kind: EventStateChanged, State: s}
}

// Connected must be called when the transport is connected for an outgoing connection.
func (c *Conn) Connected(nc net.Conn) (Event, error) {
	if c.state != Connecting {
		return Event{}, ErrInvalidState
	}
	c.conn = nc
	return c.setState(Handshaking), nil
}

// HandshakeDone must be called after a successful protocol handshake.
// numPieces is zero if the torrent metadata is not known yet.
// Reading and writing messages starts after this call.
func (c *Conn) HandshakeDone(id [20]byte, extended bool, numPieces uint32, now time.Time) (Event, error) {
	if c.state != Handshaking {
		return Event{}, ErrInvalidState
	}
	c.ID = id
	c.Extended = extended
	c.ConnectedAt = now
	c.lastUseful = now
	if numPieces > 0 {
		c.SetNumPieces(numPieces)
	}
	c.reader = peerreader.New(c.conn, c.log)
	c.writer = peerwriter.New(c.conn, c.log)
	go c.run()
	return c.setState(Exchanging), nil
}

// SetNumPieces sets the length of the remote bitfield when the metadata becomes available.
// Bitfield and have messages received before are applied.
func (c *Conn) SetNumPieces(n uint32) error {
	c.numPieces = n
	c.Bitfield = bitfield.New(n)
	if c.pendingBf != nil {
		bf, err := bitfield.NewBytes(c.pendingBf, n)
		if err != nil {
			return err
		}
		c.Bitfield = bf
		c.pendingBf = nil
	}
	for _, i := range c.pendingHv {
		if i >= n {
			return fmt.Errorf("invalid have index: %d", i)
		}
		c.Bitfield.Set(i)
	}
	c.pendingHv = nil
	return nil
}

// Close the connection and wait for background goroutines to stop.
func (c *Conn) Close() Event {
	if c.state == Closed {
		return Event{}
	}
	c.setState(Closing)
	close(c.closeC)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.reader != nil {
		<-c.doneC
	}
	return c.setState(Closed)
}

// Err returns the error that caused the connection to be closed by the reader, if any.
func (c *Conn) Err() error {
	if c.reader == nil {
		return nil
	}
	select {
	case <-c.reader.Done():
		return c.reader.Err()
	default:
		return nil
	}
}

func (c *Conn) run() {
	defer close(c.doneC)

	go c.reader.Run()
	go c.writer.Run()
	defer func() {
		c.reader.Stop()
		c.writer.Stop()
		_ = c.conn.Close()
		<-c.reader.Done()
		<-c.writer.Done()
	}()

	for {
		select {
		case msg := <-c.reader.Messages():
			select {
			case c.cfg.Messages <- Message{Conn: c, Message: msg}:
			case <-c.closeC:
				return
			}
		case <-c.reader.Done():
			c.disconnected()
			return
		case <-c.writer.Done():
			c.disconnected()
			return
		case <-c.closeC:
			return
		}
	}
}

func (c *Conn) disconnected() {
	select {
	case c.cfg.Disconnected <- c:
	case <-c.closeC:
	}
}

// Reap returns true if no useful message is received from the peer in idleTimeout.
func (c *Conn) Reap(now time.Time, idleTimeout time.Duration) bool {
	if c.state != Exchanging {
		return false
	}
	return now.Sub(c.lastUseful) >= idleTimeout
}

// Outstanding returns the number of requests sent to the peer and not answered yet.
func (c *Conn) Outstanding() int {
	return len(c.requests)
}

// Requests returns the outstanding requests with the time they are sent.
func (c *Conn) Requests() map[Request]time.Time {
	return c.requests
}

// SendMessage queues a message for sending. Messages are dropped if the connection is not exchanging messages.
func (c *Conn) SendMessage(msg peerprotocol.Message) {
	if c.state != Exchanging {
		return
	}
	c.writer.SendMessage(msg)
}

// RequestBlock sends a request for the block to the peer.
func (c *Conn) RequestBlock(index, begin, length uint32, now time.Time) error {
	if c.state != Exchanging {
		return ErrInvalidState
	}
	if c.PeerChoking {
		return ErrChoked
	}
	if index >= c.Bitfield.Len() || !c.Bitfield.Test(index) {
		return ErrPieceNotAvailable
	}
	r := Request{Index: index, Begin: begin, Length: length}
	if _, ok := c.requests[r]; ok {
		return nil
	}
	if len(c.requests) >= c.cfg.MaxRequests {
		return ErrTooManyRequests
	}
	c.requests[r] = now
	c.writer.SendMessage(peerprotocol.RequestMessage{Index: index, Begin: begin, Length: length})
	return nil
}

// CancelRequest removes the outstanding request and sends a cancel message to the peer.
// Returns false if there is no such request.
func (c *Conn) CancelRequest(index, begin, length uint32) bool {
	r := Request{Index: index, Begin: begin, Length: length}
	if _, ok := c.requests[r]; !ok {
		return false
	}
	delete(c.requests, r)
	c.SendMessage(peerprotocol.CancelMessage{RequestMessage: peerprotocol.RequestMessage{Index: index, Begin: begin, Length: length}})
	return true
}

// Choke the peer. Queued piece messages are dropped.
func (c *Conn) Choke() {
	if c.AmChoking {
		return
	}
	c.AmChoking = true
	c.SendMessage(peerprotocol.ChokeMessage{})
}

// Unchoke the peer.
func (c *Conn) Unchoke() {
	if !c.AmChoking {
		return
	}
	c.AmChoking = false
	c.SendMessage(peerprotocol.UnchokeMessage{})
}

// SetInterested sends interested or not interested message if our interest changes.
func (c *Conn) SetInterested(interested bool) {
	if c.AmInterested == interested {
		return
	}
	c.AmInterested = interested
	if interested {
		c.SendMessage(peerprotocol.InterestedMessage{})
	} else {
		c.SendMessage(peerprotocol.NotInterestedMessage{})
	}
}

// SendPiece sends block data to the peer.
func (c *Conn) SendPiece(index, begin uint32, data []byte) {
	if c.state != Exchanging || c.AmChoking {
		return
	}
	c.BytesUploaded += int64(len(data))
	c.UploadSpeed.Update(int64(len(data)))
	c.SendMessage(peerprotocol.PieceMessage{Index: index, Begin: begin, Data: data})
}

// SendExtension sends an extension message with the ID announced by the peer for key.
// Returns false if the peer does not support the extension.
func (c *Conn) SendExtension(key string, payload any) bool {
	if c.ExtensionHandshake == nil {
		return false
	}
	id, ok := c.ExtensionHandshake.M[key]
	if !ok || id == 0 {
		return false
	}
	c.SendMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: id, Payload: payload})
	return true
}

// SendExtensionHandshake sends our extension handshake if the peer supports the extension protocol.
func (c *Conn) SendExtensionHandshake(m peerprotocol.ExtensionHandshakeMessage) {
	if !c.Extended {
		return
	}
	c.SendMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDHandshake, Payload: m})
}
