// Package acceptor accepts incoming peer connections on a listener.
package acceptor

import (
	"net"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
)

// Acceptor passes accepted connections to a channel.
type Acceptor struct {
	listener net.Listener
	newConns chan<- net.Conn
	log      logger.Logger
	closeC   chan struct{}
	doneC    chan struct{}
}

// New returns a new Acceptor. Run must be called to start accepting.
func New(lis net.Listener, newConns chan<- net.Conn, l logger.Logger) *Acceptor {
	return &Acceptor{
		listener: lis,
		newConns: newConns,
		log:      l,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Close the listener and wait for Run to return.
func (a *Acceptor) Close() {
	close(a.closeC)
	_ = a.listener.Close()
	<-a.doneC
}

// Addr returns the listen address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Run accepts connections until Close is called. Invoke with go statement.
func (a *Acceptor) Run() {
	defer close(a.doneC)
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeC:
			default:
				a.log.Error(err)
			}
			return
		}
		select {
		case a.newConns <- conn:
		case <-a.closeC:
			conn.Close()
			return
		}
	}
}
