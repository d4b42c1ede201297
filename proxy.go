package connectproxy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ccding/go-logging/logging"
	"github.com/google/uuid"
	"github.com/palantir/stacktrace"
)

// Proxy is a listening CONNECT proxy fixture: spec.md §4.6's listener and
// supervisor, generalized from the teacher's own Proxy type (proxy.go) to
// this library's narrower CONNECT-only, single-listener scope.
type Proxy struct {
	config ProxyConfig
	listener net.Listener
	log      *logging.Logger
	instanceID string

	nextConnID int64

	wg       sync.WaitGroup // one slot per live Connection, released when it is destroyed
	closing  flag
	closedCh chan struct{}
}

// New starts listening on an OS-assigned loopback port and begins
// accepting connections in a background goroutine, mirroring the
// teacher's own startup sequence in proxy.go (listen, then spawn the
// accept loop, then return control to the caller immediately).
func New(cfg ProxyConfig) (*Proxy, error) {
	if cfg.Resolver == nil {
		cfg.Resolver = systemResolver{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &systemDialer{}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, stacktrace.Propagate(err, "failed to listen")
	}

	log, err := newLogger("connectproxy")
	if err != nil {
		_ = ln.Close()
		return nil, stacktrace.Propagate(err, "failed to initialize logger")
	}

	p := &Proxy{
		config:     cfg,
		listener:   ln,
		log:        log,
		instanceID: uuid.NewString(),
		closedCh:   make(chan struct{}),
	}

	p.log.Infof("(%s) HTTP proxy listening on %s", p.instanceID, ln.Addr())
	go p.acceptLoop()
	return p, nil
}

// Addr returns the address clients should CONNECT through, in the form
// "localhost:<port>", satisfying spec.md §6's external interface.
func (p *Proxy) Addr() string {
	_, port, _ := net.SplitHostPort(p.listener.Addr().String())
	return net.JoinHostPort("localhost", port)
}

// Close stops accepting new connections and waits for every connection
// already in flight to finish tearing itself down: once Close returns, no
// Connection remains. It does not wait for the accept goroutine itself to
// return; closing the listener makes its Accept fail and it exits on its
// own.
func (p *Proxy) Close() error {
	if !p.closing.setIfUnset() {
		return nil
	}
	err := p.listener.Close()
	close(p.closedCh)
	p.wg.Wait()
	p.log.Infof("(%s) HTTP proxy closed", p.instanceID)
	return err
}

// acceptLoop is the supervisor spec.md §4.6 describes: a single goroutine
// that blocks in Accept and hands each connection off to its own
// handshake-then-relay goroutine. Go's net.Listener has no equivalent of
// the original fixture's 1-second pollset poll (see SPEC_FULL.md §4):
// Accept blocks until a connection arrives or the listener is closed, so
// there is nothing to poll.
func (p *Proxy) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.closedCh:
				return
			default:
				p.log.Warningf("HTTP proxy accept failed: %s", err)
				return
			}
		}
		id := atomic.AddInt64(&p.nextConnID, 1)
		c := newConnection(p, conn, id)
		p.wg.Add(1) // released by connClosed, once Connection.destroy runs
		go c.runHandshake(context.Background())
	}
}

func (p *Proxy) logger() *logging.Logger {
	return p.log
}

func (p *Proxy) resolver() Resolver {
	return p.config.Resolver
}

func (p *Proxy) dialer() Dialer {
	return p.config.Dialer
}

// connClosed is called by Connection.destroy once a connection's last ref
// is dropped. It releases the WaitGroup slot acquired when the connection
// was accepted, so Close's wg.Wait() genuinely blocks until every
// connection — handshake and relay both — has fully torn down (testable
// property P5).
func (p *Proxy) connClosed() {
	p.wg.Done()
}
