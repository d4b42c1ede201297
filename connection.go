package connectproxy

import (
	"net"
	"sync"

	"github.com/peterzhu2118/connectproxy/httpreq"
)

// side identifies one direction's endpoint within a Connection.
type side int

const (
	sideClient side = iota
	sideOrigin
)

// Connection is one accepted TCP connection working its way through the
// CONNECT handshake and then the full-duplex relay. Its fields mirror
// spec.md §3's data model directly: two endpoints (origin nullable until
// dialed), three buffers per side, per-side flags, a refcount, the HTTP
// parser, and a back-pointer to the owning Proxy.
//
// mu is the Go stand-in for spec.md §4.1's "serialized execution context"
// (the original's per-proxy combiner): once the connection has left the
// single-goroutine handshake phase and entered concurrent relaying, the
// byte queues and the isWriting flags change only while mu is held. The
// failure and shutdown flags and the refcount are atomics and are set
// without holding mu. This is the mutex
// option spec.md §9's design notes call out explicitly ("guard it behind a
// single-owner mutex that is held only inside handlers").
type Connection struct {
	proxy *Proxy
	id    int64
	trace *traceInfo

	mu   sync.Mutex
	cond *sync.Cond // Wait()/Broadcast() on mu, for deferred-buffer back-pressure

	clientEndpoint Endpoint
	originEndpoint Endpoint // nil until connect_origin succeeds

	refs refCounter

	clientReadBuf     byteQueue
	serverReadBuf     byteQueue
	clientWriteBuf    byteQueue
	serverWriteBuf    byteQueue
	clientDeferredBuf byteQueue
	serverDeferredBuf byteQueue

	clientIsWriting flag
	serverIsWriting flag

	clientReadFailed  flag
	clientWriteFailed flag
	serverReadFailed  flag
	serverWriteFailed flag

	clientShutdown flag
	serverShutdown flag

	parser *httpreq.Parser

	traffic *trafficCounters
}

func newConnection(p *Proxy, clientConn net.Conn, id int64) *Connection {
	c := &Connection{
		proxy:          p,
		id:             id,
		trace:          newTraceInfo(id, "conn"),
		clientEndpoint: newTCPEndpoint(clientConn),
		parser:         httpreq.New(),
		traffic:        newTrafficCounters(),
	}
	c.cond = sync.NewCond(&c.mu)
	c.refs.add(1) // birth ref (invariant I4)
	return c
}

// ref takes an additional share of the connection's lifetime. Must be
// called before handing the connection to a new goroutine that will touch
// its state.
func (c *Connection) ref() {
	c.refs.add(1)
}

// unref drops a share of the connection's lifetime, destroying its
// resources the instant the count reaches zero (invariant I6).
func (c *Connection) unref() {
	if c.refs.sub(1) == 0 {
		c.destroy()
	}
}

func (c *Connection) destroy() {
	c.clientEndpoint.Destroy()
	if c.originEndpoint != nil {
		c.originEndpoint.Destroy()
	}
	c.proxy.logger().Debugf("(%d) conn: destroyed, %s", c.id, c.traffic.summary())
	c.proxy.connClosed()
}

// shutdownSide shuts the given side's endpoint down exactly once
// (invariant I3 / testable property P3).
func (c *Connection) shutdownSide(s side, err error) {
	switch s {
	case sideClient:
		if c.clientShutdown.setIfUnset() {
			c.clientEndpoint.Shutdown(err)
		}
	case sideOrigin:
		if c.originEndpoint != nil && c.serverShutdown.setIfUnset() {
			c.originEndpoint.Shutdown(err)
		}
	}
}
