package connectproxy

import (
	"net"
	"time"
)

// Endpoint is the byte-stream abstraction spec.md §4.5 requires: a
// read/write/shutdown/destroy surface satisfied by a TCP socket. Go has no
// native concept of a pollset-driven async completion, so ReadSome and
// WriteAll are blocking calls meant to be run from a dedicated goroutine per
// outstanding operation (see relay.go); Shutdown cancels whichever of
// those is currently blocked by forcing its deadline into the past, and
// Destroy releases the underlying file descriptor once no goroutine can
// still be touching it.
//
// Grounded on the teacher's TimedConn (conn.go), which wraps a net.Conn to
// manage read/write deadlines; this abstraction narrows that wrapper to
// exactly the shutdown/destroy lifecycle spec.md needs.
type Endpoint interface {
	// ReadSome reads at least one byte into buf, or returns an error.
	ReadSome(buf []byte) (int, error)
	// WriteAll writes every byte of data, or returns an error.
	WriteAll(data []byte) error
	// Shutdown cancels any in-flight or future I/O with err. Idempotent:
	// only the first call has any effect (invariant I3).
	Shutdown(err error)
	// Destroy releases the endpoint's kernel resources. Must only be
	// called once no completion can still fire (invariant I6).
	Destroy()
}

// tcpEndpoint is the Endpoint implementation used for real client and
// origin connections.
type tcpEndpoint struct {
	conn net.Conn
	down flag
}

func newTCPEndpoint(conn net.Conn) *tcpEndpoint {
	return &tcpEndpoint{conn: conn}
}

func (e *tcpEndpoint) ReadSome(buf []byte) (int, error) {
	return e.conn.Read(buf)
}

func (e *tcpEndpoint) WriteAll(data []byte) error {
	_, err := e.conn.Write(data)
	return err
}

func (e *tcpEndpoint) Shutdown(_ error) {
	if !e.down.setIfUnset() {
		return
	}
	// Force any goroutine blocked in Read/Write on this connection to
	// return immediately with a timeout error, without yet releasing the
	// file descriptor (that happens in Destroy, once refcounting proves
	// no goroutine can still be inside Read/Write).
	_ = e.conn.SetDeadline(time.Unix(0, 0))
}

func (e *tcpEndpoint) Destroy() {
	_ = e.conn.Close()
}
