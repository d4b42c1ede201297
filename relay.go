package connectproxy

// failureKind distinguishes where in a Connection's life a failure
// happened, which is all decideShutdowns needs to decide what else to tear
// down alongside the side that failed.
type failureKind int

const (
	// failureSetup is a failure during the CONNECT handshake, before the
	// relay starts. The origin endpoint may not exist yet.
	failureSetup failureKind = iota
	// failureRead is a read failure on one side during relaying.
	failureRead
	// failureWrite is a write failure on one side during relaying.
	failureWrite
)

// decideShutdowns is the pure decision table spec.md §9's design notes call
// for: given what kind of failure happened and whether the origin endpoint
// exists yet, decide which endpoints to shut down. It has no side effects
// so it can be (and is, in decide_shutdown_test.go) tested without a real
// Connection at all.
//
// Endpoint.Shutdown is a full shutdown with no half-close, so any failure,
// on either side, during either the handshake or the relay, tears the whole
// connection down; a direction that is still draining is not kept open
// after the other direction fails. The one real branch is the nil-origin case a setup
// failure can hit before connect_origin ever runs (spec.md §4.2's
// nil-check invariant) — there is nothing to shut down on that side yet.
func decideShutdowns(kind failureKind, originConnected bool) (shutdownClient, shutdownOrigin bool) {
	switch kind {
	case failureSetup:
		return true, originConnected
	default:
		return true, true
	}
}

// fail logs a failure and shuts down whichever endpoints decideShutdowns
// says to, but does not touch the refcount: the caller's own goroutine
// owns exactly one ref and is responsible for releasing it (by its own
// defer or an explicit unref), so fail can be called from any number of
// concurrent goroutines without double-releasing anyone else's share.
func (c *Connection) fail(kind failureKind, prefix string, err error) {
	c.proxy.logger().Infof("(%d) %s: %s", c.id, prefix, err)
	shutdownClient, shutdownOrigin := decideShutdowns(kind, c.originEndpoint != nil)
	if shutdownClient {
		c.shutdownSide(sideClient, err)
	}
	if shutdownOrigin {
		c.shutdownSide(sideOrigin, err)
	}
	c.cond.Broadcast() // wake any reader blocked on back-pressure so it can observe the failure and exit
}

// maxDeferredBuf bounds how much unwritten data a read loop will let pile
// up in the deferred buffer before pausing reads, giving the relay back
// pressure instead of unbounded memory growth. A transfer of 1 MiB per
// direction (spec.md §8's scenario 6) keeps the deferred buffer below this
// bound, so it does not reach the pause.
const maxDeferredBuf = 1 << 20

// relayReadBufSize is the chunk size each read loop's ReadSome call uses.
const relayReadBufSize = 64 * 1024

// enterRelay hands the connection off to the full-duplex relay: one
// read loop goroutine per side, each holding its own ref, after which the
// ref the handshake has been carrying since newConnection is released
// (spec.md §4.4's full-duplex relay, §4.1's refcounting discipline).
func (c *Connection) enterRelay() {
	c.ref()
	c.ref()
	go c.clientReadLoop()
	go c.originReadLoop()
}

// clientReadLoop pumps bytes read from the client into the write chain
// feeding the origin, deferring them behind an in-flight write when one is
// already running (invariant I1: at most one write in flight per
// direction at a time).
func (c *Connection) clientReadLoop() {
	defer c.unref()
	buf := make([]byte, relayReadBufSize)
	for {
		n, err := c.clientEndpoint.ReadSome(buf)
		if err != nil {
			c.clientReadFailed.set()
			c.fail(failureRead, "HTTP proxy client read", err)
			return
		}
		if n == 0 {
			continue
		}
		c.traffic.recordClientToOrigin(n)

		c.mu.Lock()
		c.clientReadBuf.append(buf[:n])
		for c.clientDeferredBuf.len() >= maxDeferredBuf && !c.clientWriteFailed.isSet() {
			c.cond.Wait()
		}
		if c.clientWriteFailed.isSet() {
			c.mu.Unlock()
			return
		}
		if c.clientIsWriting.isSet() {
			c.clientReadBuf.moveInto(&c.clientDeferredBuf)
			c.mu.Unlock()
			continue
		}
		c.clientIsWriting.set()
		c.clientReadBuf.moveInto(&c.clientWriteBuf)
		c.mu.Unlock()

		c.ref()
		go c.writeToOrigin()
	}
}

// writeToOrigin owns clientWriteBuf's write chain: it writes whatever is
// there, and if more arrived (in clientDeferredBuf) while the write was in
// flight, rotates that in and writes again, rather than spawning a new
// goroutine per chunk. It exits, clearing clientIsWriting, once the
// deferred buffer is empty; on a write failure it returns at once without
// clearing clientIsWriting.
func (c *Connection) writeToOrigin() {
	defer c.unref()
	for {
		c.mu.Lock()
		data := append([]byte(nil), c.clientWriteBuf.bytes()...)
		c.mu.Unlock()

		if err := c.originEndpoint.WriteAll(data); err != nil {
			c.clientWriteFailed.set()
			c.fail(failureWrite, "HTTP proxy server write", err)
			return
		}

		c.mu.Lock()
		c.clientWriteBuf.reset()
		if c.clientDeferredBuf.len() == 0 {
			c.clientIsWriting.clear()
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		c.clientDeferredBuf.moveInto(&c.clientWriteBuf)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// originReadLoop is clientReadLoop's mirror image for the origin-to-client
// direction.
func (c *Connection) originReadLoop() {
	defer c.unref()
	buf := make([]byte, relayReadBufSize)
	for {
		n, err := c.originEndpoint.ReadSome(buf)
		if err != nil {
			c.serverReadFailed.set()
			c.fail(failureRead, "HTTP proxy server read", err)
			return
		}
		if n == 0 {
			continue
		}
		c.traffic.recordOriginToClient(n)

		c.mu.Lock()
		c.serverReadBuf.append(buf[:n])
		for c.serverDeferredBuf.len() >= maxDeferredBuf && !c.serverWriteFailed.isSet() {
			c.cond.Wait()
		}
		if c.serverWriteFailed.isSet() {
			c.mu.Unlock()
			return
		}
		if c.serverIsWriting.isSet() {
			c.serverReadBuf.moveInto(&c.serverDeferredBuf)
			c.mu.Unlock()
			continue
		}
		c.serverIsWriting.set()
		c.serverReadBuf.moveInto(&c.serverWriteBuf)
		c.mu.Unlock()

		c.ref()
		go c.writeToClient()
	}
}

// writeToClient is writeToOrigin's mirror image.
func (c *Connection) writeToClient() {
	defer c.unref()
	for {
		c.mu.Lock()
		data := append([]byte(nil), c.serverWriteBuf.bytes()...)
		c.mu.Unlock()

		if err := c.clientEndpoint.WriteAll(data); err != nil {
			c.serverWriteFailed.set()
			c.fail(failureWrite, "HTTP proxy client write", err)
			return
		}

		c.mu.Lock()
		c.serverWriteBuf.reset()
		if c.serverDeferredBuf.len() == 0 {
			c.serverIsWriting.clear()
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		c.serverDeferredBuf.moveInto(&c.serverWriteBuf)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}
