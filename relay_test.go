package connectproxy

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

// connectThroughProxy performs the CONNECT handshake against p for host and
// returns the resulting tunnel connection, leaving it ready for relaying.
func connectThroughProxy(t *testing.T, p *Proxy, host string) net.Conn {
	t.Helper()
	conn := mustDial(t, p.Addr())
	if _, err := conn.Write([]byte("CONNECT " + host + " HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	resp := make([]byte, len(wantConnectedResponse))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, resp); err != nil {
		t.Fatalf("read CONNECT response: %v", err)
	}
	if string(resp) != wantConnectedResponse {
		t.Fatalf("got response %q, want %q", resp, wantConnectedResponse)
	}
	return conn
}

// TestRelayPreservesByteOrderUnderBurstWrites fires several writes at the
// client side back-to-back, without waiting for any to complete, which is
// exactly the condition that forces bytes into clientDeferredBuf instead
// of going straight to clientWriteBuf (invariant I1: at most one write in
// flight per direction). The echoed bytes must still come back in order
// and undamaged.
func TestRelayPreservesByteOrderUnderBurstWrites(t *testing.T) {
	origin, err := newEchoOrigin()
	if err != nil {
		t.Fatalf("start origin: %v", err)
	}
	defer origin.Close()

	p, err := New(ProxyConfig{
		Resolver: &fakeResolver{addrs: map[string][]string{"example.test": {origin.Addr().String()}}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	conn := connectThroughProxy(t, p, "example.test:443")
	defer conn.Close()

	var want bytes.Buffer
	for i := 0; i < 64; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i%26)}, 256)
		want.Write(chunk)
		if _, err := conn.Write(chunk); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}

	got := make([]byte, want.Len())
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read echoed bytes: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("echoed bytes do not match what was sent")
	}
}

// TestRelayHandlesOneMiBEachDirection is spec.md §8's scenario 6: relay
// 1 MiB of traffic in each direction simultaneously and confirm it all
// arrives, exercising the deferred-buffer path in both clientReadLoop and
// originReadLoop at once. Each deferred buffer stays below maxDeferredBuf
// here, so the back-pressure pause itself is not reached.
func TestRelayHandlesOneMiBEachDirection(t *testing.T) {
	const size = 1 << 20

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverRead := make(chan int, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverRead <- -1
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = conn.Write(bytes.Repeat([]byte{'o'}, size))
		}()

		n, _ := io.Copy(io.Discard, io.LimitReader(conn, size))
		<-done
		serverRead <- int(n)
	}()

	p, err := New(ProxyConfig{
		Resolver: &fakeResolver{addrs: map[string][]string{"example.test": {ln.Addr().String()}}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	conn := connectThroughProxy(t, p, "example.test:443")
	defer conn.Close()

	clientRead := make(chan int, 1)
	go func() {
		n, _ := io.Copy(io.Discard, io.LimitReader(conn, size))
		clientRead <- int(n)
	}()

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(bytes.Repeat([]byte{'c'}, size)); err != nil {
		t.Fatalf("write to origin: %v", err)
	}

	select {
	case n := <-clientRead:
		if n != size {
			t.Fatalf("client received %d bytes, want %d", n, size)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for client-side read")
	}

	select {
	case n := <-serverRead:
		if n != size {
			t.Fatalf("origin received %d bytes, want %d", n, size)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for origin-side read")
	}
}
