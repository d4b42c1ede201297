// Package connectproxy implements an HTTP/1.x CONNECT-tunneling proxy used
// as a test fixture for exercising an RPC stack's proxy support. It accepts
// client TCP connections, parses a single HTTP CONNECT request (with an
// optional Proxy-Authorization: Basic check), dials the requested origin,
// writes a 200 response, and then relays bytes full-duplex between the
// client and the origin until either side closes or errors.
package connectproxy
