package connectproxy

// ProxyConfig carries the options recognized by New. It is immutable after
// Proxy construction (spec.md §5): nothing in this package mutates a
// ProxyConfig or a *Proxy's copy of it once New has returned.
type ProxyConfig struct {
	// ExpectedBasicAuthCredential, when non-nil, requires every CONNECT
	// request to carry a Proxy-Authorization header whose value is
	// "Basic " followed by the base64 encoding of this exact string.
	// When nil, no authentication is required.
	ExpectedBasicAuthCredential *string

	// Resolver overrides how hostnames are resolved to addresses. Tests
	// inject a fake here to simulate DNS failures and to point "origin"
	// hostnames at loopback listeners. Defaults to a resolver backed by
	// net.DefaultResolver.
	Resolver Resolver

	// Dialer overrides how the origin TCP connection is established.
	// Defaults to a *net.Dialer. Tests use this to simulate connect
	// failures.
	Dialer Dialer
}
