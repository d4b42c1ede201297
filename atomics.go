package connectproxy

import "go.uber.org/atomic"

// flag is a monotone-friendly atomic boolean used for the connection's
// per-side shutdown/failure bits. Its methods are safe to call from any
// goroutine.
type flag struct {
	v atomic.Bool
}

func (f *flag) set() {
	f.v.Store(true)
}

func (f *flag) isSet() bool {
	return f.v.Load()
}

// clear resets the flag to false. Used by the relay write loops to mark a
// write chain finished so the next reader can start a new one.
func (f *flag) clear() {
	f.v.Store(false)
}

// setIfUnset sets the flag to true and reports whether this call is the one
// that transitioned it from false to true. Used to make endpoint shutdown
// idempotent (invariant I3 / testable property P3).
func (f *flag) setIfUnset() (transitioned bool) {
	return f.v.CAS(false, true)
}

// refCounter tracks outstanding I/O completions holding a share of a
// Connection's lifetime (invariant I4). It starts at zero; call add before
// the first use.
type refCounter struct {
	v atomic.Int32
}

func (r *refCounter) add(n int32) int32 {
	return r.v.Add(n)
}

func (r *refCounter) sub(n int32) int32 {
	return r.v.Sub(n)
}

func (r *refCounter) get() int32 {
	return r.v.Load()
}
