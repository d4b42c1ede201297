package connectproxy

import (
	"time"

	"github.com/dustin/go-humanize"
	ratecounter "github.com/enterprizesoftware/rate-counter"
)

// trafficCounters tracks relayed byte volume and rate for one connection's
// two directions, generalizing the teacher's ui.TrafficRow (ui/ui_data.go)
// which paired the same rate-counter library with a terminal traffic table
// we do not carry (no TUI is in scope for this library).
type trafficCounters struct {
	clientToOrigin *ratecounter.Rate
	originToClient *ratecounter.Rate
}

func newTrafficCounters() *trafficCounters {
	return &trafficCounters{
		clientToOrigin: ratecounter.New(100*time.Millisecond, 5*time.Second),
		originToClient: ratecounter.New(100*time.Millisecond, 5*time.Second),
	}
}

func (t *trafficCounters) recordClientToOrigin(n int) {
	t.clientToOrigin.IncrementBy(n)
}

func (t *trafficCounters) recordOriginToClient(n int) {
	t.originToClient.IncrementBy(n)
}

// summary renders a human-readable teardown summary, e.g. "up 1.2 MB, down
// 800 kB", matching the teacher's use of go-humanize for byte formatting.
func (t *trafficCounters) summary() string {
	return "up " + humanize.Bytes(t.clientToOrigin.Total()) +
		", down " + humanize.Bytes(t.originToClient.Total())
}
