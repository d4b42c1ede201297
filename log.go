package connectproxy

import (
	"fmt"
	"os"

	"github.com/ccding/go-logging/logging"
)

const (
	logFormat  = "%s %s\n time,message"
	timeFormat = "2006/01/02 15:04:05"
)

// newLogger builds the package-wide logger used by a Proxy and all of its
// connections. Failure to construct a logger is fatal to starting the
// proxy, matching the teacher's logInit behavior.
func newLogger(name string) (*logging.Logger, error) {
	logger, err := logging.CustomizedLogger(name, logging.NOTSET, logFormat, timeFormat,
		os.Stdout, false, logging.DefaultQueueSize, logging.DefaultRequestSize,
		logging.DefaultBufferSize, logging.DefaultTimeInterval)
	if err != nil {
		return nil, fmt.Errorf("connectproxy: unable to create logger: %w", err)
	}
	return logger, nil
}

// traceInfo correlates log lines belonging to the same connection, mirroring
// the teacher's per-request trace identifiers.
type traceInfo struct {
	connID int64
	name   string
}

func newTraceInfo(connID int64, name string) *traceInfo {
	return &traceInfo{connID: connID, name: name}
}

func (t *traceInfo) prefix() string {
	return fmt.Sprintf("(%d) %s", t.connID, t.name)
}
