package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGelfSink connects a GELF UDP writer that can be handed to Setup as an
// extra sink. Each log line is shipped to Graylog as its own message; the
// socket lives for the rest of the process.
func NewGelfSink(addr, facility string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting gelf writer to %s: %w", addr, err)
	}
	w.Facility = facility
	return w, nil
}
