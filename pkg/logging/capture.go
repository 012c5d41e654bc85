package logging

import (
	"strings"
	"sync"
)

// LineCapture keeps the most recent line written to it and counts writes,
// so pollers can tell a repeated line from a new one.
type LineCapture struct {
	mu   sync.RWMutex
	line string
	seq  uint64
}

var (
	// GlobalLogCapture holds the latest INFO+ server log line.
	GlobalLogCapture = &LineCapture{}
	// GlobalEventCapture holds the latest status event line.
	GlobalEventCapture = &LineCapture{}
)

// Write implements io.Writer.
func (c *LineCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line = strings.TrimRight(string(p), "\n")
	c.seq++
	return len(p), nil
}

// Last returns the latest line and its sequence number. Seq 0 means nothing was written.
func (c *LineCapture) Last() (line string, seq uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.line, c.seq
}
