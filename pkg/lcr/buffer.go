package lcr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/itohio/golcr/pkg/device"
)

// maxLineLength bounds a single unterminated line.
const maxLineLength = 4096

// LineBuffer accumulates received lines. The reader appends, the sequencer
// drains; both are serialized by the buffer's mutex.
type LineBuffer struct {
	mu    sync.Mutex
	lines []string
}

// NewLineBuffer creates an empty buffer.
func NewLineBuffer() *LineBuffer {
	return &LineBuffer{}
}

// Append adds a line.
func (b *LineBuffer) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Drain empties the buffer and returns what it held.
func (b *LineBuffer) Drain() []string {
	b.mu.Lock()
	lines := b.lines
	b.lines = nil
	b.mu.Unlock()
	return lines
}

// Len returns the number of buffered lines.
func (b *LineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Contains reports whether any buffered line equals token, ignoring case.
func (b *LineBuffer) Contains(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range b.lines {
		if strings.EqualFold(line, token) {
			return true
		}
	}
	return false
}

// readLines reads r until it fails or ctx is cancelled, appending every
// non-empty line to buf. Zero-byte reads (read timeouts) are not errors.
func readLines(ctx context.Context, name string, r io.Reader, buf *LineBuffer) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic in %s reader: %v", name, rec)
		}
	}()

	chunk := make([]byte, 256)
	var pending []byte
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := r.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := strings.TrimSpace(string(pending[:i]))
				pending = pending[i+1:]
				if line != "" {
					buf.Append(line)
				}
			}
			if len(pending) > maxLineLength {
				log.Printf("WARNING: %s: discarding %d bytes without line terminator", name, len(pending))
				pending = nil
			}
		}
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				log.Printf("WARNING: %s: reader stopped: %v", name, err)
			}
			return
		}
	}
}

// waitReady blocks until the ready token shows up in buf or the ready delay
// passes. An absent token fails with device.ErrTimeout.
func waitReady(ctx context.Context, buf *LineBuffer, opts Options) error {
	if opts.ReadyToken == "" {
		return device.Sleep(ctx, opts.ReadyDelay)
	}

	deadline := time.Now().Add(opts.ReadyTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if buf.Contains(opts.ReadyToken) {
			return nil
		}
		if time.Now().After(deadline) {
			return device.Permanent(fmt.Errorf("%w: instrument did not report '%s' within %s",
				device.ErrTimeout, opts.ReadyToken, opts.ReadyTimeout))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
