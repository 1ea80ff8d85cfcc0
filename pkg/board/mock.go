package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/itohio/golcr/pkg/device"
	"github.com/itohio/golcr/pkg/pinmap"
)

// Write is a single recorded pin write.
type Write struct {
	Pin   int
	Level Level
}

// Mock simulates a Firmata board for testing and dry runs.
type Mock struct {
	opts Options
	conn *device.Connector

	// FailConnects makes the first N connection attempts fail; negative
	// values make every attempt fail.
	FailConnects int
	// FailWritesAfter makes every write after the first N fail; negative
	// values (the default) never fail.
	FailWritesAfter int

	mu        sync.RWMutex
	connected bool
	attempts  int
	outputs   map[int]bool
	levels    map[int]Level
	writes    []Write
}

// NewMock creates a new mocked board.
func NewMock(opts Options) *Mock {
	opts = opts.withDefaults()
	return &Mock{
		opts:            opts,
		conn:            opts.connector(),
		FailWritesAfter: -1,
		outputs:         make(map[int]bool),
		levels:          make(map[int]Level),
	}
}

// Name returns the board name.
func (m *Mock) Name() string { return m.opts.Name }

// Model returns the board model.
func (m *Mock) Model() pinmap.Model { return m.opts.Model }

// Connect simulates connecting to the board, honoring FailConnects.
func (m *Mock) Connect(ctx context.Context) error {
	return m.conn.Connect(ctx, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.attempts++
		if m.FailConnects < 0 || m.attempts <= m.FailConnects {
			return errors.New("mock board not found")
		}
		m.connected = true
		return nil
	})
}

// Close stops the mocked board.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conn.MarkClosed()
	m.connected = false
	return nil
}

// IsConnected returns whether the mocked board is connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetDigitalOutput records the pin as an output. Pins the model does not
// have fail like they would on the board.
func (m *Mock) SetDigitalOutput(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("%w: board %s not connected", ErrDeviceIO, m.opts.Name)
	}
	if err := checkPin(m.opts.Name, pin, m.opts.Model.Pins()); err != nil {
		return err
	}
	m.outputs[pin] = true
	return nil
}

// DigitalWrite records the write.
func (m *Mock) DigitalWrite(pin int, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("%w: board %s not connected", ErrDeviceIO, m.opts.Name)
	}
	if err := checkPin(m.opts.Name, pin, m.opts.Model.Pins()); err != nil {
		return err
	}
	if !m.outputs[pin] {
		return fmt.Errorf("%w: board %s pin %d is not an output", ErrDeviceIO, m.opts.Name, pin)
	}
	if m.FailWritesAfter >= 0 && len(m.writes) >= m.FailWritesAfter {
		return fmt.Errorf("%w: board %s pin %d: simulated failure", ErrDeviceIO, m.opts.Name, pin)
	}
	m.writes = append(m.writes, Write{Pin: pin, Level: level})
	m.levels[pin] = level
	return nil
}

// Attempts returns the number of connection attempts made.
func (m *Mock) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// Writes returns every recorded write in order.
func (m *Mock) Writes() []Write {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Write(nil), m.writes...)
}

// Level returns the last level written to pin and whether it was written.
func (m *Mock) Level(pin int) (Level, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.levels[pin]
	return l, ok
}

// ResetWrites clears the write log, keeping pin levels.
func (m *Mock) ResetWrites() {
	m.mu.Lock()
	m.writes = nil
	m.mu.Unlock()
}
