package lcr

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/itohio/golcr/pkg/device"
)

// MockOptions shapes the readings produced by Mock.
type MockOptions struct {
	Primary    float64
	Secondary  float64
	Noise      float64 // relative noise amplitude
	SampleRate time.Duration
	Seed       int64
}

// Mock simulates an LCR meter for testing and dry runs. It streams
// "<primary>,<secondary>" lines while triggered internally.
type Mock struct {
	opts  Options
	mopts MockOptions
	conn  *device.Connector
	lines *LineBuffer

	// FailConnects makes the first N connection attempts fail; negative
	// values make every attempt fail.
	FailConnects int

	mu        sync.Mutex
	connected bool
	attempts  int
	triggered bool
	aperture  string
	commands  []string
	rnd       *rand.Rand
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMock creates a new mocked meter.
func NewMock(opts Options, mopts MockOptions) *Mock {
	opts = opts.withDefaults()
	if mopts.SampleRate <= 0 {
		mopts.SampleRate = 100 * time.Millisecond
	}
	if mopts.Seed == 0 {
		mopts.Seed = time.Now().UnixNano()
	}
	return &Mock{
		opts:  opts,
		mopts: mopts,
		conn:  opts.connector(),
		lines: NewLineBuffer(),
		rnd:   rand.New(rand.NewSource(mopts.Seed)),
	}
}

// Connect simulates connecting and configuring the meter.
func (m *Mock) Connect(ctx context.Context) error {
	if m.IsConnected() {
		return fmt.Errorf("%s: already connected", m.opts.Name)
	}
	return m.conn.Connect(ctx, func() error {
		m.mu.Lock()
		m.attempts++
		if m.FailConnects < 0 || m.attempts <= m.FailConnects {
			m.mu.Unlock()
			return errors.New("mock meter not responding")
		}
		m.mu.Unlock()

		m.start()
		if m.opts.ReadyToken != "" {
			m.lines.Append(m.opts.ReadyToken)
		}
		if err := initialize(ctx, m, m.opts); err != nil {
			m.stop()
			return err
		}
		return nil
	})
}

func (m *Mock) start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.connected = true
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.generateLines(ctx, done)
}

func (m *Mock) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.connected = false
	m.triggered = false
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Close stops the mocked meter.
func (m *Mock) Close() error {
	m.conn.MarkClosed()
	m.stop()
	return nil
}

// IsConnected returns whether the mocked meter is connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Command interprets APER and TRIG:SOUR commands.
func (m *Mock) Command(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("%w: %s not connected", device.ErrDeviceIO, m.opts.Name)
	}
	m.commands = append(m.commands, cmd)

	switch {
	case cmd == TriggerCommand(TriggerInternal):
		m.triggered = true
	case cmd == TriggerCommand(TriggerManual):
		m.triggered = false
	case strings.HasPrefix(cmd, "APER "):
		m.aperture = strings.TrimPrefix(cmd, "APER ")
	default:
		return fmt.Errorf("%w: %s: unknown command %q", device.ErrDeviceIO, m.opts.Name, cmd)
	}
	return nil
}

// Lines returns the buffer the generator appends to.
func (m *Mock) Lines() *LineBuffer {
	return m.lines
}

// Commands returns every command received, in order.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Attempts returns the number of connection attempts made.
func (m *Mock) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Triggered reports whether the meter is measuring continuously.
func (m *Mock) Triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// Aperture returns the last aperture setting.
func (m *Mock) Aperture() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aperture
}

func (m *Mock) generateLines(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.mopts.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if line, ok := m.generateLine(); ok {
				m.lines.Append(line)
			}
		}
	}
}

func (m *Mock) generateLine() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.triggered {
		return "", false
	}
	p := m.mopts.Primary * (1 + m.mopts.Noise*(2*m.rnd.Float64()-1))
	s := m.mopts.Secondary * (1 + m.mopts.Noise*(2*m.rnd.Float64()-1))
	return fmt.Sprintf("%+.5E,%+.5E", p, s), true
}
