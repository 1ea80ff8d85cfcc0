package lcr

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/golcr/pkg/device"
)

// Options configures the meter connection.
type Options struct {
	Name     string
	Port     string
	BaudRate int
	DataBits int
	// Parity is one of N, E, O, M, S.
	Parity string
	// StopBits is 1, 1.5 or 2.
	StopBits    float64
	ReadTimeout time.Duration

	Aperture      string
	ApertureCount int

	// ReadyToken, when set, is a line the meter must send before it is
	// configured. Otherwise ReadyDelay is waited.
	ReadyToken   string
	ReadyDelay   time.Duration
	ReadyTimeout time.Duration
	Settle       time.Duration

	Attempts int
	Delay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "lcr"
	}
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.Parity == "" {
		o.Parity = "N"
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.Aperture == "" {
		o.Aperture = ApertureSlow
	}
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.Settle == 0 {
		o.Settle = DefaultSettle
	}
	if o.Attempts == 0 {
		o.Attempts = device.DefaultAttempts
	}
	if o.Delay == 0 {
		o.Delay = device.DefaultDelay
	}
	return o
}

func (o Options) connector() *device.Connector {
	c := device.NewConnector(o.Name)
	c.Attempts = o.Attempts
	c.Delay = o.Delay
	return c
}

// Mode converts the options into a serial port mode.
func (o Options) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: o.DataBits,
	}

	switch strings.ToUpper(o.Parity) {
	case "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	case "M", "MARK":
		mode.Parity = serial.MarkParity
	case "S", "SPACE":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity %q", o.Parity)
	}

	switch o.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %v", o.StopBits)
	}

	return mode, nil
}

// Serial is an LCR meter on a serial port.
type Serial struct {
	opts  Options
	conn  *device.Connector
	lines *LineBuffer
	open  func() (io.ReadWriteCloser, error)

	mu     sync.Mutex
	port   io.ReadWriteCloser
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a meter connection. It does not touch the port until Connect.
func New(opts Options) *Serial {
	opts = opts.withDefaults()
	s := &Serial{
		opts:  opts,
		conn:  opts.connector(),
		lines: NewLineBuffer(),
	}
	s.open = s.openPort
	return s
}

func (s *Serial) openPort() (io.ReadWriteCloser, error) {
	mode, err := s.opts.Mode()
	if err != nil {
		return nil, device.Permanent(err)
	}
	port, err := serial.Open(s.opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.opts.Port, err)
	}
	if s.opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(s.opts.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", s.opts.Port, err)
		}
	}
	return port, nil
}

// Connect opens the port, starts the line reader and switches the meter to
// continuous measurement, retrying as configured.
func (s *Serial) Connect(ctx context.Context) error {
	if s.IsConnected() {
		return fmt.Errorf("%s: already connected", s.opts.Name)
	}
	return s.conn.Connect(ctx, func() error {
		port, err := s.open()
		if err != nil {
			return err
		}
		s.start(port)

		if err := initialize(ctx, s, s.opts); err != nil {
			s.stop()
			return err
		}
		return nil
	})
}

func (s *Serial) start(port io.ReadWriteCloser) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.port = port
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		readLines(ctx, s.opts.Name, port, s.lines)
	}()
}

// stop cancels the reader and closes the port. It reports whether the port
// was open.
func (s *Serial) stop() (bool, error) {
	s.mu.Lock()
	port, cancel, done := s.port, s.cancel, s.done
	s.port, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if port == nil {
		return false, nil
	}

	cancel()
	err := port.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		log.Printf("WARNING: %s: reader did not stop", s.opts.Name)
	}
	return true, err
}

// Close stops the reader and closes the port. Calling it more than once is safe.
func (s *Serial) Close() error {
	s.conn.MarkClosed()
	wasOpen, err := s.stop()
	if err != nil {
		return fmt.Errorf("%s: close: %w", s.opts.Name, err)
	}
	if wasOpen {
		log.Printf("%s: closed", s.opts.Name)
	}
	return nil
}

// IsConnected returns whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Command sends a single command line to the meter.
func (s *Serial) Command(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return fmt.Errorf("%w: %s not connected", device.ErrDeviceIO, s.opts.Name)
	}
	if _, err := s.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("%w: %s: failed to send %q: %v", device.ErrDeviceIO, s.opts.Name, cmd, err)
	}
	log.Printf("%s: sent %s", s.opts.Name, cmd)
	return nil
}

// Lines returns the buffer the reader appends to.
func (s *Serial) Lines() *LineBuffer {
	return s.lines
}
