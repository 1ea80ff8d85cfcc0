package board

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"gobot.io/x/gobot/v2/platforms/firmata/client"

	"github.com/itohio/golcr/pkg/device"
	"github.com/itohio/golcr/pkg/pinmap"
)

const (
	// DefaultBaudRate is the StandardFirmata / FirmataExpress baud rate.
	DefaultBaudRate = 115200
	// DefaultReadyTimeout bounds the Firmata handshake after opening the port.
	DefaultReadyTimeout = 30 * time.Second
)

// arduinoVIDs are USB vendor ids of Arduino boards and the common USB-serial
// bridges found on clones.
var arduinoVIDs = map[string]bool{
	"2341": true, // Arduino SA
	"2A03": true, // Arduino.org
	"1A86": true, // WCH CH340
	"0403": true, // FTDI
	"10C4": true, // Silicon Labs CP210x
}

// Options configures a board connection.
type Options struct {
	Name  string
	Model pinmap.Model
	// Port is the serial device. When empty the port is auto-detected and
	// Instance selects among the detected boards (1-based).
	Port         string
	Instance     int
	BaudRate     int
	ReadyTimeout time.Duration
	Attempts     int
	Delay        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Model == 0 {
		o.Model = pinmap.UNO
	}
	if o.Instance < 1 {
		o.Instance = 1
	}
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = DefaultReadyTimeout
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

// Firmata is an Arduino running Firmata firmware on a serial port.
type Firmata struct {
	opts Options
	conn *device.Connector
	// dial opens the transport; replaced in tests.
	dial func() (string, io.ReadWriteCloser, error)

	mu     sync.Mutex
	client *client.Client
	port   io.ReadWriteCloser
	pins   int
	ports  [16]byte
}

// New creates a Firmata board. It does not touch the hardware until Connect.
func New(opts Options) *Firmata {
	opts = opts.withDefaults()
	f := &Firmata{
		opts: opts,
		conn: opts.connector(),
	}
	f.dial = f.openPort
	return f
}

// Name returns the board name used in log messages.
func (f *Firmata) Name() string { return f.opts.Name }

// Model returns the board model.
func (f *Firmata) Model() pinmap.Model { return f.opts.Model }

// Connect opens the serial port and performs the Firmata handshake,
// retrying as configured. Exhausted retries wrap device.ErrDeviceNotFound.
// Cancelling ctx aborts a handshake in progress.
func (f *Firmata) Connect(ctx context.Context) error {
	f.mu.Lock()
	connected := f.client != nil
	f.mu.Unlock()
	if connected {
		return fmt.Errorf("board %s: already connected", f.opts.Name)
	}
	return f.conn.Connect(ctx, func() error { return f.open(ctx) })
}

func (f *Firmata) openPort() (string, io.ReadWriteCloser, error) {
	name := f.opts.Port
	if name == "" {
		detected, err := Detect(f.opts.Instance)
		if err != nil {
			return "", nil, err
		}
		log.Printf("board %s: auto-detected port %s", f.opts.Name, detected)
		name = detected
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: f.opts.BaudRate})
	if err != nil {
		return "", nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return name, port, nil
}

func (f *Firmata) open(ctx context.Context) error {
	name, port, err := f.dial()
	if err != nil {
		return err
	}

	c := client.New()
	c.ConnectTimeout = f.opts.ReadyTimeout
	stop := context.AfterFunc(ctx, func() { port.Close() })
	start := time.Now()
	err = c.Connect(port)
	if !stop() {
		if err == nil {
			c.Disconnect()
		}
		return device.Permanent(fmt.Errorf("firmata handshake on %s: %w", name, ctx.Err()))
	}
	if err != nil {
		port.Close()
		if time.Since(start) >= f.opts.ReadyTimeout {
			return device.Permanent(fmt.Errorf("%w: firmata handshake on %s: %v", device.ErrTimeout, name, err))
		}
		return fmt.Errorf("firmata handshake on %s: %w", name, err)
	}

	pins := len(c.Pins())
	if pins < f.opts.Model.Pins() {
		log.Printf("WARNING: board %s reports %d pins, %s has %d", f.opts.Name, pins, f.opts.Model, f.opts.Model.Pins())
	}

	f.mu.Lock()
	f.client = c
	f.port = port
	f.pins = pins
	f.ports = [16]byte{}
	f.mu.Unlock()
	return nil
}

// Close disconnects from the board. Calling it more than once is safe.
func (f *Firmata) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.conn.MarkClosed()
	if f.client == nil {
		return nil
	}
	err := f.client.Disconnect()
	f.client = nil
	f.port = nil
	if err != nil {
		return fmt.Errorf("board %s: close: %w", f.opts.Name, err)
	}
	return nil
}

// IsConnected returns whether the board is currently connected.
func (f *Firmata) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client != nil && f.client.Connected()
}

// SetDigitalOutput configures pin as a digital output.
func (f *Firmata) SetDigitalOutput(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return fmt.Errorf("%w: board %s not connected", ErrDeviceIO, f.opts.Name)
	}
	if err := checkPin(f.opts.Name, pin, f.pins); err != nil {
		return err
	}
	if err := f.client.SetPinMode(pin, client.Output); err != nil {
		return fmt.Errorf("%w: board %s pin %d mode: %v", ErrDeviceIO, f.opts.Name, pin, err)
	}
	return nil
}

// DigitalWrite drives pin to level. The whole 8-pin port is sent, built from
// the levels this board has written so far.
func (f *Firmata) DigitalWrite(pin int, level Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return fmt.Errorf("%w: board %s not connected", ErrDeviceIO, f.opts.Name)
	}
	if err := checkPin(f.opts.Name, pin, min(f.pins, 8*len(f.ports))); err != nil {
		return err
	}

	port, bit := pin/8, byte(1)<<(pin%8)
	value := f.ports[port]
	if level == High {
		value |= bit
	} else {
		value &^= bit
	}
	frame := []byte{client.DigitalMessage | byte(port), value & 0x7F, (value >> 7) & 0x7F}
	if _, err := f.port.Write(frame); err != nil {
		return fmt.Errorf("%w: board %s pin %d: %v", ErrDeviceIO, f.opts.Name, pin, err)
	}
	f.ports[port] = value
	return nil
}

// Port describes a serial port found on the host.
type Port struct {
	Name        string
	Description string
	VID         string
	PID         string
	Serial      string
	Arduino     bool
}

// Ports returns the serial ports present on the host.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		p := Port{Name: d.Name, Description: d.Name}
		if d.IsUSB {
			p.VID = strings.ToUpper(d.VID)
			p.PID = strings.ToUpper(d.PID)
			p.Serial = d.SerialNumber
			p.Arduino = arduinoVIDs[p.VID]
			if d.Product != "" {
				p.Description = d.Product
			}
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Detect returns the serial port of the instance-th (1-based) Arduino-like
// USB device, ordered by port name.
func Detect(instance int) (string, error) {
	ports, err := Ports()
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, p := range ports {
		if p.Arduino {
			candidates = append(candidates, p.Name)
		}
	}
	if instance < 1 || instance > len(candidates) {
		return "", fmt.Errorf("arduino instance %d not found (%d candidate ports)", instance, len(candidates))
	}
	return candidates[instance-1], nil
}
