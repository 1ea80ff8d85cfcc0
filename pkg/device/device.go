// Package device provides the bounded-retry connection machinery shared by
// the Arduino boards and the LCR meter.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrDeviceNotFound is returned when a connection exhausted its attempts.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrTimeout is returned when a device did not become ready in time.
	ErrTimeout = errors.New("device not ready, timed out")

	// ErrDeviceIO is returned when a read or write fails on a connected device.
	ErrDeviceIO = errors.New("device I/O error")
)

const (
	// DefaultAttempts is the number of connection attempts before giving up.
	DefaultAttempts = 4
	// DefaultDelay is the pause between connection attempts.
	DefaultDelay = time.Second
)

// State is the connection state of a device.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Retry runs op up to attempts times, waiting delay between failures.
// It returns the number of attempts made and the last error, if every attempt
// failed. A cancelled context stops the retry loop early.
func Retry(ctx context.Context, attempts int, delay time.Duration, op func() error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	n := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx)
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		n++
		return op()
	}, b)
	if err == nil {
		return n, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w (last error: %v)", ctxErr, err)
	}
	return n, err
}

// Permanent marks err as not worth retrying. Retry stops and returns err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connector drives one device through Disconnected -> Connecting -> Connected,
// or to Failed once the attempt budget is exhausted.
type Connector struct {
	Name     string
	Attempts int
	Delay    time.Duration

	mu    sync.RWMutex
	state State
}

// NewConnector creates a connector with the default retry budget.
func NewConnector(name string) *Connector {
	return &Connector{
		Name:     name,
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
	}
}

// Connect calls open until it succeeds or the attempts are used up.
// On exhaustion the returned error wraps ErrDeviceNotFound.
func (c *Connector) Connect(ctx context.Context, open func() error) error {
	c.setState(Connecting)
	log.Printf("Searching '%s' device...", c.Name)

	attempt := 0
	n, err := Retry(ctx, c.Attempts, c.Delay, func() error {
		attempt++
		err := open()
		if err != nil {
			log.Printf("WARNING: device '%s' not found or serial port in use (attempt %d/%d): %v",
				c.Name, attempt, c.Attempts, err)
		}
		return err
	})
	if err != nil {
		c.setState(Failed)
		if ctx.Err() != nil {
			return fmt.Errorf("connect %s: %w", c.Name, err)
		}
		return fmt.Errorf("%w: unable to connect to '%s' after %d attempts: %w", ErrDeviceNotFound, c.Name, n, err)
	}

	c.setState(Connected)
	log.Printf("Device '%s' connected successfully", c.Name)
	return nil
}

// MarkClosed records that the underlying transport has been closed.
// It reports whether the device was open before the call.
func (c *Connector) MarkClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasOpen := c.state == Connected
	c.state = Closed
	return wasOpen
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
