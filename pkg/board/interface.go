package board

import (
	"context"
	"fmt"

	"github.com/itohio/golcr/pkg/device"
	"github.com/itohio/golcr/pkg/pinmap"
)

// ErrDeviceIO is returned when a pin write fails on a connected board.
var ErrDeviceIO = device.ErrDeviceIO

// Level is the electrical level written to a digital output pin.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Board defines the interface for microcontroller boards (real or mocked).
type Board interface {
	Name() string
	Model() pinmap.Model
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	SetDigitalOutput(pin int) error
	DigitalWrite(pin int, level Level) error
}

// Ensure Firmata implements Board.
var _ Board = (*Firmata)(nil)

// Ensure Mock implements Board.
var _ Board = (*Mock)(nil)

// checkPin rejects pins outside [0, count).
func checkPin(name string, pin, count int) error {
	if pin < 0 || pin >= count {
		return fmt.Errorf("%w: board %s has no pin %d (%d pins)", ErrDeviceIO, name, pin, count)
	}
	return nil
}
