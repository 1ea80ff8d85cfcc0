// Package lcr talks to a serial LCR meter: it configures the acquisition
// mode and collects the measurement lines the meter streams back.
package lcr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itohio/golcr/pkg/device"
)

const (
	// ApertureSlow, ApertureMedium and ApertureFast are the meter's
	// integration time modes.
	ApertureSlow   = "SLOW"
	ApertureMedium = "MED"
	ApertureFast   = "FAST"

	// TriggerInternal makes the meter measure continuously.
	TriggerInternal = "INT"
	// TriggerManual stops continuous measurement.
	TriggerManual = "MAN"
)

const (
	// DefaultBaudRate of the meter's serial interface.
	DefaultBaudRate = 9600
	// DefaultSettle is the pause before each configuration command.
	DefaultSettle = 200 * time.Millisecond
	// DefaultReadyTimeout bounds the wait for the ready token.
	DefaultReadyTimeout = 30 * time.Second
	// StopSettle is the pause between stopping the trigger and closing the port.
	StopSettle = 100 * time.Millisecond
)

// Instrument defines the interface for LCR meters (real or mocked).
type Instrument interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	Command(cmd string) error
	Lines() *LineBuffer
}

// Ensure Serial implements Instrument.
var _ Instrument = (*Serial)(nil)

// Ensure Mock implements Instrument.
var _ Instrument = (*Mock)(nil)

// ApertureCommand builds the aperture command, e.g. "APER SLOW" or "APER MED,5".
func ApertureCommand(mode string, n int) string {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if n > 0 {
		return fmt.Sprintf("APER %s,%d", mode, n)
	}
	return "APER " + mode
}

// TriggerCommand builds the trigger source command, e.g. "TRIG:SOUR INT".
func TriggerCommand(src string) string {
	return "TRIG:SOUR " + strings.ToUpper(strings.TrimSpace(src))
}

// Stop returns the instrument to manual trigger and closes it.
func Stop(inst Instrument) error {
	if !inst.IsConnected() {
		return inst.Close()
	}
	cmdErr := inst.Command(TriggerCommand(TriggerManual))
	time.Sleep(StopSettle)
	if err := inst.Close(); err != nil {
		return err
	}
	return cmdErr
}

// initialize waits for the instrument to become ready and switches it to
// continuous measurement.
func initialize(ctx context.Context, inst Instrument, opts Options) error {
	if err := waitReady(ctx, inst.Lines(), opts); err != nil {
		return err
	}

	commands := []string{
		ApertureCommand(opts.Aperture, opts.ApertureCount),
		TriggerCommand(TriggerInternal),
	}
	for _, cmd := range commands {
		if err := device.Sleep(ctx, opts.Settle); err != nil {
			return err
		}
		if err := inst.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}
