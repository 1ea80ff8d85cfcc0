// Package rig connects the boards and the LCR meter of an experiment setup
// and tears them down again.
package rig

import (
	"context"
	"log"
	"sync"

	"go.uber.org/multierr"

	"github.com/itohio/golcr/pkg/board"
	"github.com/itohio/golcr/pkg/config"
	"github.com/itohio/golcr/pkg/experiment"
	"github.com/itohio/golcr/pkg/lcr"
	"github.com/itohio/golcr/pkg/output"
	"github.com/itohio/golcr/pkg/pinmap"
)

// Factory creates the devices of a rig.
type Factory interface {
	Board(opts board.Options) board.Board
	Instrument(opts lcr.Options) lcr.Instrument
}

// Hardware creates Firmata boards and a serial LCR meter.
type Hardware struct{}

// Board creates a Firmata board.
func (Hardware) Board(opts board.Options) board.Board { return board.New(opts) }

// Instrument creates a serial LCR meter.
func (Hardware) Instrument(opts lcr.Options) lcr.Instrument { return lcr.New(opts) }

// Simulated creates mocked devices. The hooks see every device before it is
// connected.
type Simulated struct {
	Meter   lcr.MockOptions
	OnBoard func(*board.Mock)
	OnMeter func(*lcr.Mock)
}

// Board creates a mocked board.
func (s *Simulated) Board(opts board.Options) board.Board {
	m := board.NewMock(opts)
	if s.OnBoard != nil {
		s.OnBoard(m)
	}
	return m
}

// Instrument creates a mocked meter.
func (s *Simulated) Instrument(opts lcr.Options) lcr.Instrument {
	m := lcr.NewMock(opts, s.Meter)
	if s.OnMeter != nil {
		s.OnMeter(m)
	}
	return m
}

// Set is a connected rig.
type Set struct {
	Layout  *config.Layout
	Boards  []board.Board
	Valves  *output.Controller
	Sensors *output.Controller
	Meter   lcr.Instrument

	once        sync.Once
	shutdownErr error
}

// Connect validates cfg, connects every board and then the meter, and
// configures the valve and sensor outputs. On failure whatever was already
// connected is shut down and the error is returned.
func Connect(ctx context.Context, cfg *config.Config, f Factory) (*Set, error) {
	layout, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	s := &Set{Layout: layout}
	fail := func(err error) (*Set, error) {
		if serr := s.Shutdown(); serr != nil {
			log.Printf("Shutdown after failed connect: %v", serr)
		}
		return nil, err
	}

	for _, b := range layout.Boards {
		bd := f.Board(board.Options{
			Name:         b.Name,
			Model:        b.Model,
			Port:         b.Config.Port,
			Instance:     b.Config.Instance,
			BaudRate:     cfg.Connect.BoardBaudRate,
			ReadyTimeout: cfg.Connect.BoardTimeout,
			Attempts:     cfg.Connect.Attempts,
			Delay:        cfg.Connect.Delay,
		})
		if err := bd.Connect(ctx); err != nil {
			return fail(err)
		}
		s.Boards = append(s.Boards, bd)
	}

	meter := f.Instrument(lcr.Options{
		Name:          "lcr",
		Port:          cfg.Serial.Port,
		BaudRate:      cfg.Serial.BaudRate,
		DataBits:      cfg.Serial.ByteSize,
		Parity:        cfg.Serial.Parity,
		StopBits:      cfg.Serial.StopBits,
		ReadTimeout:   cfg.Serial.Timeout,
		Aperture:      cfg.Serial.Aperture,
		ApertureCount: cfg.Serial.ApertureCount,
		ReadyToken:    cfg.Serial.ReadyToken,
		ReadyDelay:    cfg.Serial.ReadyDelay,
		ReadyTimeout:  cfg.Serial.ReadyTimeout,
		Attempts:      cfg.Connect.Attempts,
		Delay:         cfg.Connect.Delay,
	})
	if err := meter.Connect(ctx); err != nil {
		return fail(err)
	}
	s.Meter = meter

	s.Valves, err = s.controller(ctx, layout.ValveBoard, "valves", layout.Valves(), cfg)
	if err != nil {
		return fail(err)
	}
	s.Sensors, err = s.controller(ctx, layout.SensorBoard, "sensors", layout.Sensors(), cfg)
	if err != nil {
		return fail(err)
	}

	log.Printf("Rig ready: %d valves, %d sensors on %d board(s)", s.Valves.Len(), s.Sensors.Len(), len(s.Boards))
	return s, nil
}

func (s *Set) controller(ctx context.Context, idx int, name string, groups []pinmap.Group, cfg *config.Config) (*output.Controller, error) {
	polarity := output.Normal
	if s.Layout.Boards[idx].Config.InvertOnOff {
		polarity = output.Inverted
	}
	return output.New(ctx, s.Boards[idx], groups,
		output.WithName(name),
		output.WithPace(cfg.Connect.PinPace),
		output.WithPolarity(polarity),
	)
}

// Run runs the experiment on the rig.
func (s *Set) Run(ctx context.Context, p experiment.Params, opts ...experiment.Option) (experiment.Result, error) {
	var lines experiment.LineSource
	if s.Meter != nil {
		lines = s.Meter.Lines()
	}
	var valves, sensors experiment.Switcher
	if s.Valves != nil {
		valves = s.Valves
	}
	if s.Sensors != nil {
		sensors = s.Sensors
	}
	return experiment.New(valves, sensors, lines, p, opts...).Run(ctx)
}

// Shutdown returns the meter to manual trigger, switches every output off and
// closes all devices. Every step is attempted; the errors are combined.
// Only the first call does anything.
func (s *Set) Shutdown() error {
	s.once.Do(func() {
		var err error
		if s.Meter != nil {
			err = multierr.Append(err, lcr.Stop(s.Meter))
		}

		ctx := context.Background()
		for _, c := range []*output.Controller{s.Sensors, s.Valves} {
			if c != nil {
				err = multierr.Append(err, c.DeactivateAll(ctx))
			}
		}

		for _, b := range s.Boards {
			err = multierr.Append(err, b.Close())
		}

		s.shutdownErr = err
		if err != nil {
			log.Printf("Shutdown finished with errors: %v", err)
		} else {
			log.Println("Shutdown complete")
		}
	})
	return s.shutdownErr
}
