package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/itohio/golcr/pkg/experiment"
	"github.com/itohio/golcr/pkg/pinmap"
)

// Board is a validated board description with resolved pin groups.
type Board struct {
	Name    string
	Config  BoardConfig
	Model   pinmap.Model
	Sensors []pinmap.Group
	Valves  []pinmap.Group
}

// Layout says which board switches the valves and which the sensors.
// A single board may do both.
type Layout struct {
	Boards      []Board
	ValveBoard  int
	SensorBoard int
}

// Single reports whether one board hosts both valves and sensors.
func (l *Layout) Single() bool {
	return len(l.Boards) == 1
}

// Valves returns the valve pin groups.
func (l *Layout) Valves() []pinmap.Group {
	return l.Boards[l.ValveBoard].Valves
}

// Sensors returns the sensor pin groups.
func (l *Layout) Sensors() []pinmap.Group {
	return l.Boards[l.SensorBoard].Sensors
}

// Validate parses every setting that can be wrong and derives the board
// layout. Errors wrap pinmap.ErrInvalidPinFormat or experiment.ErrNotConfigured.
func (c *Config) Validate() (*Layout, error) {
	if _, err := c.Params(); err != nil {
		return nil, err
	}
	switch strings.ToUpper(c.Serial.Aperture) {
	case "SLOW", "MED", "FAST":
	default:
		return nil, fmt.Errorf("%w: unknown aperture %q", experiment.ErrNotConfigured, c.Serial.Aperture)
	}

	b1, err := parseBoard("arduino1", c.Arduino1)
	if err != nil {
		return nil, err
	}
	b2, err := parseBoard("arduino2", c.Arduino2)
	if err != nil {
		return nil, err
	}

	var l *Layout
	switch {
	case len(b2.Sensors) == 0 && len(b2.Valves) == 0:
		l = &Layout{Boards: []Board{b1}}
	case len(b1.Valves) > 0 && len(b2.Valves) > 0:
		return nil, fmt.Errorf("%w: valves configured on both boards", experiment.ErrNotConfigured)
	case len(b1.Valves) > 0:
		l = &Layout{Boards: []Board{b1, b2}, ValveBoard: 0, SensorBoard: 1}
	default:
		l = &Layout{Boards: []Board{b1, b2}, ValveBoard: 1, SensorBoard: 0}
	}

	if len(l.Valves()) == 0 {
		return nil, fmt.Errorf("%w: no valves configured", experiment.ErrNotConfigured)
	}
	if len(l.Sensors()) == 0 {
		return nil, fmt.Errorf("%w: no sensors configured on %s", experiment.ErrNotConfigured, l.Boards[l.SensorBoard].Name)
	}
	if !l.Single() {
		other := l.Boards[1-l.ValveBoard]
		if len(l.Boards[l.ValveBoard].Sensors) > 0 || len(other.Valves) > 0 {
			return nil, fmt.Errorf("%w: with two boards one must hold only valves and the other only sensors",
				experiment.ErrNotConfigured)
		}
	}
	return l, nil
}

func parseBoard(name string, bc BoardConfig) (Board, error) {
	model, err := pinmap.ParseModel(bc.Model)
	if err != nil {
		return Board{}, fmt.Errorf("%s: %w", name, err)
	}
	sensors, err := pinmap.ParseGroups(bc.Sensors, model)
	if err != nil {
		return Board{}, fmt.Errorf("%s sensors: %w", name, err)
	}
	valves, err := pinmap.ParseGroups(bc.Valves, model)
	if err != nil {
		return Board{}, fmt.Errorf("%s valves: %w", name, err)
	}
	return Board{
		Name:    name,
		Config:  bc,
		Model:   model,
		Sensors: sensors,
		Valves:  valves,
	}, nil
}

// Params converts the experiment section into sequencer parameters.
func (c *Config) Params() (experiment.Params, error) {
	e := c.Experiment
	p := experiment.Params{
		ValveLoops:  e.ValvesLoop,
		SensorLoops: e.SensorsLoop,
		Window:      time.Duration(e.SensorsDuration * float64(time.Second)),
		Settle:      e.Settle,
		StartDelay:  e.StartDelay,
	}
	switch {
	case p.ValveLoops < 1:
		return p, fmt.Errorf("%w: valves_loop must be positive, got %d", experiment.ErrNotConfigured, p.ValveLoops)
	case p.SensorLoops < 1:
		return p, fmt.Errorf("%w: sensors_loop must be positive, got %d", experiment.ErrNotConfigured, p.SensorLoops)
	case p.Window <= 0:
		return p, fmt.Errorf("%w: sensors_duration must be positive, got %v", experiment.ErrNotConfigured, e.SensorsDuration)
	case p.Settle < 0 || p.StartDelay < 0:
		return p, fmt.Errorf("%w: negative delay", experiment.ErrNotConfigured)
	}
	return p, nil
}
