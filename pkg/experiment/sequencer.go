// Package experiment sequences valve and sensor positions and collects the
// meter readings of every measurement window.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itohio/golcr/pkg/device"
	"github.com/itohio/golcr/pkg/sample"
)

var (
	// ErrNotConfigured is returned when there is nothing to cycle through.
	ErrNotConfigured = errors.New("experiment not configured")

	// ErrAborted is returned when a run stops before visiting every position.
	ErrAborted = errors.New("experiment aborted")
)

const (
	// DefaultSettle is the pause after switching a sensor before measuring.
	DefaultSettle = 500 * time.Millisecond
	// DefaultStartDelay is the pause before the first valve is switched.
	DefaultStartDelay = time.Second
)

// Switcher activates exactly the given positions of one device.
type Switcher interface {
	Activate(ctx context.Context, positions ...int) error
	Len() int
}

// LineSource hands out the lines received since the previous call.
type LineSource interface {
	Drain() []string
}

// Params are the loop counts and timings of a run.
type Params struct {
	ValveLoops  int
	SensorLoops int
	// Window is how long readings are collected for each sensor position.
	Window     time.Duration
	Settle     time.Duration
	StartDelay time.Duration
}

// State of a Sequencer.
type State int

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Progress is reported after every measurement window.
type Progress struct {
	Done   int
	Total  int
	Cycle  int
	Valve  int
	Sensor int
	// Samples is the number of readings collected in the window.
	Samples int
}

// Percent returns the completed share in percent.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Done * 100 / p.Total
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithSleep replaces the context-aware sleep used for every wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sequencer) { s.sleep = fn }
}

// WithProgress registers a callback invoked after every measurement window.
func WithProgress(fn func(Progress)) Option {
	return func(s *Sequencer) { s.progress = fn }
}

// Sequencer runs the valve x sensor measurement loop.
type Sequencer struct {
	valves  Switcher
	sensors Switcher
	src     LineSource
	params  Params

	sleep    func(ctx context.Context, d time.Duration) error
	progress func(Progress)

	mu    sync.RWMutex
	state State
}

// New creates a sequencer switching valves and sensors and reading src.
func New(valves, sensors Switcher, src LineSource, p Params, opts ...Option) *Sequencer {
	s := &Sequencer{
		valves:  valves,
		sensors: sensors,
		src:     src,
		params:  p,
		sleep:   device.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// start moves the sequencer to Running unless it already is.
func (s *Sequencer) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return false
	}
	s.state = Running
	return true
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Validate checks that there is something to run.
func (s *Sequencer) Validate() error {
	switch {
	case s.valves == nil || s.valves.Len() == 0:
		return fmt.Errorf("%w: no valve positions", ErrNotConfigured)
	case s.sensors == nil || s.sensors.Len() == 0:
		return fmt.Errorf("%w: no sensor positions", ErrNotConfigured)
	case s.src == nil:
		return fmt.Errorf("%w: no instrument", ErrNotConfigured)
	case s.params.ValveLoops < 1:
		return fmt.Errorf("%w: valves loop must be positive, got %d", ErrNotConfigured, s.params.ValveLoops)
	case s.params.SensorLoops < 1:
		return fmt.Errorf("%w: sensors loop must be positive, got %d", ErrNotConfigured, s.params.SensorLoops)
	case s.params.Window <= 0:
		return fmt.Errorf("%w: measurement window must be positive, got %s", ErrNotConfigured, s.params.Window)
	}
	return nil
}

// Run visits every valve position ValveLoops times and, for each valve,
// every sensor position SensorLoops times, collecting the readings of each
// measurement window. On abort the fully completed cycles are returned
// together with an error wrapping ErrAborted.
func (s *Sequencer) Run(ctx context.Context) (Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if !s.start() {
		return nil, errors.New("experiment already running")
	}

	p := s.params
	nv, ns := s.valves.Len(), s.sensors.Len()
	prog := Progress{Total: p.ValveLoops * nv * p.SensorLoops * ns}
	result := make(Result, 0, p.ValveLoops)

	abort := func(err error) (Result, error) {
		s.setState(Aborted)
		log.Printf("Experiment aborted after %d of %d windows: %v", prog.Done, prog.Total, err)
		return result, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	log.Printf("Starting experiment: %d valves x %d loops, %d sensors x %d loops, %s window",
		nv, p.ValveLoops, ns, p.SensorLoops, p.Window)
	if err := s.sleep(ctx, p.StartDelay); err != nil {
		return abort(err)
	}

	for c := 0; c < p.ValveLoops; c++ {
		cycle := make(Cycle, nv)
		for v := 0; v < nv; v++ {
			if err := ctx.Err(); err != nil {
				return abort(err)
			}
			if err := s.valves.Activate(ctx, v); err != nil {
				return abort(fmt.Errorf("valve %d: %w", v, err))
			}

			sensors := make(Sensors, ns)
			for r := 0; r < p.SensorLoops; r++ {
				for i := 0; i < ns; i++ {
					n, err := s.measure(ctx, i, sensors)
					if err != nil {
						return abort(err)
					}

					prog.Done++
					prog.Cycle, prog.Valve, prog.Sensor, prog.Samples = c, v, i, n
					s.report(prog)
				}
			}
			cycle[ValveLabel(v)] = sensors
		}
		result = append(result, cycle)
	}

	s.setState(Completed)
	log.Printf("Experiment completed: %d cycles", len(result))
	return result, nil
}

// measure runs one measurement window for sensor position i and appends the
// readings to its series.
func (s *Sequencer) measure(ctx context.Context, i int, sensors Sensors) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.sensors.Activate(ctx, i); err != nil {
		return 0, fmt.Errorf("sensor %d: %w", i, err)
	}
	if err := s.sleep(ctx, s.params.Settle); err != nil {
		return 0, err
	}

	s.src.Drain()
	if err := s.sleep(ctx, s.params.Window); err != nil {
		return 0, err
	}
	samples, dropped := sample.ParseLines(s.src.Drain())
	if dropped > 0 {
		log.Printf("WARNING: sensor %d: dropped %d malformed lines", i, dropped)
	}

	label := SensorLabel(i)
	series, ok := sensors[label]
	if !ok {
		series = NewSeries()
	}
	series.Append(samples...)
	sensors[label] = series
	return len(samples), nil
}

func (s *Sequencer) report(p Progress) {
	log.Printf("Measuring... %d%% completed", p.Percent())
	if s.progress != nil {
		s.progress(p)
	}
}
