// Package output switches groups of digital pins on one board so that exactly
// the requested positions are ON.
package output

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/itohio/golcr/pkg/board"
	"github.com/itohio/golcr/pkg/pinmap"
)

var (
	// ErrDeviceIO is returned when a pin write fails.
	ErrDeviceIO = board.ErrDeviceIO

	// ErrPolarityLocked is returned by InvertPolarity after the first Activate.
	ErrPolarityLocked = errors.New("polarity can only be changed before the first activation")

	// ErrNoSuchPosition is returned when Activate is asked for an unknown position.
	ErrNoSuchPosition = errors.New("no such position")
)

// DefaultPace is the minimum interval between two pin writes.
const DefaultPace = 100 * time.Millisecond

// Writer is the part of a board the controller needs.
type Writer interface {
	SetDigitalOutput(pin int) error
	DigitalWrite(pin int, level board.Level) error
}

// Polarity holds the levels written for ON and OFF.
type Polarity struct {
	On  board.Level
	Off board.Level
}

var (
	// Normal drives ON pins high.
	Normal = Polarity{On: board.High, Off: board.Low}
	// Inverted drives ON pins low, for active-low relay boards.
	Inverted = Polarity{On: board.Low, Off: board.High}
)

// Inverse returns the polarity with ON and OFF swapped.
func (p Polarity) Inverse() Polarity {
	return Polarity{On: p.Off, Off: p.On}
}

// Option configures a Controller.
type Option func(*Controller)

// WithPace sets the minimum interval between pin writes. Zero disables pacing.
func WithPace(d time.Duration) Option {
	return func(c *Controller) { c.pace = d }
}

// WithPolarity sets the ON/OFF levels, including for the initial OFF writes.
func WithPolarity(p Polarity) Option {
	return func(c *Controller) { c.polarity = p }
}

// WithName sets the name used in log and error messages.
func WithName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// Controller owns the pin groups of one board.
type Controller struct {
	name   string
	w      Writer
	groups []pinmap.Group
	pace   time.Duration

	limiter *rate.Limiter

	mu        sync.Mutex
	polarity  Polarity
	activated bool
	levels    map[int]board.Level
}

// New configures every pin of groups as an output and drives it OFF.
func New(ctx context.Context, w Writer, groups []pinmap.Group, opts ...Option) (*Controller, error) {
	c := &Controller{
		name:     "output",
		w:        w,
		groups:   cloneGroups(groups),
		pace:     DefaultPace,
		polarity: Normal,
		levels:   make(map[int]board.Level),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pace > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.pace), 1)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	for _, pin := range c.pins() {
		if err := c.w.SetDigitalOutput(pin); err != nil {
			return nil, c.wrap(pin, err)
		}
		if err := c.write(ctx, pin, c.polarity.Off); err != nil {
			return nil, err
		}
	}
	log.Printf("output %s: %d groups configured, polarity on=%s off=%s",
		c.name, len(c.groups), c.polarity.On, c.polarity.Off)
	return c, nil
}

// Name returns the controller name.
func (c *Controller) Name() string { return c.name }

// Len returns the number of positions.
func (c *Controller) Len() int { return len(c.groups) }

// Groups returns a copy of the configured pin groups.
func (c *Controller) Groups() []pinmap.Group { return cloneGroups(c.groups) }

// Polarity returns the current ON/OFF levels.
func (c *Controller) Polarity() Polarity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polarity
}

// Levels returns the last level written to every pin.
func (c *Controller) Levels() map[int]board.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	levels := make(map[int]board.Level, len(c.levels))
	for pin, l := range c.levels {
		levels[pin] = l
	}
	return levels
}

// InvertPolarity swaps the ON and OFF levels. It fails once Activate has been
// called, since pins already written would keep the old meaning.
func (c *Controller) InvertPolarity() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activated {
		return fmt.Errorf("output %s: %w", c.name, ErrPolarityLocked)
	}
	c.polarity = c.polarity.Inverse()
	return nil
}

// Activate writes ON to every pin of the given positions and OFF to all
// other pins. Groups are visited in ascending order and every pin is written
// exactly once. A cancelled context is only checked before the first write.
func (c *Controller) Activate(ctx context.Context, positions ...int) error {
	active := make(map[int]bool, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(c.groups) {
			return fmt.Errorf("output %s: %w: %d (have %d)", c.name, ErrNoSuchPosition, p, len(c.groups))
		}
		active[p] = true
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	c.activated = true
	pol := c.polarity
	c.mu.Unlock()

	want := make(map[int]board.Level)
	for i, g := range c.groups {
		for _, pin := range g {
			if active[i] {
				want[pin] = pol.On
			} else if _, ok := want[pin]; !ok {
				want[pin] = pol.Off
			}
		}
	}

	for _, pin := range c.pins() {
		if err := c.write(ctx, pin, want[pin]); err != nil {
			return err
		}
	}
	return nil
}

// DeactivateAll writes OFF to every pin.
func (c *Controller) DeactivateAll(ctx context.Context) error {
	return c.Activate(ctx)
}

// Active returns the positions whose pins are all currently ON.
func (c *Controller) Active() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var active []int
	for i, g := range c.groups {
		on := len(g) > 0
		for _, pin := range g {
			if l, ok := c.levels[pin]; !ok || l != c.polarity.On {
				on = false
				break
			}
		}
		if on {
			active = append(active, i)
		}
	}
	sort.Ints(active)
	return active
}

// pins returns every distinct pin in group order.
func (c *Controller) pins() []int {
	seen := make(map[int]bool)
	var pins []int
	for _, g := range c.groups {
		for _, pin := range g {
			if seen[pin] {
				continue
			}
			seen[pin] = true
			pins = append(pins, pin)
		}
	}
	return pins
}

func (c *Controller) write(ctx context.Context, pin int, level board.Level) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := c.w.DigitalWrite(pin, level); err != nil {
		return c.wrap(pin, err)
	}
	c.mu.Lock()
	c.levels[pin] = level
	c.mu.Unlock()
	return nil
}

func (c *Controller) wrap(pin int, err error) error {
	if errors.Is(err, ErrDeviceIO) {
		return fmt.Errorf("output %s: pin %d: %w", c.name, pin, err)
	}
	return fmt.Errorf("output %s: pin %d: %w: %v", c.name, pin, ErrDeviceIO, err)
}

func cloneGroups(groups []pinmap.Group) []pinmap.Group {
	out := make([]pinmap.Group, len(groups))
	for i, g := range groups {
		out[i] = append(pinmap.Group(nil), g...)
	}
	return out
}
