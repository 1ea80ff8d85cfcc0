// Package pinmap translates user-facing Arduino pin names into physical
// digital pin numbers.
package pinmap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPinFormat is returned for pin identifiers that do not resolve to
// exactly one physical pin.
var ErrInvalidPinFormat = errors.New("invalid pin format")

// Model is an Arduino board model. Its value is the board's digital pin count,
// which is the offset added to analog pin indices.
type Model int

const (
	UNO  Model = 14
	MEGA Model = 54
)

// ParseModel parses a board model name, case-insensitively.
func ParseModel(s string) (Model, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNO":
		return UNO, nil
	case "MEGA":
		return MEGA, nil
	}
	return 0, fmt.Errorf("unknown board model %q", s)
}

// DigitalPins returns the number of digital pins on the board.
func (m Model) DigitalPins() int {
	return int(m)
}

// AnalogPins returns the number of analog inputs, numbered after the
// digital pins.
func (m Model) AnalogPins() int {
	switch m {
	case UNO:
		return 6
	case MEGA:
		return 16
	}
	return 0
}

// Pins returns the number of addressable pins: 20 on an UNO, 70 on a MEGA.
func (m Model) Pins() int {
	return m.DigitalPins() + m.AnalogPins()
}

func (m Model) String() string {
	switch m {
	case UNO:
		return "UNO"
	case MEGA:
		return "MEGA"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Model) UnmarshalText(b []byte) error {
	v, err := ParseModel(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Group is an ordered set of physical pins switched together as one position.
type Group []int

// Resolve converts a pin identifier into a physical digital pin number.
//
// "5" resolves to 5, "D3" to 3 and "A0" to the board's digital pin count
// (14 on an UNO). The prefix is case-insensitive. Pins the model does not
// have are rejected.
func Resolve(id string, m Model) (int, error) {
	pin, err := resolve(id, m)
	if err != nil {
		return 0, err
	}
	if pin >= m.Pins() {
		return 0, fmt.Errorf("%w: %q is pin %d, %s has %d pins", ErrInvalidPinFormat, id, pin, m, m.Pins())
	}
	return pin, nil
}

func resolve(id string, m Model) (int, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return 0, fmt.Errorf("%w: empty identifier", ErrInvalidPinFormat)
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %q is negative", ErrInvalidPinFormat, id)
		}
		return n, nil
	}

	offset := 0
	switch s[0] {
	case 'A', 'a':
		offset = m.DigitalPins()
	case 'D', 'd':
	default:
		return 0, fmt.Errorf("%w: %q has unknown prefix", ErrInvalidPinFormat, id)
	}

	rest := s[1:]
	// Atoi accepts a sign; "A+1" or "D-2" are not pin names.
	if rest == "" || rest[0] == '+' || rest[0] == '-' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPinFormat, id)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPinFormat, id)
	}
	return n + offset, nil
}

// ParseGroup parses comma-separated pin identifiers into a Group.
// Empty members are skipped.
func ParseGroup(s string, m Model) (Group, error) {
	var g Group
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		pin, err := Resolve(part, m)
		if err != nil {
			return nil, err
		}
		g = append(g, pin)
	}
	return g, nil
}

// ParseGroups parses a ';'-joined list of groups, e.g. "A0;A1,A2;;D5".
// Empty groups are skipped, so the result may be shorter than the number of
// separators suggests.
func ParseGroups(s string, m Model) ([]Group, error) {
	var groups []Group
	for _, part := range strings.Split(s, ";") {
		g, err := ParseGroup(part, m)
		if err != nil {
			return nil, err
		}
		if len(g) == 0 {
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}
