// Package sample parses LCR meter data lines into measurement samples.
package sample

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedSample is returned for lines that are not "<primary>,<secondary>".
var ErrMalformedSample = errors.New("malformed sample")

// Sample is one primary/secondary reading of the meter.
type Sample struct {
	Primary   float64
	Secondary float64
}

// Parse parses a line of the form "<primary>,<secondary>".
// Example: 1.23456E-09,4.5678E-03
func Parse(line string) (Sample, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 2 {
		return Sample{}, fmt.Errorf("%w: expected 2 comma-separated values, got %d", ErrMalformedSample, len(parts))
	}

	primary, err := parseFloat(parts[0])
	if err != nil {
		return Sample{}, fmt.Errorf("%w: invalid primary: %v", ErrMalformedSample, err)
	}
	secondary, err := parseFloat(parts[1])
	if err != nil {
		return Sample{}, fmt.Errorf("%w: invalid secondary: %v", ErrMalformedSample, err)
	}

	return Sample{Primary: primary, Secondary: secondary}, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return v, nil
}

// ParseLines parses every line, logging and dropping the malformed ones.
// It returns the parsed samples in order and the number of dropped lines.
func ParseLines(lines []string) ([]Sample, int) {
	samples := make([]Sample, 0, len(lines))
	dropped := 0
	for _, line := range lines {
		s, err := Parse(line)
		if err != nil {
			log.Printf("WARNING: dropping line '%s': %v", line, err)
			dropped++
			continue
		}
		samples = append(samples, s)
	}
	return samples, dropped
}

// Stats summarizes a series of values.
type Stats struct {
	N    int
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Summarize computes the mean, population standard deviation and range of values.
func Summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	st := Stats{N: len(values), Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - st.Mean
		sq += d * d
	}
	st.Std = math.Sqrt(sq / float64(len(values)))
	return st
}
