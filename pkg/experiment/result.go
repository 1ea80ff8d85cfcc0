package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/itohio/golcr/pkg/sample"
)

// Series holds the readings of one sensor position, accumulated across
// sensor loop repetitions.
type Series struct {
	Primary   []float64 `json:"primary"`
	Secondary []float64 `json:"secondary"`
}

// NewSeries creates an empty series.
func NewSeries() Series {
	return Series{Primary: []float64{}, Secondary: []float64{}}
}

// Append adds samples to the series.
func (s *Series) Append(samples ...sample.Sample) {
	for _, smp := range samples {
		s.Primary = append(s.Primary, smp.Primary)
		s.Secondary = append(s.Secondary, smp.Secondary)
	}
}

// Len returns the number of readings.
func (s Series) Len() int {
	return len(s.Primary)
}

// Values returns the readings of the named parameter, "primary" or "secondary".
func (s Series) Values(param string) []float64 {
	if param == ParamSecondary {
		return s.Secondary
	}
	return s.Primary
}

func (s Series) MarshalJSON() ([]byte, error) {
	type plain Series
	p := plain(s)
	if p.Primary == nil {
		p.Primary = []float64{}
	}
	if p.Secondary == nil {
		p.Secondary = []float64{}
	}
	return json.Marshal(p)
}

// Parameter names of a Series.
const (
	ParamPrimary   = "primary"
	ParamSecondary = "secondary"
)

// SeriesParams lists the parameter names in output order.
var SeriesParams = []string{ParamPrimary, ParamSecondary}

// Sensors maps sensor labels (S0, S1, ...) to their series.
type Sensors map[string]Series

// Labels returns the sensor labels in ascending position order.
func (s Sensors) Labels() []string {
	labels := make([]string, 0, len(s))
	for l := range s {
		labels = append(labels, l)
	}
	SortLabels(labels)
	return labels
}

func (s Sensors) MarshalJSON() ([]byte, error) {
	return marshalOrdered(s.Labels(), func(l string) any { return s[l] })
}

// Cycle is the result of one pass over every valve position, keyed by valve
// label (V0, V1, ...).
type Cycle map[string]Sensors

// Labels returns the valve labels in ascending position order.
func (c Cycle) Labels() []string {
	labels := make([]string, 0, len(c))
	for l := range c {
		labels = append(labels, l)
	}
	SortLabels(labels)
	return labels
}

func (c Cycle) MarshalJSON() ([]byte, error) {
	return marshalOrdered(c.Labels(), func(l string) any { return c[l] })
}

// Result holds one Cycle per valve loop repetition.
type Result []Cycle

// ValveLabels returns every valve label present in any cycle, in order.
func (r Result) ValveLabels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, c := range r {
		for l := range c {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	SortLabels(labels)
	return labels
}

// SensorLabels returns every sensor label recorded for valve in any cycle, in order.
func (r Result) SensorLabels(valve string) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, c := range r {
		for l := range c[valve] {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	SortLabels(labels)
	return labels
}

// ValveLabel returns the label of valve position i.
func ValveLabel(i int) string { return "V" + strconv.Itoa(i) }

// SensorLabel returns the label of sensor position i.
func SensorLabel(i int) string { return "S" + strconv.Itoa(i) }

// SortLabels sorts labels by prefix, then by numeric suffix, so V2 comes
// before V10.
func SortLabels(labels []string) {
	sort.Slice(labels, func(i, j int) bool {
		pi, ni, oki := splitLabel(labels[i])
		pj, nj, okj := splitLabel(labels[j])
		if pi != pj || !oki || !okj {
			return labels[i] < labels[j]
		}
		return ni < nj
	})
}

func splitLabel(l string) (string, int, bool) {
	i := strings.IndexFunc(l, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return l, 0, false
	}
	n, err := strconv.Atoi(l[i:])
	if err != nil {
		return l, 0, false
	}
	return l[:i], n, true
}

func marshalOrdered(keys []string, value func(string) any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(value(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
