// Package results writes experiment results to an experiment directory as
// JSON and CSV.
package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/itohio/golcr/pkg/experiment"
)

const (
	// JSONFile is the name of the complete result document.
	JSONFile = "results.json"
	// DescriptionFile holds the free-text experiment description.
	DescriptionFile = "desc.txt"
	// NoDescription is written when no description is given.
	NoDescription = "No desc"

	timeLayout = "2006-01-02 15h04m05s"
)

// NewDir creates base/[user/]<timestamp>/ with a subdirectory per parameter
// and returns its path.
func NewDir(base, user string, t time.Time) (string, error) {
	dir := base
	if user != "" {
		dir = filepath.Join(dir, user)
	}
	dir = filepath.Join(dir, t.Format(timeLayout))

	for _, param := range experiment.SeriesParams {
		if err := os.MkdirAll(filepath.Join(dir, param), 0755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return dir, nil
}

// WriteAll writes the description, the JSON document and every CSV file.
func WriteAll(dir string, r experiment.Result, desc string) error {
	if err := WriteDescription(dir, desc); err != nil {
		return err
	}
	if err := WriteJSON(dir, r); err != nil {
		return err
	}
	if err := WriteSensorCSV(dir, r); err != nil {
		return err
	}
	return WriteValveCSV(dir, r)
}

// WriteDescription writes desc.txt.
func WriteDescription(dir, desc string) error {
	if desc == "" {
		desc = NoDescription
	}
	if err := os.WriteFile(filepath.Join(dir, DescriptionFile), []byte(desc), 0644); err != nil {
		return fmt.Errorf("failed to write description: %w", err)
	}
	return nil
}

// WriteJSON writes results.json.
func WriteJSON(dir string, r experiment.Result) error {
	if r == nil {
		r = experiment.Result{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, JSONFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// ReadJSON reads a results.json file.
func ReadJSON(filename string) (experiment.Result, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	var r experiment.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return r, nil
}

// WriteSensorCSV writes <param>/<valve>-<sensor>.csv for every sensor series.
// Each row is the cycle index and one reading; a cycle without readings
// leaves an empty value.
func WriteSensorCSV(dir string, r experiment.Result) error {
	for _, valve := range r.ValveLabels() {
		for _, sensor := range r.SensorLabels(valve) {
			for _, param := range experiment.SeriesParams {
				rows := [][]string{{"", valve + "." + sensor + "." + param}}
				for c, cycle := range r {
					values := cycle[valve][sensor].Values(param)
					if len(values) == 0 {
						rows = append(rows, []string{strconv.Itoa(c), ""})
						continue
					}
					for _, v := range values {
						rows = append(rows, []string{strconv.Itoa(c), formatFloat(v)})
					}
				}

				name := filepath.Join(dir, param, valve+"-"+sensor+".csv")
				if err := writeCSV(name, rows); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// WriteValveCSV writes <param>/<valve>.csv with one column per sensor. Every
// series of the valve is cut to the shortest one so that rows line up.
func WriteValveCSV(dir string, r experiment.Result) error {
	for _, valve := range r.ValveLabels() {
		sensors := r.SensorLabels(valve)
		for _, param := range experiment.SeriesParams {
			minLen := -1
			for _, cycle := range r {
				for _, sensor := range sensors {
					n := len(cycle[valve][sensor].Values(param))
					if minLen < 0 || n < minLen {
						minLen = n
					}
				}
			}

			header := []string{""}
			for _, sensor := range sensors {
				header = append(header, valve+"."+sensor+"."+param)
			}
			rows := [][]string{header}
			idx := 0
			for _, cycle := range r {
				for i := 0; i < minLen; i++ {
					row := []string{strconv.Itoa(idx)}
					for _, sensor := range sensors {
						row = append(row, formatFloat(cycle[valve][sensor].Values(param)[i]))
					}
					rows = append(rows, row)
					idx++
				}
			}

			name := filepath.Join(dir, param, valve+".csv")
			if err := writeCSV(name, rows); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeCSV(name string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
