package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/golcr/pkg/experiment"
)

func testResult() experiment.Result {
	return experiment.Result{
		experiment.Cycle{
			"V0": experiment.Sensors{
				"S0": {Primary: []float64{1.5, 2.5, 3.5}, Secondary: []float64{0.1, 0.2, 0.3}},
				"S1": {Primary: []float64{10, 20}, Secondary: []float64{1, 2}},
			},
		},
		experiment.Cycle{
			"V0": experiment.Sensors{
				"S0": {Primary: []float64{4.5}, Secondary: []float64{0.4}},
				"S1": {Primary: []float64{}, Secondary: []float64{}},
			},
		},
	}
}

func readFile(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	return string(b)
}

func TestNewDir(t *testing.T) {
	base := t.TempDir()
	ts := time.Date(2024, 3, 7, 9, 5, 2, 0, time.Local)

	dir, err := NewDir(base, "alice", ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "alice", "2024-03-07 09h05m02s"), dir)
	assert.DirExists(t, filepath.Join(dir, "primary"))
	assert.DirExists(t, filepath.Join(dir, "secondary"))

	dir, err = NewDir(base, "", ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "2024-03-07 09h05m02s"), dir)
}

func TestWriteDescription(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDescription(dir, ""))
	assert.Equal(t, "No desc", readFile(t, filepath.Join(dir, DescriptionFile)))

	require.NoError(t, WriteDescription(dir, "humidity sweep"))
	assert.Equal(t, "humidity sweep", readFile(t, filepath.Join(dir, DescriptionFile)))
}

func TestWriteJSON_ReadJSON(t *testing.T) {
	dir := t.TempDir()
	r := testResult()
	require.NoError(t, WriteJSON(dir, r))

	got, err := ReadJSON(filepath.Join(dir, JSONFile))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestWriteJSON_Empty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteJSON(dir, nil))
	assert.Equal(t, "[]", readFile(t, filepath.Join(dir, JSONFile)))
}

func TestReadJSON_Errors(t *testing.T) {
	_, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	name := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(name, []byte("{not json"), 0644))
	_, err = ReadJSON(name)
	assert.Error(t, err)
}

func TestWriteSensorCSV(t *testing.T) {
	dir, err := NewDir(t.TempDir(), "", time.Now())
	require.NoError(t, err)
	require.NoError(t, WriteSensorCSV(dir, testResult()))

	assert.Equal(t, ",V0.S0.primary\n0,1.5\n0,2.5\n0,3.5\n1,4.5\n",
		readFile(t, filepath.Join(dir, "primary", "V0-S0.csv")))
	assert.Equal(t, ",V0.S1.secondary\n0,1\n0,2\n1,\n",
		readFile(t, filepath.Join(dir, "secondary", "V0-S1.csv")))
}

func TestWriteValveCSV(t *testing.T) {
	dir, err := NewDir(t.TempDir(), "", time.Now())
	require.NoError(t, err)

	r := testResult()
	r[1]["V0"]["S1"] = experiment.Series{Primary: []float64{30}, Secondary: []float64{3}}
	require.NoError(t, WriteValveCSV(dir, r))

	// shortest series has one reading: every cycle contributes one row
	assert.Equal(t, ",V0.S0.primary,V0.S1.primary\n0,1.5,10\n1,4.5,30\n",
		readFile(t, filepath.Join(dir, "primary", "V0.csv")))
	assert.Equal(t, ",V0.S0.secondary,V0.S1.secondary\n0,0.1,1\n1,0.4,3\n",
		readFile(t, filepath.Join(dir, "secondary", "V0.csv")))
}

func TestWriteValveCSV_EmptySeries(t *testing.T) {
	dir, err := NewDir(t.TempDir(), "", time.Now())
	require.NoError(t, err)
	require.NoError(t, WriteValveCSV(dir, testResult()))
	assert.Equal(t, ",V0.S0.primary,V0.S1.primary\n",
		readFile(t, filepath.Join(dir, "primary", "V0.csv")))
}

func TestWriteAll(t *testing.T) {
	dir, err := NewDir(t.TempDir(), "", time.Now())
	require.NoError(t, err)
	require.NoError(t, WriteAll(dir, testResult(), "run 1"))

	for _, name := range []string{
		DescriptionFile,
		JSONFile,
		filepath.Join("primary", "V0-S0.csv"),
		filepath.Join("primary", "V0-S1.csv"),
		filepath.Join("secondary", "V0.csv"),
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestWriteSensorCSV_CreatesParamDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteSensorCSV(dir, testResult()))
	assert.FileExists(t, filepath.Join(dir, "secondary", "V0-S0.csv"))
}
