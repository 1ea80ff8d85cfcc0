package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/golcr/pkg/experiment"
	"github.com/itohio/golcr/pkg/pinmap"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, 4, cfg.Experiment.ValvesLoop)
	assert.Equal(t, 8, cfg.Experiment.SensorsLoop)
	assert.Equal(t, float64(3), cfg.Experiment.SensorsDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.Experiment.Settle)
	assert.Equal(t, "MEGA", cfg.Arduino1.Model)
	assert.Equal(t, 1, cfg.Arduino1.Instance)
	assert.Equal(t, 2, cfg.Arduino2.Instance)
	assert.Equal(t, "/dev/serial0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, time.Second, cfg.Serial.Timeout)
	assert.Equal(t, 4, cfg.Connect.Attempts)
	assert.Equal(t, time.Second, cfg.Connect.Delay)
	assert.Equal(t, "experiments", cfg.Output.Dir)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "golcr.yaml")
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
	return name
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeConfig(t, `
experiment:
  valves_loop: 2
  sensors_loop: 1
  sensors_duration: 1.5
  settle: 250ms

arduino1:
  model: UNO
  port: /dev/ttyACM0
  valves: "D2;D3,D4"
  invert_onoff: 1

arduino2:
  model: mega
  sensors: "A0;A1"

serial:
  port: /dev/ttyUSB0
  aperture: MED
  aperture_count: 5
  ready_timeout: 10s
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Experiment.ValvesLoop)
	assert.Equal(t, 1, cfg.Experiment.SensorsLoop)
	assert.Equal(t, 1.5, cfg.Experiment.SensorsDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.Experiment.Settle)
	assert.Equal(t, time.Second, cfg.Experiment.StartDelay, "unset keys keep defaults")

	assert.Equal(t, "UNO", cfg.Arduino1.Model)
	assert.Equal(t, "/dev/ttyACM0", cfg.Arduino1.Port)
	assert.Equal(t, "D2;D3,D4", cfg.Arduino1.Valves)
	assert.True(t, cfg.Arduino1.InvertOnOff)
	assert.Equal(t, "A0;A1", cfg.Arduino2.Sensors)
	assert.False(t, cfg.Arduino2.InvertOnOff)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, "MED", cfg.Serial.Aperture)
	assert.Equal(t, 5, cfg.Serial.ApertureCount)
	assert.Equal(t, 10*time.Second, cfg.Serial.ReadyTimeout)
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := writeConfig(t, "experiment: [unclosed")
	_, err := Load(name)
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	name := writeConfig(t, "serial:\n  port: /dev/ttyUSB0\n")
	t.Setenv("GOLCR_SERIAL_PORT", "/dev/ttyUSB9")
	t.Setenv("GOLCR_EXPERIMENT_VALVES_LOOP", "7")
	t.Setenv("GOLCR_SERIAL_READY_TOKEN", "READY")

	cfg, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB9", cfg.Serial.Port)
	assert.Equal(t, 7, cfg.Experiment.ValvesLoop)
	assert.Equal(t, "READY", cfg.Serial.ReadyToken)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "serial.ready_token", envKey("GOLCR_SERIAL_READY_TOKEN"))
	assert.Equal(t, "arduino1.invert_onoff", envKey("GOLCR_ARDUINO1_INVERT_ONOFF"))
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Arduino1.Valves = "D2;D3"
	cfg.Arduino1.Sensors = "A0;A1"
	cfg.Experiment.Settle = 750 * time.Millisecond

	name := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(name))

	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestWrite_HumanReadableDurations(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Write(&buf))
	assert.Contains(t, buf.String(), "settle: 500ms")
	assert.Contains(t, buf.String(), "valves_loop: 4")
}

func TestEnsureDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ensureDefaults()

	def := Default()
	assert.Equal(t, def.Arduino1.Model, cfg.Arduino1.Model)
	assert.Equal(t, def.Arduino2.Instance, cfg.Arduino2.Instance)
	assert.Equal(t, def.Serial.BaudRate, cfg.Serial.BaudRate)
	assert.Equal(t, def.Connect.Attempts, cfg.Connect.Attempts)
	assert.Equal(t, def.Output.Dir, cfg.Output.Dir)
	assert.Zero(t, cfg.Experiment.ValvesLoop, "loop counts are validated, not defaulted")
}

func TestValidate_SingleBoard(t *testing.T) {
	cfg := Default()
	cfg.Arduino1.Model = "UNO"
	cfg.Arduino1.Valves = "D2;D3"
	cfg.Arduino1.Sensors = "A0;A1,A2"

	l, err := cfg.Validate()
	require.NoError(t, err)
	assert.True(t, l.Single())
	assert.Equal(t, []pinmap.Group{{2}, {3}}, l.Valves())
	assert.Equal(t, []pinmap.Group{{14}, {15, 16}}, l.Sensors())
	assert.Equal(t, pinmap.UNO, l.Boards[0].Model)
}

func TestValidate_TwoBoards(t *testing.T) {
	tests := []struct {
		name        string
		a1, a2      BoardConfig
		valveBoard  int
		sensorBoard int
	}{
		{
			name:        "valves on arduino1",
			a1:          BoardConfig{Model: "MEGA", Valves: "D2;D3"},
			a2:          BoardConfig{Model: "UNO", Sensors: "A0;A1", InvertOnOff: true},
			valveBoard:  0,
			sensorBoard: 1,
		},
		{
			name:        "valves on arduino2",
			a1:          BoardConfig{Model: "MEGA", Sensors: "A0;A1"},
			a2:          BoardConfig{Model: "UNO", Valves: "D2;D3"},
			valveBoard:  1,
			sensorBoard: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Arduino1, cfg.Arduino2 = tt.a1, tt.a2

			l, err := cfg.Validate()
			require.NoError(t, err)
			assert.False(t, l.Single())
			assert.Equal(t, tt.valveBoard, l.ValveBoard)
			assert.Equal(t, tt.sensorBoard, l.SensorBoard)
			assert.Len(t, l.Valves(), 2)
			assert.Len(t, l.Sensors(), 2)
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		target error
	}{
		{
			name:   "no valves or sensors",
			modify: func(c *Config) {},
			target: experiment.ErrNotConfigured,
		},
		{
			name: "no sensors",
			modify: func(c *Config) {
				c.Arduino1.Valves = "D2"
			},
			target: experiment.ErrNotConfigured,
		},
		{
			name: "bad pin",
			modify: func(c *Config) {
				c.Arduino1.Valves = "D2;X7"
				c.Arduino1.Sensors = "A0"
			},
			target: pinmap.ErrInvalidPinFormat,
		},
		{
			name: "valves on both boards",
			modify: func(c *Config) {
				c.Arduino1.Valves = "D2"
				c.Arduino2.Valves = "D3"
				c.Arduino2.Sensors = "A0"
			},
			target: experiment.ErrNotConfigured,
		},
		{
			name: "sensors split across boards",
			modify: func(c *Config) {
				c.Arduino1.Valves = "D2"
				c.Arduino1.Sensors = "A1"
				c.Arduino2.Sensors = "A0"
			},
			target: experiment.ErrNotConfigured,
		},
		{
			name: "zero loops",
			modify: func(c *Config) {
				c.Arduino1.Valves = "D2"
				c.Arduino1.Sensors = "A0"
				c.Experiment.SensorsLoop = 0
			},
			target: experiment.ErrNotConfigured,
		},
		{
			name: "unknown aperture",
			modify: func(c *Config) {
				c.Arduino1.Valves = "D2"
				c.Arduino1.Sensors = "A0"
				c.Serial.Aperture = "TURBO"
			},
			target: experiment.ErrNotConfigured,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			_, err := cfg.Validate()
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestValidate_UnknownModel(t *testing.T) {
	cfg := Default()
	cfg.Arduino1.Model = "NANO"
	cfg.Arduino1.Valves = "D2"
	cfg.Arduino1.Sensors = "A0"
	_, err := cfg.Validate()
	assert.Error(t, err)
}

func TestParams(t *testing.T) {
	cfg := Default()
	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, experiment.Params{
		ValveLoops:  4,
		SensorLoops: 8,
		Window:      3 * time.Second,
		Settle:      500 * time.Millisecond,
		StartDelay:  time.Second,
	}, p)
}
