package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file used when none is given.
const DefaultFile = "golcr.yaml"

// EnvPrefix prefixes environment overrides, e.g. GOLCR_SERIAL_PORT.
const EnvPrefix = "GOLCR_"

// Config represents the application configuration.
type Config struct {
	Experiment ExperimentConfig `koanf:"experiment" yaml:"experiment"`
	Arduino1   BoardConfig      `koanf:"arduino1" yaml:"arduino1"`
	Arduino2   BoardConfig      `koanf:"arduino2" yaml:"arduino2"`
	Serial     SerialConfig     `koanf:"serial" yaml:"serial"`
	Connect    ConnectConfig    `koanf:"connect" yaml:"connect"`
	Output     OutputConfig     `koanf:"output" yaml:"output"`
	Mock       MockConfig       `koanf:"mock" yaml:"mock"`
}

// ExperimentConfig contains the loop counts and timings of a run.
type ExperimentConfig struct {
	ValvesLoop      int           `koanf:"valves_loop" yaml:"valves_loop"`
	SensorsLoop     int           `koanf:"sensors_loop" yaml:"sensors_loop"`
	SensorsDuration float64       `koanf:"sensors_duration" yaml:"sensors_duration"` // Measurement window (s)
	Settle          time.Duration `koanf:"settle" yaml:"settle"`
	StartDelay      time.Duration `koanf:"start_delay" yaml:"start_delay"`
}

// BoardConfig describes one Arduino. Sensors and Valves are ';'-separated
// groups of ','-separated pin identifiers, e.g. "A0;A1,A2;D5".
type BoardConfig struct {
	Model       string `koanf:"model" yaml:"model"`
	Port        string `koanf:"port" yaml:"port"`         // Empty means auto-detect
	Instance    int    `koanf:"instance" yaml:"instance"` // Which detected board to use (1-based)
	Sensors     string `koanf:"sensors" yaml:"sensors"`
	Valves      string `koanf:"valves" yaml:"valves"`
	InvertOnOff bool   `koanf:"invert_onoff" yaml:"invert_onoff"`
}

// SerialConfig contains the LCR meter serial port configuration.
type SerialConfig struct {
	Port          string        `koanf:"port" yaml:"port"`
	BaudRate      int           `koanf:"baudrate" yaml:"baudrate"`
	Parity        string        `koanf:"parity" yaml:"parity"`
	StopBits      float64       `koanf:"stopbits" yaml:"stopbits"`
	ByteSize      int           `koanf:"bytesize" yaml:"bytesize"`
	Timeout       time.Duration `koanf:"timeout" yaml:"timeout"`
	Aperture      string        `koanf:"aperture" yaml:"aperture"`
	ApertureCount int           `koanf:"aperture_count" yaml:"aperture_count"`
	ReadyToken    string        `koanf:"ready_token" yaml:"ready_token"`
	ReadyDelay    time.Duration `koanf:"ready_delay" yaml:"ready_delay"`
	ReadyTimeout  time.Duration `koanf:"ready_timeout" yaml:"ready_timeout"`
}

// ConnectConfig contains retry and pacing parameters shared by all devices.
type ConnectConfig struct {
	Attempts      int           `koanf:"attempts" yaml:"attempts"`
	Delay         time.Duration `koanf:"delay" yaml:"delay"`
	PinPace       time.Duration `koanf:"pin_pace" yaml:"pin_pace"`
	BoardBaudRate int           `koanf:"board_baudrate" yaml:"board_baudrate"`
	BoardTimeout  time.Duration `koanf:"board_timeout" yaml:"board_timeout"`
}

// OutputConfig contains result output configuration.
type OutputConfig struct {
	Dir string `koanf:"dir" yaml:"dir"`
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	Primary    float64       `koanf:"primary" yaml:"primary"`     // Simulated primary reading
	Secondary  float64       `koanf:"secondary" yaml:"secondary"` // Simulated secondary reading
	Noise      float64       `koanf:"noise" yaml:"noise"`         // Relative noise amplitude
	SampleRate time.Duration `koanf:"sample_rate" yaml:"sample_rate"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Experiment: ExperimentConfig{
			ValvesLoop:      4,
			SensorsLoop:     8,
			SensorsDuration: 3,
			Settle:          500 * time.Millisecond,
			StartDelay:      time.Second,
		},
		Arduino1: BoardConfig{
			Model:    "MEGA",
			Instance: 1,
		},
		Arduino2: BoardConfig{
			Model:    "MEGA",
			Instance: 2,
		},
		Serial: SerialConfig{
			Port:         "/dev/serial0",
			BaudRate:     9600,
			Parity:       "N",
			StopBits:     1,
			ByteSize:     8,
			Timeout:      time.Second,
			Aperture:     "SLOW",
			ReadyTimeout: 30 * time.Second,
		},
		Connect: ConnectConfig{
			Attempts:      4,
			Delay:         time.Second,
			PinPace:       100 * time.Millisecond,
			BoardBaudRate: 115200,
			BoardTimeout:  30 * time.Second,
		},
		Output: OutputConfig{
			Dir: "experiments",
		},
		Mock: MockConfig{
			Primary:    1e-9,
			Secondary:  0.01,
			Noise:      0.01,
			SampleRate: 100 * time.Millisecond,
		},
	}
}

// Load loads configuration from defaults, then the YAML file, then GOLCR_*
// environment variables. A missing file is not an error.
func Load(filename string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if filename != "" {
		if err := k.Load(file.Provider(filename), kyaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// envKey maps GOLCR_SERIAL_READY_TOKEN to serial.ready_token.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer f.Close()

	if err := c.Write(f); err != nil {
		return err
	}
	return f.Close()
}

// Write encodes the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return enc.Close()
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	for _, b := range []*BoardConfig{&c.Arduino1, &c.Arduino2} {
		if b.Model == "" {
			b.Model = def.Arduino1.Model
		}
	}
	if c.Arduino1.Instance == 0 {
		c.Arduino1.Instance = def.Arduino1.Instance
	}
	if c.Arduino2.Instance == 0 {
		c.Arduino2.Instance = def.Arduino2.Instance
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = def.Serial.Parity
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = def.Serial.StopBits
	}
	if c.Serial.ByteSize == 0 {
		c.Serial.ByteSize = def.Serial.ByteSize
	}
	if c.Serial.Aperture == "" {
		c.Serial.Aperture = def.Serial.Aperture
	}
	if c.Serial.ReadyTimeout == 0 {
		c.Serial.ReadyTimeout = def.Serial.ReadyTimeout
	}

	if c.Connect.Attempts == 0 {
		c.Connect.Attempts = def.Connect.Attempts
	}
	if c.Connect.BoardBaudRate == 0 {
		c.Connect.BoardBaudRate = def.Connect.BoardBaudRate
	}
	if c.Connect.BoardTimeout == 0 {
		c.Connect.BoardTimeout = def.Connect.BoardTimeout
	}

	if c.Output.Dir == "" {
		c.Output.Dir = def.Output.Dir
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
}
