package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/itohio/golcr/pkg/board"
	"github.com/itohio/golcr/pkg/config"
	"github.com/itohio/golcr/pkg/results"
)

// Version is injected via ldflags on release builds.
var Version = "dev"

type options struct {
	config   string
	port     string
	mock     bool
	desc     string
	user     string
	out      string
	progress bool
}

func usage() {
	str := `golcr runs valve/sensor experiments with an LCR meter.
Valves and sensors are switched by one or two Firmata Arduinos while
the meter streams readings over a serial port.

Usage:
	golcr [flags] <command>

Commands:
	run      run the experiment and save the results
	mkconf   write the configuration file with the current values
	conf     print the effective configuration
	ports    list serial ports
	export   rewrite the CSV files of an experiment from its results.json
	version  print the version
	help     show configuration help

Flags:`
	fmt.Fprintln(flag.CommandLine.Output(), str)
	flag.PrintDefaults()
}

func help() {
	str := `golcr reads its configuration from a YAML file (golcr.yaml by default).
Missing keys keep their defaults; the command mkconf writes every key.
Any key can be overridden from the environment: GOLCR_<SECTION>_<KEY>,
e.g. GOLCR_SERIAL_PORT=/dev/ttyUSB0 or GOLCR_EXPERIMENT_VALVES_LOOP=2.

Pins are given per board as ';'-separated positions, each position a
','-separated group of pins switched together: "D2;D3,D4;A0".
With only arduino1 configured it drives both valves and sensors.
With two boards, one holds the valves and the other the sensors.
invert_onoff makes a board's outputs active LOW.

An empty arduino port selects the instance-th Arduino found on USB.
Results are written to <output.dir>/[<user>/]<timestamp>/.`
	fmt.Println(str)
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", config.DefaultFile, "Configuration file path")
	flag.StringVar(&o.port, "p", "", "LCR meter serial port override (e.g., COM3 or /dev/ttyUSB0)")
	flag.BoolVar(&o.mock, "mock", false, "Use mocked devices instead of the hardware")
	flag.StringVar(&o.desc, "desc", "", "Experiment description saved with the results")
	flag.StringVar(&o.user, "user", "", "Results subdirectory for this user")
	flag.StringVar(&o.out, "out", "", "Results base directory override")
	flag.BoolVar(&o.progress, "progress", false, "Show a progress spinner")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		return
	}
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var err error
	switch cmd := strings.ToLower(flag.Arg(0)); cmd {
	case "help":
		help()
	case "version":
		fmt.Printf("golcr version %v\n", Version)
	case "ports":
		err = ports()
	case "export":
		err = export(flag.Arg(1))
	case "mkconf":
		err = mkconf(o)
	case "conf":
		err = printconf(o)
	case "run":
		err = run(o)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig(o options) (*config.Config, error) {
	cfg, err := config.Load(o.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.port != "" {
		cfg.Serial.Port = o.port
	}
	if o.out != "" {
		cfg.Output.Dir = o.out
	}
	return cfg, nil
}

func mkconf(o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if err := cfg.Save(o.config); err != nil {
		return err
	}
	log.Printf("Configuration written to %s", o.config)
	return nil
}

func printconf(o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	return cfg.Write(os.Stdout)
}

func ports() error {
	list, err := board.Ports()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range list {
		mark := " "
		if p.Arduino {
			mark = "*"
		}
		if p.VID != "" {
			fmt.Printf("%s %-20s %s:%s %s %s\n", mark, p.Name, p.VID, p.PID, p.Serial, p.Description)
		} else {
			fmt.Printf("%s %-20s %s\n", mark, p.Name, p.Description)
		}
	}
	return nil
}

func export(dir string) error {
	if dir == "" {
		return errors.New("export needs an experiment directory")
	}
	r, err := results.ReadJSON(filepath.Join(dir, results.JSONFile))
	if err != nil {
		return err
	}
	if err := results.WriteSensorCSV(dir, r); err != nil {
		return err
	}
	if err := results.WriteValveCSV(dir, r); err != nil {
		return err
	}
	log.Printf("Exported %d cycles to %s", len(r), dir)
	return nil
}
