package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/theckman/yacspin"

	"github.com/itohio/golcr/pkg/config"
	"github.com/itohio/golcr/pkg/experiment"
	"github.com/itohio/golcr/pkg/lcr"
	"github.com/itohio/golcr/pkg/rig"
	"github.com/itohio/golcr/pkg/results"
	"github.com/itohio/golcr/pkg/sample"
)

func run(o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	p, err := cfg.Params()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	set, err := rig.Connect(ctx, cfg, factory(cfg, o.mock))
	if err != nil {
		return err
	}
	defer set.Shutdown()

	var opts []experiment.Option
	if o.progress {
		spinner, err := newSpinner()
		if err != nil {
			return err
		}
		if err := spinner.Start(); err != nil {
			return fmt.Errorf("failed to start spinner: %w", err)
		}
		defer spinner.Stop()
		opts = append(opts, experiment.WithProgress(func(pr experiment.Progress) {
			spinner.Message(fmt.Sprintf("%d%% V%d S%d cycle %d (%d samples)",
				pr.Percent(), pr.Valve, pr.Sensor, pr.Cycle, pr.Samples))
		}))
	}

	started := time.Now()
	result, runErr := set.Run(ctx, p, opts...)
	if runErr != nil && !errors.Is(runErr, experiment.ErrAborted) {
		return runErr
	}
	if len(result) == 0 {
		return runErr
	}

	dir, err := results.NewDir(cfg.Output.Dir, o.user, started)
	if err != nil {
		return errors.Join(runErr, err)
	}
	if err := results.WriteAll(dir, result, o.desc); err != nil {
		return errors.Join(runErr, err)
	}
	log.Printf("Saved %d cycles to %s", len(result), dir)
	summarize(result)

	return runErr
}

func factory(cfg *config.Config, mock bool) rig.Factory {
	if !mock {
		return rig.Hardware{}
	}
	log.Println("Using mocked devices")
	return &rig.Simulated{
		Meter: lcr.MockOptions{
			Primary:    cfg.Mock.Primary,
			Secondary:  cfg.Mock.Secondary,
			Noise:      cfg.Mock.Noise,
			SampleRate: cfg.Mock.SampleRate,
		},
	}
}

func newSpinner() (*yacspin.Spinner, error) {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " measuring",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create spinner: %w", err)
	}
	return spinner, nil
}

// summarize logs the mean and spread of the primary and secondary readings
// of every valve/sensor pair over all cycles.
func summarize(r experiment.Result) {
	for _, valve := range r.ValveLabels() {
		for _, sensor := range r.SensorLabels(valve) {
			var all experiment.Series
			for _, cycle := range r {
				s := cycle[valve][sensor]
				all.Primary = append(all.Primary, s.Primary...)
				all.Secondary = append(all.Secondary, s.Secondary...)
			}
			pri := sample.Summarize(all.Primary)
			sec := sample.Summarize(all.Secondary)
			log.Printf("%s-%s: n=%d primary %.5E ±%.2E secondary %.5E ±%.2E",
				valve, sensor, pri.N, pri.Mean, pri.Std, sec.Mean, sec.Std)
		}
	}
}
