// Package iops runs the PTS IOPS test: purge, workload-independent
// pre-conditioning, then rounds of the R/W mix by block size matrix until
// the tracking variables reach steady state or the round limit is hit.
package iops

import (
	"errors"
	"fmt"
	"time"

	"github.com/jamesainslie/nvmepts/pkg/pts/config"
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// Options configures a test run.
type Options struct {
	// Device is the namespace block device, e.g. /dev/nvme0n1.
	Device string

	// Mode selects PTS-E or PTS-C conditions.
	Mode types.Mode

	// OutputDir receives every tool output of the run.
	OutputDir string

	// DevMode skips purge and WIPC and uses DevRuntime per cell.
	// Results are not PTS compliant.
	DevMode bool

	Runtime    time.Duration
	DevRuntime time.Duration

	// MaxRounds bounds the test loop.
	MaxRounds int

	// Window is the steady state measurement window in rounds.
	Window int

	Seed uint64

	// Events, if set, receives progress. Sends never block; events are
	// dropped when the channel is full. The channel is not closed.
	Events chan<- Event
}

// DefaultOptions returns options for a compliant PTS-C run.
func DefaultOptions() Options {
	return Options{
		Mode:       types.Mode(config.DefaultMode),
		OutputDir:  config.DefaultOutputDir,
		Runtime:    config.DefaultRuntime,
		DevRuntime: config.DefaultDevRuntime,
		MaxRounds:  config.DefaultMaxRounds,
		Window:     config.DefaultWindow,
		Seed:       config.DefaultSeed,
	}
}

// OptionsFromConfig builds run options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := types.ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Mode:       mode,
		OutputDir:  cfg.OutputDir,
		Runtime:    cfg.Test.Runtime,
		DevRuntime: cfg.Test.DevRuntime,
		MaxRounds:  cfg.Test.MaxRounds,
		Window:     cfg.Test.Window,
		Seed:       cfg.Test.Seed,
	}, nil
}

// Validate fills zero values with defaults and rejects unusable options.
func (o *Options) Validate() error {
	if o.Device == "" {
		return errors.New("no device given")
	}
	if o.OutputDir == "" {
		return errors.New("no output directory given")
	}
	if o.Mode == "" {
		o.Mode = types.Mode(config.DefaultMode)
	}
	if _, err := o.Mode.Params(); err != nil {
		return err
	}
	if o.Runtime <= 0 {
		o.Runtime = config.DefaultRuntime
	}
	if o.DevRuntime <= 0 {
		o.DevRuntime = config.DefaultDevRuntime
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = config.DefaultMaxRounds
	}
	if o.Window == 0 {
		o.Window = steady.DefaultWindow
	}
	if o.Window < 2 {
		return fmt.Errorf("%w: got %d", steady.ErrInvalidWindow, o.Window)
	}
	return nil
}

// CellRuntime is the fio runtime of one measurement cell.
func (o Options) CellRuntime() time.Duration {
	if o.DevMode {
		return o.DevRuntime
	}
	return o.Runtime
}
