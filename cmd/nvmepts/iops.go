package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/nvmepts/cmd/nvmepts/tui"
	"github.com/jamesainslie/nvmepts/pkg/pts/config"
	"github.com/jamesainslie/nvmepts/pkg/pts/iops"
	"github.com/jamesainslie/nvmepts/pkg/pts/output"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var iopsCmd = &cobra.Command{
	Use:   "iops <device>",
	Short: "Run the PTS IOPS test",
	Long: `Run the SNIA PTS IOPS test on an NVMe namespace.

The device is purged with nvme format, its volatile write cache is set for
the chosen mode, and the whole active range is written twice (workload
independent pre-conditioning). Rounds of the 7 R/W mix by 8 block size
matrix then run until the tracking variables are steady over 5 rounds, or
25 rounds have passed.

All data on the device is destroyed.

Dev mode (-t) skips purge and pre-conditioning and shortens every fio run.
Its results are not PTS compliant.`,
	Example: `  nvmepts iops /dev/nvme0n1
  nvmepts iops -m PTS-E -o /srv/results nvme1n1
  nvmepts iops -t --tui /dev/nvme0n1`,
	Args: cobra.ExactArgs(1),
	RunE: runIOPS,
}

var (
	devMode      bool
	useTUI       bool
	iopsFormat   string
	iopsTemplate string
)

func init() {
	iopsCmd.Flags().StringP("mode", "m", "", "PTS mode: PTS-C or PTS-E (default from config)")
	iopsCmd.Flags().StringP("output-dir", "o", "", "parent directory for the run directory (default from config)")
	iopsCmd.Flags().BoolVarP(&devMode, "dev", "t", false, "dev mode: skip purge and pre-conditioning, short fio runs")
	iopsCmd.Flags().BoolVar(&useTUI, "tui", false, "show the progress view")
	addFormatFlags(iopsCmd, &iopsFormat, &iopsTemplate)

	bindFlag(iopsCmd, "mode", "mode")
	bindFlag(iopsCmd, "output_dir", "output-dir")

	rootCmd.AddCommand(iopsCmd)
}

// devicePath turns "nvme0n1" into "/dev/nvme0n1"; paths are kept.
func devicePath(arg string) string {
	if strings.ContainsRune(arg, filepath.Separator) {
		return filepath.Clean(arg)
	}
	return filepath.Join("/dev", arg)
}

// iopsOptions builds the test options for device from the configuration.
func iopsOptions(cfg *config.Config, device string, dev bool, now time.Time) (iops.Options, error) {
	opts, err := iops.OptionsFromConfig(cfg)
	if err != nil {
		return iops.Options{}, err
	}
	opts.Device = devicePath(device)
	opts.DevMode = dev
	opts.OutputDir = iops.RunDir(cfg.OutputDir, opts.Device, now)
	return opts, opts.Validate()
}

func runIOPS(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := formatter(iopsFormat, iopsTemplate)
	if err != nil {
		return err
	}
	opts, err := iopsOptions(cfg, args[0], devMode, time.Now())
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	tester := newTester(cfg, s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printVerbose("Mode %s, output %s, runtime %s", opts.Mode, opts.OutputDir, opts.CellRuntime())

	var res *iops.Result
	var runErr error
	if useTUI {
		if err := initTUILogging(cfg); err != nil {
			return fmt.Errorf("failed to initialize TUI logging: %w", err)
		}
		res, runErr = tui.Run(ctx, tui.Options{
			Device:    opts.Device,
			Mode:      opts.Mode,
			DevMode:   opts.DevMode,
			MaxRounds: opts.MaxRounds,
			Start: func(ctx context.Context, events chan<- iops.Event) (*iops.Result, error) {
				o := opts
				o.Events = events
				return tester.Run(ctx, o)
			},
		})
	} else {
		res, runErr = runWithProgress(ctx, tester, opts)
	}

	if res != nil && res.Run != nil {
		out, err := renderReport(res.Run, res.Measurements, opts.Window, f)
		if err != nil {
			return err
		}
		fmt.Print(out)
		printInfo("Artifacts: %s", res.Run.OutputDir)
	}

	return testError(runErr)
}

// errInterrupted is returned after the partial report of a cancelled test
// has been printed, so the command still exits non-zero.
var errInterrupted = errors.New("test interrupted, partial results only")

func testError(err error) error {
	if errors.Is(err, context.Canceled) {
		return errInterrupted
	}
	return err
}

// runWithProgress runs the test, printing progress lines.
func runWithProgress(ctx context.Context, tester *iops.Tester, opts iops.Options) (*iops.Result, error) {
	events := make(chan iops.Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printEvent(ev)
		}
	}()

	if opts.DevMode {
		printInfo("Dev mode: purge and pre-conditioning are skipped, results are not PTS compliant")
	}
	printInfo("Running %s IOPS test on %s", opts.Mode, opts.Device)

	opts.Events = events
	res, err := tester.Run(ctx, opts)
	close(events)
	<-done
	return res, err
}

func printEvent(ev iops.Event) {
	switch ev.Kind {
	case iops.EventPhase:
		printInfo("==> %s", ev.Phase)
	case iops.EventRoundStart:
		printInfo("==> round %d/%d", ev.Round, ev.MaxRounds)
	case iops.EventMeasurement:
		if m := ev.Measurement; m != nil {
			printVerbose("round %d cell %d/%d: %s %s %s IOPS", ev.Round, ev.Cell, iops.CellsPerRound,
				output.MixLabel(m.ReadMix), m.BlockSize, types.FormatIOPS(m.IOPS))
		}
	case iops.EventRoundEnd:
		if ev.Evaluation != nil && ev.Evaluation.Steady {
			printInfo("    steady state reached in round %d", ev.Round)
			return
		}
		steady := 0
		if ev.Evaluation != nil {
			for _, v := range ev.Evaluation.Variables {
				if v.Result.Steady {
					steady++
				}
			}
		}
		printInfo("    round %d done, %d/%d tracking variables steady", ev.Round, steady, len(types.TrackingVariables))
	}
}
