package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/nvmepts/pkg/pts/output"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
	"github.com/jamesainslie/nvmepts/pkg/pts/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <run-dir>",
	Short: "Follow a running test from its output directory",
	Long: `Follow an IOPS run by watching its output directory, for example from a
second terminal or over ssh while the test runs in a tmux session.

Artifacts already on disk are replayed first. The command returns when the
run writes its summary, or on Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, args []string) error {
	dir := args[0]
	if !watch.IsRunDir(dir) {
		printVerbose("%s has no run record yet, waiting for it", dir)
	}

	f, err := watch.New(dir)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = f.Run(ctx, printUpdate)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printUpdate(u watch.Update) {
	switch u.Kind {
	case watch.KindRun:
		r := u.Run
		printInfo("Run %s: %s on %s (%s), started %s", r.ID, r.Mode, r.Device, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	case watch.KindMeasurement:
		m := u.Measurement
		printInfo("round %2d  %-7s %-5s %12s IOPS", m.Round, output.MixLabel(m.ReadMix), m.BlockSize, types.FormatIOPS(m.IOPS))
	case watch.KindRound:
		if u.Evaluation != nil && u.Evaluation.Steady {
			printInfo("round %2d  steady state reached", u.Round)
		} else {
			printInfo("round %2d  not steady yet", u.Round)
		}
	case watch.KindDone:
		r := u.Run
		verdict := "steady state not reached"
		if r.Steady {
			verdict = fmt.Sprintf("steady state reached in round %d", r.SteadyRound)
		}
		printInfo("Run %s %s after %d rounds, %s", r.ID, r.Status, r.Rounds, verdict)
	}
}
