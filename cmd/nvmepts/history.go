package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `List IOPS runs recorded in the results database, newest first.

Use 'nvmepts report <id>' for the result of a run.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <run-id>",
	Short: "Remove a run from the results database",
	Long: `Remove a run and its measurements from the results database.

The run directory with the raw artifacts is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryRm,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of runs to show")

	historyCmd.AddCommand(historyRmCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		printInfo("No runs recorded.")
		printInfo("Run 'nvmepts iops <device>' to start one.")
		return nil
	}

	fmt.Printf("\n%-8s  %-16s  %-14s  %-5s  %-11s  %-6s  %-7s  %s\n",
		"ID", "STARTED", "DEVICE", "MODE", "STATUS", "ROUNDS", "STEADY", "DURATION")
	fmt.Println(strings.Repeat("-", 90))

	for _, run := range runs {
		fmt.Printf("%-8s  %-16s  %-14s  %-5s  %-11s  %-6d  %-7s  %s\n",
			truncateString(run.ID, 8),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			truncateString(run.Device, 14),
			run.Mode,
			run.Status,
			run.Rounds,
			steadyLabel(run),
			run.Duration().Round(time.Second),
		)
	}

	fmt.Println(strings.Repeat("-", 90))
	fmt.Printf("\nShowing %d runs. Use --limit to see more.\n", len(runs))
	fmt.Println("Use 'nvmepts report <id>' for the result of a run.")
	return nil
}

func steadyLabel(run *types.Run) string {
	switch {
	case run.Steady:
		return fmt.Sprintf("r%d", run.SteadyRound)
	case run.Status == types.StatusRunning:
		return "-"
	default:
		return "no"
	}
}

func runHistoryRm(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.Resolve(args[0])
	if err != nil {
		return err
	}
	if err := s.DeleteRun(run.ID); err != nil {
		return fmt.Errorf("failed to remove run: %w", err)
	}
	printInfo("Removed run %s (%s, %s)", run.ID, run.Device, run.StartedAt.Local().Format(time.DateTime))
	printVerbose("Artifacts kept in %s", run.OutputDir)
	return nil
}
