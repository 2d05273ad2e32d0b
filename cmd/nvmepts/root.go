package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/nvmepts/pkg/pts/config"
	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var (
	cfgFile string

	// v holds defaults, the config file, NVMEPTS_ environment and bound flags.
	v = config.New()

	rootCmd = &cobra.Command{
		Use:   "nvmepts",
		Short: "Run the SNIA PTS IOPS test against NVMe devices",
		Long: `nvmepts drives fio and nvme-cli through the SNIA Solid State Storage
Performance Test Specification IOPS test: purge, workload independent
pre-conditioning, then rounds of the R/W mix by block size matrix until
the tracking variables reach steady state.

Every command line and its output is kept in the run directory.

Examples:
  nvmepts probe                       # List NVMe namespaces
  nvmepts iops /dev/nvme0n1           # PTS-C IOPS test
  nvmepts iops -m PTS-E /dev/nvme1n1  # PTS-E IOPS test
  nvmepts iops -t --tui /dev/nvme0n1  # Short dev mode run with progress view
  nvmepts report latest -f markdown   # Report of the newest run
  nvmepts watch ./nvme0n1-20260101-120000`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: initializeLogging,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logging.Close()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nvmepts/config.yaml)")
	rootCmd.PersistentFlags().String("sudo", "", "privilege wrapper for external tools (\"\" runs them directly)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = v.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("sudo", rootCmd.PersistentFlags().Lookup("sudo"))
}

// initConfig reads in the config file. Environment and flags are already bound.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	if err := config.Read(v); err != nil {
		printError("%v", err)
	}
}

// loadConfig decodes the merged configuration.
func loadConfig() (*config.Config, error) {
	return config.FromViper(v)
}

// initializeLogging sets up file logging before any command runs. The TUI
// re-initializes it without console output.
func initializeLogging(_ *cobra.Command, _ []string) error {
	for _, dir := range []string{config.ConfigDir(), config.DataDir(), config.StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		// Commands that need the config report the error themselves.
		printVerbose("using default logging: %v", err)
		return logging.Init(logging.Config{Level: "info", Rotation: logging.DefaultRotationConfig()})
	}
	return logging.Init(loggingConfig(cfg, false))
}

// initTUILogging switches logging to file only while the TUI owns the terminal.
func initTUILogging(cfg *config.Config) error {
	return logging.Init(loggingConfig(cfg, true))
}

func loggingConfig(cfg *config.Config, tui bool) logging.Config {
	console := cfg.Logging.Console
	if getVerbose() {
		console = "debug"
	}
	return logging.Config{
		Level:        cfg.Logging.Level,
		Path:         cfg.Logging.Path,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		Components:   cfg.Logging.Components,
		ConsoleLevel: console,
		TUIMode:      tui,
	}
}

// parseRotationConfig converts the config file rotation settings. An empty
// or invalid max_size falls back to the default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	out := logging.DefaultRotationConfig()
	if size, err := types.ParseSize(rc.MaxSize); err == nil && size > 0 {
		out.MaxSize = size
	}
	out.MaxAge = rc.MaxAge
	out.MaxBackups = rc.MaxBackups
	out.Daily = rc.Daily
	return out
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return v.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return v.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// bindFlag binds a command flag to a config key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
}
