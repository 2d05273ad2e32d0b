package main

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/nvmepts/pkg/pts/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage nvmepts configuration settings.

Configuration is loaded from $XDG_CONFIG_HOME/nvmepts/config.yaml
(~/.config/nvmepts/config.yaml by default).

Environment variables override config file settings using the NVMEPTS_ prefix:
  NVMEPTS_MODE=PTS-E
  NVMEPTS_OUTPUT_DIR=/srv/pts
  NVMEPTS_TEST_DEV_RUNTIME=5s`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configFile := v.ConfigFileUsed(); configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fmt.Printf("Config file: %s\n\n", configFile)
		} else {
			fmt.Print("Config file: (using defaults, no file found)\n\n")
		}
	} else {
		fmt.Print("Config file: (using defaults, no file found)\n\n")
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("mode:                  %s\n", cfg.Mode)
	fmt.Printf("output_dir:            %s\n", cfg.OutputDir)
	fmt.Printf("sudo:                  %q\n", cfg.Sudo)
	fmt.Printf("device_glob:           %s\n", cfg.DeviceGlob)
	fmt.Printf("tools.fio:             %s\n", cfg.Tools.Fio)
	fmt.Printf("tools.nvme:            %s\n", cfg.Tools.NVMe)
	fmt.Printf("tools.lshw:            %s\n", cfg.Tools.Lshw)
	fmt.Printf("tools.lspci:           %s\n", cfg.Tools.Lspci)
	fmt.Printf("test.runtime:          %s\n", cfg.Test.Runtime)
	fmt.Printf("test.dev_runtime:      %s\n", cfg.Test.DevRuntime)
	fmt.Printf("test.max_rounds:       %d\n", cfg.Test.MaxRounds)
	fmt.Printf("test.window:           %d\n", cfg.Test.Window)
	fmt.Printf("test.seed:             %d\n", cfg.Test.Seed)
	fmt.Printf("store.path:            %s\n", cfg.Store.Path)
	fmt.Printf("logging.level:         %s\n", cfg.Logging.Level)
	fmt.Printf("logging.path:          %s\n", cfg.Logging.Path)
	fmt.Printf("logging.console:       %s\n", cfg.Logging.Console)

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	var overrides []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix+"_") {
			overrides = append(overrides, kv)
		}
	}
	sort.Strings(overrides)
	if len(overrides) == 0 {
		fmt.Println("(none)")
	}
	for _, kv := range overrides {
		fmt.Println(kv)
	}

	return nil
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(_ *cobra.Command, _ []string) error {
	configPath, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(_ *cobra.Command, _ []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'nvmepts config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(_ *cobra.Command, _ []string) error {
	configPath := config.ConfigPath()
	fmt.Println(configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
