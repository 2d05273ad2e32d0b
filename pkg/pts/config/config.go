package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NVMEPTS_TEST_WINDOW.
const EnvPrefix = "NVMEPTS"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Console    string            `mapstructure:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ToolsConfig holds paths of the external utilities.
type ToolsConfig struct {
	Fio   string `mapstructure:"fio"`
	NVMe  string `mapstructure:"nvme"`
	Lshw  string `mapstructure:"lshw"`
	Lspci string `mapstructure:"lspci"`
}

// TestConfig tunes the IOPS test loop.
type TestConfig struct {
	Runtime    time.Duration `mapstructure:"runtime"`
	DevRuntime time.Duration `mapstructure:"dev_runtime"`
	MaxRounds  int           `mapstructure:"max_rounds"`
	Window     int           `mapstructure:"window"`
	Seed       uint64        `mapstructure:"seed"`
}

// StoreConfig locates the results database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// Config represents the application configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	OutputDir  string        `mapstructure:"output_dir"`
	Sudo       string        `mapstructure:"sudo"`
	DeviceGlob string        `mapstructure:"device_glob"`
	Tools      ToolsConfig   `mapstructure:"tools"`
	Test       TestConfig    `mapstructure:"test"`
	Store      StoreConfig   `mapstructure:"store"`
	Logging    LoggingConfig `mapstructure:"logging"`
}

// SetDefaults registers every default on v. The CLI binds its flags on top.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", DefaultMode)
	v.SetDefault("output_dir", DefaultOutputDir)
	v.SetDefault("sudo", DefaultSudo)
	v.SetDefault("device_glob", DefaultDeviceGlob)

	v.SetDefault("tools.fio", DefaultFio)
	v.SetDefault("tools.nvme", DefaultNVMe)
	v.SetDefault("tools.lshw", DefaultLshw)
	v.SetDefault("tools.lspci", DefaultLspci)

	v.SetDefault("test.runtime", DefaultRuntime)
	v.SetDefault("test.dev_runtime", DefaultDevRuntime)
	v.SetDefault("test.max_rounds", DefaultMaxRounds)
	v.SetDefault("test.window", DefaultWindow)
	v.SetDefault("test.seed", DefaultSeed)

	v.SetDefault("store.path", "") // Empty means DefaultDBPath

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means use DefaultLogPath
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"iops":  "info",
		"fio":   "info",
		"probe": "info",
		"tui":   "info",
	})
}

// New returns a viper instance with defaults, config search paths and
// NVMEPTS_ environment binding set up, but nothing read yet.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// Read loads the config file into v. A missing file is not an error.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// FromViper decodes v into a Config and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Test.MaxRounds < 1 {
		return nil, fmt.Errorf("test.max_rounds must be at least 1, got %d", cfg.Test.MaxRounds)
	}
	if cfg.Test.Window < 2 {
		return nil, fmt.Errorf("test.window must be at least 2, got %d", cfg.Test.Window)
	}
	if cfg.Test.Runtime <= 0 || cfg.Test.DevRuntime <= 0 {
		return nil, fmt.Errorf("test runtimes must be positive")
	}

	var err error
	if cfg.OutputDir, err = ExpandPath(cfg.OutputDir); err != nil {
		return nil, err
	}
	if cfg.Store.Path, err = ExpandPath(cfg.Store.Path); err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultDBPath()
	}

	return &cfg, nil
}

// Load reads defaults, the config file and environment into a Config.
func Load() (*Config, error) {
	v := New()
	if err := Read(v); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// ConfigDir returns $XDG_CONFIG_HOME/nvmepts.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "nvmepts")
	}
	return filepath.Join(xdg.ConfigHome, "nvmepts")
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/nvmepts/ for the results database.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "nvmepts")
}

// StateDir returns $XDG_STATE_HOME/nvmepts/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "nvmepts")
}

// DefaultDBPath returns the default results database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "results.db")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "nvmepts.log")
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// WriteDefault writes a default config file if none exists and returns its
// path. An existing file is left untouched.
func WriteDefault() (string, error) {
	path := ConfigPath()

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# nvmepts configuration

# PTS flavour: PTS-C (client) or PTS-E (enterprise)
mode: %s

# Parent directory for run artifacts
output_dir: %s

# Privilege wrapper for fio/nvme/lshw/lspci (empty runs them directly)
sudo: %s

# Block devices listed by "nvmepts probe"
device_glob: "%s"

tools:
  fio: %s
  nvme: %s
  lshw: %s
  lspci: %s

test:
  runtime: %s
  dev_runtime: %s
  max_rounds: %d
  window: %d
  seed: %d

store:
  # Empty means $XDG_DATA_HOME/nvmepts/results.db
  path: ""

logging:
  # Log level: debug, info, warn, error
  level: info
  # Empty means $XDG_STATE_HOME/nvmepts/nvmepts.log
  path: ""
  # Also log to stderr at this level (empty disables)
  console: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    iops: info
    fio: info
    probe: info
    tui: info
`, DefaultMode, DefaultOutputDir, DefaultSudo, DefaultDeviceGlob,
		DefaultFio, DefaultNVMe, DefaultLshw, DefaultLspci,
		DefaultRuntime, DefaultDevRuntime, DefaultMaxRounds, DefaultWindow, DefaultSeed)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return path, nil
}
