// Package config provides configuration management for nvmepts.
package config

import "time"

// Default configuration values for nvmepts.
const (
	// DefaultMode is the PTS flavour used when none is given.
	DefaultMode = "PTS-C"

	// DefaultOutputDir is where run artifacts go when -o is not given.
	// A run subdirectory named after the device and start time is created below it.
	DefaultOutputDir = "."

	// DefaultSudo is the privilege wrapper for external tools. Empty disables it.
	DefaultSudo = "sudo"

	DefaultFio   = "/usr/bin/fio"
	DefaultNVMe  = "/usr/sbin/nvme"
	DefaultLshw  = "/usr/sbin/lshw"
	DefaultLspci = "/sbin/lspci"

	// DefaultRuntime is the fio runtime of a WDPC cell.
	DefaultRuntime = time.Minute

	// DefaultDevRuntime is the fio runtime of a WDPC cell in dev mode.
	DefaultDevRuntime = 10 * time.Second

	// DefaultMaxRounds caps the number of test rounds.
	DefaultMaxRounds = 25

	// DefaultWindow is the steady state measurement window, in rounds.
	DefaultWindow = 5

	// DefaultSeed is the fio random seed.
	DefaultSeed uint64 = 0xDEADBEEF

	// DefaultDeviceGlob filters block devices for `nvmepts probe`.
	DefaultDeviceGlob = "nvme*"
)
