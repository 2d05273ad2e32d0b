package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/nvmepts/pkg/pts/iops"
	"github.com/jamesainslie/nvmepts/pkg/pts/journal"
	"github.com/jamesainslie/nvmepts/pkg/pts/probe"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var probeCmd = &cobra.Command{
	Use:   "probe [device]",
	Short: "List NVMe devices or record the test conditions of one",
	Long: `Without a device, list block devices matching the device glob
(default "nvme*") with their controller details.

With a device, record the test conditions an IOPS run starts with:
platform (lshw, lspci, host), device identity and SMART log, nvme driver
parameters, features and block queue settings. Nothing is written to the
device.`,
	Example: `  nvmepts probe
  nvmepts probe --glob 'nvme{0,1}n1'
  nvmepts probe /dev/nvme0n1 -o /tmp/conditions`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

var (
	probeGlob   string
	probeOutput string
)

func init() {
	probeCmd.Flags().StringVar(&probeGlob, "glob", "", "device name pattern (default from config)")
	probeCmd.Flags().StringVarP(&probeOutput, "output-dir", "o", "", "directory for the recorded conditions")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		pattern := probeGlob
		if pattern == "" {
			pattern = cfg.DeviceGlob
		}
		devices, err := probe.ListDevices(ctx, probe.System{}, pattern)
		if err != nil {
			return err
		}
		printDevices(devices)
		return nil
	}

	device := devicePath(args[0])
	dir := probeOutput
	if dir == "" {
		dir = iops.RunDir(cfg.OutputDir, device, time.Now()) + "-conditions"
	}
	j, err := journal.New(dir)
	if err != nil {
		return err
	}

	cond, err := newTools(cfg).prober.Capture(ctx, device, j)
	if err != nil {
		return err
	}

	if id := cond.Identify; id != nil {
		printInfo("Model:     %s", id.Model)
		printInfo("Serial:    %s", id.Serial)
		printInfo("Firmware:  %s", id.Firmware)
		printInfo("VWC:       %t", id.VolatileWriteCache)
	}
	if s := cond.Smart; s != nil {
		printInfo("Temp:      %.1f C", s.Temperature)
		printInfo("Used:      %d%%", s.PercentUsed)
		printInfo("Spare:     %d%%", s.AvailableSpare)
	}
	if h := cond.Host; h != nil {
		printInfo("Host:      %s (%s %s, kernel %s)", h.Hostname, h.Platform, h.PlatformVersion, h.KernelVersion)
		printInfo("CPU:       %s x%d", h.CPUModel, h.CPUs)
		printInfo("Memory:    %s", types.FormatSize(int64(h.MemoryTotal)))
	}
	printInfo("Conditions recorded in %s", j.Dir())
	return nil
}

func printDevices(devices []probe.Device) {
	if len(devices) == 0 {
		printInfo("No matching block devices found.")
		return
	}

	fmt.Printf("%-12s  %-32s  %-10s  %-20s  %-12s  %s\n", "NAME", "MODEL", "SIZE", "SERIAL", "PCI", "DRIVER")
	fmt.Println(strings.Repeat("-", 104))
	for _, d := range devices {
		fmt.Printf("%-12s  %-32s  %-10s  %-20s  %-12s  %s\n",
			d.Name,
			truncateString(d.Model, 32),
			types.FormatSize(int64(d.SizeBytes)),
			truncateString(d.Serial, 20),
			d.PCIAddress,
			d.Driver,
		)
	}
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
