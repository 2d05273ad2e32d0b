package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
)

// HostInfo is the host summary recorded with every run.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
	Virtualization  string `json:"virtualization,omitempty"`
	CPUModel        string `json:"cpu_model"`
	CPUs            int    `json:"cpus"`
	MemoryTotal     uint64 `json:"memory_total"`
}

// Device is a block device with its controller details.
type Device struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	SizeBytes  uint64 `json:"size_bytes"`
	BlockSize  uint64 `json:"physical_block_size"`
	Controller string `json:"controller"`
	Model      string `json:"model"`
	Serial     string `json:"serial"`
	WWN        string `json:"wwn,omitempty"`
	PCIAddress string `json:"pci_address,omitempty"`
	PCIVendor  string `json:"pci_vendor,omitempty"`
	PCIProduct string `json:"pci_product,omitempty"`
	Driver     string `json:"driver,omitempty"`
}

// Inventory describes the machine under test.
type Inventory interface {
	Host(ctx context.Context) (*HostInfo, error)
	Devices(ctx context.Context) ([]Device, error)
}

// System is the live Inventory, backed by gopsutil and ghw.
type System struct{}

var _ Inventory = System{}

// Host collects OS, kernel, CPU and memory facts.
func (System) Host(ctx context.Context) (*HostInfo, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	info := &HostInfo{
		Hostname:        hi.Hostname,
		OS:              hi.OS,
		Platform:        hi.Platform,
		PlatformVersion: hi.PlatformVersion,
		KernelVersion:   hi.KernelVersion,
		KernelArch:      hi.KernelArch,
		Virtualization:  hi.VirtualizationSystem,
	}

	log := logging.Get("probe")
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	} else if err != nil {
		log.Warn("cpu info unavailable", "err", err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
	} else {
		log.Warn("memory info unavailable", "err", err)
	}

	return info, nil
}

// Devices lists block devices, enriched with PCI vendor, product and
// driver when the PCI database is available.
func (System) Devices(_ context.Context) ([]Device, error) {
	blk, err := ghw.Block()
	if err != nil {
		return nil, fmt.Errorf("reading block devices: %w", err)
	}

	pciByAddr := map[string]*ghw.PCIDevice{}
	if pci, err := ghw.PCI(); err == nil {
		for _, d := range pci.Devices {
			pciByAddr[d.Address] = d
		}
	} else {
		logging.Get("probe").Debug("pci inventory unavailable", "err", err)
	}

	out := make([]Device, 0, len(blk.Disks))
	for _, d := range blk.Disks {
		dev := Device{
			Name:       d.Name,
			Path:       "/dev/" + d.Name,
			SizeBytes:  d.SizeBytes,
			BlockSize:  d.PhysicalBlockSizeBytes,
			Controller: d.StorageController.String(),
			Model:      d.Model,
			Serial:     d.SerialNumber,
			WWN:        d.WWN,
			PCIAddress: PCIAddressFromBusPath(d.BusPath),
		}
		if p, ok := pciByAddr[dev.PCIAddress]; ok {
			dev.Driver = p.Driver
			if p.Vendor != nil {
				dev.PCIVendor = p.Vendor.Name
			}
			if p.Product != nil {
				dev.PCIProduct = p.Product.Name
			}
		}
		out = append(out, dev)
	}
	return out, nil
}

// PCIAddressFromBusPath extracts "0000:01:00.0" from a udev bus path such
// as "pci-0000:01:00.0-nvme-1".
func PCIAddressFromBusPath(busPath string) string {
	rest, ok := strings.CutPrefix(busPath, "pci-")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
