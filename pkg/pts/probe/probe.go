// Package probe records the test conditions of a run: platform, device
// identity and health, nvme driver and feature settings, and block queue
// parameters.
package probe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/nvmepts/pkg/pts/journal"
	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
	"github.com/jamesainslie/nvmepts/pkg/pts/nvme"
	"github.com/jamesainslie/nvmepts/pkg/pts/shell"
	"github.com/jamesainslie/nvmepts/pkg/pts/sysfs"
)

// Journal steps written by Capture.
const (
	StepLshw         = "platform/lshw"
	StepLspci        = "platform/lspci"
	StepHost         = "platform/host"
	StepBlock        = "platform/block"
	StepIDCtrl       = "device/nvme-id-ctrl"
	StepSmartLog     = "device/nvme-smart-log"
	StepModuleConfig = "settings/nvme-module-config"
	StepFeatures     = "settings/nvme-features"
	StepQueue        = "settings/queue"
)

// Tools holds paths of the platform utilities.
type Tools struct {
	Lshw  string
	Lspci string
}

// Prober gathers conditions through external tools, sysfs and the inventory.
type Prober struct {
	exec      shell.Executor
	nvme      *nvme.Client
	sysfs     *sysfs.Reader
	inventory Inventory
	tools     Tools
}

// New returns a Prober.
func New(exec shell.Executor, nv *nvme.Client, fs *sysfs.Reader, inv Inventory, tools Tools) *Prober {
	if tools.Lshw == "" {
		tools.Lshw = "lshw"
	}
	if tools.Lspci == "" {
		tools.Lspci = "lspci"
	}
	return &Prober{exec: exec, nvme: nv, sysfs: fs, inventory: inv, tools: tools}
}

// Conditions summarises what Capture learned about the device.
type Conditions struct {
	Identify *nvme.Identify
	Smart    *nvme.SmartLog
	Host     *HostInfo
}

// Capture records every test condition of dev into j. Independent probes
// run concurrently; the first failure cancels the rest. Host and block
// inventory are best effort.
func (p *Prober) Capture(ctx context.Context, dev string, j *journal.Journal) (*Conditions, error) {
	log := logging.Get("probe")
	log.Info("recording test conditions", "device", dev)

	var (
		mu   sync.Mutex
		cond Conditions
	)

	g, ctx := errgroup.WithContext(ctx)

	command := func(step, name string, args ...string) {
		g.Go(func() error {
			res, err := p.exec.Run(ctx, shell.Command{Name: name, Args: args, Sudo: true})
			if res != nil {
				if serr := j.SaveOutput(step, res.Stdout, res.Stderr); serr != nil {
					return serr
				}
			}
			if err != nil {
				return fmt.Errorf("%s: %w", step, err)
			}
			return nil
		})
	}

	command(StepLshw, p.tools.Lshw, "-json", "-quiet", "-sanitize")
	command(StepLspci, p.tools.Lspci, "-vv")

	g.Go(func() error {
		res, err := p.nvme.IDCtrl(ctx, dev)
		if res != nil {
			if serr := j.SaveOutput(StepIDCtrl, res.Stdout, res.Stderr); serr != nil {
				return serr
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", StepIDCtrl, err)
		}
		id, err := nvme.ParseIDCtrl(res.Stdout)
		if err != nil {
			return err
		}
		mu.Lock()
		cond.Identify = id
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		res, err := p.nvme.SmartLog(ctx, dev)
		if res != nil {
			if serr := j.SaveOutput(StepSmartLog, res.Stdout, res.Stderr); serr != nil {
				return serr
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", StepSmartLog, err)
		}
		smart, err := nvme.ParseSmartLog(res.Stdout)
		if err != nil {
			log.Warn("smart-log not parsed", "err", err)
			return nil
		}
		mu.Lock()
		cond.Smart = smart
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		m, err := p.sysfs.NVMeModule()
		if err != nil {
			return err
		}
		return j.SaveJSON(StepModuleConfig, m)
	})

	g.Go(func() error {
		features, err := p.nvme.Features(ctx, dev)
		if err != nil {
			return err
		}
		return j.SaveJSON(StepFeatures, features)
	})

	g.Go(func() error {
		q, err := p.sysfs.Queue(dev)
		if err != nil {
			return err
		}
		return j.SaveJSON(StepQueue, q)
	})

	g.Go(func() error {
		h, err := p.inventory.Host(ctx)
		if err != nil {
			log.Warn("host info unavailable", "err", err)
			return nil
		}
		mu.Lock()
		cond.Host = h
		mu.Unlock()
		return j.SaveJSON(StepHost, h)
	})

	g.Go(func() error {
		devs, err := p.inventory.Devices(ctx)
		if err != nil {
			log.Warn("block inventory unavailable", "err", err)
			return nil
		}
		return j.SaveJSON(StepBlock, devs)
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("recording test conditions: %w", err)
	}

	log.Info("test conditions recorded", "device", dev)
	return &cond, nil
}

// ListDevices returns inventory devices whose name matches pattern
// (default "nvme*"), sorted by name.
func ListDevices(ctx context.Context, inv Inventory, pattern string) ([]Device, error) {
	if pattern == "" {
		pattern = "nvme*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid device pattern %q: %w", pattern, err)
	}

	all, err := inv.Devices(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(all))
	for _, d := range all {
		if g.Match(d.Name) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}
