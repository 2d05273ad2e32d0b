package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesainslie/nvmepts/pkg/pts/config"
	"github.com/jamesainslie/nvmepts/pkg/pts/fio"
	"github.com/jamesainslie/nvmepts/pkg/pts/iops"
	"github.com/jamesainslie/nvmepts/pkg/pts/nvme"
	"github.com/jamesainslie/nvmepts/pkg/pts/probe"
	"github.com/jamesainslie/nvmepts/pkg/pts/shell"
	"github.com/jamesainslie/nvmepts/pkg/pts/store"
	"github.com/jamesainslie/nvmepts/pkg/pts/sysfs"
)

// tools bundles the clients every command that touches a device needs.
type tools struct {
	exec   shell.Executor
	nvme   *nvme.Client
	fio    *fio.Runner
	prober *probe.Prober
}

func newTools(cfg *config.Config) *tools {
	exec := shell.NewLocal(cfg.Sudo)
	nv := nvme.NewClient(exec, cfg.Tools.NVMe)
	return &tools{
		exec: exec,
		nvme: nv,
		fio:  fio.NewRunner(exec, cfg.Tools.Fio),
		prober: probe.New(exec, nv, sysfs.NewReader("/"), probe.System{}, probe.Tools{
			Lshw:  cfg.Tools.Lshw,
			Lspci: cfg.Tools.Lspci,
		}),
	}
}

// newTester wires a Tester recording into s.
func newTester(cfg *config.Config, s *store.Store) *iops.Tester {
	t := newTools(cfg)
	return iops.New(t.nvme, t.fio, t.prober, s)
}

// openStore opens the results database, creating its directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results store %s: %w", cfg.Store.Path, err)
	}
	return s, nil
}
