// Package sysfs reads the block queue and nvme driver settings recorded as
// test conditions.
package sysfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
)

// Reader reads sysfs attributes below Root.
type Reader struct {
	// Root is prepended to /sys paths. Empty means the real root.
	Root string
}

// NewReader returns a Reader rooted at root ("" or "/" for the live system).
func NewReader(root string) *Reader {
	return &Reader{Root: root}
}

func (r *Reader) path(elem ...string) string {
	root := r.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(append([]string{root, "sys"}, elem...)...)
}

// Queue returns every attribute under /sys/block/<dev>/queue, keyed by its
// slash-separated path relative to the queue directory (e.g. "scheduler",
// "iosched/fifo_batch").
func (r *Reader) Queue(dev string) (map[string]string, error) {
	dir := r.path("block", filepath.Base(dev), "queue")

	// /sys/block/<dev> is a symlink into /sys/devices; walk the real tree.
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	return walk(real)
}

// Module describes the loaded nvme driver.
type Module struct {
	Version    string            `json:"version"`
	SrcVersion string            `json:"srcversion"`
	Parameters map[string]string `json:"parameters"`
}

// NVMeModule reads /sys/module/nvme. Missing version files (built-in
// drivers have none) are left empty.
func (r *Reader) NVMeModule() (*Module, error) {
	dir := r.path("module", "nvme")
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("reading nvme module: %w", err)
	}

	m := &Module{Parameters: map[string]string{}}
	m.Version, _ = readAttr(filepath.Join(dir, "version"))
	m.SrcVersion, _ = readAttr(filepath.Join(dir, "srcversion"))

	params := filepath.Join(dir, "parameters")
	entries, err := os.ReadDir(params)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading nvme module parameters: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, err := readAttr(filepath.Join(params, e.Name()))
		if err != nil {
			continue
		}
		m.Parameters[e.Name()] = v
	}

	return m, nil
}

// walk reads every regular file below dir concurrently.
func walk(dir string) (map[string]string, error) {
	log := logging.Get("sysfs")

	var mu sync.Mutex
	out := make(map[string]string)

	conf := fastwalk.Config{
		Follow: false,
	}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug("walk error", "path", path, "err", err)
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		v, err := readAttr(path)
		if err != nil {
			// Write-only attributes fail with EACCES or EINVAL.
			log.Debug("skipping attribute", "path", path, "err", err)
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}

		mu.Lock()
		out[filepath.ToSlash(rel)] = v
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	return out, nil
}

func readAttr(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
