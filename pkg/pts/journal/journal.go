// Package journal keeps every tool output of a run under its output
// directory, one subdirectory per step (e.g. "round-3/rr-65/bs-64k/wdpc").
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Well-known artifact names inside a step directory.
const (
	StdoutFile = "stdout.log"
	StderrFile = "stderr.log"
	DataFile   = "data.json"
	JobFile    = "job.fio"
	OutputFile = "output.json"
)

// Journal writes artifacts below a root directory.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// New creates a Journal rooted at dir. The directory is created on first write.
func New(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving journal directory: %w", err)
	}
	return &Journal{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Path returns the directory of a step. step uses forward slashes.
func (j *Journal) Path(step string) string {
	return filepath.Join(j.dir, filepath.FromSlash(step))
}

// Mkdir creates the step directory and returns it.
func (j *Journal) Mkdir(step string) (string, error) {
	p := j.Path(step)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("creating step directory %s: %w", step, err)
	}
	return p, nil
}

// SaveOutput stores a tool's stdout and stderr. Empty streams are not written.
func (j *Journal) SaveOutput(step string, stdout, stderr []byte) error {
	if len(stdout) > 0 {
		if err := j.SaveFile(step, StdoutFile, stdout); err != nil {
			return err
		}
	}
	if len(stderr) > 0 {
		if err := j.SaveFile(step, StderrFile, stderr); err != nil {
			return err
		}
	}
	return nil
}

// SaveJSON stores v as data.json, indented by four spaces.
func (j *Journal) SaveJSON(step string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", step, err)
	}
	return j.SaveFile(step, DataFile, append(data, '\n'))
}

// SaveFile atomically writes name inside the step directory.
func (j *Journal) SaveFile(step, name string, data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	dir, err := j.Mkdir(step)
	if err != nil {
		return err
	}

	filePath := filepath.Join(dir, name)
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ReadFile returns an artifact written earlier.
func (j *Journal) ReadFile(step, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(j.Path(step), name))
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", step, name, err)
	}
	return data, nil
}

// ReadJSON decodes a step's data.json into v.
func (j *Journal) ReadJSON(step string, v interface{}) error {
	data, err := j.ReadFile(step, DataFile)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", step, DataFile, err)
	}
	return nil
}

// Steps lists every step that holds at least one artifact, sorted.
func (j *Journal) Steps() ([]string, error) {
	seen := make(map[string]struct{})
	err := filepath.WalkDir(j.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(j.dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel != "." {
			seen[filepath.ToSlash(rel)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}

	steps := make([]string, 0, len(seen))
	for s := range seen {
		steps = append(steps, s)
	}
	sort.Strings(steps)
	return steps, nil
}
