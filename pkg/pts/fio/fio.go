// Package fio renders PTS job files, runs fio on them and decodes its JSON
// output.
package fio

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jamesainslie/nvmepts/pkg/pts/journal"
	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
	"github.com/jamesainslie/nvmepts/pkg/pts/shell"
)

// Runner runs fio through an executor and journals every invocation.
type Runner struct {
	exec shell.Executor
	path string
}

// NewRunner returns a Runner for the fio binary at path.
func NewRunner(exec shell.Executor, path string) *Runner {
	if path == "" {
		path = "fio"
	}
	return &Runner{exec: exec, path: path}
}

// Run writes job to <step>/job.fio, runs
// `fio --output-format=json+ --output=<step>/output.json <step>/job.fio`,
// keeps stdout and stderr, and returns the parsed output.
func (r *Runner) Run(ctx context.Context, j *journal.Journal, step, job string) (*Result, error) {
	log := logging.Get("fio")

	if err := j.SaveFile(step, journal.JobFile, []byte(job)); err != nil {
		return nil, err
	}

	dir := j.Path(step)
	jobPath := filepath.Join(dir, journal.JobFile)
	outPath := filepath.Join(dir, journal.OutputFile)

	log.Debug("running fio", "step", step)
	res, runErr := r.exec.Run(ctx, shell.Command{
		Name: r.path,
		Args: []string{"--output-format=json+", "--output=" + outPath, jobPath},
		Sudo: true,
	})
	if res != nil {
		if err := j.SaveOutput(step, res.Stdout, res.Stderr); err != nil {
			return nil, err
		}
	}
	if runErr != nil {
		return nil, fmt.Errorf("fio %s: %w", step, runErr)
	}

	data, err := j.ReadFile(step, journal.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("fio %s: %w", step, err)
	}

	out, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fio %s: %w", step, err)
	}
	log.Debug("fio finished", "step", step, "jobs", len(out.Jobs), "duration", res.Duration)
	return out, nil
}
