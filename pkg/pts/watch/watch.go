// Package watch follows the output directory of a running IOPS test and
// reports runs, measurements and steady state checks as they land on disk.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"

	"github.com/jamesainslie/nvmepts/pkg/pts/fio"
	"github.com/jamesainslie/nvmepts/pkg/pts/iops"
	"github.com/jamesainslie/nvmepts/pkg/pts/journal"
	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind identifies an Update.
type Kind int

const (
	KindRun Kind = iota
	KindMeasurement
	KindRound
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindRun:
		return "run"
	case KindMeasurement:
		return "measurement"
	case KindRound:
		return "round"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// Update is one artifact decoded from the run directory.
type Update struct {
	Kind Kind

	// Path is relative to the run directory, slash separated.
	Path string

	Run         *types.Run
	Measurement *types.Measurement
	Round       int
	Evaluation  *steady.Evaluation
}

var (
	cellOutput  = regexp.MustCompile(`^round-(\d+)/rr-(\d+)/bs-([^/]+)/wdpc/` + regexp.QuoteMeta(journal.OutputFile) + `$`)
	steadyCheck = regexp.MustCompile(`^round-(\d+)/steady-state/` + regexp.QuoteMeta(journal.DataFile) + `$`)
	runRecord   = iops.StepRun + "/" + journal.DataFile
	summary     = iops.StepSummary + "/" + journal.DataFile
)

// target is a classified artifact path.
type target struct {
	kind  Kind
	rel   string
	round int
	rr    int
	bs    types.BlockSize
}

// classify maps a relative slash path to the artifact it holds.
func classify(rel string) (target, bool) {
	switch rel {
	case runRecord:
		return target{kind: KindRun, rel: rel}, true
	case summary:
		return target{kind: KindDone, rel: rel}, true
	}
	if m := cellOutput.FindStringSubmatch(rel); m != nil {
		round, _ := strconv.Atoi(m[1])
		rr, _ := strconv.Atoi(m[2])
		return target{kind: KindMeasurement, rel: rel, round: round, rr: rr, bs: types.BlockSize(m[3])}, true
	}
	if m := steadyCheck.FindStringSubmatch(rel); m != nil {
		round, _ := strconv.Atoi(m[1])
		return target{kind: KindRound, rel: rel, round: round}, true
	}
	return target{}, false
}

// Follower watches a run directory recursively.
type Follower struct {
	dir     string
	watcher *fsnotify.Watcher
	paths   map[string]bool
	seen    map[string]bool
	mu      sync.Mutex
	closed  bool
}

// New creates a Follower for the run directory dir.
func New(dir string) (*Follower, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New(abs + " is not a directory")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Follower{
		dir:     abs,
		watcher: fsw,
		paths:   make(map[string]bool),
		seen:    make(map[string]bool),
	}, nil
}

// Run reports artifacts already present, then follows new ones until the
// run summary appears or ctx is cancelled.
func (f *Follower) Run(ctx context.Context, fn func(Update)) error {
	found, err := f.watchTree(f.dir)
	if err != nil {
		return err
	}
	if f.emit(found, fn) {
		return nil
	}

	log := logging.Get("watch")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			var targets []target
			if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
				targets, _ = f.watchTree(event.Name)
			} else if t, ok := f.classifyPath(event.Name); ok {
				targets = []target{t}
			}
			if f.emit(targets, fn) {
				return nil
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// watchTree adds watches below root and returns the artifacts found there,
// in test loop order.
func (f *Follower) watchTree(root string) ([]target, error) {
	var found []target
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // entries may vanish mid-walk
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return f.addWatch(path)
		}
		if t, ok := f.classifyPath(path); ok {
			found = append(found, t)
		}
		return nil
	})
	sortTargets(found)
	return found, err
}

func (f *Follower) addWatch(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.paths[path] {
		return nil
	}
	if err := f.watcher.Add(path); err != nil {
		logging.Get("watch").Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	f.paths[path] = true
	return nil
}

func (f *Follower) classifyPath(path string) (target, bool) {
	rel, err := filepath.Rel(f.dir, path)
	if err != nil {
		return target{}, false
	}
	return classify(filepath.ToSlash(rel))
}

// emit decodes and reports targets; it returns true once the summary was
// reported.
func (f *Follower) emit(targets []target, fn func(Update)) bool {
	for _, t := range targets {
		u, ok := f.decode(t)
		if !ok {
			continue
		}
		fn(u)
		if u.Kind == KindDone {
			return true
		}
	}
	return false
}

// decode reads an artifact. Partially written files are skipped; a later
// write event delivers them. Measurements and round checks are reported once.
func (f *Follower) decode(t target) (Update, bool) {
	once := t.kind == KindMeasurement || t.kind == KindRound
	if once {
		f.mu.Lock()
		done := f.seen[t.rel]
		f.mu.Unlock()
		if done {
			return Update{}, false
		}
	}

	data, err := os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(t.rel)))
	if err != nil || len(data) == 0 {
		return Update{}, false
	}

	u := Update{Kind: t.kind, Path: t.rel, Round: t.round}
	switch t.kind {
	case KindRun:
		var run types.Run
		if json.Unmarshal(data, &run) != nil {
			return Update{}, false
		}
		u.Run = &run
	case KindDone:
		var s iops.Summary
		if json.Unmarshal(data, &s) != nil || s.Run == nil {
			return Update{}, false
		}
		u.Run = s.Run
		u.Evaluation = s.Evaluation
	case KindRound:
		var ev steady.Evaluation
		if json.Unmarshal(data, &ev) != nil {
			return Update{}, false
		}
		u.Evaluation = &ev
	case KindMeasurement:
		res, err := fio.Parse(data)
		if err != nil {
			return Update{}, false
		}
		job, err := res.Job()
		if err != nil {
			return Update{}, false
		}
		u.Measurement = &types.Measurement{
			Round:     t.round,
			ReadMix:   t.rr,
			BlockSize: t.bs,
			ReadIOPS:  job.Read.IOPS,
			WriteIOPS: job.Write.IOPS,
			IOPS:      types.MixedIOPS(t.rr, job.Read.IOPS, job.Write.IOPS),
		}
	}

	if once {
		f.mu.Lock()
		f.seen[t.rel] = true
		f.mu.Unlock()
	}
	return u, true
}

// Close stops watching.
func (f *Follower) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.paths = make(map[string]bool)
	return f.watcher.Close()
}

// sortTargets orders artifacts as the test produces them: run record,
// then per round the cells in loop order and the steady state check, then
// the summary.
func sortTargets(ts []target) {
	rank := func(t target) (int, int, int) {
		switch t.kind {
		case KindRun:
			return 0, 0, 0
		case KindDone:
			return 2, 0, 0
		case KindRound:
			return 1, t.round, 1 << 20
		default:
			cell := slices.Index(types.ReadMixes, t.rr)*len(types.BlockSizes) + slices.Index(types.BlockSizes, t.bs)
			return 1, t.round, cell
		}
	}
	sort.SliceStable(ts, func(i, j int) bool {
		ai, ar, ac := rank(ts[i])
		bi, br, bc := rank(ts[j])
		if ai != bi {
			return ai < bi
		}
		if ar != br {
			return ar < br
		}
		return ac < bc
	})
}

// IsRunDir reports whether dir looks like an nvmepts run directory.
func IsRunDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, iops.StepRun, journal.DataFile))
	return err == nil
}
