package iops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/nvmepts/pkg/pts/fio"
	"github.com/jamesainslie/nvmepts/pkg/pts/journal"
	"github.com/jamesainslie/nvmepts/pkg/pts/nvme"
	"github.com/jamesainslie/nvmepts/pkg/pts/probe"
	"github.com/jamesainslie/nvmepts/pkg/pts/shell"
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/store"
	"github.com/jamesainslie/nvmepts/pkg/pts/sysfs"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

const (
	device       = "/dev/nvme0n1"
	physicalSize = 1000204886016
	physicalKiB  = physicalSize / 1024
)

const nvmeList = `{"Devices":[{"Controllers":[{"Controller":"nvme0","Namespaces":[
{"NameSpace":"nvme0n1","NSID":1,"PhysicalSize":1000204886016,"SectorSize":512}]}]}]}`

var (
	roundPattern = regexp.MustCompile(`round-(\d+)/`)
	mixPattern   = regexp.MustCompile(`(?m)^rwmixread=(\d+)$`)
	bsPattern    = regexp.MustCompile(`(?m)^bs=(\S+)$`)
)

// iopsFunc returns the IOPS the fake fio reports for a cell.
type iopsFunc func(round, readMix int, bs types.BlockSize) float64

func constant(v float64) iopsFunc {
	return func(int, int, types.BlockSize) float64 { return v }
}

type noInventory struct{}

func (noInventory) Host(context.Context) (*probe.HostInfo, error) {
	return &probe.HostInfo{Hostname: "bench01"}, nil
}

func (noInventory) Devices(context.Context) ([]probe.Device, error) {
	return []probe.Device{{Name: "nvme0n1"}}, nil
}

// fakeFio answers fio calls by writing an output document whose read and
// write IOPS both equal fn for the cell described by the job file.
func fakeFio(fn iopsFunc) shell.Handler {
	return func(_ context.Context, c shell.Command) (*shell.Result, error) {
		jobPath := c.Args[len(c.Args)-1]
		job, err := os.ReadFile(jobPath)
		if err != nil {
			return nil, err
		}

		name, value := "wipc", 100.0
		if m := mixPattern.FindSubmatch(job); m != nil {
			rr, _ := strconv.Atoi(string(m[1]))
			bs := types.BlockSize(bsPattern.FindSubmatch(job)[1])
			round := 0
			if rm := roundPattern.FindStringSubmatch(filepath.ToSlash(jobPath)); rm != nil {
				round, _ = strconv.Atoi(rm[1])
			}
			name = fio.JobName(rr, bs)
			value = fn(round, rr, bs)
		}

		out := fmt.Sprintf(`{"fio version":"fio-3.36","jobs":[{"jobname":%q,"error":0,"read":{"iops":%g},"write":{"iops":%g}}]}`,
			name, value, value)
		if err := os.WriteFile(shell.ArgValue(c.Args, "--output"), []byte(out), 0o644); err != nil {
			return nil, err
		}
		return &shell.Result{Argv: c.Args}, nil
	}
}

type harness struct {
	root   string
	tools  *shell.Fake
	store  *store.Store
	tester *Tester
	dir    string
}

func newHarness(t *testing.T, fn iopsFunc) *harness {
	t.Helper()

	root := t.TempDir()
	queue := filepath.Join(root, "sys", "block", "nvme0n1", "queue")
	require.NoError(t, os.MkdirAll(queue, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(queue, "nr_requests"), []byte("1023\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sys", "module", "nvme", "parameters"), 0o755))

	tools := shell.NewFake().
		Stdout("lshw", "", `{"id":"host"}`).
		Stdout("lspci", "", "01:00.0 Non-Volatile memory controller\n").
		Stdout("nvme", "list", nvmeList).
		Stdout("nvme", "id-ctrl", `{"sn":"S4EW","mn":"Samsung SSD 970","fr":"2B2QEXM7","vwc":1}`).
		Stdout("nvme", "smart-log", `{"temperature":313,"percent_used":0}`).
		Stdout("nvme", "get-feature", "get-feature:0x06 (Volatile Write Cache), Current value:0x00000001\n").
		Stdout("nvme", "set-feature", "set-feature:0x06 (Volatile Write Cache), value:0x00000001\n").
		Stdout("nvme", "format", "Success formatting namespace:1\n").
		On("fio", "", fakeFio(fn))

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	nv := nvme.NewClient(tools, "nvme")
	pr := probe.New(tools, nv, sysfs.NewReader(root), noInventory{}, probe.Tools{})
	return &harness{
		root:   root,
		tools:  tools,
		store:  st,
		tester: New(nv, fio.NewRunner(tools, "fio"), pr, st),
		dir:    filepath.Join(t.TempDir(), "run"),
	}
}

func (h *harness) options(mode types.Mode, dev bool) Options {
	opts := DefaultOptions()
	opts.Device = device
	opts.Mode = mode
	opts.DevMode = dev
	opts.OutputDir = h.dir
	return opts
}

// setFeatureValue returns the --value of the single set-feature call.
func (h *harness) setFeatureValue(t *testing.T) string {
	t.Helper()
	for _, c := range h.tools.Calls() {
		if filepath.Base(c.Name) == "nvme" && c.Args[0] == "set-feature" {
			assert.Equal(t, "--feature-id=0x06", c.Args[1])
			return shell.ArgValue(c.Args, "--value")
		}
	}
	t.Fatal("set-feature was not called")
	return ""
}

func TestRunStopsWhenSteady(t *testing.T) {
	h := newHarness(t, constant(25000))
	events := make(chan Event, 4096)
	opts := h.options(types.ModeClient, true)
	opts.Events = events

	res, err := h.tester.Run(context.Background(), opts)
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, types.StatusCompleted, run.Status)
	assert.True(t, run.Steady)
	assert.Equal(t, 5, run.Rounds, "steady state needs a full window")
	assert.Equal(t, 5, run.SteadyRound)
	assert.Equal(t, "Samsung SSD 970", run.Model)
	assert.Equal(t, int64(physicalSize), run.PhysicalSize)
	assert.Len(t, res.Measurements, 5*CellsPerRound)
	require.NotNil(t, res.Evaluation)
	assert.True(t, res.Evaluation.Steady)

	m := res.Measurements[0]
	assert.Equal(t, 1, m.Round)
	assert.Equal(t, 100, m.ReadMix)
	assert.Equal(t, types.BS1024K, m.BlockSize)
	assert.InDelta(t, 25000, m.IOPS, 1e-9)
	assert.InDelta(t, 39.85, m.TempBefore, 1e-9)

	assert.Equal(t, 5*CellsPerRound, h.tools.Count("fio", ""))
	assert.Equal(t, 0, h.tools.Count("nvme", "format"), "dev mode must not purge")
	assert.Equal(t, "0x1", h.setFeatureValue(t))

	stored, err := h.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, stored.Status)
	ms, err := h.store.Measurements(run.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 5*CellsPerRound)

	j, err := journal.New(h.dir)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, j.ReadJSON(StepSummary, &summary))
	assert.Equal(t, run.ID, summary.Run.ID)
	assert.True(t, summary.Evaluation.Steady)

	var ev steady.Evaluation
	require.NoError(t, j.ReadJSON(SteadyStep(4), &ev))
	assert.False(t, ev.Steady)

	_, err = j.ReadFile(StepWIPC, journal.JobFile)
	assert.Error(t, err, "dev mode must not pre-condition")

	job, err := j.ReadFile(WDPCStep(3, 65, types.BS64K), journal.JobFile)
	require.NoError(t, err)
	assert.Contains(t, string(job), "runtime=10s\n")
	assert.Contains(t, string(job), fmt.Sprintf("size=%dk\n", physicalKiB*75/100))
	assert.Contains(t, string(job), "numjobs=2\n")
	assert.Contains(t, string(job), "iodepth=16\n")
	assert.Contains(t, string(job), "randseed=3735928559\n")

	for _, s := range []string{"smart-before", "smart-after"} {
		_, err := j.ReadFile(CellStep(5, 0, types.BS512)+"/"+s, journal.StdoutFile)
		assert.NoError(t, err)
	}

	close(events)
	var kinds []EventKind
	for e := range events {
		kinds = append(kinds, e.Kind)
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventPhase, kinds[0])
	assert.Equal(t, EventDone, kinds[len(kinds)-1])
}

func TestRunSteadyAfterRamp(t *testing.T) {
	h := newHarness(t, func(round, _ int, _ types.BlockSize) float64 {
		if round <= 3 {
			return float64(1000 * round)
		}
		return 10000
	})

	res, err := h.tester.Run(context.Background(), h.options(types.ModeClient, true))
	require.NoError(t, err)
	assert.True(t, res.Run.Steady)
	assert.Equal(t, 8, res.Run.SteadyRound)
	assert.Equal(t, 8, res.Run.Rounds)
}

func TestRunStopsAtMaxRounds(t *testing.T) {
	h := newHarness(t, func(round, _ int, _ types.BlockSize) float64 {
		if round%2 == 0 {
			return 2000
		}
		return 1000
	})

	res, err := h.tester.Run(context.Background(), h.options(types.ModeClient, true))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Run.Status)
	assert.False(t, res.Run.Steady)
	assert.Zero(t, res.Run.SteadyRound)
	assert.Equal(t, 25, res.Run.Rounds)
	assert.Equal(t, 25*CellsPerRound, h.tools.Count("fio", ""))
	require.NotNil(t, res.Evaluation)
	assert.False(t, res.Evaluation.Steady)
}

func TestRunEnterprise(t *testing.T) {
	h := newHarness(t, constant(100000))
	opts := h.options(types.ModeEnterprise, false)
	opts.MaxRounds = 1

	res, err := h.tester.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Rounds)
	assert.False(t, res.Run.Steady)
	assert.Equal(t, "0x0", h.setFeatureValue(t))

	// purge, then write cache, then pre-conditioning, then the rounds
	order := map[string]int{}
	for i, c := range h.tools.Calls() {
		key := filepath.Base(c.Name)
		if key == "nvme" {
			key += " " + c.Args[0]
		}
		if _, seen := order[key]; !seen {
			order[key] = i
		}
	}
	assert.Less(t, order["nvme format"], order["nvme set-feature"])
	assert.Less(t, order["nvme set-feature"], order["fio"])

	j, err := journal.New(h.dir)
	require.NoError(t, err)

	purge, err := j.ReadFile(StepPurge, journal.StdoutFile)
	require.NoError(t, err)
	assert.Contains(t, string(purge), "Success")

	wipc, err := j.ReadFile(StepWIPC, journal.JobFile)
	require.NoError(t, err)
	assert.Contains(t, string(wipc), fmt.Sprintf("size=%dk\n", physicalKiB))
	assert.Contains(t, string(wipc), fmt.Sprintf("io_size=%dk\n", 2*physicalKiB/4))
	assert.Contains(t, string(wipc), "numjobs=4\n")
	assert.Contains(t, string(wipc), "iodepth=32\n")

	job, err := j.ReadFile(WDPCStep(1, 0, types.BS4K), journal.JobFile)
	require.NoError(t, err)
	assert.Contains(t, string(job), "runtime=1m\n")

	list, err := j.ReadFile(StepNVMeList, journal.StdoutFile)
	require.NoError(t, err)
	assert.Contains(t, string(list), "nvme0n1")
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, constant(1000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h.tools.On("fio", "", func(ctx context.Context, c shell.Command) (*shell.Result, error) {
		calls++
		if calls == 3 {
			cancel()
			return &shell.Result{ExitCode: -1}, &shell.CommandError{Argv: c.Args, ExitCode: -1, Err: context.Canceled}
		}
		return fakeFio(constant(1000))(ctx, c)
	})

	res, err := h.tester.Run(ctx, h.options(types.ModeClient, true))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, types.StatusInterrupted, res.Run.Status)
	assert.Len(t, res.Measurements, 2)
	assert.False(t, res.Run.FinishedAt.IsZero())

	stored, err := h.store.GetRun(res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInterrupted, stored.Status)
}

func TestRunNamespaceMissing(t *testing.T) {
	h := newHarness(t, constant(1000))
	opts := h.options(types.ModeClient, true)
	opts.Device = "/dev/nvme9n1"
	require.NoError(t, os.MkdirAll(filepath.Join(h.root, "sys", "block", "nvme9n1", "queue"), 0o755))

	res, err := h.tester.Run(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, nvme.ErrNamespaceNotFound)
	assert.Equal(t, types.StatusFailed, res.Run.Status)
	assert.Contains(t, res.Run.Error, "nvme9n1")
	assert.Zero(t, h.tools.Count("fio", ""))
}

func TestRunToolFailure(t *testing.T) {
	h := newHarness(t, constant(1000))
	h.tools.On("nvme", "set-feature", func(_ context.Context, c shell.Command) (*shell.Result, error) {
		res := &shell.Result{Stderr: []byte("NVMe status: Invalid Field in Command\n"), ExitCode: 2}
		return res, &shell.CommandError{Argv: c.Args, ExitCode: 2, Stderr: string(res.Stderr), Err: errors.New("exit status 2")}
	})

	res, err := h.tester.Run(context.Background(), h.options(types.ModeEnterprise, true))
	require.Error(t, err)
	assert.ErrorIs(t, err, shell.ErrCommandFailed)
	assert.Equal(t, types.StatusFailed, res.Run.Status)

	j, err := journal.New(h.dir)
	require.NoError(t, err)
	stderr, err := j.ReadFile(StepSetCache, journal.StderrFile)
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "Invalid Field")
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"no device", func(o *Options) { o.Device = "" }, true},
		{"no output", func(o *Options) { o.OutputDir = "" }, true},
		{"bad mode", func(o *Options) { o.Mode = "PTS-X" }, true},
		{"window too small", func(o *Options) { o.Window = 1 }, true},
		{"zero rounds defaulted", func(o *Options) { o.MaxRounds = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Device = device
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 25, opts.MaxRounds)
		})
	}
}

func TestCellRuntime(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, time.Minute, opts.CellRuntime())
	opts.DevMode = true
	assert.Equal(t, 10*time.Second, opts.CellRuntime())
}

func TestSteps(t *testing.T) {
	assert.Equal(t, "round-3/rr-65/bs-64k", CellStep(3, 65, types.BS64K))
	assert.Equal(t, "round-1/rr-0/bs-512b/wdpc", WDPCStep(1, 0, types.BS512))
	assert.Equal(t, "round-7/steady-state", SteadyStep(7))

	started := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, filepath.Join("out", "nvme0n1-20240506-070809"), RunDir("out", device, started))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "round-end", EventRoundEnd.String())
	assert.True(t, strings.HasPrefix(EventKind(99).String(), "unknown"))
}
