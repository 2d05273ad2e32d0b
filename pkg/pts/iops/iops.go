package iops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/nvmepts/pkg/pts/fio"
	"github.com/jamesainslie/nvmepts/pkg/pts/journal"
	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
	"github.com/jamesainslie/nvmepts/pkg/pts/nvme"
	"github.com/jamesainslie/nvmepts/pkg/pts/probe"
	"github.com/jamesainslie/nvmepts/pkg/pts/shell"
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// Journal steps written by a run, besides the probe steps and per-round cells.
const (
	StepRun       = "run"
	StepNVMeList  = "device/nvme-list"
	StepPurge     = "purge/nvme-format"
	StepSetCache  = "pre-conditioning/nvme-set-feature"
	StepWIPC      = "pre-conditioning/wipc"
	StepSummary   = "summary"
	smartBefore   = "smart-before"
	smartAfter    = "smart-after"
	wdpc          = "wdpc"
	steadyStep    = "steady-state"
	runDirTimeFmt = "20060102-150405"
)

// CellStep returns the journal directory of one measurement cell.
func CellStep(round, readMix int, bs types.BlockSize) string {
	return fmt.Sprintf("round-%d/rr-%d/bs-%s", round, readMix, bs)
}

// WDPCStep returns the journal step holding the fio job and output of a cell.
func WDPCStep(round, readMix int, bs types.BlockSize) string {
	return CellStep(round, readMix, bs) + "/" + wdpc
}

// SteadyStep returns the journal step holding the evaluation after round.
func SteadyStep(round int) string {
	return fmt.Sprintf("round-%d/%s", round, steadyStep)
}

// RunDir names a run directory below base after the device and start time.
func RunDir(base, device string, started time.Time) string {
	return filepath.Join(base, filepath.Base(device)+"-"+started.Format(runDirTimeFmt))
}

// Recorder persists runs and measurements as they progress.
type Recorder interface {
	PutRun(run *types.Run) error
	PutMeasurement(m *types.Measurement) error
}

// Summary is written to the journal when a run ends.
type Summary struct {
	Run        *types.Run         `json:"run"`
	Evaluation *steady.Evaluation `json:"evaluation,omitempty"`
}

// Result is the outcome of Run.
type Result struct {
	Run          *types.Run
	Measurements []types.Measurement
	Evaluation   *steady.Evaluation
}

// Tester drives one IOPS test at a time.
type Tester struct {
	nvme     *nvme.Client
	fio      *fio.Runner
	prober   *probe.Prober
	recorder Recorder
	now      func() time.Time
}

// New returns a Tester. recorder may be nil.
func New(nv *nvme.Client, fr *fio.Runner, pr *probe.Prober, recorder Recorder) *Tester {
	return &Tester{nvme: nv, fio: fr, prober: pr, recorder: recorder, now: time.Now}
}

// run carries the state of one test execution.
type run struct {
	*Tester
	opts    Options
	params  types.ModeParams
	journal *journal.Journal
	rec     *types.Run
	jobs    fio.JobParams
	tracker *steady.Tracker
	log     *logging.Logger

	measurements []types.Measurement
	evaluation   *steady.Evaluation
}

// Run executes the IOPS test described by opts. It returns the run record
// even on failure; a cancelled context marks the run interrupted.
func (t *Tester) Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	params, err := opts.Mode.Params()
	if err != nil {
		return nil, err
	}
	tracker, err := steady.NewTracker(opts.Window, types.TrackingVariables)
	if err != nil {
		return nil, err
	}
	j, err := journal.New(opts.OutputDir)
	if err != nil {
		return nil, err
	}

	r := &run{
		Tester:  t,
		opts:    opts,
		params:  params,
		journal: j,
		tracker: tracker,
		rec: &types.Run{
			ID:        uuid.NewString(),
			Device:    opts.Device,
			Mode:      opts.Mode,
			Params:    params,
			DevMode:   opts.DevMode,
			OutputDir: j.Dir(),
			StartedAt: t.now().UTC(),
			Status:    types.StatusRunning,
		},
	}
	r.log = logging.Get("iops").With("run", r.rec.ID[:8])

	if opts.DevMode {
		r.log.Warn("dev mode: purge and pre-conditioning are skipped, results are not PTS compliant")
	}
	r.log.Info("starting IOPS test", "device", opts.Device, "mode", opts.Mode, "output", j.Dir())
	r.persist()

	runErr := r.execute(ctx)
	r.finish(ctx, runErr)

	res := &Result{Run: r.rec, Measurements: r.measurements, Evaluation: r.evaluation}
	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

func (r *run) execute(ctx context.Context) error {
	r.phase(PhaseConditions)
	cond, err := r.prober.Capture(ctx, r.opts.Device, r.journal)
	if err != nil {
		return err
	}
	if cond.Identify != nil {
		r.rec.Model = cond.Identify.Model
		r.rec.Serial = cond.Identify.Serial
		r.rec.Firmware = cond.Identify.Firmware
	}

	r.phase(PhaseNamespace)
	physicalKiB, err := r.namespace(ctx)
	if err != nil {
		return err
	}
	r.persist()

	r.jobs = fio.JobParams{
		Device:         r.opts.Device,
		QueueDepth:     r.params.QueueDepth,
		ThreadCount:    r.params.ThreadCount,
		Seed:           r.opts.Seed,
		ActiveRangeKiB: physicalKiB * int64(r.params.ActiveRangePct) / 100,
	}
	r.log.Info("test parameters",
		"capacity", types.FormatSize(r.rec.PhysicalSize),
		"active_range", types.FormatSize(r.jobs.ActiveRangeKiB*types.KiB),
		"qd", r.jobs.QueueDepth, "tc", r.jobs.ThreadCount)

	if !r.opts.DevMode {
		r.phase(PhasePurge)
		if err := r.purge(ctx); err != nil {
			return err
		}
	}

	r.phase(PhaseWriteCache)
	if err := r.setWriteCache(ctx); err != nil {
		return err
	}

	if !r.opts.DevMode {
		r.phase(PhasePreconditioning)
		if err := r.wipc(ctx, physicalKiB); err != nil {
			return err
		}
	}

	return r.rounds(ctx)
}

// namespace resolves the device capacity and returns it in KiB.
func (r *run) namespace(ctx context.Context) (int64, error) {
	ns, res, err := r.nvme.Namespace(ctx, r.opts.Device)
	if res != nil {
		if serr := r.journal.SaveOutput(StepNVMeList, res.Stdout, res.Stderr); serr != nil {
			return 0, serr
		}
	}
	if err != nil {
		return 0, err
	}
	if ns.PhysicalSize < types.KiB {
		return 0, fmt.Errorf("%w: namespace %s reports %d bytes", nvme.ErrUnexpectedOutput, ns.NameSpace, ns.PhysicalSize)
	}
	r.rec.PhysicalSize = ns.PhysicalSize
	return ns.PhysicalSize / types.KiB, nil
}

func (r *run) purge(ctx context.Context) error {
	r.log.Info("purging device", "device", r.opts.Device)
	res, err := r.nvme.Format(ctx, r.opts.Device)
	return r.saveOutput(StepPurge, res, err)
}

func (r *run) setWriteCache(ctx context.Context) error {
	var value uint32
	if r.params.WriteCache {
		value = 1
	}
	r.log.Info("setting volatile write cache", "enabled", r.params.WriteCache)
	res, err := r.nvme.SetFeature(ctx, r.opts.Device, nvme.FeatureVolatileWriteCache, value)
	return r.saveOutput(StepSetCache, res, err)
}

// wipc writes twice the user capacity, split across the threads.
func (r *run) wipc(ctx context.Context, physicalKiB int64) error {
	ioSize := 2 * physicalKiB / int64(r.params.ThreadCount)
	job, err := fio.WIPC(r.jobs, ioSize)
	if err != nil {
		return err
	}
	r.log.Info("workload independent pre-conditioning", "io_size", types.FormatSize(ioSize*types.KiB))
	out, err := r.fio.Run(ctx, r.journal, StepWIPC, job)
	if err != nil {
		return err
	}
	_, err = out.Job()
	return err
}

func (r *run) rounds(ctx context.Context) error {
	for round := 1; round <= r.opts.MaxRounds; round++ {
		r.emit(Event{Kind: EventRoundStart, Round: round, MaxRounds: r.opts.MaxRounds})
		r.log.Info("round started", "round", round)

		cell := 0
		for _, rr := range types.ReadMixes {
			for _, bs := range types.BlockSizes {
				cell++
				m, err := r.measure(ctx, round, rr, bs)
				if err != nil {
					return err
				}
				r.emit(Event{Kind: EventMeasurement, Round: round, MaxRounds: r.opts.MaxRounds, Cell: cell, Measurement: m})
			}
		}

		ev := r.tracker.Evaluate()
		r.evaluation = &ev
		r.rec.Rounds = round
		if err := r.journal.SaveJSON(SteadyStep(round), ev); err != nil {
			return err
		}
		for _, v := range ev.Variables {
			r.log.Debug("steady state check", "round", round, "variable", v.Variable.String(),
				"steady", v.Result.Steady, "reason", v.Result.Reason)
		}
		if ev.Steady {
			r.rec.Steady = true
			r.rec.SteadyRound = round
		}
		r.persist()
		r.emit(Event{Kind: EventRoundEnd, Round: round, MaxRounds: r.opts.MaxRounds, Evaluation: &ev})

		if ev.Steady {
			r.log.Info("steady state reached", "round", round,
				"window", fmt.Sprintf("%d-%d", round-r.opts.Window+1, round))
			return nil
		}
	}

	r.log.Warn("steady state was not reached", "rounds", r.opts.MaxRounds)
	return nil
}

// measure runs one cell: smart-log, fio, smart-log.
func (r *run) measure(ctx context.Context, round, rr int, bs types.BlockSize) (*types.Measurement, error) {
	step := CellStep(round, rr, bs)

	before, err := r.temperature(ctx, step+"/"+smartBefore)
	if err != nil {
		return nil, err
	}

	job, err := fio.WDPC(r.jobs, rr, bs, r.opts.CellRuntime())
	if err != nil {
		return nil, err
	}
	out, err := r.fio.Run(ctx, r.journal, step+"/"+wdpc, job)
	if err != nil {
		return nil, err
	}
	res, err := out.Job()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	after, err := r.temperature(ctx, step+"/"+smartAfter)
	if err != nil {
		return nil, err
	}

	m := types.Measurement{
		RunID:      r.rec.ID,
		Round:      round,
		ReadMix:    rr,
		BlockSize:  bs,
		ReadIOPS:   res.Read.IOPS,
		WriteIOPS:  res.Write.IOPS,
		IOPS:       types.MixedIOPS(rr, res.Read.IOPS, res.Write.IOPS),
		TempBefore: before,
		TempAfter:  after,
		Timestamp:  r.now().UTC(),
	}
	r.measurements = append(r.measurements, m)
	r.tracker.Record(m.Variable(), m.IOPS)

	if r.recorder != nil {
		if err := r.recorder.PutMeasurement(&m); err != nil {
			r.log.Warn("measurement not recorded", "step", step, "err", err)
		}
	}
	r.log.Debug("cell measured", "step", step, "iops", types.FormatIOPS(m.IOPS))
	return &m, nil
}

// temperature saves a smart-log and returns its composite temperature, or 0
// when the log cannot be parsed.
func (r *run) temperature(ctx context.Context, step string) (float64, error) {
	res, err := r.nvme.SmartLog(ctx, r.opts.Device)
	if err := r.saveOutput(step, res, err); err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	smart, err := nvme.ParseSmartLog(res.Stdout)
	if err != nil {
		r.log.Debug("smart-log not parsed", "step", step, "err", err)
		return 0, nil
	}
	return smart.Temperature, nil
}

// saveOutput journals a tool result, keeping output of failed commands too.
func (r *run) saveOutput(step string, res *shell.Result, runErr error) error {
	if res != nil {
		if err := r.journal.SaveOutput(step, res.Stdout, res.Stderr); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", step, runErr)
	}
	return nil
}

func (r *run) finish(ctx context.Context, runErr error) {
	r.rec.FinishedAt = r.now().UTC()
	switch {
	case runErr == nil:
		r.rec.Status = types.StatusCompleted
		r.log.Info("IOPS test finished", "rounds", r.rec.Rounds, "steady", r.rec.Steady,
			"duration", r.rec.Duration().Round(time.Second))
	case ctx.Err() != nil || errors.Is(runErr, context.Canceled):
		r.rec.Status = types.StatusInterrupted
		r.rec.Error = runErr.Error()
		r.log.Warn("IOPS test interrupted", "rounds", r.rec.Rounds)
	default:
		r.rec.Status = types.StatusFailed
		r.rec.Error = runErr.Error()
		r.log.Error("IOPS test failed", "err", runErr)
	}

	r.persist()
	if err := r.journal.SaveJSON(StepSummary, Summary{Run: r.rec, Evaluation: r.evaluation}); err != nil {
		r.log.Warn("summary not written", "err", err)
	}

	snapshot := *r.rec
	r.emit(Event{Kind: EventDone, Round: r.rec.Rounds, MaxRounds: r.opts.MaxRounds, Run: &snapshot, Err: runErr})
}

// persist records the run in the journal and, if configured, the results store.
func (r *run) persist() {
	if err := r.journal.SaveJSON(StepRun, r.rec); err != nil {
		r.log.Warn("run record not written", "err", err)
	}
	if r.recorder == nil {
		return
	}
	if err := r.recorder.PutRun(r.rec); err != nil {
		r.log.Warn("run not recorded", "err", err)
	}
}

func (r *run) phase(name string) {
	r.log.Debug("phase", "name", name)
	r.emit(Event{Kind: EventPhase, Phase: name, MaxRounds: r.opts.MaxRounds})
}

func (r *run) emit(ev Event) {
	if r.opts.Events == nil {
		return
	}
	select {
	case r.opts.Events <- ev:
	default:
	}
}
