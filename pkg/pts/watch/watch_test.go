package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/nvmepts/pkg/pts/iops"
	"github.com/jamesainslie/nvmepts/pkg/pts/journal"
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

func fioOutput(read, write float64) []byte {
	return []byte(fmt.Sprintf(`{"fio version":"fio-3.36","jobs":[{"jobname":"wdpc","error":0,"read":{"iops":%g},"write":{"iops":%g}}]}`, read, write))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		rel   string
		ok    bool
		kind  Kind
		round int
		rr    int
		bs    types.BlockSize
	}{
		{rel: "run/data.json", ok: true, kind: KindRun},
		{rel: "summary/data.json", ok: true, kind: KindDone},
		{rel: "round-12/rr-65/bs-64k/wdpc/output.json", ok: true, kind: KindMeasurement, round: 12, rr: 65, bs: types.BS64K},
		{rel: "round-3/steady-state/data.json", ok: true, kind: KindRound, round: 3},
		{rel: "round-3/rr-65/bs-64k/wdpc/job.fio"},
		{rel: "round-3/rr-65/bs-64k/smart-before/stdout.log"},
		{rel: "run/data.json.tmp"},
		{rel: "platform/lshw/stdout.log"},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, ok := classify(tt.rel)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.kind, got.kind)
			assert.Equal(t, tt.round, got.round)
			assert.Equal(t, tt.rr, got.rr)
			assert.Equal(t, tt.bs, got.bs)
		})
	}
}

func TestSortTargets(t *testing.T) {
	ts := []target{
		{kind: KindDone},
		{kind: KindRound, round: 1},
		{kind: KindMeasurement, round: 10, rr: 100, bs: types.BS1024K},
		{kind: KindMeasurement, round: 1, rr: 0, bs: types.BS512},
		{kind: KindMeasurement, round: 1, rr: 100, bs: types.BS4K},
		{kind: KindRun},
		{kind: KindMeasurement, round: 2, rr: 100, bs: types.BS1024K},
	}
	sortTargets(ts)

	assert.Equal(t, KindRun, ts[0].kind)
	assert.Equal(t, types.BS4K, ts[1].bs)
	assert.Equal(t, types.BS512, ts[2].bs)
	assert.Equal(t, KindRound, ts[3].kind)
	assert.Equal(t, 2, ts[4].round)
	assert.Equal(t, 10, ts[5].round)
	assert.Equal(t, KindDone, ts[6].kind)
}

func TestFollowerCatchUpAndFollow(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.New(dir)
	require.NoError(t, err)

	run := &types.Run{ID: "run-1", Device: "/dev/nvme0n1", Status: types.StatusRunning}
	require.NoError(t, j.SaveJSON(iops.StepRun, run))
	require.NoError(t, j.SaveFile(iops.WDPCStep(1, 65, types.BS64K), journal.OutputFile, fioOutput(1000, 2000)))
	require.True(t, IsRunDir(dir))

	f, err := New(dir)
	require.NoError(t, err)
	defer f.Close()

	updates := make(chan Update, 64)
	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		done <- f.Run(ctx, func(u Update) { updates <- u })
	}()

	next := func() Update {
		t.Helper()
		select {
		case u := <-updates:
			return u
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for update")
			return Update{}
		}
	}

	u := next()
	assert.Equal(t, KindRun, u.Kind)
	assert.Equal(t, "run-1", u.Run.ID)

	u = next()
	require.Equal(t, KindMeasurement, u.Kind)
	assert.Equal(t, 1, u.Round)
	assert.InDelta(t, 0.65*1000+0.35*2000, u.Measurement.IOPS, 1e-9)

	// New artifacts written after the follower started.
	require.NoError(t, j.SaveFile(iops.WDPCStep(2, 0, types.BS4K), journal.OutputFile, fioOutput(0, 5000)))
	for {
		u = next()
		if u.Kind == KindMeasurement {
			break
		}
	}
	assert.Equal(t, 2, u.Round)
	assert.Equal(t, types.BS4K, u.Measurement.BlockSize)
	assert.InDelta(t, 5000, u.Measurement.IOPS, 1e-9)

	require.NoError(t, j.SaveJSON(iops.SteadyStep(2), steady.Evaluation{Steady: false}))
	for {
		u = next()
		if u.Kind == KindRound {
			break
		}
	}
	assert.Equal(t, 2, u.Round)
	require.NotNil(t, u.Evaluation)

	run.Status = types.StatusCompleted
	require.NoError(t, j.SaveJSON(iops.StepSummary, iops.Summary{Run: run}))
	for {
		u = next()
		if u.Kind == KindDone {
			break
		}
	}
	assert.Equal(t, types.StatusCompleted, u.Run.Status)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop after the summary")
	}
}

func TestFollowerFinishedRun(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.New(dir)
	require.NoError(t, err)
	run := &types.Run{ID: "run-2", Status: types.StatusCompleted}
	require.NoError(t, j.SaveJSON(iops.StepRun, run))
	require.NoError(t, j.SaveJSON(iops.StepSummary, iops.Summary{Run: run}))

	f, err := New(dir)
	require.NoError(t, err)
	defer f.Close()

	var kinds []Kind
	require.NoError(t, f.Run(context.Background(), func(u Update) { kinds = append(kinds, u.Kind) }))
	assert.Equal(t, []Kind{KindRun, KindDone}, kinds)
}

func TestFollowerCancelled(t *testing.T) {
	f, err := New(t.TempDir())
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Run(ctx, func(Update) {}), context.Canceled)
}

func TestNewRejectsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := New(path)
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	assert.False(t, IsRunDir(t.TempDir()))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "measurement", KindMeasurement.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
