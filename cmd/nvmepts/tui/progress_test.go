package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/nvmepts/pkg/pts/iops"
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

func newTestModel(t *testing.T, start StartFunc) Model {
	t.Helper()
	return NewModel(context.Background(), Options{
		Device: "/dev/nvme0n1",
		Mode:   types.ModeClient,
		Start:  start,
	})
}

func TestNewModel(t *testing.T) {
	m := newTestModel(t, nil)

	assert.Equal(t, 25, m.opts.MaxRounds)
	assert.Equal(t, "starting", m.phase)
	assert.False(t, m.done)
	assert.Zero(t, m.cellFraction())
	assert.Zero(t, m.roundFraction())
}

func TestModelAppliesEvents(t *testing.T) {
	m := newTestModel(t, nil)

	updated, cmd := m.Update(EventMsg{Kind: iops.EventPhase, Phase: iops.PhasePurge})
	m = updated.(Model)
	assert.NotNil(t, cmd, "keeps listening for events")
	assert.Equal(t, iops.PhasePurge, m.phase)

	updated, _ = m.Update(EventMsg{Kind: iops.EventRoundStart, Round: 3, MaxRounds: 10})
	m = updated.(Model)
	assert.Equal(t, 3, m.round)
	assert.Equal(t, 10, m.opts.MaxRounds)

	meas := &types.Measurement{Round: 3, ReadMix: 65, BlockSize: types.BS4K, IOPS: 12345}
	cell := iops.CellsPerRound / 2
	updated, _ = m.Update(EventMsg{Kind: iops.EventMeasurement, Round: 3, Cell: cell, Measurement: meas})
	m = updated.(Model)
	assert.Equal(t, meas, m.last)
	assert.InDelta(t, 0.5, m.cellFraction(), 0.01)
	assert.InDelta(t, 2.5/10, m.roundFraction(), 0.01)

	eval := &steady.Evaluation{Variables: []steady.VariableResult{
		{Variable: types.TrackingVariables[0], Result: steady.Result{Steady: true}},
		{Variable: types.TrackingVariables[1], Result: steady.Result{Reason: steady.ReasonInsufficient + " (3 < 5)"}},
	}}
	updated, _ = m.Update(EventMsg{Kind: iops.EventRoundEnd, Round: 3, Evaluation: eval})
	m = updated.(Model)
	assert.Equal(t, "1/2", m.steadyCount())

	view := m.View()
	assert.Contains(t, view, "/dev/nvme0n1")
	assert.Contains(t, view, "Round 3 of at most 10")
	assert.Contains(t, view, "65/35")
}

func TestModelStopCancelsTest(t *testing.T) {
	m := newTestModel(t, nil)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = updated.(Model)
	assert.True(t, m.stopping)
	assert.ErrorIs(t, m.ctx.Err(), context.Canceled)
	assert.Contains(t, m.View(), "Stopping")
}

func TestModelDone(t *testing.T) {
	m := newTestModel(t, nil)
	res := &iops.Result{Run: &types.Run{ID: "r1", Status: types.StatusCompleted}}

	updated, cmd := m.Update(DoneMsg{Result: res})
	m = updated.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	got, err := m.Result()
	assert.NoError(t, err)
	assert.Same(t, res, got)
	assert.Contains(t, m.View(), "Test finished")
}

func TestStartTest(t *testing.T) {
	m := newTestModel(t, func(ctx context.Context, events chan<- iops.Event) (*iops.Result, error) {
		events <- iops.Event{Kind: iops.EventPhase, Phase: iops.PhaseConditions}
		return nil, errors.New("boom")
	})

	msg := m.startTest()()
	done, ok := msg.(DoneMsg)
	require.True(t, ok)
	assert.EqualError(t, done.Err, "boom")

	ev, ok := m.listenForEvents()().(EventMsg)
	require.True(t, ok)
	assert.Equal(t, iops.PhaseConditions, ev.Phase)
	assert.Nil(t, m.listenForEvents()(), "closed channel ends listening")
}

func TestStartTestWithoutFunc(t *testing.T) {
	m := newTestModel(t, nil)
	done, ok := m.startTest()().(DoneMsg)
	require.True(t, ok)
	assert.Error(t, done.Err)
}

func TestRenderBar(t *testing.T) {
	bar := renderBar(0.5, 10)
	assert.Equal(t, 5, strings.Count(bar, "█"))
	assert.Contains(t, bar, "50%")

	assert.Equal(t, 10, strings.Count(renderBar(2, 10), "█"))
	assert.Equal(t, 0, strings.Count(renderBar(-1, 10), "█"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:05", formatDuration(5_400_000_000))
	assert.Equal(t, "1:01:01", formatDuration(3661_000_000_000))
}
