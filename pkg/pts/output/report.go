package output

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// Cell is the measurement window average of one (R/W mix, block size) pair.
type Cell struct {
	ReadMix   int             `json:"read_mix" yaml:"read_mix"`
	BlockSize types.BlockSize `json:"block_size" yaml:"block_size"`
	IOPS      float64         `json:"iops" yaml:"iops"`

	// Samples is the number of rounds averaged.
	Samples int `json:"samples" yaml:"samples"`
}

// Report is the input of every formatter.
type Report struct {
	Run *types.Run `json:"run" yaml:"run"`

	// Window is the configured measurement window; WindowRounds are the
	// last window rounds of the run. A cell missing from a partial last
	// round is averaged over its own last window rounds instead.
	Window       int   `json:"window" yaml:"window"`
	WindowRounds []int `json:"window_rounds" yaml:"window_rounds"`

	ReadMixes  []int             `json:"read_mixes" yaml:"read_mixes"`
	BlockSizes []types.BlockSize `json:"block_sizes" yaml:"block_sizes"`

	// Cells are ordered like the test loop: mix, then block size.
	Cells []Cell `json:"cells" yaml:"cells"`

	SteadyState []steady.VariableResult `json:"steady_state" yaml:"steady_state"`

	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Cell returns the cell for rr and bs.
func (r *Report) Cell(rr int, bs types.BlockSize) (Cell, bool) {
	for _, c := range r.Cells {
		if c.ReadMix == rr && c.BlockSize == bs {
			return c, true
		}
	}
	return Cell{}, false
}

// BuildReport averages each cell over the last window rounds that recorded
// it (all of them if fewer) and re-evaluates steady state from the
// measurements.
func BuildReport(run *types.Run, measurements []types.Measurement, window int) (*Report, error) {
	if run == nil {
		return nil, errors.New("no run to report")
	}
	tracker, err := steady.NewTracker(window, types.TrackingVariables)
	if err != nil {
		return nil, err
	}

	ms := append([]types.Measurement(nil), measurements...)
	types.SortMeasurements(ms)

	var rounds []int
	series := make(map[types.TrackingVariable][]float64)
	for _, m := range ms {
		if len(rounds) == 0 || rounds[len(rounds)-1] != m.Round {
			rounds = append(rounds, m.Round)
		}
		series[m.Variable()] = append(series[m.Variable()], m.IOPS)
		tracker.Record(m.Variable(), m.IOPS)
	}
	if len(rounds) > window {
		rounds = rounds[len(rounds)-window:]
	}

	r := &Report{
		Run:          run,
		Window:       window,
		WindowRounds: rounds,
		ReadMixes:    types.ReadMixes,
		BlockSizes:   types.BlockSizes,
		SteadyState:  tracker.Evaluate().Variables,
	}
	for _, rr := range types.ReadMixes {
		for _, bs := range types.BlockSizes {
			values := series[types.TrackingVariable{ReadMix: rr, BlockSize: bs}]
			if len(values) == 0 {
				continue
			}
			if len(values) > window {
				values = values[len(values)-window:]
			}
			r.Cells = append(r.Cells, Cell{ReadMix: rr, BlockSize: bs, IOPS: stat.Mean(values, nil), Samples: len(values)})
		}
	}

	r.Warnings = warnings(run, len(ms))
	return r, nil
}

func warnings(run *types.Run, n int) []string {
	var out []string
	switch run.Status {
	case types.StatusInterrupted:
		out = append(out, fmt.Sprintf("run was interrupted after %d rounds", run.Rounds))
	case types.StatusFailed:
		out = append(out, "run failed: "+run.Error)
	case types.StatusCompleted:
		if !run.Steady {
			out = append(out, fmt.Sprintf("steady state was not reached after %d rounds", run.Rounds))
		}
	}
	if run.DevMode {
		out = append(out, "dev mode run: purge and pre-conditioning were skipped, results are not PTS compliant")
	}
	if n == 0 {
		out = append(out, "no measurements recorded")
	}
	return out
}

// MixLabel renders a read percentage as "R/W", e.g. "65/35".
func MixLabel(readMix int) string {
	return fmt.Sprintf("%d/%d", readMix, 100-readMix)
}
