package steady

import (
	"fmt"
	"sync"

	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// VariableResult pairs a tracking variable with its evaluation.
type VariableResult struct {
	Variable types.TrackingVariable `json:"variable" yaml:"variable"`
	Result   Result                 `json:"result" yaml:"result"`
}

// Evaluation is the steady state verdict after a round.
type Evaluation struct {
	// Steady is true only if every tracking variable is steady.
	Steady    bool             `json:"steady" yaml:"steady"`
	Variables []VariableResult `json:"variables" yaml:"variables"`
}

// Tracker accumulates one series per tracking variable.
type Tracker struct {
	mu     sync.Mutex
	window int
	vars   []types.TrackingVariable
	series map[types.TrackingVariable][]float64
}

// NewTracker tracks vars over the given window.
func NewTracker(window int, vars []types.TrackingVariable) (*Tracker, error) {
	if window < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, window)
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("no tracking variables")
	}
	t := &Tracker{
		window: window,
		vars:   append([]types.TrackingVariable(nil), vars...),
		series: make(map[types.TrackingVariable][]float64, len(vars)),
	}
	for _, v := range vars {
		t.series[v] = nil
	}
	return t, nil
}

// Window returns the measurement window size.
func (t *Tracker) Window() int {
	return t.window
}

// Record appends value to v's series and reports whether v is tracked.
func (t *Tracker) Record(v types.TrackingVariable, value float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.series[v]
	if !ok {
		return false
	}
	t.series[v] = append(s, value)
	return true
}

// Series returns a copy of v's values.
func (t *Tracker) Series(v types.TrackingVariable) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.series[v]...)
}

// Evaluate checks every tracking variable, in the order given to NewTracker.
func (t *Tracker) Evaluate() Evaluation {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := Evaluation{Steady: true, Variables: make([]VariableResult, 0, len(t.vars))}
	for _, v := range t.vars {
		// The window was validated in NewTracker.
		res, _ := Check(t.series[v], t.window)
		ev.Variables = append(ev.Variables, VariableResult{Variable: v, Result: res})
		if !res.Steady {
			ev.Steady = false
		}
	}
	return ev
}
