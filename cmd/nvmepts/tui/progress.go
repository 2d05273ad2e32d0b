package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/nvmepts/pkg/pts/iops"
	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
	"github.com/jamesainslie/nvmepts/pkg/pts/output"
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// StartFunc runs the test, sending progress on events. It must not close
// events.
type StartFunc func(ctx context.Context, events chan<- iops.Event) (*iops.Result, error)

// Options configures the progress view.
type Options struct {
	Device    string
	Mode      types.Mode
	DevMode   bool
	MaxRounds int
	Start     StartFunc
}

// EventMsg carries a progress event from the test.
type EventMsg iops.Event

// DoneMsg is sent when the test returns.
type DoneMsg struct {
	Result *iops.Result
	Err    error
}

// tickMsg refreshes the elapsed time.
type tickMsg struct{}

// Model is the Bubble Tea model of the progress view.
type Model struct {
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan iops.Event
	spinner spinner.Model

	phase      string
	round      int
	cell       int
	last       *types.Measurement
	evaluation *steady.Evaluation
	startTime  time.Time

	stopping bool
	done     bool
	result   *iops.Result
	err      error

	width  int
	height int
}

// NewModel creates the progress model. Cancelling ctx, or pressing Ctrl+C,
// stops the test.
func NewModel(ctx context.Context, opts Options) Model {
	ctx, cancel := context.WithCancel(ctx)

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 25
	}

	return Model{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan iops.Event, 64),
		spinner:   s,
		phase:     "starting",
		startTime: time.Now(),
		width:     80,
		height:    24,
	}
}

// Init starts the test and the listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startTest(),
		m.listenForEvents(),
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// startTest runs the test in the command goroutine and reports its result.
func (m Model) startTest() tea.Cmd {
	ctx, events, start := m.ctx, m.events, m.opts.Start
	return func() tea.Msg {
		if start == nil {
			close(events)
			return DoneMsg{Err: fmt.Errorf("no test to run")}
		}
		res, err := start(ctx, events)
		close(events)
		return DoneMsg{Result: res, Err: err}
	}
}

// listenForEvents waits for the next progress event.
func (m Model) listenForEvents() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return EventMsg(ev)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.stopping {
				logging.Get("tui").Info("stop requested")
				m.stopping = true
				m.cancel()
			}
		}
		return m, nil

	case EventMsg:
		m.apply(iops.Event(msg))
		return m, m.listenForEvents()

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		m.cancel()
		return m, tea.Quit

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds a progress event into the model.
func (m *Model) apply(ev iops.Event) {
	switch ev.Kind {
	case iops.EventPhase:
		m.phase = ev.Phase
	case iops.EventRoundStart:
		m.round = ev.Round
		m.cell = 0
		if ev.MaxRounds > 0 {
			m.opts.MaxRounds = ev.MaxRounds
		}
		m.phase = fmt.Sprintf("round %d", ev.Round)
	case iops.EventMeasurement:
		m.cell = ev.Cell
		m.last = ev.Measurement
	case iops.EventRoundEnd:
		m.evaluation = ev.Evaluation
	}
}

// View renders the progress view.
func (m Model) View() string {
	var b strings.Builder

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	b.WriteString("\n")
	b.WriteString(m.renderHeader(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	b.WriteString("  " + mutedTextStyle.Render("cells ") + renderBar(m.cellFraction(), contentWidth-10))
	b.WriteString("\n")
	b.WriteString("  " + mutedTextStyle.Render("round ") + renderBar(m.roundFraction(), contentWidth-10))
	b.WriteString("\n\n")

	b.WriteString(m.renderStats(contentWidth))
	b.WriteString("\n")
	b.WriteString(m.renderTracking())

	content := b.String()
	contentLines := strings.Count(content, "\n") + 1
	if available := m.height - 2; available > contentLines {
		content += strings.Repeat("\n", available-contentLines)
	}

	return outerBoxStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderHeader(width int) string {
	title := titleStyle.Render(fmt.Sprintf("  nvmepts  %s  %s", m.opts.Mode, m.opts.Device))
	if m.opts.DevMode {
		title += " " + warningTextStyle.Render("[dev mode]")
	}
	hint := mutedTextStyle.Render("[Ctrl+C to stop]")

	spacing := width - lipgloss.Width(title) - lipgloss.Width(hint)
	if spacing < 1 {
		spacing = 1
	}
	return title + strings.Repeat(" ", spacing) + hint
}

func (m Model) renderStatus() string {
	switch {
	case m.done && m.err != nil:
		return errorTextStyle.Render(fmt.Sprintf("  Error: %v", m.err))
	case m.done:
		return successTextStyle.Render("  Test finished")
	case m.stopping:
		return warningTextStyle.Render(fmt.Sprintf("  %s Stopping after the current command...", m.spinner.View()))
	}

	status := fmt.Sprintf("  %s %s", m.spinner.View(), m.phase)
	if m.round > 0 {
		status = fmt.Sprintf("  %s Round %d of at most %d, cell %d/%d",
			m.spinner.View(), m.round, m.opts.MaxRounds, m.cell, iops.CellsPerRound)
		if m.last != nil {
			status += mutedTextStyle.Render(fmt.Sprintf("  (last: %s %s)", output.MixLabel(m.last.ReadMix), m.last.BlockSize))
		}
	}
	return status
}

// cellFraction is the share of the current round already measured.
func (m Model) cellFraction() float64 {
	if m.round == 0 || iops.CellsPerRound == 0 {
		return 0
	}
	return float64(m.cell) / float64(iops.CellsPerRound)
}

// roundFraction is the share of the round budget used.
func (m Model) roundFraction() float64 {
	if m.round == 0 || m.opts.MaxRounds == 0 {
		return 0
	}
	done := float64(m.round-1) + m.cellFraction()
	return done / float64(m.opts.MaxRounds)
}

// renderBar renders a determinate progress bar.
func renderBar(fraction float64, width int) string {
	if width < 10 {
		width = 10
	}
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction * float64(width))

	return progressFillStyle.Render(strings.Repeat("█", filled)) +
		progressEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		mutedTextStyle.Render(fmt.Sprintf(" %3.0f%%", fraction*100))
}

func (m Model) renderStats(totalWidth int) string {
	boxWidth := (totalWidth - 10) / 4
	if boxWidth < 12 {
		boxWidth = 12
	}

	roundVal := "-"
	if m.round > 0 {
		roundVal = fmt.Sprintf("%d/%d", m.round, m.opts.MaxRounds)
	}
	lastVal := "-"
	if m.last != nil {
		lastVal = types.FormatIOPS(m.last.IOPS)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		"  ", renderStatBox("Round", roundVal, boxWidth),
		" ", renderStatBox("Last IOPS", lastVal, boxWidth),
		" ", renderStatBox("Steady", m.steadyCount(), boxWidth),
		" ", renderStatBox("Time", formatDuration(time.Since(m.startTime)), boxWidth))
}

func (m Model) steadyCount() string {
	if m.evaluation == nil {
		return fmt.Sprintf("0/%d", len(types.TrackingVariables))
	}
	n := 0
	for _, v := range m.evaluation.Variables {
		if v.Result.Steady {
			n++
		}
	}
	return fmt.Sprintf("%d/%d", n, len(m.evaluation.Variables))
}

func renderStatBox(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		center(statsLabelStyle.Render(label), width-4),
		center(statsValueStyle.Render(value), width-4))
	return statsBoxStyle.Width(width).Render(content)
}

// renderTracking lists the steady state check of each tracking variable
// after the last round.
func (m Model) renderTracking() string {
	if m.evaluation == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, v := range m.evaluation.Variables {
		res := v.Result
		mark := warningTextStyle.Render("…")
		switch {
		case res.Steady:
			mark = successTextStyle.Render("✓")
		case !strings.HasPrefix(res.Reason, steady.ReasonInsufficient):
			mark = errorTextStyle.Render("✗")
		}
		line := fmt.Sprintf("  %s %-12s", mark, v.Variable.String())
		if res.Average > 0 {
			line += mutedTextStyle.Render(fmt.Sprintf(" avg %s  range %s/%s",
				types.FormatIOPS(res.Average), types.FormatIOPS(res.Range), types.FormatIOPS(res.RangeLimit)))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// formatDuration formats a duration as H:MM:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// Result returns the outcome of the test once it has returned.
func (m Model) Result() (*iops.Result, error) {
	return m.result, m.err
}

// Run shows the progress view until the test returns.
func Run(ctx context.Context, opts Options) (*iops.Result, error) {
	model := NewModel(ctx, opts)

	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		model.cancel()
		return nil, err
	}
	fm, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected model %T", final)
	}
	return fm.Result()
}
