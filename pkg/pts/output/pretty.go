package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// PrettyFormatter renders the report for a terminal using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatMatrix(r))
	w.WriteString(f.formatSteady(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func field(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

func (f *PrettyFormatter) formatHeader(r *Report) string {
	run := r.Run
	var lines []string

	lines = append(lines, TitleStyle.Render("PTS IOPS test")+"  "+MutedStyle.Render(run.ID))

	device := []string{field("Device:", run.Device)}
	if run.Model != "" {
		device = append(device, field("Model:", run.Model))
	}
	if run.Firmware != "" {
		device = append(device, field("FW:", run.Firmware))
	}
	if run.PhysicalSize > 0 {
		device = append(device, field("Capacity:", types.FormatSize(run.PhysicalSize)))
	}
	lines = append(lines, strings.Join(device, "  "))

	cache := "disabled"
	if run.Params.WriteCache {
		cache = "enabled"
	}
	lines = append(lines, strings.Join([]string{
		field("Mode:", string(run.Mode)),
		field("QD:", fmt.Sprint(run.Params.QueueDepth)),
		field("TC:", fmt.Sprint(run.Params.ThreadCount)),
		field("Active range:", fmt.Sprintf("%d%%", run.Params.ActiveRangePct)),
		field("Write cache:", cache),
	}, "  "))

	status := []string{f.formatStatus(run), field("Rounds:", fmt.Sprint(run.Rounds))}
	if !run.StartedAt.IsZero() {
		status = append(status, field("Started:", run.StartedAt.Local().Format(time.DateTime)))
		if !run.FinishedAt.IsZero() {
			status = append(status, field("Duration:", run.Duration().Round(time.Second).String()))
		}
	}
	lines = append(lines, strings.Join(status, "  "))

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatStatus(run *types.Run) string {
	switch run.Status {
	case types.StatusCompleted:
		return SuccessStyle.Render(string(run.Status))
	case types.StatusRunning, types.StatusInterrupted:
		return WarningStyle.Render(string(run.Status))
	default:
		return ErrorStyle.Render(string(run.Status))
	}
}

// formatMatrix renders IOPS by R/W mix (rows) and block size (columns).
func (f *PrettyFormatter) formatMatrix(r *Report) string {
	if len(r.Cells) == 0 {
		return MutedStyle.Render("  No measurements recorded\n")
	}

	tracked := make(map[types.TrackingVariable]bool, len(types.TrackingVariables))
	for _, v := range types.TrackingVariables {
		tracked[v] = true
	}

	width := 8
	for _, c := range r.Cells {
		if n := len(types.FormatIOPS(c.IOPS)); n > width {
			width = n
		}
	}

	var sb strings.Builder
	sb.WriteString(TitleStyle.Render(fmt.Sprintf("IOPS (average of rounds %s)", roundSpan(r.WindowRounds))))
	sb.WriteString("\n\n")

	sb.WriteString("  " + TableHeaderStyle.Render(padRight("R/W", 7)))
	for _, bs := range r.BlockSizes {
		sb.WriteString("  " + TableHeaderStyle.Render(padLeft(string(bs), width)))
	}
	sb.WriteString("\n")

	for _, rr := range r.ReadMixes {
		sb.WriteString("  " + LabelStyle.Render(padRight(MixLabel(rr), 7)))
		for _, bs := range r.BlockSizes {
			c, ok := r.Cell(rr, bs)
			if !ok {
				sb.WriteString("  " + MutedStyle.Render(padLeft("-", width)))
				continue
			}
			style := IOPSStyle
			if tracked[types.TrackingVariable{ReadMix: rr, BlockSize: bs}] {
				style = TrackedStyle
			}
			sb.WriteString("  " + style.Render(padLeft(types.FormatIOPS(c.IOPS), width)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatSteady(r *Report) string {
	var lines []string
	verdict := WarningStyle.Bold(true).Render("steady state not reached")
	if r.Run.Steady {
		verdict = SuccessStyle.Bold(true).Render(fmt.Sprintf("steady state reached in round %d", r.Run.SteadyRound))
	}
	lines = append(lines, verdict)

	for _, v := range r.SteadyState {
		lines = append(lines, f.formatVariable(v))
	}
	return FooterBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatVariable(v steady.VariableResult) string {
	res := v.Result
	name := padRight(v.Variable.String(), 12)
	if strings.HasPrefix(res.Reason, steady.ReasonInsufficient) {
		return LabelStyle.Render(name) + " " + MutedStyle.Render(res.Reason)
	}

	mark := ErrorStyle.Render("x")
	if res.Steady {
		mark = SuccessStyle.Render("ok")
	}
	return fmt.Sprintf("%s %s  %s  %s  %s",
		LabelStyle.Render(name),
		mark,
		field("avg", types.FormatIOPS(res.Average)),
		field("range", types.FormatIOPS(res.Range)+" / "+types.FormatIOPS(res.RangeLimit)),
		field("fit", types.FormatIOPS(res.FitExcursion)+" / "+types.FormatIOPS(res.FitLimit)),
	)
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

// roundSpan renders a round list as "4-8", "3" or "none".
func roundSpan(rounds []int) string {
	switch len(rounds) {
	case 0:
		return "none"
	case 1:
		return fmt.Sprint(rounds[0])
	default:
		return fmt.Sprintf("%d-%d", rounds[0], rounds[len(rounds)-1])
	}
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
