package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// TSVFormatter writes one tab-separated line per cell.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString("READ_MIX\tBLOCK_SIZE\tIOPS\n")
	for _, c := range r.Cells {
		fmt.Fprintf(w, "%d\t%s\t%.0f\n", c.ReadMix, c.BlockSize, c.IOPS)
	}
	return nil
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

// Ensure TSVFormatter implements Formatter.
var _ Formatter = (*TSVFormatter)(nil)

// CSVFormatter writes one RFC 4180 record per cell.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"run_id", "read_mix", "block_size", "iops", "samples"}); err != nil {
		return err
	}
	for _, c := range r.Cells {
		record := []string{
			r.Run.ID,
			strconv.Itoa(c.ReadMix),
			string(c.BlockSize),
			strconv.FormatFloat(c.IOPS, 'f', 2, 64),
			strconv.Itoa(c.Samples),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

// Ensure CSVFormatter implements Formatter.
var _ Formatter = (*CSVFormatter)(nil)

// MarkdownFormatter writes the IOPS matrix and steady state checks as
// GitHub-flavored Markdown tables.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Report) error {
	run := r.Run
	fmt.Fprintf(w, "## PTS IOPS test: %s\n\n", escapeMarkdownPipe(run.Device))
	fmt.Fprintf(w, "- Run: `%s`\n", run.ID)
	if run.Model != "" {
		fmt.Fprintf(w, "- Model: %s (%s)\n", escapeMarkdownPipe(run.Model), escapeMarkdownPipe(run.Firmware))
	}
	fmt.Fprintf(w, "- Mode: %s (QD %d, TC %d, active range %d%%)\n",
		run.Mode, run.Params.QueueDepth, run.Params.ThreadCount, run.Params.ActiveRangePct)
	fmt.Fprintf(w, "- Rounds: %d, measurement window: %s\n", run.Rounds, roundSpan(r.WindowRounds))
	if run.Steady {
		fmt.Fprintf(w, "- Steady state: reached in round %d\n", run.SteadyRound)
	} else {
		w.WriteString("- Steady state: not reached\n")
	}
	w.WriteString("\n")

	header := []string{"R/W"}
	sep := []string{"---"}
	for _, bs := range r.BlockSizes {
		header = append(header, string(bs))
		sep = append(sep, "---:")
	}
	w.WriteString("| " + strings.Join(header, " | ") + " |\n")
	w.WriteString("|" + strings.Join(sep, "|") + "|\n")
	for _, rr := range r.ReadMixes {
		row := []string{MixLabel(rr)}
		for _, bs := range r.BlockSizes {
			if c, ok := r.Cell(rr, bs); ok {
				row = append(row, types.FormatIOPS(c.IOPS))
			} else {
				row = append(row, "-")
			}
		}
		w.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}

	if len(r.SteadyState) > 0 {
		w.WriteString("\n| Variable | Average | Range | Range limit | Fit excursion | Fit limit | Steady |\n")
		w.WriteString("|---|---:|---:|---:|---:|---:|---|\n")
		for _, v := range r.SteadyState {
			res := v.Result
			fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s | %t |\n",
				v.Variable, types.FormatIOPS(res.Average),
				types.FormatIOPS(res.Range), types.FormatIOPS(res.RangeLimit),
				types.FormatIOPS(res.FitExcursion), types.FormatIOPS(res.FitLimit),
				res.Steady)
		}
	}

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "> **Warning:** %s\n", escapeMarkdownPipe(warning))
		}
	}
	return nil
}

// escapeMarkdownPipe escapes pipe characters in a string for Markdown tables.
func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func init() {
	Register("markdown", func() Formatter {
		return &MarkdownFormatter{}
	})
}

// Ensure MarkdownFormatter implements Formatter.
var _ Formatter = (*MarkdownFormatter)(nil)
