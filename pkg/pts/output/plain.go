package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// PlainFormatter writes the IOPS matrix as an aligned table without styling,
// for scripting and piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	run := r.Run
	fmt.Fprintf(w, "run %s  device %s  mode %s  rounds %d  steady %t",
		run.ID, run.Device, run.Mode, run.Rounds, run.Steady)
	if run.Steady {
		fmt.Fprintf(w, " (round %d)", run.SteadyRound)
	}
	w.WriteString("\n\n")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	header := []string{"R/W"}
	for _, bs := range r.BlockSizes {
		header = append(header, string(bs))
	}
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")+"\t"); err != nil {
		return err
	}

	for _, rr := range r.ReadMixes {
		row := []string{MixLabel(rr)}
		for _, bs := range r.BlockSizes {
			if c, ok := r.Cell(rr, bs); ok {
				row = append(row, types.FormatIOPS(c.IOPS))
			} else {
				row = append(row, "-")
			}
		}
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")+"\t"); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
