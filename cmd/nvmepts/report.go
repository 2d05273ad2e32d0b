package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/nvmepts/pkg/pts/output"
	"github.com/jamesainslie/nvmepts/pkg/pts/store"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id|latest>",
	Short: "Print the result of a recorded run",
	Long: `Print the IOPS matrix of a recorded run, averaged over the steady state
measurement window, with the steady state check of each tracking variable.

The run is looked up by full ID, unique ID prefix, or "latest".

Formats: pretty, plain, json, jsonl, yaml, csv, tsv, markdown, template.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var (
	reportFormat   string
	reportTemplate string
)

func init() {
	addFormatFlags(reportCmd, &reportFormat, &reportTemplate)
	rootCmd.AddCommand(reportCmd)
}

// addFormatFlags registers -f/--format and --template on cmd.
func addFormatFlags(cmd *cobra.Command, format, tmpl *string) {
	cmd.Flags().StringVarP(format, "format", "f", "pretty", fmt.Sprintf("output format %v", output.Available()))
	cmd.Flags().StringVar(tmpl, "template", "", "Go template used with -f template")
}

// formatter resolves a format name to a formatter.
func formatter(name, tmpl string) (output.Formatter, error) {
	if name == "template" && tmpl != "" {
		return output.NewTemplateFormatter(tmpl), nil
	}
	f, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output format %q: available formats are %v", name, output.Available())
	}
	return f, nil
}

// renderReport formats the report of run over its measurements.
func renderReport(run *types.Run, ms []types.Measurement, window int, f output.Formatter) (string, error) {
	report, err := output.BuildReport(run, ms, window)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, report); err != nil {
		return "", fmt.Errorf("failed to format output: %w", err)
	}
	return buf.String(), nil
}

func runReport(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := formatter(reportFormat, reportTemplate)
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.Resolve(args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && args[0] == "latest" {
			printInfo("No runs recorded yet. Run 'nvmepts iops <device>' first.")
			return nil
		}
		return err
	}
	ms, err := s.Measurements(run.ID)
	if err != nil {
		return fmt.Errorf("failed to read measurements: %w", err)
	}

	out, err := renderReport(run, ms, cfg.Test.Window, f)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
