package nvme

import (
	"fmt"
	"regexp"
	"strings"
)

// Feature is the parsed output of `nvme get-feature --human-readable`.
type Feature struct {
	FID           string  `json:"fid"`
	Name          string  `json:"name"`
	Value         string  `json:"value"`
	HumanReadable []Field `json:"human-readable"`
}

// Field is one decoded attribute of a feature value.
type Field struct {
	Name  string `json:"name"`
	Short string `json:"short"`
	Value string `json:"value"`
}

// get-feature:0x07 (Number of Queues), Current value:0x1f001f
var featureHeader = regexp.MustCompile(`^get-feature:(?P<fid>\S+)\s+\((?P<name>[^)]+)\),\s+Current\s+value:\s*(?P<value>\S+)`)

//	Number of IO Completion Queues Allocated (NCQA): 32
var featureField = regexp.MustCompile(`^\s*(?P<name>[^(]+?)\s+\((?P<short>[^)]+)\)\s*:\s*(?P<value>\S+)`)

// ParseFeature parses one get-feature report. The first line is the header;
// every further non-blank line must be a "name (short): value" field.
func ParseFeature(text string) (*Feature, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	// Skip leading blank lines.
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty get-feature output", ErrUnexpectedOutput)
	}

	m := featureHeader.FindStringSubmatch(lines[0])
	if m == nil {
		return nil, fmt.Errorf("%w: unable to match %q", ErrUnexpectedOutput, lines[0])
	}

	f := &Feature{
		FID:           m[featureHeader.SubexpIndex("fid")],
		Name:          m[featureHeader.SubexpIndex("name")],
		Value:         m[featureHeader.SubexpIndex("value")],
		HumanReadable: []Field{},
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := featureField.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%w: unable to match %q", ErrUnexpectedOutput, line)
		}
		f.HumanReadable = append(f.HumanReadable, Field{
			Name:  m[featureField.SubexpIndex("name")],
			Short: m[featureField.SubexpIndex("short")],
			Value: m[featureField.SubexpIndex("value")],
		})
	}

	return f, nil
}
