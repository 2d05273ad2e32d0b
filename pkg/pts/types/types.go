// Package types provides core data types for the nvmepts benchmark runner.
// It includes the PTS test modes and their parameters, the IOPS test matrix
// (read/write mixes and block sizes), run and measurement records, and
// helpers for parsing and formatting sizes and rates.
package types

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// Mode selects the PTS flavour the test follows.
type Mode string

const (
	// ModeEnterprise is PTS-E: write cache disabled, full active range.
	ModeEnterprise Mode = "PTS-E"
	// ModeClient is PTS-C: write cache enabled, 75% active range.
	ModeClient Mode = "PTS-C"
)

// ErrInvalidMode is returned for an unknown PTS mode.
var ErrInvalidMode = errors.New("invalid PTS mode")

// ParseMode parses "PTS-E" or "PTS-C" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ModeEnterprise):
		return ModeEnterprise, nil
	case string(ModeClient):
		return ModeClient, nil
	default:
		return "", fmt.Errorf("%w: %q (want %s or %s)", ErrInvalidMode, s, ModeClient, ModeEnterprise)
	}
}

// ModeParams holds the test conditions a mode mandates.
type ModeParams struct {
	// WriteCache is the volatile write cache setting (WCE when true, WCD when false).
	WriteCache bool `json:"write_cache" yaml:"write_cache"`

	// ActiveRangePct is the percentage of user capacity the workload may touch.
	ActiveRangePct int `json:"active_range_pct" yaml:"active_range_pct"`

	// QueueDepth is the outstanding IO per thread (fio iodepth).
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`

	// ThreadCount is the number of fio jobs (numjobs).
	ThreadCount int `json:"thread_count" yaml:"thread_count"`
}

// Params returns the conditions for the mode.
func (m Mode) Params() (ModeParams, error) {
	switch m {
	case ModeEnterprise:
		return ModeParams{WriteCache: false, ActiveRangePct: 100, QueueDepth: 32, ThreadCount: 4}, nil
	case ModeClient:
		return ModeParams{WriteCache: true, ActiveRangePct: 75, QueueDepth: 16, ThreadCount: 2}, nil
	default:
		return ModeParams{}, fmt.Errorf("%w: %q", ErrInvalidMode, string(m))
	}
}

// BlockSize is a transfer size in fio notation (e.g. "4k", "512b").
type BlockSize string

// Block sizes of the IOPS test, largest first.
const (
	BS1024K BlockSize = "1024k"
	BS128K  BlockSize = "128k"
	BS64K   BlockSize = "64k"
	BS32K   BlockSize = "32k"
	BS16K   BlockSize = "16k"
	BS8K    BlockSize = "8k"
	BS4K    BlockSize = "4k"
	BS512   BlockSize = "512b"
)

// BlockSizes is the inner loop of an IOPS test round, in execution order.
var BlockSizes = []BlockSize{BS1024K, BS128K, BS64K, BS32K, BS16K, BS8K, BS4K, BS512}

// ReadMixes is the outer loop of an IOPS test round: read percentage of the
// R/W mix, in execution order (100/0 down to 0/100).
var ReadMixes = []int{100, 95, 65, 50, 35, 5, 0}

// Bytes returns the block size in bytes, or 0 if it cannot be parsed.
func (b BlockSize) Bytes() int64 {
	n, err := ParseSize(string(b))
	if err != nil {
		return 0
	}
	return n
}

// TrackingVariable is a (R/W mix, block size) cell whose IOPS is watched for
// steady state.
type TrackingVariable struct {
	ReadMix   int       `json:"read_mix" yaml:"read_mix"`
	BlockSize BlockSize `json:"block_size" yaml:"block_size"`
}

// String returns a compact name like "rr0-4k".
func (v TrackingVariable) String() string {
	return fmt.Sprintf("rr%d-%s", v.ReadMix, v.BlockSize)
}

// TrackingVariables are the IOPS steady state tracking variables:
// 0/100 at 4KiB, 65/35 at 64KiB and 100/0 at 1024KiB.
var TrackingVariables = []TrackingVariable{
	{ReadMix: 0, BlockSize: BS4K},
	{ReadMix: 65, BlockSize: BS64K},
	{ReadMix: 100, BlockSize: BS1024K},
}

// Measurement is the outcome of one fio invocation inside a round.
type Measurement struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Round     int       `json:"round" yaml:"round"`
	ReadMix   int       `json:"read_mix" yaml:"read_mix"`
	BlockSize BlockSize `json:"block_size" yaml:"block_size"`

	// ReadIOPS and WriteIOPS are taken from the fio job.
	ReadIOPS  float64 `json:"read_iops" yaml:"read_iops"`
	WriteIOPS float64 `json:"write_iops" yaml:"write_iops"`

	// IOPS is the mix-weighted rate used for reporting and steady state.
	IOPS float64 `json:"iops" yaml:"iops"`

	// TempBefore and TempAfter are composite temperatures in Celsius
	// (zero when unavailable).
	TempBefore float64 `json:"temp_before,omitempty" yaml:"temp_before,omitempty"`
	TempAfter  float64 `json:"temp_after,omitempty" yaml:"temp_after,omitempty"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Variable returns the tracking variable key for this measurement.
func (m Measurement) Variable() TrackingVariable {
	return TrackingVariable{ReadMix: m.ReadMix, BlockSize: m.BlockSize}
}

// MixedIOPS weights read and write rates by the read percentage.
func MixedIOPS(readPct int, readIOPS, writeIOPS float64) float64 {
	p := float64(readPct) / 100.0
	return p*readIOPS + (1-p)*writeIOPS
}

// SortMeasurements orders measurements the way the test loop produces them:
// round, then R/W mix, then block size. Unknown mixes and sizes sort last.
func SortMeasurements(ms []Measurement) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		if ai, bi := indexOf(ReadMixes, a.ReadMix), indexOf(ReadMixes, b.ReadMix); ai != bi {
			return ai < bi
		}
		return indexOf(BlockSizes, a.BlockSize) < indexOf(BlockSizes, b.BlockSize)
	})
}

func indexOf[T comparable](list []T, v T) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return len(list)
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning     RunStatus = "running"
	StatusCompleted   RunStatus = "completed"
	StatusInterrupted RunStatus = "interrupted"
	StatusFailed      RunStatus = "failed"
)

// Run describes one IOPS test execution.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Device     string     `json:"device" yaml:"device"`
	Model      string     `json:"model,omitempty" yaml:"model,omitempty"`
	Serial     string     `json:"serial,omitempty" yaml:"serial,omitempty"`
	Firmware   string     `json:"firmware,omitempty" yaml:"firmware,omitempty"`
	Mode       Mode       `json:"mode" yaml:"mode"`
	Params     ModeParams `json:"params" yaml:"params"`
	DevMode    bool       `json:"dev_mode,omitempty" yaml:"dev_mode,omitempty"`
	OutputDir  string     `json:"output_dir" yaml:"output_dir"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`

	// PhysicalSize is the namespace capacity in bytes.
	PhysicalSize int64 `json:"physical_size" yaml:"physical_size"`

	// Rounds is the number of completed rounds.
	Rounds int `json:"rounds" yaml:"rounds"`

	// Steady reports whether all tracking variables reached steady state;
	// SteadyRound is the round where that happened.
	Steady      bool `json:"steady" yaml:"steady"`
	SteadyRound int  `json:"steady_round,omitempty" yaml:"steady_round,omitempty"`

	Status RunStatus `json:"status" yaml:"status"`
	Error  string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// sizePattern matches size strings like "4k", "512b", "1.5G", "64KiB".
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ParseSize parses a size in fio/IEC notation and returns bytes.
// Suffixes K, M, G, T (optionally followed by B or iB) are powers of 1024;
// a bare B or no suffix means bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts bytes to a human-readable IEC string ("1.0 KiB").
func FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}

// FormatIOPS renders an IOPS value rounded to an integer with thousands separators.
func FormatIOPS(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}
