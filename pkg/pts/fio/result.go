package fio

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoJobs is returned when fio output holds no job results.
var ErrNoJobs = errors.New("fio output has no jobs")

// ErrBadOutput is returned when fio output is not a JSON document.
var ErrBadOutput = errors.New("fio output is not JSON")

// LatencyStats is the summary of a latency distribution in nanoseconds.
type LatencyStats struct {
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// IOStats holds the per-direction results of a job.
type IOStats struct {
	IOBytes  int64        `json:"io_bytes"`
	BWBytes  int64        `json:"bw_bytes"`
	IOPS     float64      `json:"iops"`
	Runtime  int64        `json:"runtime"`
	TotalIOs int64        `json:"total_ios"`
	Clat     LatencyStats `json:"clat_ns"`
	Lat      LatencyStats `json:"lat_ns"`
}

// JobResult is one element of the fio "jobs" array.
type JobResult struct {
	Name    string  `json:"jobname"`
	Error   int     `json:"error"`
	Elapsed int64   `json:"elapsed"`
	Read    IOStats `json:"read"`
	Write   IOStats `json:"write"`
	Trim    IOStats `json:"trim"`
}

// Result is a decoded `fio --output-format=json+` document.
type Result struct {
	Version   string      `json:"fio version"`
	Timestamp int64       `json:"timestamp"`
	Jobs      []JobResult `json:"jobs"`
}

// Parse decodes fio JSON output. Anything before the first '{' (fio may
// print notices ahead of the document) is ignored.
func Parse(data []byte) (*Result, error) {
	i := bytes.IndexByte(data, '{')
	if i < 0 {
		return nil, ErrBadOutput
	}

	var r Result
	if err := json.Unmarshal(data[i:], &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	return &r, nil
}

// Job returns the first job, which is the only one nvmepts ever runs.
func (r *Result) Job() (*JobResult, error) {
	if len(r.Jobs) == 0 {
		return nil, ErrNoJobs
	}
	j := &r.Jobs[0]
	if j.Error != 0 {
		return nil, fmt.Errorf("fio job %s failed with error %d", j.Name, j.Error)
	}
	return j, nil
}

// MixedIOPS weights the first job's read and write IOPS by readPct.
func (r *Result) MixedIOPS(readPct int) (float64, error) {
	j, err := r.Job()
	if err != nil {
		return 0, err
	}
	return types.MixedIOPS(readPct, j.Read.IOPS, j.Write.IOPS), nil
}
