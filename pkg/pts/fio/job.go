package fio

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// Workload-independent pre-conditioning: sequential 128KiB writes over the
// active range, io_size per thread.
const wipcTemplate = `[global]
bs=128k
ioengine=libaio
iodepth={{ .queue_depth }}
direct=1
gtod_cpu=1
thread
group_reporting

random_distribution=random
random_generator=tausworthe
allrandrepeat=1
randseed={{ .seed }}

[wipc]
stonewall
filename={{ .device }}
rw=write
numjobs={{ .thread_count }}
size={{ .size }}
io_size={{ .io_size }}
`

// Workload-dependent pre-conditioning and measurement: one time-based
// random R/W job per (mix, block size) cell.
const wdpcTemplate = `[global]
ioengine=libaio
iodepth={{ .queue_depth }}
direct=1
gtod_cpu=1
thread
group_reporting

random_distribution=random
random_generator=tausworthe
allrandrepeat=1
randseed={{ .seed }}

filename={{ .device }}
numjobs={{ .thread_count }}
size={{ .size }}
rw=randrw

[wdpc-rr{{ .read_mix }}-{{ .block_size }}]
stonewall
runtime={{ .runtime }}
time_based
rwmixread={{ .read_mix }}
bs={{ .block_size }}
`

var templates = template.Must(
	template.Must(template.New("wipc").Option("missingkey=error").Parse(wipcTemplate)).
		New("wdpc").Option("missingkey=error").Parse(wdpcTemplate))

// Render executes the named job template ("wipc" or "wdpc"). Every key the
// template references must be present in data.
func Render(name string, data map[string]interface{}) (string, error) {
	t := templates.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("unknown job template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s job: %w", name, err)
	}
	return buf.String(), nil
}

// JobParams are the conditions shared by every job of a run.
type JobParams struct {
	Device      string
	QueueDepth  int
	ThreadCount int
	Seed        uint64

	// ActiveRangeKiB bounds each thread's LBA range (fio size).
	ActiveRangeKiB int64
}

func (p JobParams) data() map[string]interface{} {
	return map[string]interface{}{
		"device":       p.Device,
		"queue_depth":  p.QueueDepth,
		"thread_count": p.ThreadCount,
		"seed":         p.Seed,
		"size":         fmt.Sprintf("%dk", p.ActiveRangeKiB),
	}
}

// WIPC renders the pre-conditioning job. Each thread writes ioSizeKiB.
func WIPC(p JobParams, ioSizeKiB int64) (string, error) {
	d := p.data()
	d["io_size"] = fmt.Sprintf("%dk", ioSizeKiB)
	return Render("wipc", d)
}

// WDPC renders one measurement cell.
func WDPC(p JobParams, readMix int, bs types.BlockSize, runtime time.Duration) (string, error) {
	d := p.data()
	d["read_mix"] = readMix
	d["block_size"] = string(bs)
	d["runtime"] = FormatRuntime(runtime)
	return Render("wdpc", d)
}

// FormatRuntime renders d in fio time notation ("1m", "10s").
func FormatRuntime(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	secs := int64(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}

// JobName returns the section name of a WDPC job, as it appears in the
// fio output.
func JobName(readMix int, bs types.BlockSize) string {
	return strings.Join([]string{"wdpc", fmt.Sprintf("rr%d", readMix), string(bs)}, "-")
}
