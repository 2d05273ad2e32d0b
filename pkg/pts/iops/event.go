package iops

import (
	"github.com/jamesainslie/nvmepts/pkg/pts/steady"
	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

// EventKind identifies a progress event.
type EventKind int

const (
	// EventPhase marks the start of a setup phase (conditions, purge, WIPC).
	EventPhase EventKind = iota
	EventRoundStart
	EventMeasurement
	EventRoundEnd
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventPhase:
		return "phase"
	case EventRoundStart:
		return "round-start"
	case EventMeasurement:
		return "measurement"
	case EventRoundEnd:
		return "round-end"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Setup phases reported with EventPhase.
const (
	PhaseConditions      = "recording test conditions"
	PhaseNamespace       = "reading namespace"
	PhasePurge           = "purging device"
	PhaseWriteCache      = "setting write cache"
	PhasePreconditioning = "workload independent pre-conditioning"
)

// CellsPerRound is the number of fio invocations in one round.
var CellsPerRound = len(types.ReadMixes) * len(types.BlockSizes)

// Event is a progress notification. Fields are set according to Kind.
type Event struct {
	Kind  EventKind
	Phase string

	Round     int
	MaxRounds int

	// Cell is the 1-based index of the measurement within its round.
	Cell int

	Measurement *types.Measurement
	Evaluation  *steady.Evaluation

	// Run is a snapshot set on EventDone.
	Run *types.Run
	Err error
}
