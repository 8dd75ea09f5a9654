package pipeline

import (
	"time"
)

// State is a step of the run state machine.
type State int

const (
	StateIdle State = iota
	StateExporting
	StateArchiving
	StateUploading
	StatePurging
	StateCleaningUp
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExporting:
		return "exporting"
	case StateArchiving:
		return "archiving"
	case StateUploading:
		return "uploading"
	case StatePurging:
		return "purging"
	case StateCleaningUp:
		return "cleaning_up"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type OutcomeKind int

const (
	OutcomeSkipped OutcomeKind = iota
	OutcomeCompleted
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome describes one invocation of RunOnce. It is not persisted.
type Outcome struct {
	RunID string
	Kind  OutcomeKind

	// FailedStage and Err are set when Kind is OutcomeFailed.
	FailedStage State
	Err         error

	// Reason explains a skipped run.
	Reason string

	Exported    int
	Deleted     int64
	ArchivePath string
	ArchiveKey  string
	ArchiveSize int64
	Encrypted   bool

	// Warnings collects soft failures: purge mismatches, purge errors and
	// cleanup errors. None of them change Kind.
	Warnings []error

	Started  time.Time
	Finished time.Time
}

func (o *Outcome) Duration() time.Duration {
	return o.Finished.Sub(o.Started)
}

func (o *Outcome) Success() bool {
	return o.Kind != OutcomeFailed
}
