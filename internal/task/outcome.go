// Package task holds the per-task execution record consumed by the scheduler:
// progress flags, the terminal outcome, caching eligibility and any captured
// failure.
package task

import "github.com/google/uuid"

// Outcome is the terminal classification of how a task's execution concluded.
//
// The string values are written into traces and history files; do not rename.
type Outcome string

const (
	OutcomeExecuted  Outcome = "EXECUTED"
	OutcomeUpToDate  Outcome = "UP_TO_DATE"
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeNoSource  Outcome = "NO_SOURCE"
	OutcomeFromCache Outcome = "FROM_CACHE"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeExecuted, OutcomeUpToDate, OutcomeSkipped, OutcomeNoSource, OutcomeFromCache:
		return true
	default:
		return false
	}
}

// IsSkipped reports whether the task's actions were not run because there was
// nothing to do.
func (o Outcome) IsSkipped() bool {
	switch o {
	case OutcomeUpToDate, OutcomeSkipped, OutcomeNoSource:
		return true
	default:
		return false
	}
}

// IsUpToDate reports whether previously produced outputs were reused.
func (o Outcome) IsUpToDate() bool {
	return o == OutcomeUpToDate || o == OutcomeFromCache
}

// Message is the short label shown next to the task in build output.
// EXECUTED has no label.
func (o Outcome) Message() string {
	switch o {
	case OutcomeUpToDate:
		return "UP-TO-DATE"
	case OutcomeFromCache:
		return "FROM-CACHE"
	case OutcomeSkipped:
		return "SKIPPED"
	case OutcomeNoSource:
		return "NO-SOURCE"
	default:
		return ""
	}
}

func (o Outcome) String() string { return string(o) }

// BuildID identifies a single build invocation.
type BuildID = uuid.UUID

// NewBuildID returns a fresh random build identifier.
func NewBuildID() BuildID { return uuid.New() }
