// Package pipeline runs one inbound event from receipt to the delivered assessment.
package pipeline

import "fmt"

// Stage is a state of the per-event pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageTranscribing
	StageAssessing
	StageLogging
	StageDelivering
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageTranscribing:
		return "transcribing"
	case StageAssessing:
		return "assessing"
	case StageLogging:
		return "logging"
	case StageDelivering:
		return "delivering"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError reports the stage whose failure aborted an event.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
