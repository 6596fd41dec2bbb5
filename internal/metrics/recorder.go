// Package metrics holds the observability hooks for builds. Components take a
// Recorder and default to NoopRecorder, so no call site checks for nil.
package metrics

import "time"

// Outcome labels executor runs.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeReplayed  Outcome = "replayed"
)

type Recorder interface {
	IncExecution(outcome Outcome)
	ObserveExecutionDuration(d time.Duration)
	AddCommands(n int)
	IncPreflightRejection(kind string)
	ObserveMatchRatio(ratio float64)
	IncVerifyAttempt(ok bool)
	IncVerifyInconclusive()
}

type NoopRecorder struct{}

func (NoopRecorder) IncExecution(Outcome)                    {}
func (NoopRecorder) ObserveExecutionDuration(time.Duration) {}
func (NoopRecorder) AddCommands(int)                         {}
func (NoopRecorder) IncPreflightRejection(string)            {}
func (NoopRecorder) ObserveMatchRatio(float64)               {}
func (NoopRecorder) IncVerifyAttempt(bool)                   {}
func (NoopRecorder) IncVerifyInconclusive()                  {}
