package jobrun

import (
	"strings"
	"time"
)

// Temporal identifiers shared by the workflow, its activity, and the
// services that start or signal job workflows. The workflow ID is the
// job_run UUID, so WorkflowName plus the row is always enough to find or
// signal a run.
const (
	WorkflowName = "job_run"
	ActivityTick = "job_run_tick"
	SignalResume = "job_resume"
)

// TickResult is what one handler pass reports back to the workflow: a
// snapshot of the row plus the orchestrator wait gate when the job parked.
type TickResult struct {
	JobID     string     `json:"job_id"`
	Status    string     `json:"status"`
	Stage     string     `json:"stage,omitempty"`
	Progress  int        `json:"progress,omitempty"`
	Message   string     `json:"message,omitempty"`
	WaitUntil *time.Time `json:"wait_until,omitempty"`
}

// NormStatus returns the status lowercased and trimmed for comparisons.
func (r TickResult) NormStatus() string {
	return strings.ToLower(strings.TrimSpace(r.Status))
}
