package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow drives one job_run row to a terminal status. Each iteration runs
// a Tick activity, which executes one handler pass in the worker process; a
// parked job (retry backoff) sleeps until its wait gate or a resume signal,
// then ticks again.
func Workflow(ctx workflow.Context) error {
	info := workflow.GetInfo(ctx)
	jobID := strings.TrimSpace(info.WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	const (
		defaultPollInterval  = 2 * time.Second
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	// RetryPolicy stays zero; retry bookkeeping lives on the job row, so
	// Temporal must not re-run ticks on its own.
	aopts := workflow.ActivityOptions{StartToCloseTimeout: 24 * time.Hour, HeartbeatTimeout: 30 * time.Second}
	ctx = workflow.WithActivityOptions(ctx, aopts)

	resume := workflow.GetSignalChannel(ctx, SignalResume)
	ticks := 0

	for {
		ticks++
		var res TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &res); err != nil {
			return err
		}

		switch res.NormStatus() {
		case "succeeded", "canceled":
			return nil
		case "failed":
			return fmt.Errorf("job failed (stage=%s)", strings.TrimSpace(res.Stage))
		default:
			if d := tickDelay(ctx, res.WaitUntil, defaultPollInterval); d > 0 {
				sleepOrResume(ctx, resume, d)
			}
			if rolloverDue(ctx, ticks, continueTickLimit, continueHistoryLimit) {
				return workflow.NewContinueAsNewError(ctx, Workflow)
			}
			continue
		}
	}
}

// sleepOrResume waits out a backoff but lets a resume signal (restart, manual
// nudge) cut the sleep short so the next tick happens immediately.
func sleepOrResume(ctx workflow.Context, ch workflow.ReceiveChannel, maxWait time.Duration) {
	timer := workflow.NewTimer(ctx, maxWait)
	selector := workflow.NewSelector(ctx)
	selector.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var sig any
		c.Receive(ctx, &sig)
	})
	selector.AddFuture(timer, func(f workflow.Future) {})
	selector.Select(ctx)
}

// tickDelay picks the sleep before the next tick: the orchestrator gate when
// one is set, capped at 15m so a far-off gate still heartbeats through
// ticks, otherwise the default poll interval.
func tickDelay(ctx workflow.Context, waitUntil *time.Time, def time.Duration) time.Duration {
	const maxGateSleep = 15 * time.Minute
	if waitUntil == nil || waitUntil.IsZero() {
		return def
	}
	d := waitUntil.Sub(workflow.Now(ctx))
	if d <= 0 {
		return def
	}
	return min(d, maxGateSleep)
}

// rolloverDue bounds workflow history: long-lived jobs roll over to
// a fresh execution before the event log gets heavy.
func rolloverDue(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	if maxHistory <= 0 {
		return false
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= maxHistory
}
