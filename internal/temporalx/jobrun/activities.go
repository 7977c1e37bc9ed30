package jobrun

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/data/repos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	jobrt "github.com/yungbote/rewatch-backend/internal/jobs/runtime"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/services"

	"go.temporal.io/sdk/activity"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     repos.JobRunRepo
	Registry *jobrt.Registry
	Notify   services.JobNotifier
}

// Tick claims the job row, runs one handler pass, and reports the resulting
// status back to the workflow. A pipeline that parks itself (queued with a
// wait_until in its result) makes the workflow sleep until the backoff
// elapses and tick again.
func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id")
	}

	job, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, fmt.Errorf("jobrun: job not found")
	}

	if terminalStatus(job.Status) {
		a.renotifyTerminal(job)
		return tickSnapshot(res.JobID, job), nil
	}

	stopBeat := a.startHeartbeat(ctx, id)
	defer stopBeat()

	a.markRunning(ctx, id, job)

	jc := jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Notify)
	clean := a.dispatch(jc, job, id)

	updated, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	if updated == nil {
		return res, fmt.Errorf("jobrun: job not found after tick")
	}

	if clean && strings.EqualFold(strings.TrimSpace(updated.Status), "running") {
		a.forceSucceed(jc, updated, id)
		// Reload once so the TickResult reflects the terminal state.
		if r2, rerr := a.loadJob(ctx, id); rerr == nil && r2 != nil {
			updated = r2
		}
	}

	return tickSnapshot(res.JobID, updated), nil
}

// markRunning claims the row for this pass: status running, attempts bumped,
// lock and heartbeat stamped. Best-effort; a concurrently canceled job is
// left alone.
func (a *Activities) markRunning(ctx context.Context, id uuid.UUID, job *types.JobRun) {
	now := time.Now().UTC()
	_ = a.DB.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ? AND status <> ?", id, "canceled").
		Updates(map[string]any{
			"status":       "running",
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error

	job.Status = "running"
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now
	job.UpdatedAt = now
}

// dispatch runs the registered handler under a panic guard and reports
// whether the handler returned nil. The caller cross-checks that against
// the row status to catch handlers that never went terminal.
func (a *Activities) dispatch(jc *jobrt.Context, job *types.JobRun, id uuid.UUID) (clean bool) {
	h, ok := a.Registry.Get(job.JobType)
	if !ok {
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			if a.Log != nil {
				a.Log.Error("Job handler panic", "job_id", id, "job_type", job.JobType, "panic", r)
			}
			jc.Fail("panic", fmt.Errorf("panic: %v", r))
			clean = false
		}
	}()
	if err := h.Run(jc); err != nil {
		jc.Fail("run", err)
		return false
	}
	return true
}

// forceSucceed closes out a handler that returned nil while the row still
// says running; without this the job would pin on "running" forever. Any
// result already written is preserved.
func (a *Activities) forceSucceed(jc *jobrt.Context, updated *types.JobRun, id uuid.UUID) {
	if a.Log != nil {
		a.Log.Warn("Job handler returned nil without terminal status; marking succeeded", "job_id", id, "job_type", updated.JobType, "stage", updated.Stage)
	}
	finalStage := "done"
	if s := strings.TrimSpace(updated.Stage); s != "" && !strings.EqualFold(s, "queued") && !strings.EqualFold(s, "running") {
		finalStage = s
	}
	var finalResult any
	if raw := strings.TrimSpace(string(updated.Result)); raw != "" && raw != "null" {
		finalResult = json.RawMessage(updated.Result)
	}
	jc.Succeed(finalStage, finalResult)
}

// renotifyTerminal re-emits the terminal event for an already finished job
// so a replayed workflow tick still fans out to SSE subscribers.
func (a *Activities) renotifyTerminal(job *types.JobRun) {
	if a.Notify == nil || job.OwnerUserID == uuid.Nil {
		return
	}
	switch strings.ToLower(strings.TrimSpace(job.Status)) {
	case "succeeded":
		a.Notify.JobDone(job.OwnerUserID, job)
	case "failed":
		a.Notify.JobFailed(job.OwnerUserID, job, job.Stage, strings.TrimSpace(job.Error))
	case "canceled":
		a.Notify.JobCanceled(job.OwnerUserID, job)
	}
}

func (a *Activities) loadJob(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error) {
	rows, err := a.Jobs.GetByIDs(dbctx.Context{Ctx: ctx, Tx: a.DB}, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, nil
	}
	return rows[0], nil
}

// startHeartbeat keeps both liveness signals fresh while a handler runs:
// Temporal's activity heartbeat and the row's heartbeat_at column, which
// the DB poller uses to reap stalled claims.
func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	stop := make(chan struct{})
	go func() {
		activityBeat := time.NewTicker(10 * time.Second)
		defer activityBeat.Stop()
		rowBeat := time.NewTicker(30 * time.Second)
		defer rowBeat.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-activityBeat.C:
				activity.RecordHeartbeat(ctx)
			case <-rowBeat.C:
				if a == nil || a.DB == nil || a.Jobs == nil || jobID == uuid.Nil {
					continue
				}
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx, Tx: a.DB}, jobID)
			}
		}
	}()
	return func() { close(stop) }
}

func tickSnapshot(jobID string, job *types.JobRun) TickResult {
	return TickResult{
		JobID:     jobID,
		Status:    job.Status,
		Stage:     job.Stage,
		Progress:  job.Progress,
		Message:   job.Message,
		WaitUntil: extractWaitUntil(job.Result),
	}
}

func terminalStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// extractWaitUntil reads the orchestrator's backoff gate out of a parked
// job's result JSON so the workflow can sleep precisely instead of polling.
func extractWaitUntil(raw []byte) *time.Time {
	body := strings.TrimSpace(string(raw))
	if body == "" || body == "null" {
		return nil
	}
	var probe struct {
		WaitUntil *time.Time `json:"wait_until"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	if probe.WaitUntil == nil || probe.WaitUntil.IsZero() {
		return nil
	}
	t := *probe.WaitUntil
	return &t
}
