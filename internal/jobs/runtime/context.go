package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/data/repos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/services"
)

/*
The execution contract between the job system and all business code.
runtime.Context is the handle a handler receives for a single claimed run.
It carries:
	- The context.Context for the run (cancellation, trace data),
	- A DB handle for pipelines that open transactions,
	- The mutable job_run row,
	- The notifier for progress side-effects,
	- And the only sanctioned ways to report progress or terminate the run.
Pipelines never write job_run rows directly; every lifecycle transition
goes through Progress/Fail/Succeed so the guards stay in one place.
*/

type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *types.JobRun
	Repo   repos.JobRunRepo
	Notify services.JobNotifier

	payload map[string]any
}

/*
NewContext builds the execution handle for a claimed job.
The payload JSON is decoded eagerly so handlers can read inputs through
Payload()/PayloadUUID(); a malformed payload is not fatal here because
handlers validate their required fields and fail with a proper message.
Trace identifiers carried in the payload are restored onto Ctx so worker
logs line up with the request that enqueued the job.
*/
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, notify services.JobNotifier) *Context {
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() error {
	c.payload = map[string]any{}
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(c.Job.Payload), &m); err != nil {
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) applyTraceData() {
	if c == nil || c.Ctx == nil {
		return
	}
	td := ctxutil.TraceData{
		TraceID:   c.PayloadString("trace_id"),
		RequestID: c.PayloadString("request_id"),
	}
	if td.TraceID == "" && td.RequestID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &td)
}

/*
Payload returns the decoded payload object for this run.
Never nil: an unset or unparseable payload yields an empty map.
*/
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

/*
PayloadUUID reads a payload field and parses it as a UUID.
Returns (uuid.Nil, false) when the key is missing, nil, or not a valid
UUID string, so handlers can validate inputs with a single check.
*/
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	raw := stringField(c.Payload(), key)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadString reads a payload field as a trimmed string, "" when absent.
func (c *Context) PayloadString(key string) string {
	return strings.TrimSpace(stringField(c.Payload(), key))
}

// runCtx is the context for row writes; a nil Ctx falls back to Background
// so terminal writes still land after the claim context is gone.
func (c *Context) runCtx() context.Context {
	if c.Ctx != nil {
		return c.Ctx
	}
	return context.Background()
}

/*
guardedWrite persists job_run fields unless the row reached "canceled"
meanwhile. A false return means the write was rejected and the caller must
not mirror or notify. Runs without a repo (tests, dry runs) skip the write
and proceed in-memory.
*/
func (c *Context) guardedWrite(fields map[string]interface{}) bool {
	if c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return true
	}
	ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.runCtx()}, c.Job.ID, []string{"canceled"}, fields)
	return ok
}

/*
Update applies raw field updates to the job_run row, guarded so a
canceled job is never overwritten. This is the low-level escape hatch
used for orchestrator state snapshots; lifecycle transitions should go
through Progress/Fail/Succeed instead.
*/
func (c *Context) Update(updates map[string]any) error {
	if c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return nil
	}
	_, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.runCtx()}, c.Job.ID, []string{"canceled"}, updates)
	return err
}

/*
Progress publishes a non-terminal update for this run: it persists
stage/progress/message plus a heartbeat, mirrors the fields onto the
in-memory row, and emits a progress event. The write is rejected when
the job was canceled meanwhile, in which case nothing is emitted.
*/
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	now := time.Now()
	if !c.guardedWrite(map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"message":      msg,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}

	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
		// status stays whatever the claim set ("running")
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, pct, msg)
	}
}

/*
Fail marks the run terminally failed: status=failed, the failing stage,
the error text, last_error_at, and locked_at cleared so the claim query
can hand the row to another worker once the retry delay passes. Guarded
against canceled jobs; when the write is rejected nothing is emitted.
*/
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	now := time.Now()
	if !c.guardedWrite(map[string]interface{}{
		"status":        "failed",
		"stage":         stage,
		"message":       "",
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}) {
		return
	}

	if c.Job != nil {
		c.Job.Status = "failed"
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, msg)
	}
}

/*
Succeed marks the run terminally succeeded: progress pinned to 100, the
result serialized into job_run.result, error and lock cleared. Guarded
against canceled jobs the same way as Fail.
*/
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	now := time.Now()
	if !c.guardedWrite(map[string]interface{}{
		"status":       "succeeded",
		"stage":        finalStage,
		"progress":     100,
		"message":      "",
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}

	if c.Job != nil {
		c.Job.Status = "succeeded"
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Message = ""
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	}
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
