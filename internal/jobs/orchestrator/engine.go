package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"gorm.io/datatypes"

	jobrt "github.com/yungbote/rewatch-backend/internal/jobs/runtime"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
)

// RetryPolicy bounds how often a failing stage re-runs before the job goes
// terminal. Zero MaxAttempts means no retries at all.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(err error) bool

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
	JitterFrac float64       // default 0.20
}

// Stage is one step of a pipeline. Stages run in order, inline in the
// worker process; a stage that fails with retry budget left parks the job
// back on the queue with a backoff instead of blocking a worker slot.
type Stage struct {
	Name     string
	Timeout  time.Duration
	StartPct int
	EndPct   int
	StartMsg string
	DoneMsg  string
	Retry    RetryPolicy

	// IsDone lets a stage short-circuit when its effect is already in place,
	// e.g. after a crash between the work and the state snapshot.
	IsDone func(ctx *jobrt.Context, st *OrchestratorState) (bool, error)
	Run    func(ctx *jobrt.Context, st *OrchestratorState) (map[string]any, error)
}

// Engine drives resumable stage lists. All state lives in job_run.result,
// so whichever worker claims the job next resumes from the last snapshot.
type Engine struct {
	MinPollInterval time.Duration // default 2s
	MaxPollInterval time.Duration // default 10s

	StateVersion int // default 1
}

func NewEngine() *Engine {
	return &Engine{
		MinPollInterval: 2 * time.Second,
		MaxPollInterval: 10 * time.Second,
		StateVersion:    1,
	}
}

// Run drives a stage list for a single job. It always returns nil: terminal
// outcomes are written through ctx.Fail/ctx.Succeed, and a requeue leaves
// the job queued for the next claim.
func (e *Engine) Run(ctx *jobrt.Context, stages []Stage, finalResult map[string]any) error {
	if ctx == nil || ctx.Job == nil {
		return nil
	}
	if len(stages) == 0 {
		ctx.Succeed("done", finalResult)
		return nil
	}
	if err := validateStages(stages); err != nil {
		ctx.Fail("validate", err)
		return nil
	}
	st, _ := LoadState(ctx, e.StateVersion)

	if e.parkedGlobally(ctx, st) {
		return nil
	}
	for i := range stages {
		def := stages[i]
		ss := st.EnsureStage(def.Name)
		if ss.Status == StageSucceeded || ss.Status == StageSkipped {
			continue
		}
		if e.parkedForStage(ctx, st, def, ss) {
			return nil
		}
		if !e.execStage(ctx, st, def, ss) {
			return nil
		}
	}
	e.finish(ctx, st, stages, finalResult)
	return nil
}

// parkedGlobally enforces the run-wide wait_until gate: nap briefly, then
// hand the job back to the queue when the gate is still in the future.
func (e *Engine) parkedGlobally(ctx *jobrt.Context, st *OrchestratorState) bool {
	if st == nil || st.WaitUntil == nil {
		return false
	}
	if remaining := time.Until(*st.WaitUntil); remaining > 0 {
		e.pollSleep(remaining)
		_ = SaveState(ctx, st)
		_ = parkOnQueue(ctx, "waiting", st.LastProgress)
		return true
	}
	st.WaitUntil = nil
	_ = SaveState(ctx, st)
	return false
}

func (e *Engine) parkedForStage(ctx *jobrt.Context, st *OrchestratorState, def Stage, ss *StageState) bool {
	if ss == nil || ss.NextRunAt == nil {
		return false
	}
	if remaining := time.Until(*ss.NextRunAt); remaining > 0 {
		e.pollSleep(remaining)
		_ = SaveState(ctx, st)
		_ = parkOnQueue(ctx, "waiting_"+def.Name, st.LastProgress)
		return true
	}
	ss.NextRunAt = nil
	return false
}

// execStage runs one stage from start to finish. A false return ends the
// claim: the stage either failed terminally or parked for a retry.
func (e *Engine) execStage(ctx *jobrt.Context, st *OrchestratorState, def Stage, ss *StageState) bool {
	setProgress(ctx, st, def.Name, def.StartPct, orDefault(def.StartMsg, "Starting "+def.Name))
	ss.Status = StageRunning
	ss.start()
	_ = SaveState(ctx, st)

	if def.IsDone != nil {
		done, err := checkDone(def, ctx, st)
		if err != nil {
			e.stageFailed(ctx, st, ss, def, err)
			return false
		}
		if done {
			e.completeStage(ctx, st, def, ss)
			return true
		}
	}

	outs, err := invokeStage(def, ctx, st)
	if err != nil {
		e.stageFailed(ctx, st, ss, def, err)
		return false
	}
	if outs != nil {
		ss.addOutputs(outs)
	}
	e.completeStage(ctx, st, def, ss)
	return true
}

func (e *Engine) completeStage(ctx *jobrt.Context, st *OrchestratorState, def Stage, ss *StageState) {
	ss.Status = StageSucceeded
	ss.finish("")
	setProgress(ctx, st, def.Name, def.EndPct, orDefault(def.DoneMsg, "Done "+def.Name))
	_ = SaveState(ctx, st)
}

// stageFailed records the attempt, then either parks the job for a retry or
// fails it when the budget is spent.
func (e *Engine) stageFailed(ctx *jobrt.Context, st *OrchestratorState, ss *StageState, def Stage, err error) {
	if ss == nil {
		return
	}
	ss.Attempts++
	ss.Status = StageFailed
	ss.finish(errString(err))
	if !shouldRetry(def.Retry, ss.Attempts, err) {
		_ = SaveState(ctx, st)
		ctx.Fail(def.Name, err)
		return
	}
	when := time.Now().Add(computeBackoff(def.Retry, ss.Attempts))
	ss.NextRunAt = &when
	st.WaitUntil = &when
	_ = SaveState(ctx, st)
	_ = parkOnQueue(ctx, "retry_"+def.Name, st.LastProgress)
}

// finish writes the terminal result: orchestrator state plus per-stage
// outputs, with the caller's finalResult entries layered on top.
func (e *Engine) finish(ctx *jobrt.Context, st *OrchestratorState, stages []Stage, finalResult map[string]any) {
	stageOuts := map[string]any{}
	for _, def := range stages {
		if ss := st.Stages[def.Name]; ss != nil && ss.Outputs != nil {
			stageOuts[def.Name] = ss.Outputs
		}
	}
	result := map[string]any{
		"orchestrator": st,
		"outputs":      stageOuts,
	}
	for k, v := range finalResult {
		result[k] = v
	}
	ctx.Succeed("done", result)
}

// LoadState restores orchestrator state from job_run.result. The result of
// a finished run nests the state under "orchestrator"; an in-flight run
// stores it at the top level. Unparseable state starts a fresh run rather
// than wedging the job.
func LoadState(ctx *jobrt.Context, version int) (*OrchestratorState, error) {
	st := &OrchestratorState{Version: version}
	st.ensure()
	if ctx == nil || ctx.Job == nil {
		return st, nil
	}
	raw := []byte(ctx.Job.Result)
	if len(raw) == 0 || string(raw) == "null" {
		return st, nil
	}
	if nested, ok := nestedState(raw); ok {
		raw = nested
	}
	if err := json.Unmarshal(raw, st); err != nil {
		st.ensure()
		st.Meta["state_unmarshal_error"] = err.Error()
		return st, nil
	}
	st.ensure()
	return st, nil
}

// nestedState extracts the snapshot a finished run leaves under the
// "orchestrator" key.
func nestedState(raw []byte) (json.RawMessage, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false
	}
	v, ok := probe["orchestrator"]
	return v, ok
}

// SaveState snapshots state into job_run.result, both the DB row and the
// in-memory job, so a crash between stages costs at most one stage of work.
func SaveState(ctx *jobrt.Context, st *OrchestratorState) error {
	if ctx == nil || ctx.Job == nil || st == nil {
		return nil
	}
	st.ensure()
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_ = ctx.Update(map[string]any{"result": datatypes.JSON(b)})
	ctx.Job.Result = datatypes.JSON(b)
	return nil
}

// parkOnQueue releases the claim: the row goes back to queued with the lock
// cleared, and whichever worker polls next picks it up.
func parkOnQueue(ctx *jobrt.Context, stage string, progress int) error {
	if ctx == nil || ctx.Job == nil || ctx.Repo == nil {
		return nil
	}
	now := time.Now()
	fields := map[string]interface{}{
		"status":       "queued",
		"stage":        stage,
		"progress":     progress,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	}
	return ctx.Repo.UpdateFields(dbctx.Context{Ctx: ctx.Ctx}, ctx.Job.ID, fields)
}

func validateStages(stages []Stage) error {
	seen := map[string]bool{}
	prevEnd := -1
	for _, s := range stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stage missing Name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
		if !pctValid(s.StartPct) || !pctValid(s.EndPct) {
			return fmt.Errorf("stage %q: progress must be 0..100", s.Name)
		}
		if s.EndPct < s.StartPct {
			return fmt.Errorf("stage %q: EndPct must be >= StartPct", s.Name)
		}
		if s.EndPct < prevEnd {
			return fmt.Errorf("stage %q: EndPct must be >= previous stage EndPct", s.Name)
		}
		prevEnd = s.EndPct
	}
	return nil
}

func pctValid(p int) bool { return p >= 0 && p <= 100 }

// checkDone guards IsDone against panics so a buggy probe fails the stage
// instead of killing the worker.
func checkDone(def Stage, ctx *jobrt.Context, st *OrchestratorState) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done, err = false, fmt.Errorf("stage %q IsDone panicked: %v", def.Name, r)
		}
	}()
	return def.IsDone(ctx, st)
}

// invokeStage calls Run, bounding it with the stage timeout when one is
// set. On timeout the goroutine is left to drain; Run implementations are
// expected to watch their context.
func invokeStage(def Stage, ctx *jobrt.Context, st *OrchestratorState) (map[string]any, error) {
	if def.Run == nil {
		return nil, fmt.Errorf("stage %q: Run is nil", def.Name)
	}
	if def.Timeout <= 0 {
		return def.Run(ctx, st)
	}

	tctx, cancel := context.WithTimeout(ctx.Ctx, def.Timeout)
	defer cancel()
	scoped := *ctx
	scoped.Ctx = tctx

	type result struct {
		outs map[string]any
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		outs, err := def.Run(&scoped, st)
		ch <- result{outs: outs, err: err}
	}()
	select {
	case <-tctx.Done():
		return nil, fmt.Errorf("stage %q timed out: %w", def.Name, tctx.Err())
	case r := <-ch:
		return r.outs, r.err
	}
}

// setProgress moves job progress monotonically forward; a stage re-running
// after a requeue never walks the bar backwards.
func setProgress(ctx *jobrt.Context, st *OrchestratorState, stage string, pct int, msg string) {
	if ctx == nil || st == nil {
		return
	}
	if pct < st.LastProgress {
		pct = st.LastProgress
	} else {
		st.LastProgress = pct
	}
	ctx.Progress(stage, pct, msg)
}

func shouldRetry(p RetryPolicy, attempts int, err error) bool {
	if p.MaxAttempts <= 0 || attempts >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// computeBackoff doubles MinBackoff per attempt up to MaxBackoff, then
// spreads the result across a +/- JitterFrac window so parked jobs do not
// come back in lockstep.
func computeBackoff(p RetryPolicy, attempts int) time.Duration {
	base, ceil, jitter := p.MinBackoff, p.MaxBackoff, p.JitterFrac
	if base <= 0 {
		base = time.Second
	}
	if ceil <= 0 {
		ceil = 30 * time.Second
	}
	if jitter <= 0 {
		jitter = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}

	d := base
	for i := 1; i < attempts && d < ceil; i++ {
		d *= 2
	}
	if d > ceil {
		d = ceil
	}

	span := float64(d) * jitter
	lo := float64(d) - span
	if lo < 0 {
		lo = 0
	}
	hi := float64(d) + span
	return time.Duration(lo + rand.Float64()*(hi-lo))
}

// pollSleep naps toward a gate without holding the claim longer than
// MaxPollInterval; long waits are served across multiple claims.
func (e *Engine) pollSleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if e.MinPollInterval > 0 && d < e.MinPollInterval {
		d = e.MinPollInterval
	}
	if e.MaxPollInterval > 0 && d > e.MaxPollInterval {
		d = e.MaxPollInterval
	}
	time.Sleep(d)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
