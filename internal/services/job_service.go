package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/yungbote/rewatch-backend/internal/data/repos/jobs"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type JobService interface {
	Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error)
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	SignalResume(dbc dbctx.Context, jobID uuid.UUID) error
	EnqueueVideoIngestIfNeeded(dbc dbctx.Context, ownerUserID uuid.UUID, videoID uuid.UUID, trigger string) (*types.JobRun, bool, error)
	GetByIDForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	GetLatestForEntityForRequestUser(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
	CancelForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	RestartForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      jobsrepo.JobRunRepo
	notify    JobNotifier
	tc        temporalsdkclient.Client
	queueName string
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo jobsrepo.JobRunRepo, notify JobNotifier, tc temporalsdkclient.Client, taskQueue string) JobService {
	svc := &jobService{db: db, repo: repo, notify: notify, tc: tc, queueName: strings.TrimSpace(taskQueue)}
	svc.log = baseLog.With("service", "JobService")
	return svc
}

// requestUser pulls the authenticated user id off the request context.
func requestUser(dbc dbctx.Context) (uuid.UUID, error) {
	data := ctxutil.GetRequestData(dbc.Ctx)
	if data == nil || data.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("not authenticated")
	}
	return data.UserID, nil
}

// stampTrace copies trace ids from the request context into the payload so
// worker logs correlate with the originating request. Caller-provided keys
// win.
func stampTrace(ctx context.Context, payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	td := ctxutil.GetTraceData(ctxutil.Default(ctx))
	if td == nil {
		return payload
	}
	if td.TraceID != "" {
		if _, ok := payload["trace_id"]; !ok {
			payload["trace_id"] = td.TraceID
		}
	}
	if td.RequestID != "" {
		if _, ok := payload["request_id"]; !ok {
			payload["request_id"] = td.RequestID
		}
	}
	return payload
}

func newQueuedRun(ownerUserID uuid.UUID, jobType, entityType string, entityID *uuid.UUID, payload map[string]any) *types.JobRun {
	raw, _ := json.Marshal(payload)
	now := time.Now()
	run := &types.JobRun{ID: uuid.New(), OwnerUserID: ownerUserID, JobType: jobType, EntityType: entityType, EntityID: entityID}
	run.Status, run.Stage = "queued", "queued"
	run.Message = "Queued"
	run.Payload = datatypes.JSON(raw)
	run.Result = datatypes.JSON([]byte(`{}`))
	run.CreatedAt, run.UpdatedAt = now, now
	return run
}

func (s *jobService) Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_user_id")
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}

	job := newQueuedRun(ownerUserID, jobType, entityType, entityID, stampTrace(dbc.Ctx, payload))
	if _, err := s.repo.Create(dbc.WithFallback(s.db), []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	// Announce the row at request time, before any dispatch attempt.
	s.notify.JobCreated(ownerUserID, job)

	// Starting the workflow from inside an open transaction would let it race
	// the commit, so the caller has to Dispatch after committing.
	if inTransaction(dbc.Tx) {
		if s.log != nil {
			s.log.Debug("Job enqueued inside transaction; awaiting dispatch after commit", "job_id", job.ID, "job_type", job.JobType)
		}
		return job, nil
	}
	// Without Temporal the row stays queued and the DB-polling worker claims it.
	if s.tc == nil {
		return job, nil
	}
	return job, s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID)
}

// inTransaction reports whether db is a live transaction. gorm clones
// *gorm.DB freely (WithContext, Session), so pointer identity is useless;
// the ConnPool is the reliable signal, inside Transaction it is a *sql.Tx.
func inTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	type committer interface {
		Commit() error
		Rollback() error
	}
	_, ok := db.Statement.ConnPool.(committer)
	return ok
}

func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("temporal not configured (TEMPORAL_ADDRESS)")
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	ctx := ctxutil.Default(dbc.Ctx)

	startErr := s.startTemporalJobWorkflow(ctx, jobID, enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE)
	if startErr == nil {
		return nil
	}
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(startErr, &already) {
		return nil
	}
	s.recordDispatchFailure(ctx, jobID, startErr)
	return fmt.Errorf("start temporal workflow: %w", startErr)
}

// recordDispatchFailure is best-effort: the job row flips to failed so the
// poller can retry it, and listeners hear about it if the re-read works.
func (s *jobService) recordDispatchFailure(ctx context.Context, jobID uuid.UUID, cause error) {
	if s.repo == nil {
		return
	}
	now := time.Now().UTC()
	local := dbctx.Context{Ctx: ctx, Tx: s.db}
	_ = s.repo.UpdateFields(local, jobID, map[string]interface{}{
		"status":        "failed",
		"stage":         "dispatch",
		"message":       "",
		"error":         cause.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	if s.notify == nil {
		return
	}
	rows, err := s.repo.GetByIDs(local, []uuid.UUID{jobID})
	if err != nil || len(rows) == 0 || rows[0] == nil {
		return
	}
	s.notify.JobFailed(rows[0].OwnerUserID, rows[0], "dispatch", cause.Error())
}

func (s *jobService) SignalResume(dbc dbctx.Context, jobID uuid.UUID) error {
	if s == nil || s.tc == nil || jobID == uuid.Nil {
		return nil
	}
	// The signal name stays a literal here; importing jobrun would cycle.
	err := s.tc.SignalWorkflow(ctxutil.Default(dbc.Ctx), jobID.String(), "", "job_resume", nil)
	if err == nil || isWorkflowGone(err) {
		return nil
	}
	return err
}

// isWorkflowGone matches the errors that mean there is nothing left to
// signal: the workflow never started, finished, or was torn down.
func isWorkflowGone(err error) bool {
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	return temporal.IsCanceledError(err) || temporal.IsTimeoutError(err)
}

// EnqueueVideoIngestIfNeeded debounces ingestion per video: if an ingest job
// is already queued or running for this video, nothing new is enqueued.
func (s *jobService) EnqueueVideoIngestIfNeeded(dbc dbctx.Context, ownerUserID uuid.UUID, videoID uuid.UUID, trigger string) (*types.JobRun, bool, error) {
	if ownerUserID == uuid.Nil {
		return nil, false, fmt.Errorf("missing owner_user_id")
	}
	if videoID == uuid.Nil {
		return nil, false, fmt.Errorf("missing video_id")
	}
	repoCtx := dbc.WithFallback(s.db)
	has, err := s.repo.HasRunnableForEntity(repoCtx, ownerUserID, "video", videoID, types.JobTypeVideoIngest)
	if err != nil {
		return nil, false, err
	}
	if has {
		return nil, false, nil
	}

	entityID := videoID
	job, err := s.Enqueue(repoCtx, ownerUserID, types.JobTypeVideoIngest, "video", &entityID, map[string]any{
		"video_id": videoID.String(),
		"trigger":  trigger,
	})
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *jobService) GetByIDForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, err
	}
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	rows, err := s.repo.GetByIDs(dbc.WithFallback(s.db), []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	// A foreign user's job reads as missing.
	if len(rows) == 0 || rows[0] == nil || rows[0].OwnerUserID != userID {
		return nil, fmt.Errorf("job not found")
	}
	return rows[0], nil
}

func (s *jobService) GetLatestForEntityForRequestUser(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, err
	}
	if jobType == "" || entityType == "" || entityID == uuid.Nil {
		return nil, fmt.Errorf("missing entity/job info")
	}
	return s.repo.GetLatestByEntity(dbc.WithFallback(s.db), userID, entityType, entityID, jobType)
}

// transitionJob loads the caller's job inside a transaction and applies the
// column updates fn returns. A nil update map leaves the row untouched; the
// bool reports whether a write happened.
func (s *jobService) transitionJob(dbc dbctx.Context, jobID uuid.UUID, fn func(run *types.JobRun, now time.Time) (map[string]interface{}, error)) (*types.JobRun, bool, error) {
	var out *types.JobRun
	wrote := false
	err := dbc.Conn(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		run, err := s.GetByIDForRequestUser(inner, jobID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("job not found")
		}
		updates, err := fn(run, time.Now().UTC())
		if err != nil {
			return err
		}
		out = run
		if updates == nil {
			return nil
		}
		if err := s.repo.UpdateFields(inner, jobID, updates); err != nil {
			return err
		}
		wrote = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, wrote, nil
}

func (s *jobService) CancelForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, err
	}
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}

	updated, wrote, err := s.transitionJob(dbc, jobID, func(run *types.JobRun, now time.Time) (map[string]interface{}, error) {
		switch strings.ToLower(strings.TrimSpace(run.Status)) {
		case "succeeded", "failed", "canceled":
			// Terminal already; nothing to cancel.
			return nil, nil
		}
		run.Status = "canceled"
		run.Message = "Canceled"
		run.LockedAt = nil
		run.HeartbeatAt = &now
		run.UpdatedAt = now
		return map[string]interface{}{
			"status":       run.Status,
			"message":      run.Message,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if wrote && s.notify != nil && updated != nil {
		s.notify.JobCanceled(userID, updated)
	}

	// The Temporal cancel is best-effort and fires even when the row was
	// already terminal, in case a workflow outlived its job record.
	if s.tc != nil && jobID != uuid.Nil {
		_ = s.tc.CancelWorkflow(dbc.Ctx, jobID.String(), "")
	}
	return updated, nil
}

func (s *jobService) RestartForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, err
	}
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}

	updated, wrote, err := s.transitionJob(dbc, jobID, func(run *types.JobRun, now time.Time) (map[string]interface{}, error) {
		switch strings.ToLower(strings.TrimSpace(run.Status)) {
		case "canceled", "failed":
		default:
			return nil, fmt.Errorf("job not restartable")
		}
		// Result keeps completed stage state so the pipeline resumes instead
		// of redoing finished work.
		run.Status = "queued"
		run.Stage = "queued"
		run.Progress = 0
		run.Message = "Restarting…"
		run.Error = ""
		run.LastErrorAt = nil
		run.LockedAt = nil
		run.HeartbeatAt = &now
		run.UpdatedAt = now
		return map[string]interface{}{
			"status":        run.Status,
			"stage":         run.Stage,
			"progress":      run.Progress,
			"message":       run.Message,
			"error":         run.Error,
			"last_error_at": nil,
			"locked_at":     nil,
			"heartbeat_at":  now,
			"updated_at":    now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if wrote && s.notify != nil && updated != nil {
		s.notify.JobRestarted(userID, updated)
	}

	if updated != nil && s.tc != nil && jobID != uuid.Nil {
		ctx := ctxutil.Default(dbc.Ctx)
		if err := s.startTemporalJobWorkflow(ctx, jobID, enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE); err != nil {
			return nil, fmt.Errorf("restart temporal workflow: %w", err)
		}
	}
	return updated, nil
}

func (s *jobService) taskQueue() string {
	if tq := strings.TrimSpace(s.queueName); tq != "" {
		return tq
	}
	return "rewatch"
}

func (s *jobService) startTemporalJobWorkflow(ctx context.Context, jobID uuid.UUID, reusePolicy enums.WorkflowIdReusePolicy) error {
	if s == nil || s.tc == nil || jobID == uuid.Nil {
		return fmt.Errorf("temporal not configured")
	}
	_, err := s.tc.ExecuteWorkflow(ctxutil.Default(ctx), temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             s.taskQueue(),
		WorkflowIDReusePolicy: reusePolicy,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}, "job_run")
	return err
}
