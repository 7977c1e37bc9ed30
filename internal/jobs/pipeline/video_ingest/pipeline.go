package video_ingest

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/jobs/orchestrator"
	jobrt "github.com/yungbote/rewatch-backend/internal/jobs/runtime"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/captions"
	"github.com/yungbote/rewatch-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	videoID, ok := jc.PayloadUUID("video_id")
	if !ok || videoID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing video_id"))
		return nil
	}
	video, err := p.loadVideo(jc, videoID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if video.Status == types.VideoStatusReady {
		// A crash between the READY flip and the job result write leaves a
		// finished video with an unfinished job; settle the job here.
		jc.Succeed("done", map[string]any{"video_id": videoID.String(), "already_ready": true})
		return nil
	}

	run := &ingestRun{p: p, video: video}
	_ = p.engine.Run(jc, p.stages(run), map[string]any{"video_id": videoID.String()})

	if jc.Job.Status == "failed" {
		run.persistVideoFailure(jc)
	}
	return nil
}

func (p *Pipeline) loadVideo(jc *jobrt.Context, id uuid.UUID) (*types.Video, error) {
	rows, err := p.videos.GetByIDs(dbctx.Context{Ctx: jc.Ctx}, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("video %s not found", id)
	}
	if rows[0].OwnerUserID != jc.Job.OwnerUserID {
		return nil, fmt.Errorf("video %s does not belong to job owner", id)
	}
	return rows[0], nil
}

func (p *Pipeline) stages(run *ingestRun) []orchestrator.Stage {
	plan := stagePlan(p.log)
	out := make([]orchestrator.Stage, 0, len(plan))
	for _, sp := range plan {
		def := orchestrator.Stage{
			Name:     sp.Name,
			Timeout:  sp.timeout(),
			StartPct: sp.StartPct,
			EndPct:   sp.EndPct,
			StartMsg: sp.StartMsg,
			DoneMsg:  sp.DoneMsg,
			Retry:    orchestrator.RetryPolicy{MaxAttempts: sp.MaxAttempts},
			Run:      run.runFunc(sp.Name),
		}
		switch sp.Name {
		case stageExtractTranscript:
			def.Retry.Retryable = retryableExtract
		case stageFinalize:
			def.IsDone = run.finalizeDone
		}
		out = append(out, def)
	}
	return out
}

// retryableExtract keeps provider verdicts out of the retry loop: a video
// with captions disabled stays disabled, while transport faults are worth
// another attempt.
func retryableExtract(err error) bool {
	_, isProvider := captions.KindOf(err)
	return !isProvider
}

// ingestRun carries the in-memory artifacts of one claim of the job. A
// requeued job builds a fresh run and re-derives artifacts lazily through
// the ingestion service's read-through tiers, so resumed stages never
// depend on a previous process's memory.
type ingestRun struct {
	p     *Pipeline
	video *types.Video

	segments   []types.CaptionSegment
	processed  *services.ProcessedTranscript
	collection string

	// failMessage is the user-legible diagnostic persisted onto the video
	// when the run ends terminally failed.
	failMessage string
}

func (r *ingestRun) runFunc(name string) func(*jobrt.Context, *orchestrator.OrchestratorState) (map[string]any, error) {
	switch name {
	case stageStatusProcessing:
		return r.runStatusProcessing
	case stageStatusExtracting:
		return r.runStatusExtracting
	case stageExtractTranscript:
		return r.runExtract
	case stageStatusIndexing:
		return r.runStatusIndexing
	case stageProcessSegments:
		return r.runProcessSegments
	case stageEnsureCollection:
		return r.runEnsureCollection
	case stageIndexPages:
		return r.runIndexPages
	case stageHandleIndexFail:
		return r.runHandleIndexFailure
	case stageFinalize:
		return r.runFinalize
	default:
		return func(*jobrt.Context, *orchestrator.OrchestratorState) (map[string]any, error) {
			return nil, fmt.Errorf("no run function bound for stage %q", name)
		}
	}
}

func (r *ingestRun) runStatusProcessing(jc *jobrt.Context, _ *orchestrator.OrchestratorState) (map[string]any, error) {
	if err := r.p.ingest.BeginProcessing(jc.Ctx, r.video); err != nil {
		return nil, r.fail(err)
	}
	return map[string]any{"status": string(r.video.Status)}, nil
}

func (r *ingestRun) runStatusExtracting(jc *jobrt.Context, _ *orchestrator.OrchestratorState) (map[string]any, error) {
	if err := r.p.ingest.SetStatus(jc.Ctx, r.video, types.VideoStatusTranscriptExtracting); err != nil {
		return nil, r.fail(err)
	}
	return map[string]any{"status": string(r.video.Status)}, nil
}

func (r *ingestRun) runExtract(jc *jobrt.Context, _ *orchestrator.OrchestratorState) (map[string]any, error) {
	segs, err := r.ensureSegments(jc)
	if err != nil {
		return nil, r.fail(err)
	}
	return map[string]any{"segments": len(segs)}, nil
}

func (r *ingestRun) runStatusIndexing(jc *jobrt.Context, _ *orchestrator.OrchestratorState) (map[string]any, error) {
	if err := r.p.ingest.SetStatus(jc.Ctx, r.video, types.VideoStatusZeroEntropyProcessing); err != nil {
		return nil, r.fail(err)
	}
	return map[string]any{"status": string(r.video.Status)}, nil
}

func (r *ingestRun) runProcessSegments(jc *jobrt.Context, _ *orchestrator.OrchestratorState) (map[string]any, error) {
	pr, err := r.ensureProcessed(jc)
	if err != nil {
		return nil, r.fail(err)
	}
	return map[string]any{
		"segments":        len(pr.Segments),
		"detailed_chunks": len(pr.Detailed),
		"thematic_chunks": len(pr.Thematic),
	}, nil
}

func (r *ingestRun) runEnsureCollection(jc *jobrt.Context, _ *orchestrator.OrchestratorState) (map[string]any, error) {
	col, err := r.ensureCollection(jc)
	if err != nil {
		return nil, r.fail(err)
	}
	return map[string]any{"collection": col}, nil
}

func (r *ingestRun) runIndexPages(jc *jobrt.Context, st *orchestrator.OrchestratorState) (map[string]any, error) {
	pr, err := r.ensureProcessed(jc)
	if err != nil {
		return nil, r.fail(err)
	}
	col, err := r.ensureCollection(jc)
	if err != nil {
		return nil, r.fail(err)
	}
	submitted, err := r.p.ingest.IndexTranscriptPages(jc.Ctx, col, r.video, pr)
	if err != nil {
		return nil, r.fail(err)
	}
	// A clean first pass leaves nothing for the compensation stage to do.
	if ss := st.Stages[stageIndexPages]; ss != nil && ss.Attempts == 0 {
		comp := st.EnsureStage(stageHandleIndexFail)
		if comp.Status == orchestrator.StagePending {
			comp.Status = orchestrator.StageSkipped
			comp.Outputs["skipped"] = true
		}
	}
	return map[string]any{
		"pages_submitted": submitted,
		"pages_total":     len(pr.Detailed) + len(pr.Thematic),
	}, nil
}

// runHandleIndexFailure only executes when indexing needed its recovery
// retry; it records that the run degraded so the result is auditable.
func (r *ingestRun) runHandleIndexFailure(jc *jobrt.Context, st *orchestrator.OrchestratorState) (map[string]any, error) {
	attempts := 0
	if ss := st.Stages[stageIndexPages]; ss != nil {
		attempts = ss.Attempts
	}
	if attempts > 0 {
		r.p.log.Warn("indexing recovered after retry",
			"video_id", r.video.ID,
			"index_attempts", attempts+1,
		)
	}
	return map[string]any{"recovered": attempts > 0, "index_attempts": attempts + 1}, nil
}

func (r *ingestRun) runFinalize(jc *jobrt.Context, _ *orchestrator.OrchestratorState) (map[string]any, error) {
	col, err := r.ensureCollection(jc)
	if err != nil {
		return nil, r.fail(err)
	}
	if err := r.p.ingest.FinalizeReady(jc.Ctx, r.video, col); err != nil {
		return nil, r.fail(err)
	}
	return map[string]any{"collection": col, "status": string(r.video.Status)}, nil
}

func (r *ingestRun) finalizeDone(*jobrt.Context, *orchestrator.OrchestratorState) (bool, error) {
	return r.video.Status == types.VideoStatusReady && r.video.CollectionID != "", nil
}

func (r *ingestRun) ensureSegments(jc *jobrt.Context) ([]types.CaptionSegment, error) {
	if len(r.segments) > 0 {
		return r.segments, nil
	}
	segs, err := r.p.ingest.ExtractTranscript(jc.Ctx, r.video)
	if err != nil {
		return nil, err
	}
	r.segments = segs
	return segs, nil
}

func (r *ingestRun) ensureProcessed(jc *jobrt.Context) (*services.ProcessedTranscript, error) {
	if r.processed != nil {
		return r.processed, nil
	}
	segs, err := r.ensureSegments(jc)
	if err != nil {
		return nil, err
	}
	pr, err := r.p.ingest.ProcessSegments(jc.Ctx, r.video, segs)
	if err != nil {
		return nil, err
	}
	r.processed = pr
	return pr, nil
}

func (r *ingestRun) ensureCollection(jc *jobrt.Context) (string, error) {
	if r.collection != "" {
		return r.collection, nil
	}
	col, err := r.p.ingest.EnsureUserCollection(jc.Ctx, r.video.OwnerUserID)
	if err != nil {
		return "", err
	}
	r.collection = col
	return col, nil
}

// fail records the user-legible form of err for the video row before
// handing the raw error back to the engine. Provider verdicts carry fixed
// messages; everything else surfaces its own text.
func (r *ingestRun) fail(err error) error {
	if err == nil {
		return nil
	}
	var perr *captions.ProviderError
	if errors.As(err, &perr) {
		r.failMessage = perr.Message()
	} else {
		r.failMessage = err.Error()
	}
	return err
}

func (r *ingestRun) persistVideoFailure(jc *jobrt.Context) {
	msg := r.failMessage
	if msg == "" && jc.Job != nil {
		msg = jc.Job.Error
	}
	if err := r.p.ingest.MarkFailed(jc.Ctx, r.video, msg); err != nil {
		r.p.log.Error("failed to mark video failed",
			"video_id", r.video.ID,
			"error", err,
		)
	}
}
