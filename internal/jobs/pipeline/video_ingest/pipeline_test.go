package video_ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/rewatch-backend/internal/data/repos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/jobs/orchestrator"
	jobrt "github.com/yungbote/rewatch-backend/internal/jobs/runtime"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/captions"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/services"
	"github.com/yungbote/rewatch-backend/internal/transcript"
)

type fakeVideos struct {
	repos.VideoRepo
	video *types.Video
}

func (f *fakeVideos) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*types.Video, error) {
	if f.video == nil {
		return []*types.Video{}, nil
	}
	return []*types.Video{f.video}, nil
}

// fakeIngest records call order and fails on demand. Status methods mutate
// the passed row the way the real service does.
type fakeIngest struct {
	calls []string

	extractErr error
	processErr error
	indexErrs  int

	failMsg string
}

func (f *fakeIngest) SetStatus(_ context.Context, v *types.Video, to types.VideoStatus) error {
	f.calls = append(f.calls, "set:"+string(to))
	v.Status = to
	return nil
}

func (f *fakeIngest) MarkFailed(_ context.Context, v *types.Video, message string) error {
	f.calls = append(f.calls, "mark_failed")
	f.failMsg = message
	v.Status = types.VideoStatusFailed
	v.Error = message
	return nil
}

func (f *fakeIngest) BeginProcessing(_ context.Context, v *types.Video) error {
	f.calls = append(f.calls, "begin")
	v.Status = types.VideoStatusProcessing
	return nil
}

func (f *fakeIngest) ExtractTranscript(_ context.Context, _ *types.Video) ([]types.CaptionSegment, error) {
	f.calls = append(f.calls, "extract")
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return []types.CaptionSegment{{Text: "hello world", Start: 0, Duration: 5}}, nil
}

func (f *fakeIngest) ProcessSegments(_ context.Context, _ *types.Video, segs []types.CaptionSegment) (*services.ProcessedTranscript, error) {
	f.calls = append(f.calls, "process")
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &services.ProcessedTranscript{
		Segments: segs,
		Detailed: make([]transcript.Chunk, 2),
		Thematic: make([]transcript.Chunk, 1),
	}, nil
}

func (f *fakeIngest) EnsureUserCollection(_ context.Context, _ uuid.UUID) (string, error) {
	f.calls = append(f.calls, "ensure_collection")
	return "yt_transcripts_u", nil
}

func (f *fakeIngest) IndexTranscriptPages(_ context.Context, _ string, _ *types.Video, pr *services.ProcessedTranscript) (int, error) {
	f.calls = append(f.calls, "index")
	if f.indexErrs > 0 {
		f.indexErrs--
		return 0, errors.New("index down")
	}
	return len(pr.Detailed) + len(pr.Thematic), nil
}

func (f *fakeIngest) FinalizeReady(_ context.Context, v *types.Video, collection string) error {
	f.calls = append(f.calls, "finalize")
	v.CollectionID = collection
	v.Status = types.VideoStatusReady
	return nil
}

func newTestPipeline(t *testing.T, videos *fakeVideos, ingest *fakeIngest) *Pipeline {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	p := New(nil, log, videos, ingest)
	p.engine.MinPollInterval = time.Millisecond
	p.engine.MaxPollInterval = 2 * time.Millisecond
	return p
}

func newIngestJob(t *testing.T, owner, videoID uuid.UUID) *types.JobRun {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"video_id": videoID.String()})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &types.JobRun{
		OwnerUserID: owner,
		JobType:     types.JobTypeVideoIngest,
		Status:      "running",
		Attempts:    1,
		Payload:     datatypes.JSON(raw),
	}
}

func queuedVideo(owner uuid.UUID) *types.Video {
	return &types.Video{
		ID:          uuid.New(),
		OwnerUserID: owner,
		YoutubeID:   "dQw4w9WgXcQ",
		Status:      types.VideoStatusQueued,
	}
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestIngestHappyPath(t *testing.T) {
	owner := uuid.New()
	video := queuedVideo(owner)
	ingest := &fakeIngest{}
	p := newTestPipeline(t, &fakeVideos{video: video}, ingest)
	job := newIngestJob(t, owner, video.ID)

	if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	if job.Status != "succeeded" {
		t.Fatalf("job = status=%q stage=%q error=%q", job.Status, job.Stage, job.Error)
	}
	assertCalls(t, ingest.calls, []string{
		"begin",
		"set:" + string(types.VideoStatusTranscriptExtracting),
		"extract",
		"set:" + string(types.VideoStatusZeroEntropyProcessing),
		"process",
		"ensure_collection",
		"index",
		"finalize",
	})
	if video.Status != types.VideoStatusReady || video.CollectionID != "yt_transcripts_u" {
		t.Fatalf("video = status=%q collection=%q", video.Status, video.CollectionID)
	}

	var res map[string]any
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	outputs, _ := res["outputs"].(map[string]any)
	idx, _ := outputs[stageIndexPages].(map[string]any)
	if idx["pages_submitted"] != float64(3) || idx["pages_total"] != float64(3) {
		t.Fatalf("index outputs = %v", idx)
	}
	comp, _ := outputs[stageHandleIndexFail].(map[string]any)
	if comp["skipped"] != true {
		t.Fatalf("compensation stage outputs = %v, want skipped", comp)
	}
}

func TestIngestProviderErrorIsTerminal(t *testing.T) {
	owner := uuid.New()
	video := queuedVideo(owner)
	ingest := &fakeIngest{
		extractErr: &captions.ProviderError{Kind: captions.ProviderErrorDisabled, VideoID: "dQw4w9WgXcQ"},
	}
	p := newTestPipeline(t, &fakeVideos{video: video}, ingest)
	job := newIngestJob(t, owner, video.ID)

	if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	if job.Status != "failed" || job.Stage != stageExtractTranscript {
		t.Fatalf("job = status=%q stage=%q", job.Status, job.Stage)
	}
	extractCalls := 0
	for _, c := range ingest.calls {
		if c == "extract" {
			extractCalls++
		}
	}
	if extractCalls != 1 {
		t.Fatalf("extract called %d times, want 1 (provider verdicts must not retry)", extractCalls)
	}
	if ingest.failMsg != "Captions are disabled for this video" {
		t.Fatalf("video failure message = %q", ingest.failMsg)
	}
	if video.Status != types.VideoStatusFailed {
		t.Fatalf("video status = %q, want FAILED", video.Status)
	}
}

func TestIngestQualityRejectionIsTerminal(t *testing.T) {
	owner := uuid.New()
	video := queuedVideo(owner)
	ingest := &fakeIngest{
		processErr: errors.New("Transcript appears to be auto-generated with poor quality"),
	}
	p := newTestPipeline(t, &fakeVideos{video: video}, ingest)
	job := newIngestJob(t, owner, video.ID)

	if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	if job.Status != "failed" || job.Stage != stageProcessSegments {
		t.Fatalf("job = status=%q stage=%q", job.Status, job.Stage)
	}
	if video.Status != types.VideoStatusFailed || ingest.failMsg == "" {
		t.Fatalf("video = status=%q msg=%q", video.Status, ingest.failMsg)
	}
}

// seedIndexRetry builds the state a run leaves behind after the indexing
// stage failed once: everything before it succeeded, the stage has one
// attempt recorded and its backoff has elapsed.
func seedIndexRetry(t *testing.T, job *types.JobRun) {
	t.Helper()
	past := time.Now().Add(-time.Second)
	st := &orchestrator.OrchestratorState{
		Version: 1,
		Stages: map[string]*orchestrator.StageState{
			stageStatusProcessing:  {Name: stageStatusProcessing, Status: orchestrator.StageSucceeded},
			stageStatusExtracting:  {Name: stageStatusExtracting, Status: orchestrator.StageSucceeded},
			stageExtractTranscript: {Name: stageExtractTranscript, Status: orchestrator.StageSucceeded},
			stageStatusIndexing:    {Name: stageStatusIndexing, Status: orchestrator.StageSucceeded},
			stageProcessSegments:   {Name: stageProcessSegments, Status: orchestrator.StageSucceeded},
			stageEnsureCollection:  {Name: stageEnsureCollection, Status: orchestrator.StageSucceeded},
			stageIndexPages: {
				Name:      stageIndexPages,
				Status:    orchestrator.StageFailed,
				Attempts:  1,
				LastError: "index down",
				NextRunAt: &past,
			},
		},
	}
	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal seed state: %v", err)
	}
	job.Result = datatypes.JSON(raw)
}

func TestIngestIndexRetryRecordsRecovery(t *testing.T) {
	owner := uuid.New()
	video := queuedVideo(owner)
	ingest := &fakeIngest{}
	p := newTestPipeline(t, &fakeVideos{video: video}, ingest)
	job := newIngestJob(t, owner, video.ID)
	seedIndexRetry(t, job)

	if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	if job.Status != "succeeded" {
		t.Fatalf("job = status=%q stage=%q error=%q", job.Status, job.Stage, job.Error)
	}
	// Status stages were already done; artifacts re-derive lazily.
	assertCalls(t, ingest.calls, []string{"extract", "process", "ensure_collection", "index", "finalize"})

	var res map[string]any
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	outputs, _ := res["outputs"].(map[string]any)
	comp, _ := outputs[stageHandleIndexFail].(map[string]any)
	if comp["recovered"] != true || comp["index_attempts"] != float64(2) {
		t.Fatalf("compensation outputs = %v", comp)
	}
	if video.Status != types.VideoStatusReady {
		t.Fatalf("video status = %q, want READY", video.Status)
	}
}

func TestIngestIndexExhaustionFailsVideo(t *testing.T) {
	owner := uuid.New()
	video := queuedVideo(owner)
	ingest := &fakeIngest{indexErrs: 99}
	p := newTestPipeline(t, &fakeVideos{video: video}, ingest)
	job := newIngestJob(t, owner, video.ID)
	seedIndexRetry(t, job)

	if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	if job.Status != "failed" || job.Stage != stageIndexPages {
		t.Fatalf("job = status=%q stage=%q", job.Status, job.Stage)
	}
	if ingest.failMsg != "index down" {
		t.Fatalf("video failure message = %q", ingest.failMsg)
	}
	if video.Status != types.VideoStatusFailed {
		t.Fatalf("video status = %q, want FAILED", video.Status)
	}
}

func TestIngestAlreadyReadyShortCircuits(t *testing.T) {
	owner := uuid.New()
	video := queuedVideo(owner)
	video.Status = types.VideoStatusReady
	video.CollectionID = "yt_transcripts_u"
	ingest := &fakeIngest{}
	p := newTestPipeline(t, &fakeVideos{video: video}, ingest)
	job := newIngestJob(t, owner, video.ID)

	if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	if job.Status != "succeeded" {
		t.Fatalf("status = %q", job.Status)
	}
	if len(ingest.calls) != 0 {
		t.Fatalf("ingest calls = %v, want none", ingest.calls)
	}
	var res map[string]any
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res["already_ready"] != true {
		t.Fatalf("result = %v, want already_ready", res)
	}
}

func TestIngestValidationFailures(t *testing.T) {
	owner := uuid.New()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	t.Run("missing video_id", func(t *testing.T) {
		p := New(nil, log, &fakeVideos{}, &fakeIngest{})
		job := &types.JobRun{OwnerUserID: owner, JobType: types.JobTypeVideoIngest, Status: "running", Payload: datatypes.JSON(`{}`)}
		if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
			t.Fatalf("pipeline run: %v", err)
		}
		if job.Status != "failed" || job.Stage != "validate" {
			t.Fatalf("job = status=%q stage=%q", job.Status, job.Stage)
		}
	})

	t.Run("video not found", func(t *testing.T) {
		p := New(nil, log, &fakeVideos{}, &fakeIngest{})
		job := newIngestJob(t, owner, uuid.New())
		if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
			t.Fatalf("pipeline run: %v", err)
		}
		if job.Status != "failed" || job.Stage != "load" {
			t.Fatalf("job = status=%q stage=%q", job.Status, job.Stage)
		}
	})

	t.Run("owner mismatch", func(t *testing.T) {
		video := queuedVideo(uuid.New())
		p := New(nil, log, &fakeVideos{video: video}, &fakeIngest{})
		job := newIngestJob(t, owner, video.ID)
		if err := p.Run(jobrt.NewContext(context.Background(), nil, job, nil, nil)); err != nil {
			t.Fatalf("pipeline run: %v", err)
		}
		if job.Status != "failed" || job.Stage != "load" {
			t.Fatalf("job = status=%q stage=%q", job.Status, job.Stage)
		}
	})
}
