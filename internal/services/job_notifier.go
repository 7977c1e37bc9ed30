package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/sse"
)

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.JobRun)
	JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.JobRun)
	JobCanceled(userID uuid.UUID, job *types.JobRun)
	JobRestarted(userID uuid.UUID, job *types.JobRun)
	VideoStatusChanged(userID uuid.UUID, video *types.Video)
}

type jobNotifier struct {
	emit SSEEmitter
}

func NewJobNotifier(emit SSEEmitter) JobNotifier {
	return &jobNotifier{emit: emit}
}

// fanOut sends to the user's personal channel plus the entity channel, so
// both the library view and a single video's event stream see progress.
func (n *jobNotifier) fanOut(userID uuid.UUID, job *types.JobRun, event sse.SSEEvent, data map[string]any) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	ctx := context.Background()
	n.emit.Emit(ctx, sse.SSEMessage{Channel: userID.String(), Event: event, Data: data})
	if job != nil && job.EntityID != nil && *job.EntityID != uuid.Nil {
		n.emit.Emit(ctx, sse.SSEMessage{Channel: job.EntityID.String(), Event: event, Data: data})
	}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	if job == nil {
		return
	}
	n.fanOut(userID, job, sse.SSEEventJobCreated, map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	if job == nil {
		return
	}
	n.fanOut(userID, job, sse.SSEEventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"progress": progress,
		"message":  message,
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	if job == nil {
		return
	}
	n.fanOut(userID, job, sse.SSEEventJobError, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	if job == nil {
		return
	}
	n.fanOut(userID, job, sse.SSEEventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}

func (n *jobNotifier) JobCanceled(userID uuid.UUID, job *types.JobRun) {
	if job == nil {
		return
	}
	n.fanOut(userID, job, sse.SSEEventJobCanceled, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}

func (n *jobNotifier) JobRestarted(userID uuid.UUID, job *types.JobRun) {
	if job == nil {
		return
	}
	n.fanOut(userID, job, sse.SSEEventJobRestarted, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}

func (n *jobNotifier) VideoStatusChanged(userID uuid.UUID, video *types.Video) {
	if n == nil || n.emit == nil || userID == uuid.Nil || video == nil {
		return
	}
	data := map[string]any{"video": video}
	ctx := context.Background()
	n.emit.Emit(ctx, sse.SSEMessage{Channel: userID.String(), Event: sse.SSEEventVideoStatusChanged, Data: data})
	n.emit.Emit(ctx, sse.SSEMessage{Channel: video.ID.String(), Event: sse.SSEEventVideoStatusChanged, Data: data})
}
