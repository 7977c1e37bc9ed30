package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

// A job_run is runnable when it is freshly queued, failed with retry budget
// left and past the retry delay, or running with a heartbeat old enough that
// the worker holding it is presumed dead.
const runnableWhere = `(
	status = ?
	OR (status = ? AND attempts < ? AND (last_error_at IS NULL OR last_error_at < ?))
	OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
)`

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error)
	GetLatestByEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
	// ClaimNextRunnable picks the oldest queued job, retryable failed job, or
	// stale running job (dead worker) and atomically flips it to running.
	// Returns nil when nothing is runnable.
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasRunnableForEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (bool, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, log *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: log.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := dbc.Conn(r.db).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	if len(ids) == 0 {
		return []*types.JobRun{}, nil
	}
	var rows []*types.JobRun
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *jobRunRepo) GetLatestByEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	if ownerUserID == uuid.Nil || entityType == "" || entityID == uuid.Nil || jobType == "" {
		return nil, nil
	}
	var latest types.JobRun
	err := dbc.Conn(r.db).
		Where("owner_user_id = ? AND entity_type = ? AND entity_id = ? AND job_type = ?", ownerUserID, entityType, entityID, jobType).
		Order("created_at DESC").Limit(1).Find(&latest).Error
	if err != nil {
		return nil, err
	}
	if latest.ID == uuid.Nil {
		return nil, nil
	}
	return &latest, nil
}

func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	now := time.Now()
	var claimed *types.JobRun
	err := dbc.Conn(r.db).Transaction(func(tx *gorm.DB) error {
		job, err := lockNextRunnable(tx, now, maxAttempts, retryDelay, staleRunning)
		if err != nil || job == nil {
			return err
		}
		if err := markClaimed(tx, job.ID, now); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// lockNextRunnable row-locks the oldest runnable job inside tx. SKIP LOCKED
// keeps concurrent pollers from queueing on each other's candidate.
func lockNextRunnable(tx *gorm.DB, now time.Time, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.JobRun, error) {
	var row types.JobRun
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where(runnableWhere, "queued", "failed", maxAttempts, now.Add(-retryDelay), "running", now.Add(-staleRunning)).
		Order("created_at ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func markClaimed(tx *gorm.DB, id uuid.UUID, now time.Time) error {
	claim := map[string]interface{}{
		"status":       "running",
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	}
	return tx.Model(&types.JobRun{}).Where("id = ?", id).Updates(claim).Error
}

// stampUpdated fills updated_at unless the caller already set it.
func stampUpdated(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	return fields
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).Model(&types.JobRun{}).Where("id = ?", id).Updates(stampUpdated(updates)).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	q := dbc.Conn(r.db).Model(&types.JobRun{}).Where("id = ?", id)
	switch len(disallowedStatuses) {
	case 0:
	case 1:
		q = q.Where("status <> ?", disallowedStatuses[0])
	default:
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(stampUpdated(updates))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	beat := map[string]interface{}{"heartbeat_at": now, "updated_at": now}
	return dbc.Conn(r.db).Model(&types.JobRun{}).Where("id = ? AND status = ?", id, "running").Updates(beat).Error
}

func (r *jobRunRepo) HasRunnableForEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (bool, error) {
	if ownerUserID == uuid.Nil || entityType == "" || entityID == uuid.Nil || jobType == "" {
		return false, nil
	}
	var n int64
	err := dbc.Conn(r.db).
		Model(&types.JobRun{}).
		Where("owner_user_id = ? AND entity_type = ? AND entity_id = ? AND job_type = ?", ownerUserID, entityType, entityID, jobType).
		Where("status IN ?", []string{"queued", "running"}).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
