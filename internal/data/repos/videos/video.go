package videos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	videotypes "github.com/yungbote/rewatch-backend/internal/domain/videos"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

var ErrNotFound = errors.New("video not found")

// ErrIllegalTransition is returned when an UpdateStatus call would move a
// video against the ingestion state machine.
var ErrIllegalTransition = errors.New("illegal video status transition")

type VideoRepo interface {
	Create(dbc dbctx.Context, rows []*types.Video) ([]*types.Video, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Video, error)
	GetByOwnerAndYoutubeID(dbc dbctx.Context, ownerUserID uuid.UUID, youtubeID string) (*types.Video, error)
	ListByUser(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*types.Video, error)
	// UpdateStatus applies a state-machine-guarded status change. Setting the
	// current status again is a no-op success so re-entrant steps stay
	// idempotent. errMsg is persisted with FAILED and cleared otherwise.
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, to types.VideoStatus, errMsg string) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, ownerUserID uuid.UUID, id uuid.UUID) error
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, log *logger.Logger) VideoRepo {
	return &videoRepo{db: db, log: log.With("repo", "VideoRepo")}
}

func (r *videoRepo) Create(dbc dbctx.Context, rows []*types.Video) ([]*types.Video, error) {
	if len(rows) == 0 {
		return []*types.Video{}, nil
	}
	if err := dbc.Conn(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *videoRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Video, error) {
	if len(ids) == 0 {
		return []*types.Video{}, nil
	}
	var out []*types.Video
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) GetByOwnerAndYoutubeID(dbc dbctx.Context, ownerUserID uuid.UUID, youtubeID string) (*types.Video, error) {
	if ownerUserID == uuid.Nil || youtubeID == "" {
		return nil, fmt.Errorf("missing owner or youtube id")
	}
	var out types.Video
	err := dbc.Conn(r.db).
		Where("owner_user_id = ? AND youtube_id = ?", ownerUserID, youtubeID).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *videoRepo) ListByUser(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*types.Video, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_user_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.Video
	if err := dbc.Conn(r.db).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, to types.VideoStatus, errMsg string) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if !to.Valid() {
		return fmt.Errorf("unknown video status %q", to)
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if to == videotypes.StatusFailed {
		updates["error"] = errMsg
	} else {
		updates["error"] = ""
	}
	if to == videotypes.StatusReady {
		now := time.Now().UTC()
		updates["ingested_at"] = &now
	}

	// The guard includes `to` itself so re-running a step is a no-op.
	res := dbc.Conn(r.db).
		Model(&types.Video{}).
		Where("id = ? AND status IN ?", id, legalFrom(to)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var current types.Video
	err := dbc.Conn(r.db).
		Select("id", "status").
		Where("id = ?", id).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, to)
}

// legalFrom lists every status from which `to` may be entered, including
// `to` itself.
func legalFrom(to types.VideoStatus) []types.VideoStatus {
	all := []types.VideoStatus{
		videotypes.StatusQueued,
		videotypes.StatusProcessing,
		videotypes.StatusTranscriptExtracting,
		videotypes.StatusZeroEntropyProcessing,
		videotypes.StatusReady,
		videotypes.StatusFailed,
	}
	out := make([]types.VideoStatus, 0, len(all))
	for _, from := range all {
		if videotypes.CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

func (r *videoRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Conn(r.db).
		Model(&types.Video{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *videoRepo) Delete(dbc dbctx.Context, ownerUserID uuid.UUID, id uuid.UUID) error {
	if ownerUserID == uuid.Nil || id == uuid.Nil {
		return fmt.Errorf("missing owner or id")
	}
	res := dbc.Conn(r.db).
		Where("owner_user_id = ?", ownerUserID).
		Delete(&types.Video{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
