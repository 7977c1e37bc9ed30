package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type ChatThreadRepo interface {
	Create(dbc dbctx.Context, rows []*types.ChatThread) ([]*types.ChatThread, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ChatThread, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.ChatThread, error)
	// AllocateSeq reserves the next message sequence number for the thread.
	// Callers do not need to hold a transaction; the increment is atomic.
	AllocateSeq(dbc dbctx.Context, id uuid.UUID) (int64, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatThread, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type chatThreadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatThreadRepo(db *gorm.DB, log *logger.Logger) ChatThreadRepo {
	return &chatThreadRepo{db: db, log: log.With("repo", "ChatThreadRepo")}
}

// pageLimit clamps a caller-supplied page size to something sane.
func pageLimit(limit int) int {
	if limit < 1 || limit > 200 {
		return 50
	}
	return limit
}

// stampUpdated fills updated_at unless the caller already set it.
func stampUpdated(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return fields
}

func (r *chatThreadRepo) Create(dbc dbctx.Context, rows []*types.ChatThread) ([]*types.ChatThread, error) {
	if len(rows) == 0 {
		return []*types.ChatThread{}, nil
	}
	if err := dbc.Conn(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chatThreadRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ChatThread, error) {
	if len(ids) == 0 {
		return []*types.ChatThread{}, nil
	}
	var threads []*types.ChatThread
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *chatThreadRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.ChatThread, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	var threads []*types.ChatThread
	err := dbc.Conn(r.db).
		Where("user_id = ? AND status = ?", userID, "active").
		Order("last_message_at DESC").Limit(pageLimit(limit)).Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *chatThreadRepo) AllocateSeq(dbc dbctx.Context, id uuid.UUID) (int64, error) {
	if id == uuid.Nil {
		return 0, fmt.Errorf("missing id")
	}
	var seq int64
	err := dbc.Conn(r.db).
		Raw(`UPDATE chat_thread SET next_seq = next_seq + 1, updated_at = NOW() WHERE id = ? RETURNING next_seq`, id).
		Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, fmt.Errorf("thread not found: %s", id)
	}
	return seq, nil
}

func (r *chatThreadRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatThread, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID requires dbc.Tx")
	}
	var row types.ChatThread
	locking := clause.Locking{Strength: "UPDATE"}
	if err := dbc.Tx.WithContext(dbc.Ctx).Clauses(locking).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chatThreadRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	return dbc.Conn(r.db).Model(&types.ChatThread{}).Where("id = ?", id).Updates(stampUpdated(updates)).Error
}
