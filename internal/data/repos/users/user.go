package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/data/repos/pgerr"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type UserRepo interface {
	Create(dbc dbctx.Context, rows []*types.User) ([]*types.User, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.User, error)
	GetByAuthSubject(dbc dbctx.Context, subject string) (*types.User, error)
	// EnsureByAuthSubject returns the existing row for the subject or creates
	// one. Concurrent first requests race on the unique index; the loser
	// re-reads the winner's row.
	EnsureByAuthSubject(dbc dbctx.Context, row *types.User) (*types.User, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, log *logger.Logger) UserRepo {
	return &userRepo{db: db, log: log.With("repo", "UserRepo")}
}

func (r *userRepo) Create(dbc dbctx.Context, rows []*types.User) ([]*types.User, error) {
	if len(rows) == 0 {
		return []*types.User{}, nil
	}
	if err := dbc.Conn(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *userRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.User, error) {
	if len(ids) == 0 {
		return []*types.User{}, nil
	}
	var out []*types.User
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *userRepo) GetByAuthSubject(dbc dbctx.Context, subject string) (*types.User, error) {
	if subject == "" {
		return nil, fmt.Errorf("missing auth_subject")
	}
	var out types.User
	err := dbc.Conn(r.db).Where("auth_subject = ?", subject).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) EnsureByAuthSubject(dbc dbctx.Context, row *types.User) (*types.User, error) {
	if row == nil || row.AuthSubject == "" {
		return nil, fmt.Errorf("missing auth_subject")
	}
	existing, err := r.GetByAuthSubject(dbc, row.AuthSubject)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if err := dbc.Conn(r.db).Create(row).Error; err != nil {
		if pgerr.IsUniqueViolation(err) {
			return r.GetByAuthSubject(dbc, row.AuthSubject)
		}
		return nil, err
	}
	return row, nil
}

func (r *userRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.User{}).
		Where("id = ?", id).
		Updates(updates).Error
}
