package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	usersrepo "github.com/yungbote/rewatch-backend/internal/data/repos/users"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type UserService interface {
	// EnsureUser mirrors a verified token subject into a local row. The first
	// request for a subject creates the row and renders its initials avatar;
	// later requests backfill profile fields the provider filled in since.
	EnsureUser(ctx context.Context, claims *TokenClaims) (*types.User, error)
	GetMe(dbc dbctx.Context) (*types.User, error)
	UpdateName(ctx context.Context, firstName, lastName string) (*types.User, error)
	UploadAvatarImage(ctx context.Context, raw []byte) (*types.User, error)
}

type userService struct {
	db            *gorm.DB
	log           *logger.Logger
	userRepo      usersrepo.UserRepo
	avatarService AvatarService
}

func NewUserService(db *gorm.DB, log *logger.Logger, userRepo usersrepo.UserRepo, avatarService AvatarService) UserService {
	serviceLog := log.With("service", "UserService")
	return &userService{
		db:            db,
		log:           serviceLog,
		userRepo:      userRepo,
		avatarService: avatarService,
	}
}

func (us *userService) EnsureUser(ctx context.Context, claims *TokenClaims) (*types.User, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("missing token subject")
	}

	// Fast path: known subject with nothing to backfill skips the transaction.
	existing, err := us.userRepo.GetByAuthSubject(dbctx.Context{Ctx: ctx}, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("error fetching user by subject: %w", err)
	}
	if existing != nil && !us.needsBackfill(existing, claims) {
		return existing, nil
	}

	firstName, lastName := splitDisplayName(claims.Name)

	var out *types.User
	if err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		seed := &types.User{
			ID:          uuid.New(),
			AuthSubject: claims.Subject,
			Email:       strings.TrimSpace(claims.Email),
			FirstName:   firstName,
			LastName:    lastName,
		}
		row, err := us.userRepo.EnsureByAuthSubject(dbc, seed)
		if err != nil {
			return fmt.Errorf("error ensuring user row: %w", err)
		}

		updates := map[string]interface{}{}
		if row.Email == "" && seed.Email != "" {
			row.Email = seed.Email
			updates["email"] = seed.Email
		}
		if row.FirstName == "" && row.LastName == "" && (firstName != "" || lastName != "") {
			row.FirstName = firstName
			row.LastName = lastName
			updates["first_name"] = firstName
			updates["last_name"] = lastName
		}

		if row.AvatarBucketKey == "" {
			// Avatar failures must not block auth; absent avatars regenerate
			// on the next request.
			if aErr := us.avatarService.CreateAndUploadUserAvatar(dbc, row); aErr != nil {
				us.log.Warn("failed to render bootstrap avatar (ignored)", "user_id", row.ID, "error", aErr)
			} else {
				updates["avatar_bucket_key"] = row.AvatarBucketKey
				updates["avatar_url"] = row.AvatarURL
			}
		}

		if len(updates) > 0 {
			if err := us.userRepo.UpdateFields(dbc, row.ID, updates); err != nil {
				return fmt.Errorf("error backfilling user fields: %w", err)
			}
		}

		out = row
		return nil
	}); err != nil {
		us.log.Warn("EnsureUser transaction error", "error", err)
		return nil, err
	}
	return out, nil
}

func (us *userService) needsBackfill(u *types.User, claims *TokenClaims) bool {
	if u.AvatarBucketKey == "" {
		return true
	}
	if u.Email == "" && strings.TrimSpace(claims.Email) != "" {
		return true
	}
	if u.FirstName == "" && u.LastName == "" && strings.TrimSpace(claims.Name) != "" {
		return true
	}
	return false
}

func (us *userService) GetMe(dbc dbctx.Context) (*types.User, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil {
		us.log.Warn("Request data not set in context")
		return nil, fmt.Errorf("request data not set in context")
	}
	if rd.UserID == uuid.Nil {
		us.log.Warn("User id not set in request data")
		return nil, fmt.Errorf("user id not set in request data")
	}

	found, err := us.userRepo.GetByIDs(dbc.WithFallback(us.db), []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, fmt.Errorf("error fetching user: %w", err)
	}
	if len(found) == 0 || found[0] == nil {
		return nil, fmt.Errorf("user does not exist")
	}
	return found[0], nil
}

func (us *userService) UpdateName(ctx context.Context, firstName, lastName string) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("unauthorized")
	}

	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, fmt.Errorf("first_name and last_name required")
	}

	var out *types.User
	if err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		found, err := us.userRepo.GetByIDs(dbc, []uuid.UUID{rd.UserID})
		if err != nil || len(found) == 0 || found[0] == nil {
			return fmt.Errorf("user not found")
		}
		u := found[0]

		if err := us.userRepo.UpdateFields(dbc, rd.UserID, map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
		}); err != nil {
			return err
		}

		// Update struct so the avatar renders the new initials
		u.FirstName = firstName
		u.LastName = lastName

		if err := us.avatarService.CreateAndUploadUserAvatar(dbc, u); err != nil {
			return err
		}

		if err := us.userRepo.UpdateFields(dbc, rd.UserID, map[string]interface{}{
			"avatar_bucket_key": u.AvatarBucketKey,
			"avatar_url":        u.AvatarURL,
		}); err != nil {
			return err
		}

		out = u
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (us *userService) UploadAvatarImage(ctx context.Context, raw []byte) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("unauthorized")
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty upload")
	}

	var out *types.User
	if err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		found, err := us.userRepo.GetByIDs(dbc, []uuid.UUID{rd.UserID})
		if err != nil || len(found) == 0 || found[0] == nil {
			return fmt.Errorf("user not found")
		}
		u := found[0]

		if err := us.avatarService.CreateAndUploadUserAvatarFromImage(dbc, u, raw); err != nil {
			return err
		}

		if err := us.userRepo.UpdateFields(dbc, rd.UserID, map[string]interface{}{
			"avatar_bucket_key": u.AvatarBucketKey,
			"avatar_url":        u.AvatarURL,
		}); err != nil {
			return err
		}

		out = u
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// splitDisplayName breaks a provider display name into first/last on the
// final space, so "Ada Byron Lovelace" becomes ("Ada Byron", "Lovelace").
func splitDisplayName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	i := strings.LastIndexByte(name, ' ')
	if i < 0 {
		return name, ""
	}
	return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
}
