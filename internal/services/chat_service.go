package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/rewatch-backend/internal/data/repos/chat"
	jobsrepo "github.com/yungbote/rewatch-backend/internal/data/repos/jobs"
	videosrepo "github.com/yungbote/rewatch-backend/internal/data/repos/videos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

const maxChatMessageChars = 20000

type ChatService interface {
	// CreateThread opens a thread, optionally scoped to a subset of the
	// user's videos. Scoped threads restrict every search the responder
	// runs to those videos.
	CreateThread(dbc dbctx.Context, title string, videoIDs []uuid.UUID) (*types.ChatThread, error)
	ListThreads(dbc dbctx.Context, limit int) ([]*types.ChatThread, error)
	GetThread(dbc dbctx.Context, threadID uuid.UUID, limit int) (*types.ChatThread, []*types.ChatMessage, error)
	ListMessages(dbc dbctx.Context, threadID uuid.UUID, limit int) ([]*types.ChatMessage, error)

	// SendMessage persists a user message, creates an assistant placeholder
	// message, and enqueues a "chat_respond" job.
	SendMessage(dbc dbctx.Context, threadID uuid.UUID, content string, idempotencyKey string) (*types.ChatMessage, *types.ChatMessage, *types.JobRun, error)

	ArchiveThread(dbc dbctx.Context, threadID uuid.UUID) (*types.ChatThread, error)
}

type chatService struct {
	db  *gorm.DB
	log *logger.Logger

	jobRuns jobsrepo.JobRunRepo
	jobs    JobService

	threads  chatrepo.ChatThreadRepo
	messages chatrepo.ChatMessageRepo
	videos   videosrepo.VideoRepo
	notify   ChatNotifier
}

func NewChatService(db *gorm.DB, baseLog *logger.Logger, jobRunRepo jobsrepo.JobRunRepo, jobService JobService, threadRepo chatrepo.ChatThreadRepo, messageRepo chatrepo.ChatMessageRepo, videoRepo videosrepo.VideoRepo, notify ChatNotifier) ChatService {
	return &chatService{
		db:       db,
		log:      baseLog.With("service", "ChatService"),
		jobRuns:  jobRunRepo,
		jobs:     jobService,
		threads:  threadRepo,
		messages: messageRepo,
		videos:   videoRepo,
		notify:   notify,
	}
}

// scopeMetadata resolves videoIDs to their youtube ids, the unit the search
// index filters on. Every id must resolve to a video the user owns.
func (s *chatService) scopeMetadata(dbc dbctx.Context, userID uuid.UUID, videoIDs []uuid.UUID) (datatypes.JSON, error) {
	if len(videoIDs) == 0 {
		return datatypes.JSON([]byte(`{}`)), nil
	}
	if s.videos == nil {
		return nil, fmt.Errorf("videos repo not wired")
	}
	rows, err := s.videos.GetByIDs(dbc, videoIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Video, len(rows))
	for _, v := range rows {
		if v != nil {
			byID[v.ID] = v
		}
	}
	scope := make([]string, 0, len(videoIDs))
	for _, id := range videoIDs {
		v := byID[id]
		if v == nil || v.OwnerUserID != userID {
			return nil, fmt.Errorf("video not found")
		}
		scope = append(scope, v.YoutubeID)
	}
	b, err := json.Marshal(map[string]any{"video_ids": scope})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (s *chatService) CreateThread(dbc dbctx.Context, title string, videoIDs []uuid.UUID) (*types.ChatThread, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, err
	}
	if s.threads == nil {
		return nil, fmt.Errorf("chat threads repo not wired")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}

	repoCtx := dbc.WithFallback(s.db)
	metadata, err := s.scopeMetadata(repoCtx, userID, videoIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	thread := &types.ChatThread{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         title,
		Status:        "active",
		Metadata:      metadata,
		NextSeq:       0,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := s.threads.Create(repoCtx, []*types.ChatThread{thread})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 || created[0] == nil {
		return nil, fmt.Errorf("failed to create thread")
	}

	if s.notify != nil {
		s.notify.ThreadCreated(userID, created[0])
	}
	return created[0], nil
}

func (s *chatService) ListThreads(dbc dbctx.Context, limit int) ([]*types.ChatThread, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, err
	}
	if s.threads == nil {
		return nil, fmt.Errorf("chat threads repo not wired")
	}
	return s.threads.ListByUser(dbc.WithFallback(s.db), userID, limit)
}

// ownedThread loads a thread and confirms the caller owns it. Foreign and
// unknown threads both read as missing.
func (s *chatService) ownedThread(dbc dbctx.Context, userID, threadID uuid.UUID) (*types.ChatThread, error) {
	rows, err := s.threads.GetByIDs(dbc, []uuid.UUID{threadID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil || rows[0].UserID != userID {
		return nil, fmt.Errorf("thread not found")
	}
	return rows[0], nil
}

func (s *chatService) GetThread(dbc dbctx.Context, threadID uuid.UUID, limit int) (*types.ChatThread, []*types.ChatMessage, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, nil, err
	}
	if threadID == uuid.Nil {
		return nil, nil, fmt.Errorf("missing thread id")
	}
	repoCtx := dbc.WithFallback(s.db)

	th, err := s.ownedThread(repoCtx, userID, threadID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListByThread(repoCtx, threadID, limit)
	if err != nil {
		return nil, nil, err
	}
	return th, msgs, nil
}

func (s *chatService) ListMessages(dbc dbctx.Context, threadID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	_, msgs, err := s.GetThread(dbc, threadID, limit)
	return msgs, err
}

func validateChatMessage(content, idempotencyKey string) (string, string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", fmt.Errorf("missing content")
	}
	if len(content) > maxChatMessageChars {
		return "", "", fmt.Errorf("message too large")
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > 200 {
		return "", "", fmt.Errorf("idempotency key too long")
	}
	return content, idempotencyKey, nil
}

// newTurnMessages builds the user message and the assistant placeholder it
// will be answered in.
func newTurnMessages(threadID, userID uuid.UUID, seqUser, seqAsst int64, content, idempotencyKey string, now time.Time) (*types.ChatMessage, *types.ChatMessage) {
	base := types.ChatMessage{
		ThreadID:  threadID,
		UserID:    userID,
		Metadata:  datatypes.JSON([]byte(`{}`)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	user := base
	user.ID = uuid.New()
	user.Seq = seqUser
	user.Role = "user"
	user.Status = "sent"
	user.Content = content
	user.IdempotencyKey = idempotencyKey

	asst := base
	asst.ID = uuid.New()
	asst.Seq = seqAsst
	asst.Role = "assistant"
	asst.Status = "streaming"
	return &user, &asst
}

func (s *chatService) SendMessage(dbc dbctx.Context, threadID uuid.UUID, content string, idempotencyKey string) (*types.ChatMessage, *types.ChatMessage, *types.JobRun, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, nil, nil, err
	}
	if threadID == uuid.Nil {
		return nil, nil, nil, fmt.Errorf("missing thread id")
	}
	content, idempotencyKey, err = validateChatMessage(content, idempotencyKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if s.threads == nil || s.messages == nil || s.jobs == nil || s.jobRuns == nil {
		return nil, nil, nil, fmt.Errorf("chat service not fully wired")
	}

	repoCtx := dbc.WithFallback(s.db)

	// Fast-path idempotency (no lock): let clients safely retry while a
	// response is still running.
	if idempotencyKey != "" {
		if u, a, j := s.findExistingTurn(repoCtx, userID, threadID, idempotencyKey); u != nil {
			return u, a, j, nil
		}
	}

	// One runnable chat_respond per thread keeps answer ordering sane.
	busy, err := s.jobRuns.HasRunnableForEntity(repoCtx, userID, "chat_thread", threadID, types.JobTypeChatRespond)
	if err != nil {
		return nil, nil, nil, err
	}
	if busy {
		return nil, nil, nil, fmt.Errorf("thread is busy")
	}

	var (
		userMsg    *types.ChatMessage
		asstMsg    *types.ChatMessage
		job        *types.JobRun
		persisted  bool
		dispatchID uuid.UUID
	)
	err = dbc.Conn(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		// Lock thread for concurrency-safe sequencing.
		th, err := s.threads.LockByID(inner, threadID)
		if err != nil {
			return err
		}
		if th == nil || th.ID == uuid.Nil || th.UserID != userID {
			return fmt.Errorf("thread not found")
		}

		// Re-check idempotency and busy inside the thread lock to avoid
		// races between concurrent requests.
		if idempotencyKey != "" {
			if u, a, j := s.findExistingTurn(inner, userID, threadID, idempotencyKey); u != nil {
				userMsg, asstMsg, job = u, a, j
				return nil
			}
		}
		busy, err := s.jobRuns.HasRunnableForEntity(inner, userID, "chat_thread", threadID, types.JobTypeChatRespond)
		if err != nil {
			return err
		}
		if busy {
			return fmt.Errorf("thread is busy")
		}

		seqUser, err := s.threads.AllocateSeq(inner, threadID)
		if err != nil {
			return err
		}
		seqAsst, err := s.threads.AllocateSeq(inner, threadID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		userMsg, asstMsg = newTurnMessages(threadID, userID, seqUser, seqAsst, content, idempotencyKey, now)
		if _, err := s.messages.Create(inner, []*types.ChatMessage{userMsg, asstMsg}); err != nil {
			return err
		}
		persisted = true

		if err := s.threads.UpdateFields(inner, threadID, map[string]interface{}{
			"last_message_at": now,
			"updated_at":      now,
		}); err != nil {
			return err
		}

		// Enqueue chat_respond (worker does routing + retrieval + LLM).
		entityID := threadID
		job, err = s.jobs.Enqueue(inner, userID, types.JobTypeChatRespond, "chat_thread", &entityID, map[string]any{
			"thread_id":            threadID.String(),
			"user_message_id":      userMsg.ID.String(),
			"assistant_message_id": asstMsg.ID.String(),
		})
		if err != nil {
			return err
		}
		if job != nil && job.ID != uuid.Nil {
			dispatchID = job.ID
		}

		// Persist job_id into assistant metadata for client convenience
		// (non-authoritative).
		if b, err := json.Marshal(map[string]any{"job_id": job.ID.String()}); err == nil {
			_ = s.messages.UpdateFields(inner, asstMsg.ID, map[string]interface{}{
				"metadata":   datatypes.JSON(b),
				"updated_at": now,
			})
			asstMsg.Metadata = datatypes.JSON(b)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	// Notify after commit.
	if persisted && s.notify != nil {
		meta := map[string]any{}
		if asstMsg != nil && len(asstMsg.Metadata) > 0 {
			_ = json.Unmarshal(asstMsg.Metadata, &meta)
		}
		if userMsg != nil {
			s.notify.MessageCreated(userID, threadID, userMsg, meta)
		}
		if asstMsg != nil {
			s.notify.MessageCreated(userID, threadID, asstMsg, meta)
		}
	}

	if dispatchID != uuid.Nil && s.jobs != nil {
		if err := s.jobs.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, dispatchID); err != nil {
			return userMsg, asstMsg, job, err
		}
	}
	return userMsg, asstMsg, job, nil
}

// findExistingTurn resolves a retried idempotency key to the turn it already
// created: the user message, the assistant placeholder at seq+1, and the
// respond job recorded in the placeholder metadata.
func (s *chatService) findExistingTurn(dbc dbctx.Context, userID uuid.UUID, threadID uuid.UUID, idempotencyKey string) (*types.ChatMessage, *types.ChatMessage, *types.JobRun) {
	var existing types.ChatMessage
	err := dbc.Conn(s.db).
		Model(&types.ChatMessage{}).
		Where("thread_id = ? AND user_id = ? AND role = ? AND idempotency_key = ? AND deleted_at IS NULL",
			threadID, userID, "user", idempotencyKey,
		).
		First(&existing).Error
	if err != nil || existing.ID == uuid.Nil {
		return nil, nil, nil
	}

	var asst *types.ChatMessage
	var existingAsst types.ChatMessage
	aerr := dbc.Conn(s.db).
		Model(&types.ChatMessage{}).
		Where("thread_id = ? AND user_id = ? AND seq = ? AND role = ? AND deleted_at IS NULL",
			threadID, userID, existing.Seq+1, "assistant",
		).
		First(&existingAsst).Error
	if aerr == nil && existingAsst.ID != uuid.Nil {
		asst = &existingAsst
	}

	var job *types.JobRun
	if asst != nil && len(asst.Metadata) > 0 && s.jobRuns != nil {
		var meta struct {
			JobID string `json:"job_id"`
		}
		if json.Unmarshal(asst.Metadata, &meta) == nil {
			if jid, perr := uuid.Parse(strings.TrimSpace(meta.JobID)); perr == nil && jid != uuid.Nil {
				if rows, jerr := s.jobRuns.GetByIDs(dbc, []uuid.UUID{jid}); jerr == nil && len(rows) > 0 {
					job = rows[0]
				}
			}
		}
	}
	return &existing, asst, job
}

func (s *chatService) ArchiveThread(dbc dbctx.Context, threadID uuid.UUID) (*types.ChatThread, error) {
	userID, err := requestUser(dbc)
	if err != nil {
		return nil, err
	}
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing thread id")
	}
	repoCtx := dbc.WithFallback(s.db)

	th, err := s.ownedThread(repoCtx, userID, threadID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.threads.UpdateFields(repoCtx, threadID, map[string]interface{}{
		"status":     "archived",
		"updated_at": now,
	}); err != nil {
		return nil, err
	}
	th.Status = "archived"
	th.UpdatedAt = now
	return th, nil
}
