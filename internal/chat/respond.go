package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/citations"
	"github.com/yungbote/rewatch-backend/internal/data/graph"
	chatrepo "github.com/yungbote/rewatch-backend/internal/data/repos/chat"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/neo4jdb"
	"github.com/yungbote/rewatch-backend/internal/platform/openai"
	"github.com/yungbote/rewatch-backend/internal/search"
	"github.com/yungbote/rewatch-backend/internal/services"
)

type RespondDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	AI     openai.Client
	Search search.Router

	Threads  chatrepo.ChatThreadRepo
	Messages chatrepo.ChatMessageRepo

	Parser *citations.Parser
	Graph  *neo4jdb.Client

	Notify services.ChatNotifier
}

type RespondInput struct {
	UserID uuid.UUID

	ThreadID           uuid.UUID
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	Attempt            int
}

type RespondOutput struct {
	AssistantText string `json:"assistant_text"`
}

// Streaming throttles. Row writes and SSE emits each have a time floor plus
// a byte threshold that forces an early flush.
const (
	rowWriteEvery = 750 * time.Millisecond
	rowWriteBytes = 256
	sseEmitEvery  = 150 * time.Millisecond
	sseEmitBytes  = 512
)

// streamRecorder accumulates model deltas, persisting the partial answer to
// the assistant row and fanning buffered chunks out over SSE. Both sides are
// throttled so a chatty model cannot flood the database or the hub buffers
// with per-token traffic.
type streamRecorder struct {
	dbc    dbctx.Context
	msgs   chatrepo.ChatMessageRepo
	notify services.ChatNotifier

	userID   uuid.UUID
	threadID uuid.UUID
	msgID    uuid.UUID
	attempt  int

	full    strings.Builder
	pending strings.Builder

	lastWrite  time.Time
	lastEmit   time.Time
	writtenLen int
	pendingLen int
	// counts emitted SSE chunks, not raw model deltas
	emitSeq int64
}

func newStreamRecorder(dbc dbctx.Context, deps RespondDeps, in RespondInput) *streamRecorder {
	now := time.Now()
	return &streamRecorder{
		dbc:       dbc,
		msgs:      deps.Messages,
		notify:    deps.Notify,
		userID:    in.UserID,
		threadID:  in.ThreadID,
		msgID:     in.AssistantMessageID,
		attempt:   in.Attempt,
		lastWrite: now,
		lastEmit:  now,
	}
}

func (sr *streamRecorder) take(delta string) {
	if delta == "" {
		return
	}
	sr.full.WriteString(delta)
	sr.pending.WriteString(delta)
	sr.pendingLen += len(delta)

	if time.Since(sr.lastEmit) >= sseEmitEvery || sr.pendingLen >= sseEmitBytes {
		sr.emit()
	}
	sr.persist()
}

func (sr *streamRecorder) persist() {
	if time.Since(sr.lastWrite) < rowWriteEvery && sr.full.Len()-sr.writtenLen < rowWriteBytes {
		return
	}
	txt := sr.full.String()
	sr.lastWrite = time.Now()
	sr.writtenLen = len(txt)
	_ = sr.msgs.UpdateFields(sr.dbc, sr.msgID, map[string]interface{}{
		"content":    txt,
		"status":     MessageStatusStreaming,
		"updated_at": time.Now().UTC(),
	})
}

// emit flushes whatever deltas are buffered into a single SSE event.
func (sr *streamRecorder) emit() {
	if sr.notify == nil {
		sr.pending.Reset()
		sr.pendingLen = 0
		return
	}
	chunk := sr.pending.String()
	if chunk == "" {
		return
	}
	sr.pending.Reset()
	sr.pendingLen = 0
	sr.emitSeq++
	sr.notify.MessageDelta(sr.userID, sr.threadID, sr.msgID, chunk, map[string]any{
		"attempt":     sr.attempt,
		"delta_seq":   sr.emitSeq,
		"content_len": sr.full.Len(),
	})
	sr.lastEmit = time.Now()
}

func (sr *streamRecorder) text() string { return sr.full.String() }

func loadOwnedThread(dbc dbctx.Context, repo chatrepo.ChatThreadRepo, userID uuid.UUID, threadID uuid.UUID) (*types.ChatThread, error) {
	rows, err := repo.GetByIDs(dbc, []uuid.UUID{threadID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil || rows[0].UserID != userID {
		return nil, fmt.Errorf("thread not found")
	}
	return rows[0], nil
}

// A retry reuses the placeholder row, so wipe any partial content first and
// re-announce the row to connected clients.
func resetAssistantForRetry(dbc dbctx.Context, deps RespondDeps, in RespondInput) {
	_ = deps.Messages.UpdateFields(dbc, in.AssistantMessageID, map[string]interface{}{
		"content":    "",
		"status":     MessageStatusStreaming,
		"updated_at": time.Now().UTC(),
	})
	if deps.Notify == nil {
		return
	}
	if asst, err := deps.Messages.GetByID(dbc, in.AssistantMessageID); err == nil && asst != nil {
		deps.Notify.MessageCreated(in.UserID, in.ThreadID, asst, map[string]any{
			"attempt": in.Attempt,
		})
	}
}

func failAssistant(dbc dbctx.Context, deps RespondDeps, in RespondInput, cause error) {
	_ = deps.Messages.UpdateFields(dbc, in.AssistantMessageID, map[string]interface{}{
		"status":     MessageStatusError,
		"updated_at": time.Now().UTC(),
	})
	if deps.Notify != nil {
		deps.Notify.MessageError(in.UserID, in.ThreadID, in.AssistantMessageID, cause.Error(), map[string]any{
			"attempt": in.Attempt,
		})
	}
}

// Respond turns a posted user message into a streamed assistant answer. It
// routes the message, runs any search tool calls, streams the grounded reply
// into the placeholder row, and finally parses citations out of the text to
// record provenance.
func Respond(ctx context.Context, deps RespondDeps, in RespondInput) (RespondOutput, error) {
	out := RespondOutput{}
	if deps.DB == nil || deps.Log == nil || deps.AI == nil || deps.Threads == nil || deps.Messages == nil {
		return out, fmt.Errorf("chat respond: missing deps")
	}
	if in.UserID == uuid.Nil || in.ThreadID == uuid.Nil || in.UserMessageID == uuid.Nil || in.AssistantMessageID == uuid.Nil {
		return out, fmt.Errorf("chat respond: missing ids")
	}

	dbc := dbctx.Context{Ctx: ctx, Tx: deps.DB}
	thread, err := loadOwnedThread(dbc, deps.Threads, in.UserID, in.ThreadID)
	if err != nil {
		return out, err
	}

	if in.Attempt > 0 {
		resetAssistantForRetry(dbc, deps, in)
	}

	// The user message row is canonical; the job payload only carries IDs.
	userMsg, err := deps.Messages.GetByID(dbc, in.UserMessageID)
	if err != nil {
		return out, err
	}
	if userMsg == nil || userMsg.ThreadID != in.ThreadID || userMsg.UserID != in.UserID {
		return out, fmt.Errorf("user message not found")
	}
	userText := strings.TrimSpace(userMsg.Content)
	if userText == "" {
		return out, fmt.Errorf("empty user message")
	}

	recent := ""
	if history, err := deps.Messages.ListRecent(dbc, in.ThreadID, 12); err == nil && len(history) > 0 {
		recent = formatRecent(history, 6)
	}

	route := routeDecision{Route: RouteSearch}
	if r, err := routeMessage(ctx, deps, thread, userText, recent); err == nil {
		route = r
	} else {
		deps.Log.Warn("chat route failed, defaulting to search", "threadID", in.ThreadID, "error", err)
	}

	aiClient := deps.AI
	trace := map[string]any{}
	var instructions, userPayload string

	switch strings.ToLower(strings.TrimSpace(route.Route)) {
	case RouteSmalltalk:
		instructions, userPayload = promptFastChat(recent, userText)
		trace["route"] = RouteSmalltalk
		if m := resolveChatFastModel(); m != "" {
			aiClient = openai.WithModel(deps.AI, m)
			trace["model"] = m
		}
	default:
		calls := route.ToolCalls
		if len(calls) == 0 {
			// The router occasionally returns search with no calls; fall
			// back to a detailed search on the raw message.
			calls = []toolCall{{
				ToolName:   "detailed",
				Arguments:  map[string]any{"query": userText},
				Confidence: 1,
			}}
		}
		toolRes := executeSearchToolCalls(ctx, deps, in.UserID.String(), thread, calls)
		instructions, userPayload = promptAnswer(recent, userText, toolRes.Evidence)
		trace["route"] = RouteSearch
		for k, v := range toolRes.Metadata {
			trace[k] = v
		}
	}

	rec := newStreamRecorder(dbc, deps, in)
	text, err := aiClient.StreamText(ctx, instructions, userPayload, rec.take)
	if err != nil {
		rec.emit()
		failAssistant(dbc, deps, in, err)
		return out, err
	}
	rec.emit()

	// StreamText returns the assembled answer itself; fall back to the
	// recorder when that final payload comes back empty.
	if strings.TrimSpace(text) == "" {
		text = rec.text()
	}
	text = strings.TrimSpace(text)
	out.AssistantText = text

	var cites []citations.Citation
	if deps.Parser != nil && text != "" {
		cites = deps.Parser.Parse(text).Citations
	}
	if len(cites) > 0 {
		trace["citations"] = cites
	}

	metaJSON, _ := json.Marshal(trace)
	if err := deps.Messages.UpdateFields(dbc, in.AssistantMessageID, map[string]interface{}{
		"content":    text,
		"status":     MessageStatusDone,
		"metadata":   datatypes.JSON(metaJSON),
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return out, err
	}
	_ = deps.Threads.UpdateFields(dbc, in.ThreadID, map[string]interface{}{
		"last_message_at": time.Now().UTC(),
	})

	// Fetch the finished row for the done event and provenance sync.
	asst, _ := deps.Messages.GetByID(dbc, in.AssistantMessageID)
	if asst == nil {
		asst = &types.ChatMessage{ID: in.AssistantMessageID, ThreadID: in.ThreadID, UserID: in.UserID, Content: text}
	}

	// Provenance edges are best-effort; the answer is already persisted.
	if len(cites) > 0 && deps.Graph != nil {
		if err := graph.UpsertCitationProvenance(ctx, deps.Graph, deps.Log, thread, asst, cites); err != nil {
			deps.Log.Warn("citation provenance sync failed", "threadID", in.ThreadID, "messageID", in.AssistantMessageID, "error", err)
		}
	}

	if deps.Notify != nil {
		deps.Notify.MessageDone(in.UserID, in.ThreadID, asst, map[string]any{
			"attempt": in.Attempt,
		})
	}

	return out, nil
}
