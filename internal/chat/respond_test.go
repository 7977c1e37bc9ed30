package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/rewatch-backend/internal/citations"
	chatrepo "github.com/yungbote/rewatch-backend/internal/data/repos/chat"
	"github.com/yungbote/rewatch-backend/internal/data/repos/testutil"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/search"
)

type notifyEvent struct {
	Kind      string
	MessageID uuid.UUID
	Delta     string
	ErrMsg    string
}

type fakeNotifier struct {
	events []notifyEvent
}

func (f *fakeNotifier) ThreadCreated(userID uuid.UUID, thread *types.ChatThread) {
	f.events = append(f.events, notifyEvent{Kind: "thread_created"})
}

func (f *fakeNotifier) MessageCreated(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any) {
	f.events = append(f.events, notifyEvent{Kind: "created", MessageID: msg.ID})
}

func (f *fakeNotifier) MessageDelta(userID uuid.UUID, threadID uuid.UUID, messageID uuid.UUID, delta string, meta map[string]any) {
	f.events = append(f.events, notifyEvent{Kind: "delta", MessageID: messageID, Delta: delta})
}

func (f *fakeNotifier) MessageDone(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any) {
	f.events = append(f.events, notifyEvent{Kind: "done", MessageID: msg.ID})
}

func (f *fakeNotifier) MessageError(userID uuid.UUID, threadID uuid.UUID, messageID uuid.UUID, errMsg string, meta map[string]any) {
	f.events = append(f.events, notifyEvent{Kind: "error", MessageID: messageID, ErrMsg: errMsg})
}

func (f *fakeNotifier) kinds() []string {
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestRespondStreamsAnswerAndParsesCitations(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "respond-ok")
	thread := testutil.SeedThread(t, ctx, tx, user.ID)
	userMsg := testutil.SeedMessage(t, ctx, tx, thread.ID, user.ID, 1, RoleUser, "What did the magnet video say about poles?")
	asst := testutil.SeedMessage(t, ctx, tx, thread.ID, user.ID, 2, RoleAssistant, "")

	ai := &fakeAI{
		jsonResult: map[string]any{
			"route": "search",
			"tool_calls": []any{
				map[string]any{
					"tool_name":  "detailed",
					"arguments":  map[string]any{"query": "magnet poles"},
					"confidence": 0.9,
				},
			},
		},
		streamDeltas: []string{
			"Like poles repel and opposite poles attract ",
			"[How Magnets Work at 10:15](videoId:abc-123:615).",
		},
	}
	router := &fakeRouter{responses: map[string]search.Response{
		"magnet poles": {
			Results:    []search.Result{searchResult("abc-123", "How Magnets Work", 615, "like poles repel, opposite poles attract")},
			TotalFound: 1,
		},
	}}
	notifier := &fakeNotifier{}

	deps := RespondDeps{
		DB:       tx,
		Log:      log,
		AI:       ai,
		Search:   router,
		Threads:  chatrepo.NewChatThreadRepo(tx, log),
		Messages: chatrepo.NewChatMessageRepo(tx, log),
		Parser:   citations.NewParser(log),
		Notify:   notifier,
	}

	out, err := Respond(ctx, deps, RespondInput{
		UserID:             user.ID,
		ThreadID:           thread.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: asst.ID,
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	wantText := "Like poles repel and opposite poles attract [How Magnets Work at 10:15](videoId:abc-123:615)."
	if out.AssistantText != wantText {
		t.Fatalf("assistant text:\nwant=%q\ngot =%q", wantText, out.AssistantText)
	}

	var row types.ChatMessage
	if err := tx.WithContext(ctx).Where("id = ?", asst.ID).Take(&row).Error; err != nil {
		t.Fatalf("load assistant row: %v", err)
	}
	if row.Status != MessageStatusDone {
		t.Fatalf("status: want=%s got=%s", MessageStatusDone, row.Status)
	}
	if row.Content != wantText {
		t.Fatalf("persisted content: got %q", row.Content)
	}

	var meta struct {
		Route     string               `json:"route"`
		Citations []citations.Citation `json:"citations"`
		ToolCalls []toolExecSummary    `json:"tool_calls"`
	}
	if err := json.Unmarshal(row.Metadata, &meta); err != nil {
		t.Fatalf("metadata unmarshal: %v (%s)", err, string(row.Metadata))
	}
	if meta.Route != RouteSearch {
		t.Fatalf("metadata route: got %q", meta.Route)
	}
	if len(meta.Citations) != 1 {
		t.Fatalf("citations: want=1 got=%d (%s)", len(meta.Citations), string(row.Metadata))
	}
	c := meta.Citations[0]
	if c.VideoID != "abc-123" || c.Timestamp != "10:15" || c.StartTime != 615 {
		t.Fatalf("citation fields: %+v", c)
	}
	if len(meta.ToolCalls) != 1 || meta.ToolCalls[0].ToolName != "detailed" || meta.ToolCalls[0].TotalFound != 1 {
		t.Fatalf("tool call trace: %+v", meta.ToolCalls)
	}

	kinds := notifier.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != "done" {
		t.Fatalf("notify sequence should end with done: %v", kinds)
	}
	sawDelta := false
	for _, k := range kinds {
		if k == "delta" {
			sawDelta = true
		}
		if k == "error" {
			t.Fatalf("unexpected error event: %v", kinds)
		}
	}
	if !sawDelta {
		t.Fatalf("expected at least one delta event: %v", kinds)
	}
}

func TestRespondSmalltalkSkipsSearch(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "respond-smalltalk")
	thread := testutil.SeedThread(t, ctx, tx, user.ID)
	userMsg := testutil.SeedMessage(t, ctx, tx, thread.ID, user.ID, 1, RoleUser, "thanks, that helped!")
	asst := testutil.SeedMessage(t, ctx, tx, thread.ID, user.ID, 2, RoleAssistant, "")

	ai := &fakeAI{
		jsonResult:   map[string]any{"route": "smalltalk", "tool_calls": []any{}},
		streamDeltas: []string{"Glad it helped!"},
	}
	router := &fakeRouter{}

	deps := RespondDeps{
		DB:       tx,
		Log:      log,
		AI:       ai,
		Search:   router,
		Threads:  chatrepo.NewChatThreadRepo(tx, log),
		Messages: chatrepo.NewChatMessageRepo(tx, log),
		Parser:   citations.NewParser(log),
	}

	out, err := Respond(ctx, deps, RespondInput{
		UserID:             user.ID,
		ThreadID:           thread.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: asst.ID,
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out.AssistantText != "Glad it helped!" {
		t.Fatalf("assistant text: got %q", out.AssistantText)
	}
	if len(router.requests) != 0 {
		t.Fatalf("smalltalk must not hit search: %+v", router.requests)
	}

	var row types.ChatMessage
	if err := tx.WithContext(ctx).Where("id = ?", asst.ID).Take(&row).Error; err != nil {
		t.Fatalf("load assistant row: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(row.Metadata, &meta); err != nil {
		t.Fatalf("metadata unmarshal: %v", err)
	}
	if meta["route"] != RouteSmalltalk {
		t.Fatalf("metadata route: got %v", meta["route"])
	}
}

func TestRespondStreamErrorMarksMessage(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "respond-err")
	thread := testutil.SeedThread(t, ctx, tx, user.ID)
	userMsg := testutil.SeedMessage(t, ctx, tx, thread.ID, user.ID, 1, RoleUser, "tell me about the video")
	asst := testutil.SeedMessage(t, ctx, tx, thread.ID, user.ID, 2, RoleAssistant, "")

	ai := &fakeAI{
		jsonResult: map[string]any{"route": "smalltalk", "tool_calls": []any{}},
		streamErr:  errors.New("stream cut"),
	}
	notifier := &fakeNotifier{}

	deps := RespondDeps{
		DB:       tx,
		Log:      log,
		AI:       ai,
		Search:   &fakeRouter{},
		Threads:  chatrepo.NewChatThreadRepo(tx, log),
		Messages: chatrepo.NewChatMessageRepo(tx, log),
		Parser:   citations.NewParser(log),
		Notify:   notifier,
	}

	_, err := Respond(ctx, deps, RespondInput{
		UserID:             user.ID,
		ThreadID:           thread.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: asst.ID,
	})
	if err == nil {
		t.Fatalf("expected stream error")
	}

	var row types.ChatMessage
	if err := tx.WithContext(ctx).Where("id = ?", asst.ID).Take(&row).Error; err != nil {
		t.Fatalf("load assistant row: %v", err)
	}
	if row.Status != MessageStatusError {
		t.Fatalf("status: want=%s got=%s", MessageStatusError, row.Status)
	}

	kinds := notifier.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != "error" {
		t.Fatalf("notify sequence should end with error: %v", kinds)
	}
}

func TestRespondRejectsForeignThread(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	owner := testutil.SeedUser(t, ctx, tx, "respond-owner")
	intruder := testutil.SeedUser(t, ctx, tx, "respond-intruder")
	thread := testutil.SeedThread(t, ctx, tx, owner.ID)
	userMsg := testutil.SeedMessage(t, ctx, tx, thread.ID, owner.ID, 1, RoleUser, "hello")
	asst := testutil.SeedMessage(t, ctx, tx, thread.ID, owner.ID, 2, RoleAssistant, "")

	deps := RespondDeps{
		DB:       tx,
		Log:      log,
		AI:       &fakeAI{},
		Threads:  chatrepo.NewChatThreadRepo(tx, log),
		Messages: chatrepo.NewChatMessageRepo(tx, log),
	}

	_, err := Respond(ctx, deps, RespondInput{
		UserID:             intruder.ID,
		ThreadID:           thread.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: asst.ID,
	})
	if err == nil {
		t.Fatalf("expected ownership rejection")
	}
}
