package services

import (
	"context"
	"maps"

	"github.com/google/uuid"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/sse"
)

// ChatNotifier fans chat lifecycle events out to the owner's SSE channel.
type ChatNotifier interface {
	ThreadCreated(userID uuid.UUID, thread *types.ChatThread)
	MessageCreated(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any)
	MessageDelta(userID uuid.UUID, threadID uuid.UUID, messageID uuid.UUID, delta string, meta map[string]any)
	MessageDone(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any)
	MessageError(userID uuid.UUID, threadID uuid.UUID, messageID uuid.UUID, errMsg string, meta map[string]any)
}

type chatNotifier struct {
	emit SSEEmitter
}

func NewChatNotifier(emit SSEEmitter) ChatNotifier {
	return &chatNotifier{emit: emit}
}

// send publishes one event on the user's channel, folding meta into data.
// Meta keys win on collision.
func (n *chatNotifier) send(userID uuid.UUID, event sse.SSEEvent, data map[string]any, meta map[string]any) {
	if n == nil || n.emit == nil {
		return
	}
	if userID == uuid.Nil {
		return
	}
	maps.Copy(data, meta)
	n.emit.Emit(context.Background(), sse.SSEMessage{Channel: userID.String(), Event: event, Data: data})
}

func (n *chatNotifier) ThreadCreated(userID uuid.UUID, thread *types.ChatThread) {
	n.send(userID, sse.SSEEventChatThreadCreated, map[string]any{"thread": thread}, nil)
}

func (n *chatNotifier) MessageCreated(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any) {
	n.send(userID, sse.SSEEventChatMessageCreated, map[string]any{"thread_id": threadID, "message": msg}, meta)
}

func (n *chatNotifier) MessageDelta(userID uuid.UUID, threadID uuid.UUID, messageID uuid.UUID, delta string, meta map[string]any) {
	if delta == "" {
		return
	}
	data := map[string]any{"thread_id": threadID, "message_id": messageID, "delta": delta}
	n.send(userID, sse.SSEEventChatMessageDelta, data, meta)
}

func (n *chatNotifier) MessageDone(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any) {
	n.send(userID, sse.SSEEventChatMessageDone, map[string]any{"thread_id": threadID, "message": msg}, meta)
}

func (n *chatNotifier) MessageError(userID uuid.UUID, threadID uuid.UUID, messageID uuid.UUID, errMsg string, meta map[string]any) {
	data := map[string]any{"thread_id": threadID, "message_id": messageID, "error": errMsg}
	n.send(userID, sse.SSEEventChatMessageError, data, meta)
}
