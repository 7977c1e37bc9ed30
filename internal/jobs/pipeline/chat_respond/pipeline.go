package chat_respond

import (
	"fmt"

	"github.com/google/uuid"

	chatmod "github.com/yungbote/rewatch-backend/internal/chat"
	jobrt "github.com/yungbote/rewatch-backend/internal/jobs/runtime"
)

// respondArgs is the job payload contract shared with the enqueue side in
// the chat service.
type respondArgs struct {
	threadID  uuid.UUID
	userMsgID uuid.UUID
	asstMsgID uuid.UUID
}

func parseRespondArgs(jc *jobrt.Context) (respondArgs, error) {
	var args respondArgs
	fields := []struct {
		key string
		dst *uuid.UUID
	}{
		{"thread_id", &args.threadID},
		{"user_message_id", &args.userMsgID},
		{"assistant_message_id", &args.asstMsgID},
	}
	for _, f := range fields {
		id, ok := jc.PayloadUUID(f.key)
		if !ok || id == uuid.Nil {
			return args, fmt.Errorf("missing %s", f.key)
		}
		*f.dst = id
	}
	return args, nil
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	args, err := parseRespondArgs(jc)
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}

	jc.Progress("respond", 5, "Generating response")
	out, err := chatmod.Respond(jc.Ctx, p.respondDeps(), chatmod.RespondInput{
		UserID:             jc.Job.OwnerUserID,
		ThreadID:           args.threadID,
		UserMessageID:      args.userMsgID,
		AssistantMessageID: args.asstMsgID,
		Attempt:            jc.Job.Attempts - 1,
	})
	if err != nil {
		jc.Fail("respond", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"thread_id":            args.threadID.String(),
		"user_message_id":      args.userMsgID.String(),
		"assistant_message_id": args.asstMsgID.String(),
		"assistant_text_chars": len(out.AssistantText),
	})
	return nil
}

func (p *Pipeline) respondDeps() chatmod.RespondDeps {
	return chatmod.RespondDeps{
		DB:       p.db,
		Log:      p.log,
		AI:       p.ai,
		Search:   p.search,
		Threads:  p.threads,
		Messages: p.messages,
		Parser:   p.parser,
		Graph:    p.graph,
		Notify:   p.notify,
	}
}
