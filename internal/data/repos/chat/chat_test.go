package chat

import (
	"context"
	"encoding/json"
	"testing"

	"gorm.io/datatypes"

	"github.com/yungbote/rewatch-backend/internal/data/repos/testutil"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
)

func TestChatThreadSeqAllocation(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewChatThreadRepo(db, testutil.Logger(t))
	user := testutil.SeedUser(t, ctx, tx, "seq-alloc")
	th := testutil.SeedThread(t, ctx, tx, user.ID)

	for want := int64(1); want <= 3; want++ {
		seq, err := repo.AllocateSeq(dbc, th.ID)
		if err != nil {
			t.Fatalf("AllocateSeq #%d: %v", want, err)
		}
		if seq != want {
			t.Fatalf("AllocateSeq: want=%d got=%d", want, seq)
		}
	}
}

func TestChatMessageListOrdering(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewChatMessageRepo(db, testutil.Logger(t))
	user := testutil.SeedUser(t, ctx, tx, "msg-order")
	th := testutil.SeedThread(t, ctx, tx, user.ID)

	testutil.SeedMessage(t, ctx, tx, th.ID, user.ID, 1, "user", "first question")
	testutil.SeedMessage(t, ctx, tx, th.ID, user.ID, 2, "assistant", "first answer")
	testutil.SeedMessage(t, ctx, tx, th.ID, user.ID, 3, "user", "second question")

	recent, err := repo.ListRecent(dbc, th.ID, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].Seq != 3 || recent[1].Seq != 2 {
		t.Fatalf("ListRecent order: got=%v", seqs(recent))
	}

	asc, err := repo.ListByThread(dbc, th.ID, 10)
	if err != nil {
		t.Fatalf("ListByThread: %v", err)
	}
	if len(asc) != 3 || asc[0].Seq != 1 || asc[2].Seq != 3 {
		t.Fatalf("ListByThread order: got=%v", seqs(asc))
	}
}

func TestChatMessageMetadataUpdate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewChatMessageRepo(db, testutil.Logger(t))
	user := testutil.SeedUser(t, ctx, tx, "msg-meta")
	th := testutil.SeedThread(t, ctx, tx, user.ID)
	msg := testutil.SeedMessage(t, ctx, tx, th.ID, user.ID, 1, "assistant", "")

	meta, _ := json.Marshal(map[string]any{
		"citations": []map[string]any{
			{"videoId": "abc-123-def-456", "startTime": 615.0},
		},
	})
	if err := repo.UpdateFields(dbc, msg.ID, map[string]interface{}{
		"content":  "See [Video at 10:15](videoId:abc-123-def-456:615)",
		"status":   "done",
		"metadata": datatypes.JSON(meta),
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	got, err := repo.GetByID(dbc, msg.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: err=%v got=%v", err, got)
	}
	if got.Status != "done" {
		t.Fatalf("status: want=done got=%s", got.Status)
	}
	var decoded map[string]any
	if err := json.Unmarshal(got.Metadata, &decoded); err != nil {
		t.Fatalf("metadata decode: %v", err)
	}
	if _, ok := decoded["citations"]; !ok {
		t.Fatalf("metadata missing citations: %v", decoded)
	}
}

func seqs(msgs []*types.ChatMessage) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}
