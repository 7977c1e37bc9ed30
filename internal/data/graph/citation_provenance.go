package graph

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/rewatch-backend/internal/citations"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/neo4jdb"
)

// UpsertCitationProvenance records which video passages an assistant message
// cited: (User)-[:HAS_THREAD]->(ChatThread)-[:HAS_MESSAGE]->(ChatMessage)
// -[:CITES {start_time, ...}]->(Video). Writes are idempotent per citation
// match index, so re-running a respond attempt does not duplicate edges.
func UpsertCitationProvenance(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, thread *types.ChatThread, msg *types.ChatMessage, cites []citations.Citation) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if thread == nil || thread.ID == uuid.Nil || thread.UserID == uuid.Nil {
		return nil
	}
	if msg == nil || msg.ID == uuid.Nil {
		return nil
	}
	if len(cites) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	messageNode := map[string]any{
		"id":         msg.ID.String(),
		"thread_id":  thread.ID.String(),
		"user_id":    thread.UserID.String(),
		"seq":        msg.Seq,
		"role":       msg.Role,
		"created_at": msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		"synced_at":  now,
	}

	videoNodes := make([]map[string]any, 0, len(cites))
	citeRels := make([]map[string]any, 0, len(cites))
	seenVideo := map[string]struct{}{}
	for _, c := range cites {
		vid := strings.TrimSpace(c.VideoID)
		if vid == "" {
			continue
		}
		if _, ok := seenVideo[vid]; !ok {
			seenVideo[vid] = struct{}{}
			videoNodes = append(videoNodes, map[string]any{
				"user_id":    thread.UserID.String(),
				"youtube_id": vid,
				"title":      strings.TrimSpace(c.VideoTitle),
				"synced_at":  now,
			})
		}
		citeRels = append(citeRels, map[string]any{
			"message_id":  msg.ID.String(),
			"user_id":     thread.UserID.String(),
			"youtube_id":  vid,
			"video_title": strings.TrimSpace(c.VideoTitle),
			"timestamp":   c.Timestamp,
			"start_time":  c.StartTime,
			"match_index": c.MatchIndex,
			"synced_at":   now,
		})
	}
	if len(citeRels) == 0 {
		return nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// Best-effort schema init.
	{
		stmts := []string{
			`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
			`CREATE CONSTRAINT chat_thread_id_unique IF NOT EXISTS FOR (t:ChatThread) REQUIRE t.id IS UNIQUE`,
			`CREATE CONSTRAINT chat_message_id_unique IF NOT EXISTS FOR (m:ChatMessage) REQUIRE m.id IS UNIQUE`,
			`CREATE CONSTRAINT video_user_youtube_unique IF NOT EXISTS FOR (v:Video) REQUIRE (v.user_id, v.youtube_id) IS UNIQUE`,
		}
		for _, q := range stmts {
			if res, err := session.Run(ctx, q, nil); err != nil {
				if log != nil {
					log.Warn("neo4j schema init failed (continuing)", "error", err)
				}
			} else {
				_, _ = res.Consume(ctx)
			}
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// User -> Thread -> Message spine.
		if res, err := tx.Run(ctx, `
MERGE (u:User {id: $user_id})
SET u.synced_at = $synced_at
WITH u
MERGE (t:ChatThread {id: $thread_id})
SET t.user_id = $user_id, t.synced_at = $synced_at
MERGE (u)-[ht:HAS_THREAD]->(t)
SET ht.synced_at = $synced_at
WITH t
MERGE (m:ChatMessage {id: $message.id})
SET m += $message
MERGE (t)-[hm:HAS_MESSAGE]->(m)
SET hm.synced_at = $synced_at
`, map[string]any{
			"user_id":   thread.UserID.String(),
			"thread_id": thread.ID.String(),
			"message":   messageNode,
			"synced_at": now,
		}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		// Cited videos.
		if res, err := tx.Run(ctx, `
UNWIND $videos AS v
MERGE (vi:Video {user_id: v.user_id, youtube_id: v.youtube_id})
SET vi.synced_at = v.synced_at,
    vi.title = CASE WHEN v.title <> '' THEN v.title ELSE vi.title END
`, map[string]any{"videos": videoNodes}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		// Message -> Video citation edges.
		if res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (m:ChatMessage {id: r.message_id})
MATCH (v:Video {user_id: r.user_id, youtube_id: r.youtube_id})
MERGE (m)-[c:CITES {match_index: r.match_index}]->(v)
SET c.video_title = r.video_title,
    c.timestamp = r.timestamp,
    c.start_time = r.start_time,
    c.synced_at = r.synced_at
`, map[string]any{"rels": citeRels}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		return nil, nil
	})
	return err
}
