package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/rewatch-backend/internal/clients/gcp"
	redisclient "github.com/yungbote/rewatch-backend/internal/clients/redis"
	"github.com/yungbote/rewatch-backend/internal/platform/captions"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/neo4jdb"
	"github.com/yungbote/rewatch-backend/internal/platform/openai"
	"github.com/yungbote/rewatch-backend/internal/platform/zeroentropy"
	"github.com/yungbote/rewatch-backend/internal/temporalx"
)

type Clients struct {
	SSEBus          redisclient.SSEBus
	TranscriptCache redisclient.TranscriptCache
	Captions        captions.Client
	ZeroEntropy     zeroentropy.Client
	OpenAI          openai.Client
	Neo4j           *neo4jdb.Client
	Bucket          gcp.BucketService
	Temporal        temporalsdkclient.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis (optional: single-pod dev runs without it, the hub emitter
	// covers SSE and the caption client just skips the cache tier)
	var bus redisclient.SSEBus
	var cache redisclient.TranscriptCache
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		b, err := redisclient.NewSSEBus(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis SSE bus: %w", err)
		}
		bus = b
		c, err := redisclient.NewTranscriptCache(log)
		if err != nil {
			_ = bus.Close()
			return Clients{}, fmt.Errorf("init transcript cache: %w", err)
		}
		cache = c
	}

	// Captions
	capCfg, err := captions.ResolveConfigFromEnv()
	if err != nil {
		return Clients{}, fmt.Errorf("resolve captions config: %w", err)
	}
	capClient, err := captions.NewClient(log, capCfg)
	if err != nil {
		return Clients{}, fmt.Errorf("init captions client: %w", err)
	}

	// ZeroEntropy
	zeCfg, err := zeroentropy.ResolveConfigFromEnv()
	if err != nil {
		return Clients{}, fmt.Errorf("resolve zeroentropy config: %w", err)
	}
	ze, err := zeroentropy.NewClient(log, zeCfg)
	if err != nil {
		return Clients{}, fmt.Errorf("init zeroentropy client: %w", err)
	}

	// OpenAI
	ai, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	// Neo4j (optional: nil without NEO4J_URI, provenance writes are skipped)
	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j client: %w", err)
	}

	// GCS
	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init bucket client: %w", err)
	}

	// Temporal (optional: nil without TEMPORAL_ADDRESS, jobs fall back to
	// the DB-polling worker)
	tc, err := temporalx.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	return Clients{
		SSEBus:          bus,
		TranscriptCache: cache,
		Captions:        capClient,
		ZeroEntropy:     ze,
		OpenAI:          ai,
		Neo4j:           graph,
		Bucket:          bucket,
		Temporal:        tc,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(context.Background())
	}
	if c.TranscriptCache != nil {
		_ = c.TranscriptCache.Close()
	}
	if c.SSEBus != nil {
		_ = c.SSEBus.Close()
	}
}
