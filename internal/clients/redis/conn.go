package redis

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/rewatch-backend/internal/platform/envutil"
)

const connTimeout = 5 * time.Second

// connect builds a client from REDIS_ADDR/REDIS_PASSWORD and proves the
// connection with a bounded ping, so constructors fail fast at boot.
func connect() (*goredis.Client, error) {
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	opts := &goredis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), DialTimeout: connTimeout}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
