package neo4jdb

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/rewatch-backend/internal/platform/envutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

// settings collects the NEO4J_* knobs in one read. Non-positive numeric
// overrides fall back to the defaults.
type settings struct {
	uri      string
	user     string
	password string
	database string
	timeout  time.Duration
	maxPool  int
}

func readSettings() settings {
	s := settings{
		uri:      envutil.String("NEO4J_URI", ""),
		user:     envutil.String("NEO4J_USER", "neo4j"),
		password: envutil.String("NEO4J_PASSWORD", ""),
		database: envutil.String("NEO4J_DATABASE", ""),
		timeout:  time.Duration(envutil.Int("NEO4J_TIMEOUT_SECONDS", 10)) * time.Second,
		maxPool:  envutil.Int("NEO4J_MAX_POOL_SIZE", 50),
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.maxPool <= 0 {
		s.maxPool = 50
	}
	return s
}

// NewFromEnv builds a client from NEO4J_* env vars. The graph is an optional
// collaborator: with no NEO4J_URI set this returns (nil, nil) and callers
// skip provenance writes.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	s := readSettings()
	if s.uri == "" {
		return nil, nil
	}

	driver, err := neo4j.NewDriverWithContext(s.uri, neo4j.BasicAuth(s.user, s.password, ""), func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = s.maxPool
		cfg.SocketConnectTimeout = s.timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	return &Client{
		Driver:   driver,
		Database: s.database,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
