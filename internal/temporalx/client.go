package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yungbote/rewatch-backend/internal/platform/envutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewClient dials Temporal using the TEMPORAL_* environment. When
// TEMPORAL_ADDRESS is unset it returns (nil, nil) and the caller runs without
// durable workflows. Dialing retries until TEMPORAL_DIAL_MAX_WAIT_SECONDS so
// the API and a fresh Temporal container can start in either order.
func NewClient(log *logger.Logger) (temporalsdkclient.Client, error) {
	cfg := LoadConfig()
	if cfg.Address == "" {
		if log != nil {
			log.Warn("TEMPORAL_ADDRESS not set; Temporal disabled")
		}
		return nil, nil
	}

	opts := temporalsdkclient.Options{HostPort: cfg.Address, Namespace: cfg.Namespace, Logger: log}
	tlsCfg, err := tlsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts.ConnectionOptions.TLS = tlsCfg

	dialTimeout := envSeconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5)
	maxWait := envSeconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60)
	retry := backoffSchedule{
		initial: envMillis("TEMPORAL_DIAL_BACKOFF_MS", 250),
		cap:     envMillis("TEMPORAL_DIAL_BACKOFF_MAX_MS", 5000),
	}

	giveUp := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		c, err := temporalsdkclient.DialContext(dialCtx, opts)
		cancel()
		if err == nil {
			if log != nil && attempt > 1 {
				log.Info("Connected to Temporal", "address", cfg.Address, "namespace", cfg.Namespace, "attempts", attempt)
			}
			if envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
				if nsErr := EnsureNamespace(context.Background(), c, cfg.Namespace, log); nsErr != nil {
					c.Close()
					return nil, nsErr
				}
			}
			return c, nil
		}

		if maxWait <= 0 || time.Now().After(giveUp) {
			return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
		}
		if log != nil {
			log.Warn("Temporal not reachable; retrying", "address", cfg.Address, "namespace", cfg.Namespace, "attempt", attempt, "error", err)
		}
		if d := retry.wait(attempt); d > 0 {
			time.Sleep(d)
		}
	}
}

// EnsureNamespace checks that the namespace exists and registers it when
// missing. Meant for local and self-hosted Temporal; Temporal Cloud
// namespaces are provisioned out of band.
func EnsureNamespace(ctx context.Context, c temporalsdkclient.Client, namespace string, log *logger.Logger) error {
	namespace = strings.TrimSpace(namespace)
	if c == nil || namespace == "" {
		return nil
	}

	cfg := LoadConfig()
	if cfg.Address == "" {
		return nil
	}

	maxWait := envSeconds("TEMPORAL_NAMESPACE_ENSURE_TIMEOUT_SECONDS", 10)
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	// The NamespaceClient sends no namespace header, so it can talk to a
	// server where the target namespace does not exist yet.
	nsOpts := temporalsdkclient.Options{HostPort: cfg.Address, Logger: log}
	tlsCfg, err := tlsFromConfig(cfg)
	if err != nil {
		return err
	}
	nsOpts.ConnectionOptions.TLS = tlsCfg

	nsClient, err := temporalsdkclient.NewNamespaceClient(nsOpts)
	if err != nil {
		return fmt.Errorf("temporal namespace ensure: init namespace client: %w", err)
	}
	defer nsClient.Close()

	retry := backoffSchedule{
		initial: envMillis("TEMPORAL_NAMESPACE_ENSURE_BACKOFF_MS", 250),
		cap:     envMillis("TEMPORAL_NAMESPACE_ENSURE_BACKOFF_MAX_MS", 5000),
	}
	giveUp := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("temporal namespace ensure: timed out (namespace=%s): %w", namespace, ctx.Err())
		}

		_, describeErr := nsClient.Describe(ctx, namespace)
		if describeErr == nil {
			return nil
		}

		var notFound *serviceerror.NamespaceNotFound
		if errors.As(describeErr, &notFound) {
			regErr := registerNamespace(ctx, nsClient, namespace, log)
			if regErr == nil {
				return nil
			}
			if retryableRPC(regErr) && time.Now().Before(giveUp) {
				if log != nil {
					log.Warn("Temporal namespace register retrying", "namespace", namespace, "attempt", attempt, "error", regErr)
				}
				time.Sleep(retry.wait(attempt))
				continue
			}
			return fmt.Errorf("temporal namespace ensure: register namespace: %w", regErr)
		}

		if retryableRPC(describeErr) && time.Now().Before(giveUp) {
			if log != nil {
				log.Warn("Temporal namespace describe retrying", "namespace", namespace, "attempt", attempt, "error", describeErr)
			}
			time.Sleep(retry.wait(attempt))
			continue
		}

		return fmt.Errorf("temporal namespace ensure: describe namespace: %w", describeErr)
	}
}

func registerNamespace(ctx context.Context, nsClient temporalsdkclient.NamespaceClient, namespace string, log *logger.Logger) error {
	retention := envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7)
	if retention < 1 {
		retention = 7
	}
	if retention > 365 {
		retention = 365
	}

	err := nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        namespace,
		Description:                      "rewatch auto-registered namespace",
		WorkflowExecutionRetentionPeriod: durationpb.New(time.Duration(retention) * 24 * time.Hour),
	})
	if err == nil {
		if log != nil {
			log.Info("Registered Temporal namespace", "namespace", namespace, "retention_days", retention)
		}
		return nil
	}

	var exists *serviceerror.NamespaceAlreadyExists
	if errors.As(err, &exists) {
		return nil
	}
	return err
}

// tlsFromConfig returns nil when no TLS paths are configured. Enabling mTLS
// requires both the client cert and key; the CA bundle is optional.
func tlsFromConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" && cfg.ClientKeyPath == "" && cfg.ClientCAPath == "" {
		return nil, nil
	}
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporal tls: both TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH are required when enabling mTLS")
	}
	pair, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: load client cert/key: %w", err)
	}
	out := &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}
	if cfg.ClientCAPath != "" {
		caPEM, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("temporal tls: read CA: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("temporal tls: invalid CA pem")
		}
		out.RootCAs = caPool
	}
	return out, nil
}

// backoffSchedule doubles the initial delay per attempt up to a hard cap.
type backoffSchedule struct {
	initial time.Duration
	cap     time.Duration
}

func (b backoffSchedule) wait(attempt int) time.Duration {
	d := b.initial
	if d <= 0 {
		d = 250 * time.Millisecond
	}
	for i := 1; i < attempt && (b.cap <= 0 || d < b.cap); i++ {
		d *= 2
	}
	if b.cap > 0 && d > b.cap {
		return b.cap
	}
	return d
}

func envSeconds(name string, def int) time.Duration {
	return time.Duration(max(0, envutil.Int(name, def))) * time.Second
}

func envMillis(name string, def int) time.Duration {
	return time.Duration(max(0, envutil.Int(name, def))) * time.Millisecond
}

func retryableRPC(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		// Non-gRPC errors: a context timeout during startup is worth another try.
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}
