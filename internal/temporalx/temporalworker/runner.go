package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/data/repos"
	jobrt "github.com/yungbote/rewatch-backend/internal/jobs/runtime"
	"github.com/yungbote/rewatch-backend/internal/platform/envutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/services"
	"github.com/yungbote/rewatch-backend/internal/temporalx"
	"github.com/yungbote/rewatch-backend/internal/temporalx/jobrun"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Runner owns the Temporal worker for the job task queue: it registers the
// job workflow and tick activity, then polls until its context ends.
type Runner struct {
	log *logger.Logger

	client   temporalsdkclient.Client
	db       *gorm.DB
	jobs     repos.JobRunRepo
	registry *jobrt.Registry
	notify   services.JobNotifier
}

func NewRunner(
	baseLog *logger.Logger,
	client temporalsdkclient.Client,
	db *gorm.DB,
	jobs repos.JobRunRepo,
	registry *jobrt.Registry,
	notify services.JobNotifier,
) (*Runner, error) {
	if client == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if db == nil || jobs == nil || registry == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{log: baseLog, client: client, db: db, jobs: jobs, registry: registry, notify: notify}, nil
}

// Start brings the worker up, retrying with backoff so the worker pod and a
// fresh Temporal server can boot in either order. A missing namespace is
// retried only while auto-registration is on; otherwise it is reported as
// the misconfiguration it is.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	if autoRegister() {
		// Local/self-hosted convenience. Temporal Cloud namespaces should be
		// pre-created with TEMPORAL_AUTO_REGISTER_NAMESPACE off.
		if err := temporalx.EnsureNamespace(orBackground(ctx), r.client, cfg.Namespace, r.log); err != nil && r.log != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := time.Duration(envutil.Int("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)) * time.Second
	initial := time.Duration(envutil.Int("TEMPORAL_WORKER_START_BACKOFF_MS", 250)) * time.Millisecond
	limit := time.Duration(envutil.Int("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)) * time.Millisecond
	giveUp := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		startErr := r.launch(ctx, r.newWorker(cfg))
		if startErr == nil {
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}

		var nfe *serviceerror.NamespaceNotFound
		missingNS := errors.As(startErr, &nfe)
		if missingNS && autoRegister() {
			_ = temporalx.EnsureNamespace(orBackground(ctx), r.client, cfg.Namespace, r.log)
		}

		if maxWait <= 0 || time.Now().After(giveUp) {
			if missingNS {
				// Without auto-register this will never heal on its own.
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		}
		if d := retryDelay(initial, limit, attempt); d > 0 {
			time.Sleep(d)
		}
	}
}

// launch starts polling and ties the worker's lifetime to ctx. On a failed
// Start the worker is stopped first so a retry begins clean.
func (r *Runner) launch(ctx context.Context, w worker.Worker) error {
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			w.Stop()
		}()
	}
	return nil
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := max(1, envutil.Int("WORKER_CONCURRENCY", 4))

	// Workflow and activity concurrency are separately tunable in Temporal;
	// one knob covers both here.
	w := worker.New(r.client, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &jobrun.Activities{Log: r.log, DB: r.db, Jobs: r.jobs, Registry: r.registry, Notify: r.notify}
	w.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: jobrun.ActivityTick})
	return w
}

func autoRegister() bool {
	return envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false)
}

func orBackground(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func retryDelay(initial, limit time.Duration, attempt int) time.Duration {
	d := initial
	if d <= 0 {
		d = 250 * time.Millisecond
	}
	for i := 1; i < attempt && (limit <= 0 || d < limit); i++ {
		d *= 2
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
