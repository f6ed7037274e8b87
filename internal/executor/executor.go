// Package executor drains the dependency graph through a bounded worker
// pool, performing the AWS work and recording every mutation in the
// session ledger.
package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/discover"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/graph"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/planner"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

// Pool size bounds.
const (
	MinWorkers     = 1
	MaxWorkers     = 20
	DefaultWorkers = 5
)

// Per-call and per-task deadlines.
const (
	defaultCallTimeout  = 120 * time.Second
	kubectlCallTimeout  = 300 * time.Second
	defaultTaskDeadline = 10 * time.Minute
	nukeTaskDeadline    = 30 * time.Minute
)

// retryBase is the first back-off of the generic retry loop;
// dependency-violation handling uses the longer sgRetryBackoff.
const (
	retryBase      = 2 * time.Second
	sgRetryBackoff = 30 * time.Second
)

// Summary counts task outcomes for one session.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int
	TimedOut  int
}

// Worst maps the summary to the process exit code contract: 0 success,
// 1 partial failure, 2 all-fail, 3 cancelled.
func (s Summary) Worst() int {
	switch {
	case s.Cancelled > 0:
		return 3
	case s.Failed+s.TimedOut > 0 && s.Succeeded == 0:
		return 2
	case s.Failed+s.TimedOut > 0:
		return 1
	default:
		return 0
	}
}

// Executor runs one session's task graph.
type Executor struct {
	lg         *zap.Logger
	factory    *awsapi.Factory
	keypairs   *awsapi.KeyPairCache
	discoverer *discover.Discoverer
	plan       *planner.Planner
	led        *ledger.Ledger
	amis       *AMIResolver
	kubeFor    KubeClientFactory

	intent  planner.Intent
	workers int

	// NukeCommand, when set, is the external destructive tool invoked by
	// external-nuke tasks.
	NukeCommand   string
	NukeForceSend bool
}

// Config wires an Executor.
type Config struct {
	Logger     *zap.Logger
	Factory    *awsapi.Factory
	KeyPairs   *awsapi.KeyPairCache
	Discoverer *discover.Discoverer
	Planner    *planner.Planner
	Ledger     *ledger.Ledger
	AMIs       *AMIResolver
	KubeFor    KubeClientFactory
	Intent     planner.Intent
	Workers    int
}

func New(cfg Config) *Executor {
	workers := cfg.Workers
	if workers < MinWorkers {
		workers = DefaultWorkers
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	kubeFor := cfg.KubeFor
	if kubeFor == nil {
		kubeFor = DefaultKubeClientFactory(cfg.Logger)
	}
	amis := cfg.AMIs
	if amis == nil {
		amis, _ = LoadAMIMapping(cfg.Logger, "")
	}
	return &Executor{
		lg:         cfg.Logger,
		factory:    cfg.Factory,
		keypairs:   cfg.KeyPairs,
		discoverer: cfg.Discoverer,
		plan:       cfg.Planner,
		led:        cfg.Ledger,
		amis:       amis,
		kubeFor:    kubeFor,
		intent:     cfg.Intent,
		workers:    workers,
	}
}

// Run drains the graph. Cancellation of ctx skips all pending tasks;
// running tasks observe it at their next suspension point.
func (e *Executor) Run(ctx context.Context, g *graph.Graph) Summary {
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.lg.Warn("cancellation requested, skipping pending tasks")
			g.CancelPending()
		case <-stopWatch:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				t, ok := g.Next()
				if !ok {
					return
				}
				outcome := e.execute(ctx, g, t)
				if err := g.Complete(t.ID, outcome); err != nil {
					e.lg.Error("failed to complete task",
						zap.String("task", t.ID),
						zap.Error(err),
					)
				}
			}
		}(i)
	}
	wg.Wait()
	close(stopWatch)

	return summarize(g)
}

func summarize(g *graph.Graph) Summary {
	var s Summary
	for _, t := range g.Tasks() {
		switch t.Status {
		case tasks.StatusSucceeded:
			s.Succeeded++
		case tasks.StatusFailed:
			if t.Reason == string(tasks.OutcomeTimedOut) {
				s.TimedOut++
			} else {
				s.Failed++
			}
		case tasks.StatusSkipped:
			if t.Reason == tasks.ReasonCancelled {
				s.Cancelled++
			} else {
				s.Skipped++
			}
		}
	}
	return s
}

func taskDeadline(t *tasks.Task) time.Duration {
	if t.Deadline > 0 {
		return t.Deadline
	}
	if t.Kind == tasks.KindExternalNuke {
		return nukeTaskDeadline
	}
	return defaultTaskDeadline
}

// execute runs one task to a terminal outcome, recording failures in the
// ledger.
func (e *Executor) execute(ctx context.Context, g *graph.Graph, t *tasks.Task) tasks.Outcome {
	if ctx.Err() != nil {
		return tasks.OutcomeCancelled
	}
	lg := e.lg.With(
		zap.String("task", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("account", t.Credential.AccountName),
		zap.String("region", t.Region),
	)
	lg.Info("task started")

	taskCtx, cancel := context.WithTimeout(ctx, taskDeadline(t))
	defer cancel()

	t.Attempts++
	err := e.runTask(taskCtx, g, t)
	switch {
	case err == nil:
		lg.Info("task succeeded")
		return tasks.OutcomeSucceeded
	case ctx.Err() == context.Canceled:
		lg.Warn("task cancelled")
		return tasks.OutcomeCancelled
	case taskCtx.Err() == context.DeadlineExceeded:
		lg.Error("task deadline exceeded", zap.Error(err))
		e.recordFailure(t, ErrKindTimeout)
		return tasks.OutcomeTimedOut
	default:
		lg.Error("task failed", zap.Error(err))
		e.recordFailure(t, ErrorKind(err))
		return tasks.OutcomeFailed
	}
}

func (e *Executor) recordFailure(t *tasks.Task, kind string) {
	if e.led == nil {
		return
	}
	if err := e.led.Failed(e.taskRef(t), kind); err != nil {
		e.lg.Error("failed to ledger task failure", zap.Error(err))
	}
}

// taskRef builds the ledger ref for the task's target resource.
func (e *Executor) taskRef(t *tasks.Task) ledger.ResourceRef {
	return ledger.ResourceRef{
		ResourceID:   t.Payload["resource-id"],
		ResourceType: t.Payload["resource-type"],
		AccountName:  t.Credential.AccountName,
		AccountID:    t.Credential.AccountID,
		Region:       t.Region,
		SessionID:    e.sessionID(),
	}
}

func (e *Executor) sessionID() string {
	if e.led == nil {
		return ""
	}
	return e.led.Header().SessionID
}

// dryRunID generates a simulated resource id.
func dryRunID(resourceType string) string {
	return "dry-run-" + resourceType + "-" + strings.Split(uuid.NewString(), "-")[0]
}

// call runs one AWS API call under the per-call deadline.
func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
