package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/discover"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/executor"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/graph"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/planner"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

// rollbackKinds maps created resource types to their delete task kinds.
// The engine only provisions EC2-side resources, but the table covers
// every type the planner can create a ledger entry for.
var rollbackKinds = map[string]tasks.Kind{
	ledger.TypeInstance:         tasks.KindDeleteInstance,
	ledger.TypeLaunchTemplate:   tasks.KindDeleteLaunchTemplate,
	ledger.TypeAutoScalingGroup: tasks.KindDeleteASG,
	ledger.TypeSecurityGroup:    tasks.KindDeleteSecurityGroup,
	ledger.TypeKeyPair:          tasks.KindDeleteKeyPair,
}

// BuildRollbackGraph turns the ledger's rollback plan into a serial task
// chain. RollbackPlan already orders refs so groups go before their launch
// templates and templates before instances; chaining each task to its
// predecessor preserves that total order under the worker pool.
func BuildRollbackGraph(lg *zap.Logger, entries []ledger.Entry, handleFor func(accountName string) (credentials.Handle, bool)) (*graph.Graph, int, error) {
	refs := ledger.RollbackPlan(entries)
	g := graph.New()
	var prev *tasks.Task
	added := 0
	for _, ref := range refs {
		kind, ok := rollbackKinds[ref.ResourceType]
		if !ok {
			lg.Warn("no rollback action for resource type",
				zap.String("resource-type", ref.ResourceType),
				zap.String("resource-id", ref.ResourceID),
			)
			continue
		}
		h, ok := handleFor(ref.AccountName)
		if !ok {
			lg.Warn("no credentials for ledger account, skipping rollback of resource",
				zap.String("account", ref.AccountName),
				zap.String("resource-id", ref.ResourceID),
			)
			continue
		}
		payload := map[string]string{
			"resource-id":   ref.ResourceID,
			"resource-type": ref.ResourceType,
		}
		for k, v := range ref.Metadata {
			payload[k] = v
		}
		t := tasks.New(kind, h, ref.Region, payload)
		if err := g.Add(t); err != nil {
			return nil, 0, err
		}
		if prev != nil {
			if err := g.AddEdge(t.ID, prev.ID); err != nil {
				return nil, 0, err
			}
		}
		prev = t
		added++
	}
	return g, added, nil
}

func handleIndex(handles []credentials.Handle) func(string) (credentials.Handle, bool) {
	byAccount := map[string]credentials.Handle{}
	for _, h := range handles {
		// prefer root handles; any handle for the account otherwise
		if existing, ok := byAccount[h.AccountName]; !ok || existing.Kind != credentials.KindRoot {
			byAccount[h.AccountName] = h
		}
	}
	return func(name string) (credentials.Handle, bool) {
		h, ok := byAccount[name]
		return h, ok
	}
}

// rollback retires this session's creations in reverse order, recording
// the outcome in a companion "<session>-rollback" ledger.
func (c *Core) rollback(ctx context.Context, handles []credentials.Handle, led *ledger.Ledger) executor.Summary {
	header, entries := led.Snapshot()
	return c.runRollback(ctx, handles, header.SessionID, entries)
}

// RollbackSession replays the rollback plan of a previously persisted
// session ledger; this is the `rollback` subcommand entry point.
func (c *Core) RollbackSession(ctx context.Context, sessionID string) int {
	handles, _, code := c.resolveHandles(ctx)
	if code != ExitSuccess {
		return code
	}
	header, entries, err := ledger.Load(ledger.Path(c.opts.ledgerDir(), sessionID))
	if err != nil {
		c.lg.Error("failed to load session ledger", zap.Error(err))
		return ExitConfig
	}
	if header.DryRun {
		c.lg.Error("refusing to roll back a dry-run session", zap.String("session-id", sessionID))
		return ExitConfig
	}
	summary := c.runRollback(ctx, handles, header.SessionID, entries)
	return summary.Worst()
}

func (c *Core) runRollback(ctx context.Context, handles []credentials.Handle, sessionID string, entries []ledger.Entry) executor.Summary {
	g, n, err := BuildRollbackGraph(c.lg, entries, handleIndex(handles))
	if err != nil {
		c.lg.Error("failed to build rollback graph", zap.Error(err))
		return executor.Summary{Failed: 1}
	}
	if n == 0 {
		c.lg.Info("nothing to roll back", zap.String("session-id", sessionID))
		return executor.Summary{}
	}

	rbLed, err := ledger.New(c.lg, c.opts.ledgerDir(), ledger.Header{
		SessionID: sessionID + "-rollback",
		StartedAt: c.now().UTC(),
		User:      currentUser(),
	})
	if err != nil {
		c.lg.Error("failed to open rollback ledger", zap.Error(err))
		return executor.Summary{Failed: 1}
	}
	defer rbLed.Close()

	exec := executor.New(executor.Config{
		Logger:     c.lg,
		Factory:    c.factory,
		KeyPairs:   awsapi.NewKeyPairCache(c.lg, c.keyDir()),
		Discoverer: discover.New(c.lg),
		Planner:    planner.New(c.lg, c.confirm),
		Ledger:     rbLed,
		Intent:     planner.Intent{NonInteractive: true},
		Workers:    c.opts.Workers,
	})

	c.lg.Info("rolling back session",
		zap.String("session-id", sessionID),
		zap.Int("resources", n),
	)
	summary := exec.Run(ctx, g)
	c.flushReports(rbLed)
	return summary
}
