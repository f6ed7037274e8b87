// Package graph implements the dependency graph the executor drains.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

// Graph is a DAG over tasks. Workers block in Next until a task is ready;
// Complete propagates readiness (or skips) to dependents and wakes them.
type Graph struct {
	mu   sync.Mutex
	cond *sync.Cond

	byID       map[string]*tasks.Task
	dependents map[string][]string
	order      []string

	running int
	closed  bool
}

// New creates an empty graph.
func New() *Graph {
	g := &Graph{
		byID:       make(map[string]*tasks.Task),
		dependents: make(map[string][]string),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Add registers a task and its declared dependencies.
func (g *Graph) Add(t *tasks.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.byID[t.ID]; ok {
		return fmt.Errorf("task %q already added", t.ID)
	}
	g.byID[t.ID] = t
	g.order = append(g.order, t.ID)
	for _, dep := range t.DependsOn {
		g.dependents[dep] = append(g.dependents[dep], t.ID)
	}
	g.cond.Broadcast()
	return nil
}

// AddEdge records that taskID depends on dependsOnID. Both tasks must be
// registered and taskID must still be pending.
func (g *Graph) AddEdge(taskID, dependsOnID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.byID[taskID]
	if !ok {
		return fmt.Errorf("unknown task %q", taskID)
	}
	if _, ok := g.byID[dependsOnID]; !ok {
		return fmt.Errorf("unknown dependency %q", dependsOnID)
	}
	if t.Status != tasks.StatusPending {
		return fmt.Errorf("task %q is %s, cannot add edge", taskID, t.Status)
	}
	t.DependsOn = append(t.DependsOn, dependsOnID)
	g.dependents[dependsOnID] = append(g.dependents[dependsOnID], taskID)
	return nil
}

// satisfied reports whether every dependency of t allows it to run.
// Callers hold the mutex.
func (g *Graph) satisfied(t *tasks.Task) bool {
	for _, dep := range t.DependsOn {
		parent, ok := g.byID[dep]
		if !ok {
			return false
		}
		switch parent.Status {
		case tasks.StatusSucceeded, tasks.StatusSkipped:
		case tasks.StatusFailed:
			// a failed soft dependency does not block
			if !t.SoftDeps[dep] {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Ready returns the pending tasks whose dependencies are satisfied, ordered
// by (priority descending, creation order ascending).
func (g *Graph) Ready() []*tasks.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readyLocked()
}

func (g *Graph) readyLocked() []*tasks.Task {
	var ready []*tasks.Task
	for _, id := range g.order {
		t := g.byID[id]
		if t.Status == tasks.StatusPending && g.satisfied(t) {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].Created < ready[j].Created
	})
	return ready
}

// Next blocks until a task is ready, marks it running, and returns it.
// It returns (nil, false) when no task can ever become ready again.
func (g *Graph) Next() (*tasks.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if g.closed {
			return nil, false
		}
		if ready := g.readyLocked(); len(ready) > 0 {
			t := ready[0]
			t.Status = tasks.StatusRunning
			g.running++
			return t, true
		}
		if g.running == 0 && !g.anyPendingLocked() {
			return nil, false
		}
		if g.running == 0 {
			// pending tasks remain but none can be satisfied; they are
			// unreachable (their parents failed), so skip them
			g.skipUnreachableLocked()
			continue
		}
		g.cond.Wait()
	}
}

func (g *Graph) anyPendingLocked() bool {
	for _, t := range g.byID {
		if t.Status == tasks.StatusPending {
			return true
		}
	}
	return false
}

func (g *Graph) skipUnreachableLocked() {
	for _, t := range g.byID {
		if t.Status == tasks.StatusPending && !g.satisfied(t) {
			t.Status = tasks.StatusSkipped
			t.Reason = tasks.ReasonParentFailed
		}
	}
	g.cond.Broadcast()
}

// Complete marks a running task with its outcome. A failed task skips its
// hard dependents (transitively) with reason parent-failed; soft dependents
// stay runnable.
func (g *Graph) Complete(taskID string, outcome tasks.Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.byID[taskID]
	if !ok {
		return fmt.Errorf("unknown task %q", taskID)
	}
	if t.Status != tasks.StatusRunning {
		return fmt.Errorf("task %q is %s, not running", taskID, t.Status)
	}
	g.running--
	switch outcome {
	case tasks.OutcomeSucceeded:
		t.Status = tasks.StatusSucceeded
	case tasks.OutcomeSkipped:
		t.Status = tasks.StatusSkipped
	case tasks.OutcomeCancelled:
		t.Status = tasks.StatusSkipped
		t.Reason = tasks.ReasonCancelled
	default:
		t.Status = tasks.StatusFailed
		t.Reason = string(outcome)
		g.skipHardDependentsLocked(t.ID)
	}
	g.cond.Broadcast()
	return nil
}

func (g *Graph) skipHardDependentsLocked(id string) {
	for _, depID := range g.dependents[id] {
		child := g.byID[depID]
		if child.Status != tasks.StatusPending {
			continue
		}
		if child.SoftDeps[id] {
			continue
		}
		child.Status = tasks.StatusSkipped
		child.Reason = tasks.ReasonParentFailed
		g.skipHardDependentsLocked(child.ID)
	}
}

// CancelPending transitions every pending task to skipped with the
// cancelled reason and unblocks waiting workers.
func (g *Graph) CancelPending() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.byID {
		if t.Status == tasks.StatusPending {
			t.Status = tasks.StatusSkipped
			t.Reason = tasks.ReasonCancelled
		}
	}
	g.closed = g.running == 0
	g.cond.Broadcast()
}

// Tasks returns every registered task in creation order.
func (g *Graph) Tasks() []*tasks.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*tasks.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.byID[id])
	}
	return out
}
