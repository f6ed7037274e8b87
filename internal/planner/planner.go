// Package planner expands user intent into a dependency-ordered task list.
// Provisioning expands per identity; cleanup expands per discovered resource
// after the discovery tasks complete.
package planner

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/discover"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/graph"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

// DefaultMaxResources bounds the expected resource count of one session.
const DefaultMaxResources = 50

// Intent is the user's request for one session.
type Intent struct {
	CreateEC2 bool
	CreateASG bool

	// CleanupServices lists services whose resources should be discovered
	// and deleted.
	CleanupServices []string

	// InstanceType and AMI are resolved once by the orchestrator and
	// replicated to every create task.
	InstanceType string
	AMI          string
	KeyName      string

	MaxResources    int
	AllowProduction bool
	NonInteractive  bool
	DryRun          bool
}

// Confirmer asks the operator a yes/no question. All planner prompts go
// through the one policy object so confirmation depth is uniform.
type Confirmer func(prompt string) bool

// ErrTooManyResources aborts a session whose expansion exceeds the bound.
type ErrTooManyResources struct {
	Expected int
	Limit    int
}

func (e *ErrTooManyResources) Error() string {
	return fmt.Sprintf("expected resource count %d exceeds session limit %d", e.Expected, e.Limit)
}

// ErrProductionRefused marks a production-looking account the operator did
// not approve.
type ErrProductionRefused struct {
	AccountName string
}

func (e *ErrProductionRefused) Error() string {
	return fmt.Sprintf("account %q looks like production and was not approved", e.AccountName)
}

// ErrEmptyPlan means no handles survived filtering or no work was requested.
var ErrEmptyPlan = errors.New("nothing to plan: no valid handles or no work requested")

// Planner builds the task graph for a session.
type Planner struct {
	lg      *zap.Logger
	confirm Confirmer

	// mu guards planned; discovery tasks expand concurrently from the
	// worker pool.
	mu      sync.Mutex
	planned int
}

func New(lg *zap.Logger, confirm Confirmer) *Planner {
	if confirm == nil {
		confirm = func(string) bool { return false }
	}
	return &Planner{lg: lg, confirm: confirm}
}

// Plan expands the intent into create tasks and per-(handle, region,
// service) discovery tasks. Delete tasks are added later by
// ExpandDiscovery once each discovery completes.
func (p *Planner) Plan(handles []credentials.Handle, intent Intent) (*graph.Graph, error) {
	if len(handles) == 0 {
		return nil, ErrEmptyPlan
	}
	if !intent.CreateEC2 && !intent.CreateASG && len(intent.CleanupServices) == 0 {
		return nil, ErrEmptyPlan
	}
	if err := p.checkProduction(handles, intent); err != nil {
		return nil, err
	}

	limit := intent.MaxResources
	if limit <= 0 {
		limit = DefaultMaxResources
	}
	expected := p.expectedCreateCount(handles, intent)
	if expected > limit {
		return nil, &ErrTooManyResources{Expected: expected, Limit: limit}
	}
	p.mu.Lock()
	p.planned = expected
	p.mu.Unlock()

	g := graph.New()
	for _, h := range handles {
		for _, region := range h.Regions {
			if intent.CreateEC2 {
				t := tasks.New(tasks.KindCreateEC2, h, region, map[string]string{
					"instance-type": intent.InstanceType,
					"ami":           intent.AMI,
					"key-name":      intent.KeyName,
				})
				if err := g.Add(t); err != nil {
					return nil, err
				}
			}
			if intent.CreateASG {
				t := tasks.New(tasks.KindCreateASG, h, region, map[string]string{
					"instance-type": intent.InstanceType,
					"ami":           intent.AMI,
					"key-name":      intent.KeyName,
				})
				if err := g.Add(t); err != nil {
					return nil, err
				}
			}
			for _, service := range intent.CleanupServices {
				if service == discover.ServiceIAM && region != h.Regions[0] {
					// IAM is global; discover it once per account
					continue
				}
				t := tasks.New(tasks.KindDiscover, h, region, map[string]string{"service": service})
				if err := g.Add(t); err != nil {
					return nil, err
				}
			}
		}
	}

	p.lg.Info("planned session",
		zap.Int("handles", len(handles)),
		zap.Int("tasks", len(g.Tasks())),
		zap.Strings("cleanup-services", intent.CleanupServices),
		zap.Bool("dry-run", intent.DryRun),
	)
	return g, nil
}

// reserve admits n more resources into the session, or rejects the whole
// batch when it would push the running total past the limit. The check and
// the add are one critical section so concurrent expansions cannot race
// past the bound.
func (p *Planner) reserve(n, limit int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.planned+n > limit {
		return &ErrTooManyResources{Expected: p.planned + n, Limit: limit}
	}
	p.planned += n
	return nil
}

func (p *Planner) expectedCreateCount(handles []credentials.Handle, intent Intent) int {
	n := 0
	for _, h := range handles {
		per := 0
		if intent.CreateEC2 {
			per++
		}
		if intent.CreateASG {
			per++
		}
		n += per * len(h.Regions)
	}
	return n
}

func (p *Planner) checkProduction(handles []credentials.Handle, intent Intent) error {
	for _, h := range handles {
		if !h.LooksProduction() {
			continue
		}
		if intent.AllowProduction {
			p.lg.Warn("production-looking account allowed by flag",
				zap.String("account", h.AccountName),
			)
			continue
		}
		if intent.NonInteractive {
			return &ErrProductionRefused{AccountName: h.AccountName}
		}
		prompt := fmt.Sprintf("account %q looks like production; proceed? (y/N): ", h.AccountName)
		if !p.confirm(prompt) {
			return &ErrProductionRefused{AccountName: h.AccountName}
		}
	}
	return nil
}

// ExpandDiscovery turns the results of one completed discovery task into
// delete tasks wired with their dependency edges, registered on the graph.
// The running resource total is checked against the session limit.
func (p *Planner) ExpandDiscovery(g *graph.Graph, discovered *tasks.Task, refs []ledger.ResourceRef, intent Intent) ([]*tasks.Task, error) {
	limit := intent.MaxResources
	if limit <= 0 {
		limit = DefaultMaxResources
	}
	if err := p.reserve(len(refs), limit); err != nil {
		return nil, err
	}

	h := discovered.Credential
	region := discovered.Region
	service := discovered.Payload["service"]

	var added []*tasks.Task
	var err error
	switch service {
	case discover.ServiceEC2:
		added, err = p.expandEC2(g, h, region, refs)
	case discover.ServiceS3:
		added, err = p.expandS3(g, h, region, refs)
	case discover.ServiceEKS:
		added, err = p.expandEKS(g, h, region, refs)
	case discover.ServiceIAM:
		added, err = p.expandIAM(g, h, region, refs)
	case discover.ServiceEventBridge:
		added, err = p.expandEventBridge(g, h, region, refs)
	case discover.ServiceRedshift:
		added, err = p.expandRedshift(g, h, region, refs)
	case discover.ServiceStepFunctions:
		added, err = p.expandFlat(g, h, region, refs, tasks.KindDeleteStateMachine)
	case discover.ServiceSageMaker:
		added, err = p.expandSageMaker(g, h, region, refs)
	case discover.ServiceMQ:
		added, err = p.expandFlat(g, h, region, refs, tasks.KindDeleteBroker)
	case discover.ServiceFSx:
		added, err = p.expandFlat(g, h, region, refs, tasks.KindDeleteFileSystem)
	case discover.ServiceStorageGateway:
		added, err = p.expandFlat(g, h, region, refs, tasks.KindDeleteGateway)
	default:
		return nil, errors.Errorf("unknown service %q in discovery task %s", service, discovered.ID)
	}
	if err != nil {
		return nil, err
	}
	p.lg.Info("expanded discovery",
		zap.String("service", service),
		zap.String("account", h.AccountName),
		zap.String("region", region),
		zap.Int("resources", len(refs)),
		zap.Int("tasks", len(added)),
	)
	return added, nil
}

func payloadFor(ref ledger.ResourceRef) map[string]string {
	payload := map[string]string{"resource-id": ref.ResourceID, "resource-type": ref.ResourceType}
	for k, v := range ref.Metadata {
		payload[k] = v
	}
	return payload
}

// expandEC2 wires instance terminations before security group deletes,
// rule clearing before each group delete, auto scaling group deletes before
// launch template deletes, and key pair deletes last. Edges into the
// default security group's delete are soft: that group survives deletion
// attempts and its failure must not cascade.
func (p *Planner) expandEC2(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef) ([]*tasks.Task, error) {
	var added []*tasks.Task
	add := func(t *tasks.Task) error {
		if err := g.Add(t); err != nil {
			return err
		}
		added = append(added, t)
		return nil
	}

	byType := lo.GroupBy(refs, func(r ledger.ResourceRef) string { return r.ResourceType })

	instanceTasks := map[string]*tasks.Task{}
	for _, ref := range byType[ledger.TypeInstance] {
		t := tasks.New(tasks.KindDeleteInstance, h, region, payloadFor(ref))
		if err := add(t); err != nil {
			return nil, err
		}
		instanceTasks[ref.ResourceID] = t
	}

	// instances attached to each group, from discovery correlation
	attachedTo := map[string][]*tasks.Task{}
	for _, ref := range byType[ledger.TypeInstance] {
		for _, sg := range strings.Split(ref.Metadata["security-groups"], ",") {
			if sg == "" {
				continue
			}
			attachedTo[sg] = append(attachedTo[sg], instanceTasks[ref.ResourceID])
		}
	}

	sgDeletes := []*tasks.Task{}
	for _, ref := range byType[ledger.TypeSecurityGroup] {
		isDefault := ref.Metadata["default"] == "true"
		clearRules := tasks.New(tasks.KindClearSecurityGroupRules, h, region, payloadFor(ref))
		if err := add(clearRules); err != nil {
			return nil, err
		}
		del := tasks.New(tasks.KindDeleteSecurityGroup, h, region, payloadFor(ref))
		del.Needs(clearRules)
		for _, inst := range attachedTo[ref.ResourceID] {
			del.Needs(inst)
		}
		if isDefault {
			// attempted for rule hygiene; AWS refuses the delete itself
			del.Payload["expected-to-survive"] = "true"
		}
		if err := add(del); err != nil {
			return nil, err
		}
		sgDeletes = append(sgDeletes, del)
	}

	asgDeletes := []*tasks.Task{}
	for _, ref := range byType[ledger.TypeAutoScalingGroup] {
		t := tasks.New(tasks.KindDeleteASG, h, region, payloadFor(ref))
		if err := add(t); err != nil {
			return nil, err
		}
		asgDeletes = append(asgDeletes, t)
	}
	for _, ref := range byType[ledger.TypeLaunchTemplate] {
		t := tasks.New(tasks.KindDeleteLaunchTemplate, h, region, payloadFor(ref))
		for _, asg := range asgDeletes {
			t.Needs(asg)
		}
		if err := add(t); err != nil {
			return nil, err
		}
	}

	for _, ref := range byType[ledger.TypeKeyPair] {
		t := tasks.New(tasks.KindDeleteKeyPair, h, region, payloadFor(ref))
		for _, inst := range instanceTasks {
			t.Needs(inst)
		}
		for _, sg := range sgDeletes {
			// the default group's delete fails by design; do not let that
			// skip the key pair
			if sg.Payload["expected-to-survive"] == "true" {
				t.NeedsSoft(sg)
			}
		}
		if err := add(t); err != nil {
			return nil, err
		}
	}
	return added, nil
}

// expandS3 wires the canonical teardown order per bucket: remove
// replication, then disable versioning, then delete all objects, then
// delete the bucket.
func (p *Planner) expandS3(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef) ([]*tasks.Task, error) {
	var added []*tasks.Task
	for _, ref := range refs {
		if ref.ResourceType != ledger.TypeS3Bucket {
			continue
		}
		replication := tasks.New(tasks.KindRemoveReplication, h, region, payloadFor(ref))
		versioning := tasks.New(tasks.KindDisableVersioning, h, region, payloadFor(ref)).Needs(replication)
		empty := tasks.New(tasks.KindEmptyBucket, h, region, payloadFor(ref)).Needs(versioning)
		del := tasks.New(tasks.KindDeleteBucket, h, region, payloadFor(ref)).Needs(empty)
		for _, t := range []*tasks.Task{replication, versioning, empty, del} {
			if err := g.Add(t); err != nil {
				return nil, err
			}
			added = append(added, t)
		}
	}
	return added, nil
}

func (p *Planner) expandEKS(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef) ([]*tasks.Task, error) {
	var added []*tasks.Task
	for _, ref := range refs {
		if ref.ResourceType != ledger.TypeEKSCluster {
			continue
		}
		t := tasks.New(tasks.KindDeleteEKSAutoscaler, h, region, payloadFor(ref))
		if err := g.Add(t); err != nil {
			return nil, err
		}
		added = append(added, t)
	}
	return added, nil
}

func (p *Planner) expandIAM(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef) ([]*tasks.Task, error) {
	var added []*tasks.Task
	for _, ref := range refs {
		var kind tasks.Kind
		switch ref.ResourceType {
		case ledger.TypeIAMUser:
			kind = tasks.KindDeleteIAMUser
		case ledger.TypeIAMGroup:
			kind = tasks.KindDeleteIAMGroup
		default:
			continue
		}
		t := tasks.New(kind, h, region, payloadFor(ref))
		if err := g.Add(t); err != nil {
			return nil, err
		}
		added = append(added, t)
	}
	return added, nil
}

// expandEventBridge wires rule-target removal before each rule delete and
// all rule deletes on a bus before the bus delete. The default bus has no
// delete task.
func (p *Planner) expandEventBridge(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef) ([]*tasks.Task, error) {
	var added []*tasks.Task
	add := func(t *tasks.Task) error {
		if err := g.Add(t); err != nil {
			return err
		}
		added = append(added, t)
		return nil
	}

	ruleDeletesByBus := map[string][]*tasks.Task{}
	for _, ref := range refs {
		if ref.ResourceType != ledger.TypeEventRule {
			continue
		}
		bus := ref.Metadata["event-bus"]
		targets := tasks.New(tasks.KindDeleteRuleTargets, h, region, payloadFor(ref))
		if err := add(targets); err != nil {
			return nil, err
		}
		rule := tasks.New(tasks.KindDeleteRule, h, region, payloadFor(ref)).Needs(targets)
		if err := add(rule); err != nil {
			return nil, err
		}
		ruleDeletesByBus[bus] = append(ruleDeletesByBus[bus], rule)
	}

	for _, ref := range refs {
		if ref.ResourceType != ledger.TypeEventBus {
			continue
		}
		t := tasks.New(tasks.KindDeleteEventBus, h, region, payloadFor(ref))
		for _, rule := range ruleDeletesByBus[ref.ResourceID] {
			t.Needs(rule)
		}
		if err := add(t); err != nil {
			return nil, err
		}
	}
	return added, nil
}

// expandRedshift deletes clusters before their subnet and parameter groups.
func (p *Planner) expandRedshift(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef) ([]*tasks.Task, error) {
	var added []*tasks.Task
	add := func(t *tasks.Task) error {
		if err := g.Add(t); err != nil {
			return err
		}
		added = append(added, t)
		return nil
	}

	clusterDeletes := []*tasks.Task{}
	for _, ref := range refs {
		if ref.ResourceType != ledger.TypeRedshiftCluster {
			continue
		}
		t := tasks.New(tasks.KindDeleteRedshiftCluster, h, region, payloadFor(ref))
		if err := add(t); err != nil {
			return nil, err
		}
		clusterDeletes = append(clusterDeletes, t)
	}
	for _, ref := range refs {
		var kind tasks.Kind
		switch ref.ResourceType {
		case ledger.TypeRedshiftSubnetGroup:
			kind = tasks.KindDeleteRedshiftSubnetGroup
		case ledger.TypeRedshiftParameterGroup:
			kind = tasks.KindDeleteRedshiftParameterGroup
		default:
			continue
		}
		t := tasks.New(kind, h, region, payloadFor(ref))
		for _, cluster := range clusterDeletes {
			t.Needs(cluster)
		}
		if err := add(t); err != nil {
			return nil, err
		}
	}
	return added, nil
}

// expandSageMaker stops each running notebook before deleting it; stopped
// notebooks delete directly.
func (p *Planner) expandSageMaker(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef) ([]*tasks.Task, error) {
	var added []*tasks.Task
	add := func(t *tasks.Task) error {
		if err := g.Add(t); err != nil {
			return err
		}
		added = append(added, t)
		return nil
	}

	for _, ref := range refs {
		switch ref.ResourceType {
		case ledger.TypeNotebookInstance:
			del := tasks.New(tasks.KindDeleteNotebook, h, region, payloadFor(ref))
			if ref.Metadata["status"] == "InService" || ref.Metadata["status"] == "Pending" {
				stop := tasks.New(tasks.KindStopNotebook, h, region, payloadFor(ref))
				if err := add(stop); err != nil {
					return nil, err
				}
				del.Needs(stop)
			}
			if err := add(del); err != nil {
				return nil, err
			}
		case ledger.TypeSageMakerEndpoint:
			t := tasks.New(tasks.KindDeleteSageMakerEndpoint, h, region, payloadFor(ref))
			if err := add(t); err != nil {
				return nil, err
			}
		}
	}
	return added, nil
}

func (p *Planner) expandFlat(g *graph.Graph, h credentials.Handle, region string, refs []ledger.ResourceRef, kind tasks.Kind) ([]*tasks.Task, error) {
	var added []*tasks.Task
	for _, ref := range refs {
		t := tasks.New(kind, h, region, payloadFor(ref))
		if err := g.Add(t); err != nil {
			return nil, err
		}
		added = append(added, t)
	}
	return added, nil
}
