package planner

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/discover"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

func testHandle(account string, regions ...string) credentials.Handle {
	return credentials.Handle{
		AccountName: account,
		AccountID:   "123456789012",
		AccessKey:   "AKIATEST",
		SecretKey:   "secret",
		Kind:        credentials.KindRoot,
		Regions:     regions,
	}
}

func TestPlanPerIdentityExpansion(t *testing.T) {
	p := New(zap.NewNop(), nil)
	handles := []credentials.Handle{
		testHandle("account01", "us-east-1"),
		testHandle("account02", "us-east-1"),
		testHandle("account03", "us-east-1"),
	}

	g, err := p.Plan(handles, Intent{CreateEC2: true, CreateASG: true, InstanceType: "m5.xlarge"})
	require.NoError(t, err)

	all := g.Tasks()
	require.Len(t, all, 6)
	byKind := map[tasks.Kind]int{}
	for _, task := range all {
		byKind[task.Kind]++
		assert.Equal(t, "m5.xlarge", task.Payload["instance-type"])
	}
	assert.Equal(t, 3, byKind[tasks.KindCreateEC2])
	assert.Equal(t, 3, byKind[tasks.KindCreateASG])
}

func TestPlanEmpty(t *testing.T) {
	p := New(zap.NewNop(), nil)

	_, err := p.Plan(nil, Intent{CreateEC2: true})
	assert.ErrorIs(t, err, ErrEmptyPlan)

	_, err = p.Plan([]credentials.Handle{testHandle("a", "us-east-1")}, Intent{})
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestPlanResourceLimit(t *testing.T) {
	p := New(zap.NewNop(), nil)
	handles := []credentials.Handle{testHandle("account01", "us-east-1", "us-west-2")}

	_, err := p.Plan(handles, Intent{CreateEC2: true, CreateASG: true, MaxResources: 3})
	var tooMany *ErrTooManyResources
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 4, tooMany.Expected)
	assert.Equal(t, 3, tooMany.Limit)
}

func TestPlanProductionSafety(t *testing.T) {
	handles := []credentials.Handle{testHandle("prod-payments", "us-east-1")}
	intent := Intent{CreateEC2: true}

	t.Run("non-interactive refuses", func(t *testing.T) {
		p := New(zap.NewNop(), nil)
		i := intent
		i.NonInteractive = true
		_, err := p.Plan(handles, i)
		var refused *ErrProductionRefused
		require.ErrorAs(t, err, &refused)
		assert.Equal(t, "prod-payments", refused.AccountName)
	})

	t.Run("declined prompt refuses", func(t *testing.T) {
		p := New(zap.NewNop(), func(string) bool { return false })
		_, err := p.Plan(handles, intent)
		var refused *ErrProductionRefused
		assert.ErrorAs(t, err, &refused)
	})

	t.Run("confirmed prompt proceeds", func(t *testing.T) {
		p := New(zap.NewNop(), func(string) bool { return true })
		g, err := p.Plan(handles, intent)
		require.NoError(t, err)
		assert.Len(t, g.Tasks(), 1)
	})

	t.Run("allow-production flag proceeds", func(t *testing.T) {
		p := New(zap.NewNop(), nil)
		i := intent
		i.NonInteractive = true
		i.AllowProduction = true
		g, err := p.Plan(handles, i)
		require.NoError(t, err)
		assert.Len(t, g.Tasks(), 1)
	})
}

func TestPlanDiscoveryTasks(t *testing.T) {
	p := New(zap.NewNop(), nil)
	handles := []credentials.Handle{testHandle("account01", "us-east-1", "us-west-2")}

	g, err := p.Plan(handles, Intent{CleanupServices: []string{discover.ServiceEC2, discover.ServiceIAM}})
	require.NoError(t, err)

	byKey := map[string]int{}
	for _, task := range g.Tasks() {
		require.Equal(t, tasks.KindDiscover, task.Kind)
		byKey[task.Payload["service"]+"/"+task.Region]++
	}
	assert.Equal(t, 1, byKey["ec2/us-east-1"])
	assert.Equal(t, 1, byKey["ec2/us-west-2"])
	// IAM is global: one discovery per account, not per region
	assert.Equal(t, 1, byKey["iam/us-east-1"])
	assert.Zero(t, byKey["iam/us-west-2"])
}

func ref(resourceType, id string, meta map[string]string) ledger.ResourceRef {
	return ledger.ResourceRef{ResourceID: id, ResourceType: resourceType, Metadata: meta}
}

func findTask(t *testing.T, all []*tasks.Task, kind tasks.Kind, resourceID string) *tasks.Task {
	t.Helper()
	for _, task := range all {
		if task.Kind == kind && task.Payload["resource-id"] == resourceID {
			return task
		}
	}
	t.Fatalf("no %s task for %s", kind, resourceID)
	return nil
}

func expand(t *testing.T, service string, refs []ledger.ResourceRef) []*tasks.Task {
	t.Helper()
	p := New(zap.NewNop(), nil)
	h := testHandle("account01", "us-east-1")
	g, err := p.Plan([]credentials.Handle{h}, Intent{CleanupServices: []string{service}})
	require.NoError(t, err)
	discovery := g.Tasks()[0]

	added, err := p.ExpandDiscovery(g, discovery, refs, Intent{CleanupServices: []string{service}})
	require.NoError(t, err)
	return added
}

func TestExpandEC2Edges(t *testing.T) {
	added := expand(t, discover.ServiceEC2, []ledger.ResourceRef{
		ref(ledger.TypeInstance, "i-X", map[string]string{"security-groups": "sg-A"}),
		ref(ledger.TypeSecurityGroup, "sg-A", map[string]string{"group-name": "app"}),
		ref(ledger.TypeSecurityGroup, "sg-default", map[string]string{"group-name": "default", "default": "true"}),
		ref(ledger.TypeAutoScalingGroup, "asg-1", nil),
		ref(ledger.TypeLaunchTemplate, "lt-1", nil),
		ref(ledger.TypeKeyPair, "kp-1", nil),
	})

	inst := findTask(t, added, tasks.KindDeleteInstance, "i-X")
	clearA := findTask(t, added, tasks.KindClearSecurityGroupRules, "sg-A")
	delA := findTask(t, added, tasks.KindDeleteSecurityGroup, "sg-A")
	delDefault := findTask(t, added, tasks.KindDeleteSecurityGroup, "sg-default")
	delLT := findTask(t, added, tasks.KindDeleteLaunchTemplate, "lt-1")
	delASG := findTask(t, added, tasks.KindDeleteASG, "asg-1")
	delKP := findTask(t, added, tasks.KindDeleteKeyPair, "kp-1")

	// instance termination and rule clearing both precede the group delete
	assert.Contains(t, delA.DependsOn, inst.ID)
	assert.Contains(t, delA.DependsOn, clearA.ID)

	// ASG deletes precede launch template deletes
	assert.Contains(t, delLT.DependsOn, delASG.ID)

	// the default group's delete is a soft dependency of the key pair
	assert.Equal(t, "true", delDefault.Payload["expected-to-survive"])
	assert.Contains(t, delKP.DependsOn, delDefault.ID)
	assert.True(t, delKP.SoftDeps[delDefault.ID])
	assert.Contains(t, delKP.DependsOn, inst.ID)
	assert.False(t, delKP.SoftDeps[inst.ID])

	// rule clearing outranks plain deletes in the ready queue
	assert.Greater(t, clearA.Priority, delA.Priority)
}

func TestExpandS3CanonicalOrder(t *testing.T) {
	added := expand(t, discover.ServiceS3, []ledger.ResourceRef{
		ref(ledger.TypeS3Bucket, "bucket-1", map[string]string{"home-region": "us-east-1"}),
	})
	require.Len(t, added, 4)

	replication := findTask(t, added, tasks.KindRemoveReplication, "bucket-1")
	versioning := findTask(t, added, tasks.KindDisableVersioning, "bucket-1")
	empty := findTask(t, added, tasks.KindEmptyBucket, "bucket-1")
	del := findTask(t, added, tasks.KindDeleteBucket, "bucket-1")

	assert.Contains(t, versioning.DependsOn, replication.ID)
	assert.Contains(t, empty.DependsOn, versioning.ID)
	assert.Contains(t, del.DependsOn, empty.ID)
}

func TestExpandEventBridgeEdges(t *testing.T) {
	added := expand(t, discover.ServiceEventBridge, []ledger.ResourceRef{
		ref(ledger.TypeEventRule, "rule-1", map[string]string{"event-bus": "bus-1"}),
		ref(ledger.TypeEventRule, "rule-2", map[string]string{"event-bus": "default"}),
		ref(ledger.TypeEventBus, "bus-1", nil),
	})

	targets1 := findTask(t, added, tasks.KindDeleteRuleTargets, "rule-1")
	rule1 := findTask(t, added, tasks.KindDeleteRule, "rule-1")
	bus := findTask(t, added, tasks.KindDeleteEventBus, "bus-1")
	rule2 := findTask(t, added, tasks.KindDeleteRule, "rule-2")

	assert.Contains(t, rule1.DependsOn, targets1.ID)
	assert.Contains(t, bus.DependsOn, rule1.ID)
	assert.NotContains(t, bus.DependsOn, rule2.ID)
}

func TestExpandRedshiftEdges(t *testing.T) {
	added := expand(t, discover.ServiceRedshift, []ledger.ResourceRef{
		ref(ledger.TypeRedshiftCluster, "cluster-1", nil),
		ref(ledger.TypeRedshiftSubnetGroup, "subnet-1", nil),
		ref(ledger.TypeRedshiftParameterGroup, "params-1", nil),
	})

	cluster := findTask(t, added, tasks.KindDeleteRedshiftCluster, "cluster-1")
	subnet := findTask(t, added, tasks.KindDeleteRedshiftSubnetGroup, "subnet-1")
	params := findTask(t, added, tasks.KindDeleteRedshiftParameterGroup, "params-1")

	assert.Contains(t, subnet.DependsOn, cluster.ID)
	assert.Contains(t, params.DependsOn, cluster.ID)
}

func TestExpandSageMakerStopBeforeDelete(t *testing.T) {
	added := expand(t, discover.ServiceSageMaker, []ledger.ResourceRef{
		ref(ledger.TypeNotebookInstance, "nb-running", map[string]string{"status": "InService"}),
		ref(ledger.TypeNotebookInstance, "nb-stopped", map[string]string{"status": "Stopped"}),
		ref(ledger.TypeSageMakerEndpoint, "ep-1", nil),
	})

	stop := findTask(t, added, tasks.KindStopNotebook, "nb-running")
	delRunning := findTask(t, added, tasks.KindDeleteNotebook, "nb-running")
	delStopped := findTask(t, added, tasks.KindDeleteNotebook, "nb-stopped")
	findTask(t, added, tasks.KindDeleteSageMakerEndpoint, "ep-1")

	assert.Contains(t, delRunning.DependsOn, stop.ID)
	assert.Empty(t, delStopped.DependsOn)
}

func TestExpandResourceLimit(t *testing.T) {
	p := New(zap.NewNop(), nil)
	h := testHandle("account01", "us-east-1")
	intent := Intent{CleanupServices: []string{discover.ServiceStepFunctions}, MaxResources: 2}
	g, err := p.Plan([]credentials.Handle{h}, intent)
	require.NoError(t, err)
	discovery := g.Tasks()[0]

	refs := []ledger.ResourceRef{
		ref(ledger.TypeStateMachine, "sm-1", nil),
		ref(ledger.TypeStateMachine, "sm-2", nil),
		ref(ledger.TypeStateMachine, "sm-3", nil),
	}
	_, err = p.ExpandDiscovery(g, discovery, refs, intent)
	var tooMany *ErrTooManyResources
	assert.ErrorAs(t, err, &tooMany)
}

// Discovery tasks share no edges, so the worker pool expands them in
// parallel; the session limit must hold even then. Run with -race.
func TestExpandDiscoveryConcurrentLimit(t *testing.T) {
	regions := []string{
		"us-east-1", "us-west-2", "eu-west-1", "eu-central-1",
		"ap-south-1", "ap-northeast-1", "sa-east-1", "ca-central-1",
	}
	p := New(zap.NewNop(), nil)
	h := testHandle("account01", regions...)
	intent := Intent{CleanupServices: []string{discover.ServiceStepFunctions}, MaxResources: 10}
	g, err := p.Plan([]credentials.Handle{h}, intent)
	require.NoError(t, err)
	discoveries := g.Tasks()
	require.Len(t, discoveries, len(regions))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		expanded int
		errs     []error
	)
	for i, discovery := range discoveries {
		wg.Add(1)
		go func(i int, discovery *tasks.Task) {
			defer wg.Done()
			refs := []ledger.ResourceRef{
				ref(ledger.TypeStateMachine, fmt.Sprintf("sm-%d-a", i), nil),
				ref(ledger.TypeStateMachine, fmt.Sprintf("sm-%d-b", i), nil),
				ref(ledger.TypeStateMachine, fmt.Sprintf("sm-%d-c", i), nil),
			}
			added, err := p.ExpandDiscovery(g, discovery, refs, intent)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			expanded += len(added)
		}(i, discovery)
	}
	wg.Wait()

	// only three batches of three fit under the limit of ten; the rest
	// must be rejected whole, never partially admitted
	assert.Equal(t, 9, expanded)
	require.Len(t, errs, len(regions)-3)
	for _, err := range errs {
		var tooMany *ErrTooManyResources
		assert.ErrorAs(t, err, &tooMany)
	}
}
