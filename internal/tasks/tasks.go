// Package tasks defines the unit-of-work model shared by the planner,
// dependency graph, and executor.
package tasks

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
)

// Kind identifies what a task does.
type Kind string

const (
	KindCreateEC2 Kind = "create-ec2"
	KindCreateASG Kind = "create-asg"

	// KindDiscover enumerates resources for one (account, region, service);
	// its completion expands into per-resource delete tasks.
	KindDiscover Kind = "discover"

	KindClearSecurityGroupRules Kind = "clear-sg-rules"
	KindDeleteInstance          Kind = "delete-instance"
	KindDeleteSecurityGroup     Kind = "delete-security-group"
	KindDeleteKeyPair           Kind = "delete-key-pair"
	KindDeleteLaunchTemplate    Kind = "delete-launch-template"
	KindDeleteASG               Kind = "delete-asg"

	KindEmptyBucket       Kind = "empty-bucket"
	KindDeleteBucket      Kind = "delete-bucket"
	KindRemoveReplication Kind = "remove-replication"
	KindDisableVersioning Kind = "disable-versioning"

	KindDeleteEKSAutoscaler Kind = "delete-eks-autoscaler"
	KindConfigureEKSAuth    Kind = "configure-eks-auth"

	KindDeleteRuleTargets Kind = "delete-rule-targets"
	KindDeleteRule        Kind = "delete-rule"
	KindDeleteEventBus    Kind = "delete-event-bus"

	KindDeleteRedshiftCluster        Kind = "delete-redshift-cluster"
	KindDeleteRedshiftSubnetGroup    Kind = "delete-redshift-subnet-group"
	KindDeleteRedshiftParameterGroup Kind = "delete-redshift-parameter-group"

	KindDeleteStateMachine Kind = "delete-state-machine"

	KindStopNotebook            Kind = "stop-notebook"
	KindDeleteNotebook          Kind = "delete-notebook"
	KindDeleteSageMakerEndpoint Kind = "delete-sagemaker-endpoint"

	KindDeleteIAMUser  Kind = "delete-iam-user"
	KindDeleteIAMGroup Kind = "delete-iam-group"

	KindDeleteBroker     Kind = "delete-broker"
	KindDeleteFileSystem Kind = "delete-filesystem"
	KindDeleteGateway    Kind = "delete-gateway"

	// KindExternalNuke runs an external destructive tool through the
	// prompted-tool driver.
	KindExternalNuke Kind = "external-nuke"
)

// IsCreate reports whether the kind provisions a resource.
func (k Kind) IsCreate() bool {
	return k == KindCreateEC2 || k == KindCreateASG
}

// Status is the scheduling state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Outcome is the result of a finished task.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimedOut  Outcome = "timed-out"
)

// Skip reasons recorded on skipped tasks.
const (
	ReasonParentFailed = "parent-failed"
	ReasonCancelled    = "cancelled"
)

// Priority buckets for ready-queue tie-breaking. Higher runs first.
const (
	PriorityCreate = 1
	PriorityDelete = 2
	// PrioritySharedClear is for deletions that unblock shared
	// dependencies, e.g. clearing security group rules.
	PrioritySharedClear = 3
)

// Task is the atomic scheduling unit: one action against one
// (credential, region) pair.
type Task struct {
	ID         string
	Kind       Kind
	Credential credentials.Handle
	Region     string

	// Payload carries kind-specific parameters (resource ids, names,
	// instance type selections).
	Payload map[string]string

	// DependsOn lists task ids that must be succeeded or skipped before
	// this task may run. Ids present in SoftDeps do not propagate failure.
	DependsOn []string
	SoftDeps  map[string]bool

	Priority int
	Created  int

	Attempts int
	Status   Status
	Reason   string

	// Deadline bounds the whole task; zero means the executor default.
	Deadline time.Duration
}

var taskSeq atomic.Int64

// New creates a pending task with a generated id and creation order.
func New(kind Kind, h credentials.Handle, region string, payload map[string]string) *Task {
	seq := taskSeq.Add(1)
	if payload == nil {
		payload = map[string]string{}
	}
	return &Task{
		ID:         fmt.Sprintf("task-%06d-%s", seq, kind),
		Kind:       kind,
		Credential: h,
		Region:     region,
		Payload:    payload,
		SoftDeps:   map[string]bool{},
		Priority:   priorityFor(kind),
		Created:    int(seq),
		Status:     StatusPending,
	}
}

func priorityFor(k Kind) int {
	switch {
	case k == KindClearSecurityGroupRules || k == KindDeleteRuleTargets ||
		k == KindRemoveReplication || k == KindStopNotebook:
		return PrioritySharedClear
	case k.IsCreate() || k == KindDiscover || k == KindConfigureEKSAuth:
		return PriorityCreate
	default:
		return PriorityDelete
	}
}

// Needs records a hard dependency on the given task.
func (t *Task) Needs(parent *Task) *Task {
	t.DependsOn = append(t.DependsOn, parent.ID)
	return t
}

// NeedsSoft records a soft dependency: the parent's failure does not skip
// this task.
func (t *Task) NeedsSoft(parent *Task) *Task {
	t.DependsOn = append(t.DependsOn, parent.ID)
	t.SoftDeps[parent.ID] = true
	return t
}
