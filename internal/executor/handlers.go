package executor

import (
	"context"
	"strconv"
	"time"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/fsx"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/mq"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/storagegateway"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/eksauth"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/graph"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

// runTask dispatches one task to its handler.
func (e *Executor) runTask(ctx context.Context, g *graph.Graph, t *tasks.Task) error {
	c, err := e.factory.For(ctx, t.Credential, t.Region)
	if err != nil {
		return errors.Wrap(err, "build clients")
	}

	switch t.Kind {
	case tasks.KindCreateEC2:
		return e.createEC2(ctx, c, t)
	case tasks.KindCreateASG:
		return e.createASG(ctx, c, t)
	case tasks.KindDiscover:
		return e.discover(ctx, g, c, t)

	case tasks.KindDeleteInstance:
		return e.deleteInstance(ctx, c, t)
	case tasks.KindClearSecurityGroupRules:
		return e.clearSecurityGroupRules(ctx, c, t)
	case tasks.KindDeleteSecurityGroup:
		return e.deleteSecurityGroup(ctx, c, t)
	case tasks.KindDeleteKeyPair:
		return e.retire(ctx, t, ledger.TypeKeyPair, func(ctx context.Context) error {
			_, err := c.EC2().DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: aws_v2.String(t.Payload["resource-id"])})
			return err
		})
	case tasks.KindDeleteLaunchTemplate:
		return e.retire(ctx, t, ledger.TypeLaunchTemplate, func(ctx context.Context) error {
			_, err := c.EC2().DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{LaunchTemplateId: aws_v2.String(t.Payload["resource-id"])})
			return err
		})
	case tasks.KindDeleteASG:
		return e.retire(ctx, t, ledger.TypeAutoScalingGroup, func(ctx context.Context) error {
			_, err := c.AutoScaling().DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
				AutoScalingGroupName: aws_v2.String(t.Payload["resource-id"]),
				ForceDelete:          aws_v2.Bool(true),
			})
			return err
		})

	case tasks.KindRemoveReplication:
		return e.mutate(ctx, t, func(ctx context.Context) error {
			_, err := c.S3().DeleteBucketReplication(ctx, &s3.DeleteBucketReplicationInput{Bucket: aws_v2.String(t.Payload["resource-id"])})
			return err
		})
	case tasks.KindDisableVersioning:
		return e.mutate(ctx, t, func(ctx context.Context) error {
			_, err := c.S3().PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
				Bucket: aws_v2.String(t.Payload["resource-id"]),
				VersioningConfiguration: &s3types.VersioningConfiguration{
					Status: s3types.BucketVersioningStatusSuspended,
				},
			})
			return err
		})
	case tasks.KindEmptyBucket:
		return e.emptyBucket(ctx, c, t)
	case tasks.KindDeleteBucket:
		return e.retire(ctx, t, ledger.TypeS3Bucket, func(ctx context.Context) error {
			_, err := c.S3().DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws_v2.String(t.Payload["resource-id"])})
			return err
		})

	case tasks.KindDeleteEKSAutoscaler:
		return e.deleteEKSAutoscaler(ctx, t)
	case tasks.KindConfigureEKSAuth:
		return e.configureEKSAuth(ctx, c, t)

	case tasks.KindDeleteRuleTargets:
		return e.deleteRuleTargets(ctx, c, t)
	case tasks.KindDeleteRule:
		return e.retire(ctx, t, ledger.TypeEventRule, func(ctx context.Context) error {
			_, err := c.EventBridge().DeleteRule(ctx, &eventbridge.DeleteRuleInput{
				Name:         aws_v2.String(t.Payload["resource-id"]),
				EventBusName: aws_v2.String(t.Payload["event-bus"]),
				Force:        true,
			})
			return err
		})
	case tasks.KindDeleteEventBus:
		return e.retire(ctx, t, ledger.TypeEventBus, func(ctx context.Context) error {
			_, err := c.EventBridge().DeleteEventBus(ctx, &eventbridge.DeleteEventBusInput{Name: aws_v2.String(t.Payload["resource-id"])})
			return err
		})

	case tasks.KindDeleteRedshiftCluster:
		return e.retire(ctx, t, ledger.TypeRedshiftCluster, func(ctx context.Context) error {
			_, err := c.Redshift().DeleteCluster(ctx, &redshift.DeleteClusterInput{
				ClusterIdentifier:        aws_v2.String(t.Payload["resource-id"]),
				SkipFinalClusterSnapshot: aws_v2.Bool(true),
			})
			return err
		})
	case tasks.KindDeleteRedshiftSubnetGroup:
		return e.retire(ctx, t, ledger.TypeRedshiftSubnetGroup, func(ctx context.Context) error {
			_, err := c.Redshift().DeleteClusterSubnetGroup(ctx, &redshift.DeleteClusterSubnetGroupInput{
				ClusterSubnetGroupName: aws_v2.String(t.Payload["resource-id"]),
			})
			return err
		})
	case tasks.KindDeleteRedshiftParameterGroup:
		return e.retire(ctx, t, ledger.TypeRedshiftParameterGroup, func(ctx context.Context) error {
			_, err := c.Redshift().DeleteClusterParameterGroup(ctx, &redshift.DeleteClusterParameterGroupInput{
				ParameterGroupName: aws_v2.String(t.Payload["resource-id"]),
			})
			return err
		})

	case tasks.KindDeleteStateMachine:
		return e.retire(ctx, t, ledger.TypeStateMachine, func(ctx context.Context) error {
			_, err := c.SFN().DeleteStateMachine(ctx, &sfn.DeleteStateMachineInput{StateMachineArn: aws_v2.String(t.Payload["resource-id"])})
			return err
		})

	case tasks.KindStopNotebook:
		return e.stopNotebook(ctx, c, t)
	case tasks.KindDeleteNotebook:
		return e.retire(ctx, t, ledger.TypeNotebookInstance, func(ctx context.Context) error {
			_, err := c.SageMaker().DeleteNotebookInstance(ctx, &sagemaker.DeleteNotebookInstanceInput{
				NotebookInstanceName: aws_v2.String(t.Payload["resource-id"]),
			})
			return err
		})
	case tasks.KindDeleteSageMakerEndpoint:
		return e.retire(ctx, t, ledger.TypeSageMakerEndpoint, func(ctx context.Context) error {
			_, err := c.SageMaker().DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{EndpointName: aws_v2.String(t.Payload["resource-id"])})
			return err
		})

	case tasks.KindDeleteIAMUser:
		return e.deleteIAMUser(ctx, c, t)
	case tasks.KindDeleteIAMGroup:
		return e.deleteIAMGroup(ctx, c, t)

	case tasks.KindDeleteBroker:
		return e.retire(ctx, t, ledger.TypeBroker, func(ctx context.Context) error {
			_, err := c.MQ().DeleteBroker(ctx, &mq.DeleteBrokerInput{BrokerId: aws_v2.String(t.Payload["resource-id"])})
			return err
		})
	case tasks.KindDeleteFileSystem:
		return e.retire(ctx, t, ledger.TypeFileSystem, func(ctx context.Context) error {
			_, err := c.FSx().DeleteFileSystem(ctx, &fsx.DeleteFileSystemInput{FileSystemId: aws_v2.String(t.Payload["resource-id"])})
			return err
		})
	case tasks.KindDeleteGateway:
		return e.retire(ctx, t, ledger.TypeGateway, func(ctx context.Context) error {
			_, err := c.StorageGateway().DeleteGateway(ctx, &storagegateway.DeleteGatewayInput{GatewayARN: aws_v2.String(t.Payload["resource-id"])})
			return err
		})

	case tasks.KindExternalNuke:
		return e.externalNuke(ctx, t)

	default:
		return errors.Errorf("no handler for task kind %q", t.Kind)
	}
}

// retire runs a delete call through the retry classifier and records the
// retirement. NotFound from AWS is success with the already-absent flag.
func (e *Executor) retire(ctx context.Context, t *tasks.Task, resourceType string, del func(ctx context.Context) error) error {
	ref := e.taskRef(t)
	if ref.ResourceType == "" {
		ref.ResourceType = resourceType
	}
	if e.intent.DryRun {
		ref.Metadata = map[string]string{"dry-run": "true"}
		return e.led.Retired(ref, false)
	}
	absent, err := callWithRetry(ctx, e.lg, string(t.Kind), retryBase, func(ctx context.Context) error {
		return call(ctx, defaultCallTimeout, del)
	})
	if err != nil {
		return err
	}
	return e.led.Retired(ref, absent)
}

// mutate runs an intermediate mutation through the retry classifier with no
// ledger entry of its own; the resource's eventual delete records the
// retirement. Absent resources are a no-op.
func (e *Executor) mutate(ctx context.Context, t *tasks.Task, fn func(ctx context.Context) error) error {
	if e.intent.DryRun {
		e.lg.Info("dry-run: skipping mutation", zap.String("task", t.ID))
		return nil
	}
	_, err := callWithRetry(ctx, e.lg, string(t.Kind), retryBase, func(ctx context.Context) error {
		return call(ctx, defaultCallTimeout, fn)
	})
	return err
}

// createEC2 provisions one instance for the task's identity: session key
// pair, AMI from the mapping (SSM fallback), then RunInstances.
func (e *Executor) createEC2(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	ref := e.taskRef(t)
	ref.ResourceType = ledger.TypeInstance
	if e.intent.DryRun {
		ref.ResourceID = dryRunID(ledger.TypeInstance)
		return e.led.Created(ref)
	}

	keyName, err := e.keypairs.Ensure(ctx, c, t.Credential, t.Region)
	if err != nil {
		return errors.Wrap(err, "ensure key pair")
	}
	ami, err := e.amis.Resolve(ctx, c, t.Region)
	if err != nil {
		return err
	}

	var out *ec2.RunInstancesOutput
	_, err = callWithRetry(ctx, e.lg, "run-instances", retryBase, func(ctx context.Context) error {
		return call(ctx, defaultCallTimeout, func(ctx context.Context) error {
			var err error
			out, err = c.EC2().RunInstances(ctx, &ec2.RunInstancesInput{
				ImageId:      aws_v2.String(ami),
				InstanceType: ec2types.InstanceType(t.Payload["instance-type"]),
				KeyName:      aws_v2.String(keyName),
				MinCount:     aws_v2.Int32(1),
				MaxCount:     aws_v2.Int32(1),
				TagSpecifications: []ec2types.TagSpecification{{
					ResourceType: ec2types.ResourceTypeInstance,
					Tags: []ec2types.Tag{
						{Key: aws_v2.String("Name"), Value: aws_v2.String("infra-setup-" + t.Credential.AccountName)},
						{Key: aws_v2.String("infra-setup:session"), Value: aws_v2.String(e.sessionID())},
					},
				}},
			})
			return err
		})
	})
	if err != nil {
		return errors.Wrap(err, "run instances")
	}

	ref.ResourceID = aws_v2.ToString(out.Instances[0].InstanceId)
	if err := e.led.Created(ref); err != nil {
		return err
	}
	e.lg.Info("launched instance",
		zap.String("instance-id", ref.ResourceID),
		zap.String("instance-type", t.Payload["instance-type"]),
		zap.String("region", t.Region),
	)
	return nil
}

// createASG provisions a launch template plus an auto scaling group of one
// instance across the region's supported zones.
func (e *Executor) createASG(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	ltRef := e.taskRef(t)
	ltRef.ResourceType = ledger.TypeLaunchTemplate
	asgRef := e.taskRef(t)
	asgRef.ResourceType = ledger.TypeAutoScalingGroup
	if e.intent.DryRun {
		asgRef.ResourceID = dryRunID(ledger.TypeAutoScalingGroup)
		return e.led.Created(asgRef)
	}

	keyName, err := e.keypairs.Ensure(ctx, c, t.Credential, t.Region)
	if err != nil {
		return errors.Wrap(err, "ensure key pair")
	}
	ami, err := e.amis.Resolve(ctx, c, t.Region)
	if err != nil {
		return err
	}
	zones, err := e.supportedZones(ctx, c, t.Region)
	if err != nil {
		return err
	}

	suffix := uuid.NewString()[:8]
	ltName := "infra-setup-lt-" + suffix
	var ltOut *ec2.CreateLaunchTemplateOutput
	_, err = callWithRetry(ctx, e.lg, "create-launch-template", retryBase, func(ctx context.Context) error {
		return call(ctx, defaultCallTimeout, func(ctx context.Context) error {
			var err error
			ltOut, err = c.EC2().CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
				LaunchTemplateName: aws_v2.String(ltName),
				LaunchTemplateData: &ec2types.RequestLaunchTemplateData{
					ImageId:      aws_v2.String(ami),
					InstanceType: ec2types.InstanceType(t.Payload["instance-type"]),
					KeyName:      aws_v2.String(keyName),
				},
			})
			return err
		})
	})
	if err != nil {
		return errors.Wrap(err, "create launch template")
	}
	ltRef.ResourceID = aws_v2.ToString(ltOut.LaunchTemplate.LaunchTemplateId)
	if err := e.led.Created(ltRef); err != nil {
		return err
	}

	asgName := "infra-setup-asg-" + suffix
	_, err = callWithRetry(ctx, e.lg, "create-asg", retryBase, func(ctx context.Context) error {
		return call(ctx, defaultCallTimeout, func(ctx context.Context) error {
			_, err := c.AutoScaling().CreateAutoScalingGroup(ctx, &autoscaling.CreateAutoScalingGroupInput{
				AutoScalingGroupName: aws_v2.String(asgName),
				LaunchTemplate: &autoscalingtypes.LaunchTemplateSpecification{
					LaunchTemplateId: ltOut.LaunchTemplate.LaunchTemplateId,
				},
				MinSize:           aws_v2.Int32(1),
				MaxSize:           aws_v2.Int32(1),
				DesiredCapacity:   aws_v2.Int32(1),
				AvailabilityZones: zones,
			})
			return err
		})
	})
	if err != nil {
		return errors.Wrap(err, "create auto scaling group")
	}
	asgRef.ResourceID = asgName
	return e.led.Created(asgRef)
}

// supportedZones lists the region's availability zones minus the ones the
// mapping file marks unsupported.
func (e *Executor) supportedZones(ctx context.Context, c *awsapi.Clients, region string) ([]string, error) {
	out, err := c.EC2().DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, errors.Wrap(err, "describe availability zones")
	}
	unsupported := map[string]bool{}
	for _, az := range e.amis.mapping.EKSUnsupportedAZs[region] {
		unsupported[az] = true
	}
	var zones []string
	for _, az := range out.AvailabilityZones {
		name := aws_v2.ToString(az.ZoneName)
		if !unsupported[name] {
			zones = append(zones, name)
		}
	}
	if len(zones) == 0 {
		return nil, errors.Errorf("no supported availability zones in %s", region)
	}
	return zones, nil
}

// discover runs one (service, region) listing and expands the results into
// delete tasks on the graph.
func (e *Executor) discover(ctx context.Context, g *graph.Graph, c *awsapi.Clients, t *tasks.Task) error {
	refs, err := e.discoverer.Discover(ctx, c, t.Payload["service"], t.Credential, t.Region)
	if err != nil {
		return errors.Wrapf(err, "discover %s", t.Payload["service"])
	}
	_, err = e.plan.ExpandDiscovery(g, t, refs, e.intent)
	return err
}

func (e *Executor) deleteInstance(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	return e.retire(ctx, t, ledger.TypeInstance, func(ctx context.Context) error {
		_, err := c.EC2().TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{t.Payload["resource-id"]},
		})
		return err
	})
}

// clearSecurityGroupRules revokes the group's ingress and egress rules one
// by one, skipping the default allow-all egress, and records the count.
func (e *Executor) clearSecurityGroupRules(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	ref := e.taskRef(t)
	ref.ResourceType = ledger.TypeSecurityGroup
	if e.intent.DryRun {
		ref.Metadata = map[string]string{"dry-run": "true"}
		return e.led.Append(ledger.Entry{Event: ledger.EventRulesCleared, Ref: ref})
	}
	cleared, err := e.clearRules(ctx, c, t.Payload["resource-id"])
	if err != nil {
		return err
	}
	ref.Metadata = map[string]string{"cleared-count": strconv.Itoa(cleared)}
	return e.led.Append(ledger.Entry{Event: ledger.EventRulesCleared, Ref: ref})
}

// isDefaultEgress matches the implicit allow-all egress rule every group
// carries; revoking it is pointless churn.
func isDefaultEgress(p ec2types.IpPermission) bool {
	if aws_v2.ToString(p.IpProtocol) != "-1" {
		return false
	}
	for _, r := range p.IpRanges {
		if aws_v2.ToString(r.CidrIp) == "0.0.0.0/0" {
			return true
		}
	}
	return false
}

func (e *Executor) clearRules(ctx context.Context, c *awsapi.Clients, groupID string) (int, error) {
	out, err := c.EC2().DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{groupID}})
	if err != nil {
		if awsapi.IsNotFound(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "describe %s", groupID)
	}
	if len(out.SecurityGroups) == 0 {
		return 0, nil
	}
	sg := out.SecurityGroups[0]

	cleared := 0
	for _, perm := range sg.IpPermissions {
		_, err := c.EC2().RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       aws_v2.String(groupID),
			IpPermissions: []ec2types.IpPermission{perm},
		})
		if err != nil && !awsapi.IsNotFound(err) {
			return cleared, errors.Wrapf(err, "revoke ingress on %s", groupID)
		}
		cleared++
	}
	for _, perm := range sg.IpPermissionsEgress {
		if isDefaultEgress(perm) {
			continue
		}
		_, err := c.EC2().RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId:       aws_v2.String(groupID),
			IpPermissions: []ec2types.IpPermission{perm},
		})
		if err != nil && !awsapi.IsNotFound(err) {
			return cleared, errors.Wrapf(err, "revoke egress on %s", groupID)
		}
		cleared++
	}
	return cleared, nil
}

// deleteSecurityGroup deletes the group. On DependencyViolation with
// force-delete it waits 30 s, terminates the attached instances, waits for
// termination, clears the remaining rules, and retries up to the attempt
// bound.
func (e *Executor) deleteSecurityGroup(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	ref := e.taskRef(t)
	ref.ResourceType = ledger.TypeSecurityGroup
	groupID := t.Payload["resource-id"]
	if e.intent.DryRun {
		ref.Metadata = map[string]string{"dry-run": "true"}
		return e.led.Retired(ref, false)
	}

	del := func(ctx context.Context) error {
		_, err := c.EC2().DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws_v2.String(groupID)})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := call(ctx, defaultCallTimeout, del)
		if err == nil {
			return e.led.Retired(ref, false)
		}
		if awsapi.IsNotFound(err) {
			return e.led.Retired(ref, true)
		}
		lastErr = err
		if !awsapi.IsDependencyViolation(err) {
			return err
		}

		e.lg.Warn("security group still referenced, forcing detachment",
			zap.String("group-id", groupID),
			zap.Int("attempt", attempt+1),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sgRetryBackoff):
		}
		if err := e.detachSecurityGroup(ctx, c, t, groupID); err != nil {
			return err
		}
	}
	return lastErr
}

// detachSecurityGroup terminates the instances still using the group,
// waits for them to terminate, and clears the group's rules.
func (e *Executor) detachSecurityGroup(ctx context.Context, c *awsapi.Clients, t *tasks.Task, groupID string) error {
	out, err := c.EC2().DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{{
			Name:   aws_v2.String("instance.group-id"),
			Values: []string{groupID},
		}},
	})
	if err != nil {
		return errors.Wrap(err, "find attached instances")
	}
	var ids []string
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
				continue
			}
			ids = append(ids, aws_v2.ToString(inst.InstanceId))
		}
	}
	if len(ids) > 0 {
		if _, err := c.EC2().TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids}); err != nil && !awsapi.IsNotFound(err) {
			return errors.Wrap(err, "terminate attached instances")
		}
		waiter := ec2.NewInstanceTerminatedWaiter(c.EC2())
		if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids}, kubectlCallTimeout); err != nil {
			return errors.Wrap(err, "wait for instance termination")
		}
		for _, id := range ids {
			instRef := e.taskRef(t)
			instRef.ResourceID = id
			instRef.ResourceType = ledger.TypeInstance
			if err := e.led.Retired(instRef, false); err != nil {
				return err
			}
		}
	}

	cleared, err := e.clearRules(ctx, c, groupID)
	if err != nil {
		return err
	}
	sgRef := e.taskRef(t)
	sgRef.ResourceType = ledger.TypeSecurityGroup
	sgRef.Metadata = map[string]string{"cleared-count": strconv.Itoa(cleared)}
	return e.led.Append(ledger.Entry{Event: ledger.EventRulesCleared, Ref: sgRef})
}

// emptyBucket deletes every object version and delete marker, in batches.
// The bucket's own retirement is recorded by the dependent delete task.
func (e *Executor) emptyBucket(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	bucket := t.Payload["resource-id"]
	if e.intent.DryRun {
		e.lg.Info("dry-run: skipping bucket purge", zap.String("bucket", bucket))
		return nil
	}

	deleted := 0
	var keyMarker, versionMarker *string
	for {
		out, err := c.S3().ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws_v2.String(bucket),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			if awsapi.IsNotFound(err) {
				return nil
			}
			return errors.Wrapf(err, "list versions in %s", bucket)
		}

		var objects []s3types.ObjectIdentifier
		for _, v := range out.Versions {
			objects = append(objects, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range out.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		if len(objects) > 0 {
			_, err := c.S3().DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws_v2.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws_v2.Bool(true)},
			})
			if err != nil {
				return errors.Wrapf(err, "delete objects in %s", bucket)
			}
			deleted += len(objects)
		}

		if !aws_v2.ToBool(out.IsTruncated) {
			break
		}
		keyMarker = out.NextKeyMarker
		versionMarker = out.NextVersionIdMarker
	}

	e.lg.Info("emptied bucket", zap.String("bucket", bucket), zap.Int("objects", deleted))
	return nil
}

// autoscalerObjects is the teardown order for the cluster autoscaler.
var autoscalerObjects = []string{
	"deployment",
	"serviceaccount",
	"clusterrole",
	"clusterrolebinding",
	"role",
	"rolebinding",
	"secret",
}

const autoscalerName = "cluster-autoscaler"

// deleteEKSAutoscaler connects to the cluster and removes the autoscaler
// objects in a fixed order, each with ignore-not-found semantics.
func (e *Executor) deleteEKSAutoscaler(ctx context.Context, t *tasks.Task) error {
	clusterName := t.Payload["resource-id"]
	ref := e.taskRef(t)
	ref.ResourceType = ledger.TypeEKSCluster
	ref.Metadata = map[string]string{"component": autoscalerName}
	if e.intent.DryRun {
		ref.Metadata["dry-run"] = "true"
		return e.led.Retired(ref, false)
	}

	k8s, err := e.kubeFor(ctx, t.Credential, t.Region, clusterName)
	if err != nil {
		return errors.Wrapf(err, "connect to cluster %q", clusterName)
	}

	opts := metav1.DeleteOptions{}
	for _, object := range autoscalerObjects {
		var err error
		switch object {
		case "deployment":
			err = k8s.AppsV1().Deployments("kube-system").Delete(ctx, autoscalerName, opts)
		case "serviceaccount":
			err = k8s.CoreV1().ServiceAccounts("kube-system").Delete(ctx, autoscalerName, opts)
		case "clusterrole":
			err = k8s.RbacV1().ClusterRoles().Delete(ctx, autoscalerName, opts)
		case "clusterrolebinding":
			err = k8s.RbacV1().ClusterRoleBindings().Delete(ctx, autoscalerName, opts)
		case "role":
			err = k8s.RbacV1().Roles("kube-system").Delete(ctx, autoscalerName, opts)
		case "rolebinding":
			err = k8s.RbacV1().RoleBindings("kube-system").Delete(ctx, autoscalerName, opts)
		case "secret":
			err = k8s.CoreV1().Secrets("kube-system").Delete(ctx, autoscalerName, opts)
		}
		if err != nil && !apierrs.IsNotFound(err) {
			return errors.Wrapf(err, "delete autoscaler %s", object)
		}
		e.lg.Debug("deleted autoscaler object",
			zap.String("cluster", clusterName),
			zap.String("object", object),
		)
	}
	return e.led.Retired(ref, false)
}

func (e *Executor) configureEKSAuth(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	clusterName := t.Payload["resource-id"]
	if e.intent.DryRun {
		e.lg.Info("dry-run: skipping auth configuration", zap.String("cluster", clusterName))
		return nil
	}
	k8s, err := e.kubeFor(ctx, t.Credential, t.Region, clusterName)
	if err != nil {
		return errors.Wrapf(err, "connect to cluster %q", clusterName)
	}
	return eksauth.New(e.lg, c.EKS(), k8s).Configure(ctx, clusterName, t.Credential.AccountID)
}

func (e *Executor) deleteRuleTargets(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	rule := t.Payload["resource-id"]
	bus := t.Payload["event-bus"]
	return e.mutate(ctx, t, func(ctx context.Context) error {
		out, err := c.EventBridge().ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{
			Rule:         aws_v2.String(rule),
			EventBusName: aws_v2.String(bus),
		})
		if err != nil {
			return err
		}
		if len(out.Targets) == 0 {
			return nil
		}
		ids := make([]string, 0, len(out.Targets))
		for _, target := range out.Targets {
			ids = append(ids, aws_v2.ToString(target.Id))
		}
		_, err = c.EventBridge().RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
			Rule:         aws_v2.String(rule),
			EventBusName: aws_v2.String(bus),
			Ids:          ids,
			Force:        true,
		})
		return err
	})
}

// stopNotebook stops the instance and waits until it reports stopped so the
// dependent delete can proceed.
func (e *Executor) stopNotebook(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	name := t.Payload["resource-id"]
	return e.mutate(ctx, t, func(ctx context.Context) error {
		_, err := c.SageMaker().StopNotebookInstance(ctx, &sagemaker.StopNotebookInstanceInput{
			NotebookInstanceName: aws_v2.String(name),
		})
		if err != nil {
			// stopping an already-stopped notebook fails validation;
			// fall through to the waiter either way
			if awsapi.ErrorCode(err) != "ValidationException" {
				return err
			}
		}
		waiter := sagemaker.NewNotebookInstanceStoppedWaiter(c.SageMaker())
		return waiter.Wait(ctx, &sagemaker.DescribeNotebookInstanceInput{
			NotebookInstanceName: aws_v2.String(name),
		}, kubectlCallTimeout)
	})
}

// deleteIAMUser strips the user's dependencies before the delete: attached
// and inline policies, access keys, login profile, and group memberships.
func (e *Executor) deleteIAMUser(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	username := t.Payload["resource-id"]
	return e.retire(ctx, t, ledger.TypeIAMUser, func(ctx context.Context) error {
		attached, err := c.IAM().ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{UserName: aws_v2.String(username)})
		if err != nil {
			return err
		}
		for _, p := range attached.AttachedPolicies {
			if _, err := c.IAM().DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
				UserName:  aws_v2.String(username),
				PolicyArn: p.PolicyArn,
			}); err != nil && !awsapi.IsNotFound(err) {
				return err
			}
		}

		inline, err := c.IAM().ListUserPolicies(ctx, &iam.ListUserPoliciesInput{UserName: aws_v2.String(username)})
		if err != nil {
			return err
		}
		for _, name := range inline.PolicyNames {
			if _, err := c.IAM().DeleteUserPolicy(ctx, &iam.DeleteUserPolicyInput{
				UserName:   aws_v2.String(username),
				PolicyName: aws_v2.String(name),
			}); err != nil && !awsapi.IsNotFound(err) {
				return err
			}
		}

		keys, err := c.IAM().ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: aws_v2.String(username)})
		if err != nil {
			return err
		}
		for _, k := range keys.AccessKeyMetadata {
			if _, err := c.IAM().DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
				UserName:    aws_v2.String(username),
				AccessKeyId: k.AccessKeyId,
			}); err != nil && !awsapi.IsNotFound(err) {
				return err
			}
		}

		if _, err := c.IAM().DeleteLoginProfile(ctx, &iam.DeleteLoginProfileInput{UserName: aws_v2.String(username)}); err != nil && !awsapi.IsNotFound(err) {
			return err
		}

		groups, err := c.IAM().ListGroupsForUser(ctx, &iam.ListGroupsForUserInput{UserName: aws_v2.String(username)})
		if err != nil {
			return err
		}
		for _, gr := range groups.Groups {
			if _, err := c.IAM().RemoveUserFromGroup(ctx, &iam.RemoveUserFromGroupInput{
				UserName:  aws_v2.String(username),
				GroupName: gr.GroupName,
			}); err != nil && !awsapi.IsNotFound(err) {
				return err
			}
		}

		_, err = c.IAM().DeleteUser(ctx, &iam.DeleteUserInput{UserName: aws_v2.String(username)})
		return err
	})
}

// deleteIAMGroup empties the group and detaches its policies before the
// delete.
func (e *Executor) deleteIAMGroup(ctx context.Context, c *awsapi.Clients, t *tasks.Task) error {
	group := t.Payload["resource-id"]
	return e.retire(ctx, t, ledger.TypeIAMGroup, func(ctx context.Context) error {
		members, err := c.IAM().GetGroup(ctx, &iam.GetGroupInput{GroupName: aws_v2.String(group)})
		if err != nil {
			return err
		}
		for _, u := range members.Users {
			if _, err := c.IAM().RemoveUserFromGroup(ctx, &iam.RemoveUserFromGroupInput{
				UserName:  u.UserName,
				GroupName: aws_v2.String(group),
			}); err != nil && !awsapi.IsNotFound(err) {
				return err
			}
		}

		attached, err := c.IAM().ListAttachedGroupPolicies(ctx, &iam.ListAttachedGroupPoliciesInput{GroupName: aws_v2.String(group)})
		if err != nil {
			return err
		}
		for _, p := range attached.AttachedPolicies {
			if _, err := c.IAM().DetachGroupPolicy(ctx, &iam.DetachGroupPolicyInput{
				GroupName: aws_v2.String(group),
				PolicyArn: p.PolicyArn,
			}); err != nil && !awsapi.IsNotFound(err) {
				return err
			}
		}

		inline, err := c.IAM().ListGroupPolicies(ctx, &iam.ListGroupPoliciesInput{GroupName: aws_v2.String(group)})
		if err != nil {
			return err
		}
		for _, name := range inline.PolicyNames {
			if _, err := c.IAM().DeleteGroupPolicy(ctx, &iam.DeleteGroupPolicyInput{
				GroupName:  aws_v2.String(group),
				PolicyName: aws_v2.String(name),
			}); err != nil && !awsapi.IsNotFound(err) {
				return err
			}
		}

		_, err = c.IAM().DeleteGroup(ctx, &iam.DeleteGroupInput{GroupName: aws_v2.String(group)})
		return err
	})
}

// externalNuke drives the configured destructive tool through the prompted
// subprocess driver.
func (e *Executor) externalNuke(ctx context.Context, t *tasks.Task) error {
	if e.NukeCommand == "" {
		return errors.New("no external nuke command configured")
	}
	if e.intent.DryRun {
		e.lg.Info("dry-run: skipping external tool", zap.String("command", e.NukeCommand))
		return nil
	}
	tool := &PromptedTool{
		lg:           e.lg,
		Command:      e.NukeCommand,
		Env:          credentialEnv(t.Credential, t.Region),
		ConfirmToken: t.Payload["confirm-token"],
		ForceSend:    e.NukeForceSend,
		Timeout:      nukeTaskDeadline,
		OnOutput: func(line string) {
			e.lg.Info("nuke output", zap.String("line", line))
		},
	}
	if tool.ConfirmToken == "" {
		tool.ConfirmToken = "y"
	}
	return tool.Run(ctx)
}
