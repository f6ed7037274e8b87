// Package discover enumerates existing AWS resources per (account, region,
// service) with paginated, read-only listings. Discovery feeds the planner's
// delete-task expansion and never mutates anything.
package discover

import (
	"context"
	"strings"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/fsx"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/mq"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	sagemakertypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/storagegateway"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
)

// Services discovery understands.
const (
	ServiceEC2            = "ec2"
	ServiceS3             = "s3"
	ServiceEKS            = "eks"
	ServiceIAM            = "iam"
	ServiceEventBridge    = "eventbridge"
	ServiceRedshift       = "redshift"
	ServiceStepFunctions  = "stepfunctions"
	ServiceSageMaker      = "sagemaker"
	ServiceMQ             = "mq"
	ServiceFSx            = "fsx"
	ServiceStorageGateway = "storagegateway"
)

// Services lists every supported service in a stable order.
var Services = []string{
	ServiceEC2,
	ServiceS3,
	ServiceEKS,
	ServiceIAM,
	ServiceEventBridge,
	ServiceRedshift,
	ServiceStepFunctions,
	ServiceSageMaker,
	ServiceMQ,
	ServiceFSx,
	ServiceStorageGateway,
}

// Discoverer runs read-only listings against one region at a time.
type Discoverer struct {
	lg *zap.Logger
}

func New(lg *zap.Logger) *Discoverer {
	return &Discoverer{lg: lg}
}

// Discover returns the resources of one service visible to the handle in the
// region. A failure is scoped to this (service, region) and does not abort
// other discoveries.
func (d *Discoverer) Discover(ctx context.Context, c *awsapi.Clients, service string, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	switch service {
	case ServiceEC2:
		return d.ec2Resources(ctx, c, h, region)
	case ServiceS3:
		return d.s3Buckets(ctx, c, h, region)
	case ServiceEKS:
		return d.eksClusters(ctx, c, h, region)
	case ServiceIAM:
		return d.iamPrincipals(ctx, c, h, region)
	case ServiceEventBridge:
		return d.eventBridge(ctx, c, h, region)
	case ServiceRedshift:
		return d.redshift(ctx, c, h, region)
	case ServiceStepFunctions:
		return d.stateMachines(ctx, c, h, region)
	case ServiceSageMaker:
		return d.sageMaker(ctx, c, h, region)
	case ServiceMQ:
		return d.brokers(ctx, c, h, region)
	case ServiceFSx:
		return d.fileSystems(ctx, c, h, region)
	case ServiceStorageGateway:
		return d.gateways(ctx, c, h, region)
	default:
		return nil, errors.Errorf("unknown service %q", service)
	}
}

func (d *Discoverer) ref(h credentials.Handle, region, resourceType, id string, meta map[string]string) ledger.ResourceRef {
	return ledger.ResourceRef{
		ResourceID:   id,
		ResourceType: resourceType,
		AccountName:  h.AccountName,
		AccountID:    h.AccountID,
		Region:       region,
		Metadata:     meta,
	}
}

// ec2Resources lists instances (each correlated to its security groups),
// security groups, key pairs, launch templates, and auto scaling groups.
func (d *Discoverer) ec2Resources(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef

	instPaginator := ec2.NewDescribeInstancesPaginator(c.EC2(), &ec2.DescribeInstancesInput{})
	for instPaginator.HasMorePages() {
		page, err := instPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe instances")
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				if inst.State == nil {
					continue
				}
				switch inst.State.Name {
				case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameShuttingDown:
					continue
				}
				groupIDs := make([]string, 0, len(inst.SecurityGroups))
				for _, g := range inst.SecurityGroups {
					groupIDs = append(groupIDs, aws_v2.ToString(g.GroupId))
				}
				refs = append(refs, d.ref(h, region, ledger.TypeInstance, aws_v2.ToString(inst.InstanceId), map[string]string{
					"security-groups": strings.Join(groupIDs, ","),
					"state":           string(inst.State.Name),
				}))
			}
		}
	}

	sgPaginator := ec2.NewDescribeSecurityGroupsPaginator(c.EC2(), &ec2.DescribeSecurityGroupsInput{})
	for sgPaginator.HasMorePages() {
		page, err := sgPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe security groups")
		}
		for _, sg := range page.SecurityGroups {
			meta := map[string]string{"group-name": aws_v2.ToString(sg.GroupName)}
			if aws_v2.ToString(sg.GroupName) == "default" {
				meta["default"] = "true"
			}
			refs = append(refs, d.ref(h, region, ledger.TypeSecurityGroup, aws_v2.ToString(sg.GroupId), meta))
		}
	}

	keyOut, err := c.EC2().DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{})
	if err != nil {
		return nil, errors.Wrap(err, "describe key pairs")
	}
	for _, kp := range keyOut.KeyPairs {
		refs = append(refs, d.ref(h, region, ledger.TypeKeyPair, aws_v2.ToString(kp.KeyName), nil))
	}

	ltPaginator := ec2.NewDescribeLaunchTemplatesPaginator(c.EC2(), &ec2.DescribeLaunchTemplatesInput{})
	for ltPaginator.HasMorePages() {
		page, err := ltPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe launch templates")
		}
		for _, lt := range page.LaunchTemplates {
			refs = append(refs, d.ref(h, region, ledger.TypeLaunchTemplate, aws_v2.ToString(lt.LaunchTemplateId), map[string]string{
				"name": aws_v2.ToString(lt.LaunchTemplateName),
			}))
		}
	}

	asgPaginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(c.AutoScaling(), &autoscaling.DescribeAutoScalingGroupsInput{})
	for asgPaginator.HasMorePages() {
		page, err := asgPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe auto scaling groups")
		}
		for _, asg := range page.AutoScalingGroups {
			refs = append(refs, d.ref(h, region, ledger.TypeAutoScalingGroup, aws_v2.ToString(asg.AutoScalingGroupName), nil))
		}
	}

	d.lg.Info("discovered ec2 resources",
		zap.String("account", h.AccountName),
		zap.String("region", region),
		zap.Int("resources", len(refs)),
	)
	return refs, nil
}

// s3Buckets lists the account's buckets and keeps only those homed in the
// region; S3 listings are global but deletion must go through a regional
// client.
func (d *Discoverer) s3Buckets(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	out, err := c.S3().ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, errors.Wrap(err, "list buckets")
	}
	var refs []ledger.ResourceRef
	for _, b := range out.Buckets {
		name := aws_v2.ToString(b.Name)
		loc, err := c.S3().GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: b.Name})
		if err != nil {
			d.lg.Warn("failed to resolve bucket home region",
				zap.String("bucket", name),
				zap.Error(err),
			)
			continue
		}
		home := string(loc.LocationConstraint)
		if home == "" {
			home = "us-east-1"
		}
		if home != region {
			continue
		}
		refs = append(refs, d.ref(h, region, ledger.TypeS3Bucket, name, map[string]string{"home-region": home}))
	}
	return refs, nil
}

func (d *Discoverer) eksClusters(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef
	paginator := eks.NewListClustersPaginator(c.EKS(), &eks.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list eks clusters")
		}
		for _, name := range page.Clusters {
			refs = append(refs, d.ref(h, region, ledger.TypeEKSCluster, name, nil))
		}
	}
	return refs, nil
}

// iamPrincipals lists users and groups. IAM is a global service; callers
// should discover it against a single region per account.
func (d *Discoverer) iamPrincipals(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef

	userPaginator := iam.NewListUsersPaginator(c.IAM(), &iam.ListUsersInput{})
	for userPaginator.HasMorePages() {
		page, err := userPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list iam users")
		}
		for _, u := range page.Users {
			refs = append(refs, d.ref(h, region, ledger.TypeIAMUser, aws_v2.ToString(u.UserName), map[string]string{
				"arn": aws_v2.ToString(u.Arn),
			}))
		}
	}

	groupPaginator := iam.NewListGroupsPaginator(c.IAM(), &iam.ListGroupsInput{})
	for groupPaginator.HasMorePages() {
		page, err := groupPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list iam groups")
		}
		for _, g := range page.Groups {
			refs = append(refs, d.ref(h, region, ledger.TypeIAMGroup, aws_v2.ToString(g.GroupName), nil))
		}
	}
	return refs, nil
}

// eventBridge lists custom event buses plus the rules on every bus,
// including the default one. The default bus itself is never a deletion
// candidate.
func (d *Discoverer) eventBridge(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef

	busNames := []string{"default"}
	var busToken *string
	for {
		out, err := c.EventBridge().ListEventBuses(ctx, &eventbridge.ListEventBusesInput{NextToken: busToken})
		if err != nil {
			return nil, errors.Wrap(err, "list event buses")
		}
		for _, bus := range out.EventBuses {
			name := aws_v2.ToString(bus.Name)
			if name == "default" {
				continue
			}
			busNames = append(busNames, name)
			refs = append(refs, d.ref(h, region, ledger.TypeEventBus, name, nil))
		}
		if out.NextToken == nil {
			break
		}
		busToken = out.NextToken
	}

	for _, bus := range busNames {
		var ruleToken *string
		for {
			out, err := c.EventBridge().ListRules(ctx, &eventbridge.ListRulesInput{
				EventBusName: aws_v2.String(bus),
				NextToken:    ruleToken,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "list rules on bus %q", bus)
			}
			for _, rule := range out.Rules {
				refs = append(refs, d.ref(h, region, ledger.TypeEventRule, aws_v2.ToString(rule.Name), map[string]string{
					"event-bus": bus,
				}))
			}
			if out.NextToken == nil {
				break
			}
			ruleToken = out.NextToken
		}
	}
	return refs, nil
}

// redshift lists clusters plus their subnet and parameter groups; the
// default parameter groups are AWS-managed and skipped.
func (d *Discoverer) redshift(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef

	clusterPaginator := redshift.NewDescribeClustersPaginator(c.Redshift(), &redshift.DescribeClustersInput{})
	for clusterPaginator.HasMorePages() {
		page, err := clusterPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe redshift clusters")
		}
		for _, cl := range page.Clusters {
			refs = append(refs, d.ref(h, region, ledger.TypeRedshiftCluster, aws_v2.ToString(cl.ClusterIdentifier), nil))
		}
	}

	subnetPaginator := redshift.NewDescribeClusterSubnetGroupsPaginator(c.Redshift(), &redshift.DescribeClusterSubnetGroupsInput{})
	for subnetPaginator.HasMorePages() {
		page, err := subnetPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe redshift subnet groups")
		}
		for _, sg := range page.ClusterSubnetGroups {
			refs = append(refs, d.ref(h, region, ledger.TypeRedshiftSubnetGroup, aws_v2.ToString(sg.ClusterSubnetGroupName), nil))
		}
	}

	paramPaginator := redshift.NewDescribeClusterParameterGroupsPaginator(c.Redshift(), &redshift.DescribeClusterParameterGroupsInput{})
	for paramPaginator.HasMorePages() {
		page, err := paramPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe redshift parameter groups")
		}
		for _, pg := range page.ParameterGroups {
			name := aws_v2.ToString(pg.ParameterGroupName)
			if strings.HasPrefix(name, "default.") {
				continue
			}
			refs = append(refs, d.ref(h, region, ledger.TypeRedshiftParameterGroup, name, nil))
		}
	}
	return refs, nil
}

func (d *Discoverer) stateMachines(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef
	paginator := sfn.NewListStateMachinesPaginator(c.SFN(), &sfn.ListStateMachinesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list state machines")
		}
		for _, sm := range page.StateMachines {
			refs = append(refs, d.ref(h, region, ledger.TypeStateMachine, aws_v2.ToString(sm.StateMachineArn), map[string]string{
				"name": aws_v2.ToString(sm.Name),
			}))
		}
	}
	return refs, nil
}

// sageMaker lists notebook instances (with their status, so the planner can
// decide whether a stop must precede the delete) and endpoints.
func (d *Discoverer) sageMaker(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef

	nbPaginator := sagemaker.NewListNotebookInstancesPaginator(c.SageMaker(), &sagemaker.ListNotebookInstancesInput{})
	for nbPaginator.HasMorePages() {
		page, err := nbPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list notebook instances")
		}
		for _, nb := range page.NotebookInstances {
			if nb.NotebookInstanceStatus == sagemakertypes.NotebookInstanceStatusDeleting {
				continue
			}
			refs = append(refs, d.ref(h, region, ledger.TypeNotebookInstance, aws_v2.ToString(nb.NotebookInstanceName), map[string]string{
				"status": string(nb.NotebookInstanceStatus),
			}))
		}
	}

	epPaginator := sagemaker.NewListEndpointsPaginator(c.SageMaker(), &sagemaker.ListEndpointsInput{})
	for epPaginator.HasMorePages() {
		page, err := epPaginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list endpoints")
		}
		for _, ep := range page.Endpoints {
			refs = append(refs, d.ref(h, region, ledger.TypeSageMakerEndpoint, aws_v2.ToString(ep.EndpointName), nil))
		}
	}
	return refs, nil
}

func (d *Discoverer) brokers(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef
	paginator := mq.NewListBrokersPaginator(c.MQ(), &mq.ListBrokersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list brokers")
		}
		for _, b := range page.BrokerSummaries {
			refs = append(refs, d.ref(h, region, ledger.TypeBroker, aws_v2.ToString(b.BrokerId), map[string]string{
				"name": aws_v2.ToString(b.BrokerName),
			}))
		}
	}
	return refs, nil
}

func (d *Discoverer) fileSystems(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef
	paginator := fsx.NewDescribeFileSystemsPaginator(c.FSx(), &fsx.DescribeFileSystemsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "describe file systems")
		}
		for _, fs := range page.FileSystems {
			refs = append(refs, d.ref(h, region, ledger.TypeFileSystem, aws_v2.ToString(fs.FileSystemId), map[string]string{
				"type": string(fs.FileSystemType),
			}))
		}
	}
	return refs, nil
}

func (d *Discoverer) gateways(ctx context.Context, c *awsapi.Clients, h credentials.Handle, region string) ([]ledger.ResourceRef, error) {
	var refs []ledger.ResourceRef
	paginator := storagegateway.NewListGatewaysPaginator(c.StorageGateway(), &storagegateway.ListGatewaysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list gateways")
		}
		for _, gw := range page.Gateways {
			refs = append(refs, d.ref(h, region, ledger.TypeGateway, aws_v2.ToString(gw.GatewayARN), map[string]string{
				"name": aws_v2.ToString(gw.GatewayName),
			}))
		}
	}
	return refs, nil
}
