// Package awsapi constructs AWS SDK clients per (credential handle, region).
package awsapi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	config_v2 "github.com/aws/aws-sdk-go-v2/config"
	credentials_v2 "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/fsx"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/mq"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/storagegateway"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go/logging"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
)

// Clients bundles the service clients for one (handle, region) pair.
// Construction is lazy; the clients are safe to share across goroutines.
type Clients struct {
	Config aws_v2.Config

	mu             sync.Mutex
	ec2            *ec2.Client
	autoscaling    *autoscaling.Client
	s3             *s3.Client
	eks            *eks.Client
	iam            *iam.Client
	sts            *sts.Client
	eventbridge    *eventbridge.Client
	redshift       *redshift.Client
	sfn            *sfn.Client
	sagemaker      *sagemaker.Client
	mq             *mq.Client
	fsx            *fsx.Client
	storagegateway *storagegateway.Client
	ssm            *ssm.Client
	pricing        *pricing.Client
}

func (c *Clients) EC2() *ec2.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ec2 == nil {
		c.ec2 = ec2.NewFromConfig(c.Config)
	}
	return c.ec2
}

func (c *Clients) AutoScaling() *autoscaling.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoscaling == nil {
		c.autoscaling = autoscaling.NewFromConfig(c.Config)
	}
	return c.autoscaling
}

func (c *Clients) S3() *s3.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s3 == nil {
		c.s3 = s3.NewFromConfig(c.Config)
	}
	return c.s3
}

func (c *Clients) EKS() *eks.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eks == nil {
		c.eks = eks.NewFromConfig(c.Config)
	}
	return c.eks
}

func (c *Clients) IAM() *iam.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iam == nil {
		c.iam = iam.NewFromConfig(c.Config)
	}
	return c.iam
}

func (c *Clients) STS() *sts.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sts == nil {
		c.sts = sts.NewFromConfig(c.Config)
	}
	return c.sts
}

func (c *Clients) EventBridge() *eventbridge.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventbridge == nil {
		c.eventbridge = eventbridge.NewFromConfig(c.Config)
	}
	return c.eventbridge
}

func (c *Clients) Redshift() *redshift.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.redshift == nil {
		c.redshift = redshift.NewFromConfig(c.Config)
	}
	return c.redshift
}

func (c *Clients) SFN() *sfn.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sfn == nil {
		c.sfn = sfn.NewFromConfig(c.Config)
	}
	return c.sfn
}

func (c *Clients) SageMaker() *sagemaker.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sagemaker == nil {
		c.sagemaker = sagemaker.NewFromConfig(c.Config)
	}
	return c.sagemaker
}

func (c *Clients) MQ() *mq.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mq == nil {
		c.mq = mq.NewFromConfig(c.Config)
	}
	return c.mq
}

func (c *Clients) FSx() *fsx.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fsx == nil {
		c.fsx = fsx.NewFromConfig(c.Config)
	}
	return c.fsx
}

func (c *Clients) StorageGateway() *storagegateway.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storagegateway == nil {
		c.storagegateway = storagegateway.NewFromConfig(c.Config)
	}
	return c.storagegateway
}

func (c *Clients) SSM() *ssm.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ssm == nil {
		c.ssm = ssm.NewFromConfig(c.Config)
	}
	return c.ssm
}

// Pricing returns a pricing client; the pricing API only has endpoints in a
// few regions, so the client region is remapped.
func (c *Clients) Pricing() *pricing.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pricing == nil {
		cfg := c.Config.Copy()
		cfg.Region = PricingRegion(c.Config.Region)
		c.pricing = pricing.NewFromConfig(cfg)
	}
	return c.pricing
}

// PricingRegion maps a region to the nearest pricing API endpoint region.
func PricingRegion(region string) string {
	switch {
	case strings.HasPrefix(region, "ap-"):
		return "ap-south-1"
	case strings.HasPrefix(region, "cn-"):
		return "cn-northwest-1"
	case strings.HasPrefix(region, "eu-"):
		return "eu-central-1"
	default:
		return "us-east-1"
	}
}

// Factory builds and caches Clients per (handle, region).
type Factory struct {
	lg    *zap.Logger
	debug bool

	mu    sync.Mutex
	cache map[string]*Clients
}

// NewFactory creates a client factory. debug turns on SDK request/response
// logging through the zap bridge.
func NewFactory(lg *zap.Logger, debug bool) *Factory {
	return &Factory{lg: lg, debug: debug, cache: make(map[string]*Clients)}
}

// For returns the Clients for the handle in the given region, building the
// underlying aws.Config with the handle's static credentials on first use.
func (f *Factory) For(ctx context.Context, h credentials.Handle, region string) (*Clients, error) {
	if region == "" {
		return nil, fmt.Errorf("missing region for %q", h.DisplayName())
	}
	key := h.AccountID + "/" + h.Username + "/" + region

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cache[key]; ok {
		return c, nil
	}

	optFns := []func(*config_v2.LoadOptions) error{
		config_v2.WithRegion(region),
		config_v2.WithCredentialsProvider(
			credentials_v2.NewStaticCredentialsProvider(h.AccessKey, h.SecretKey, ""),
		),
		config_v2.WithLogger(toLogger(f.lg)),
	}
	if f.debug {
		lvl := aws_v2.LogSigning |
			aws_v2.LogRetries |
			aws_v2.LogRequest |
			aws_v2.LogResponse
		optFns = append(optFns, config_v2.WithClientLogMode(lvl))
	}

	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	awsCfg, err := config_v2.LoadDefaultConfig(lctx, optFns...)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %q: %w", h.DisplayName(), err)
	}

	c := &Clients{Config: awsCfg}
	f.cache[key] = c
	return c, nil
}

// IdentityLookup returns a credentials.IdentityLookup backed by
// sts.GetCallerIdentity.
func (f *Factory) IdentityLookup() credentials.IdentityLookup {
	return func(ctx context.Context, h credentials.Handle) (string, error) {
		region := "us-east-1"
		if len(h.Regions) > 0 {
			region = h.Regions[0]
		}
		c, err := f.For(ctx, h, region)
		if err != nil {
			return "", err
		}
		out, err := c.STS().GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return "", err
		}
		return aws_v2.ToString(out.Account), nil
	}
}

// toLogger converts *zap.Logger to the smithy logging.Logger.
func toLogger(lg *zap.Logger) logging.Logger {
	return &zapLogger{lg}
}

type zapLogger struct {
	*zap.Logger
}

func (lg *zapLogger) Logf(c logging.Classification, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	switch c {
	case logging.Warn:
		lg.Warn(msg)
	case logging.Debug:
		lg.Debug(msg)
	}
}
