package executor

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
)

// DefaultAMIParameter is the SSM public parameter for the latest Amazon
// Linux 2023 AMI, used when the mapping file has no entry for a region.
const DefaultAMIParameter = "/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64"

// AMIMapping mirrors ec2-region-ami-mapping.json.
type AMIMapping struct {
	RegionAMIMapping     map[string]string   `json:"region_ami_mapping"`
	RegionInstanceTypes  map[string][]string `json:"region_instance_types,omitempty"`
	AllowedInstanceTypes []string            `json:"allowed_instance_types,omitempty"`
	EKSUnsupportedAZs    map[string][]string `json:"eks_unsupported_azs,omitempty"`
}

// AMIResolver picks the AMI for a region: mapping file first, then the SSM
// public parameter. Resolutions are cached per region for the session.
type AMIResolver struct {
	lg      *zap.Logger
	mapping AMIMapping

	mu       sync.Mutex
	resolved map[string]string
}

// LoadAMIMapping reads the mapping file; an absent file leaves every region
// on the SSM fallback.
func LoadAMIMapping(lg *zap.Logger, path string) (*AMIResolver, error) {
	r := &AMIResolver{lg: lg, resolved: make(map[string]string)}
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			lg.Info("no AMI mapping file, using SSM lookups", zap.String("path", path))
			return r, nil
		}
		return nil, errors.Wrapf(err, "read AMI mapping %q", path)
	}
	if err := json.Unmarshal(data, &r.mapping); err != nil {
		return nil, errors.Wrapf(err, "parse AMI mapping %q", path)
	}
	lg.Info("loaded AMI mapping",
		zap.String("path", path),
		zap.Int("regions", len(r.mapping.RegionAMIMapping)),
	)
	return r, nil
}

// Resolve returns the AMI id for the region.
func (r *AMIResolver) Resolve(ctx context.Context, c *awsapi.Clients, region string) (string, error) {
	r.mu.Lock()
	if id, ok := r.resolved[region]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	id := r.mapping.RegionAMIMapping[region]
	if id == "" {
		out, err := c.SSM().GetParameter(ctx, &ssm.GetParameterInput{
			Name: aws_v2.String(DefaultAMIParameter),
		})
		if err != nil {
			return "", errors.Wrapf(err, "resolve AMI for %s via SSM", region)
		}
		id = aws_v2.ToString(out.Parameter.Value)
		r.lg.Info("resolved AMI via SSM parameter",
			zap.String("region", region),
			zap.String("ami", id),
		)
	}

	r.mu.Lock()
	r.resolved[region] = id
	r.mu.Unlock()
	return id, nil
}

// AllowedTypes returns the allowed instance types for a region, most
// specific list first; empty means no restriction.
func (r *AMIResolver) AllowedTypes(region string) []string {
	if ts := r.mapping.RegionInstanceTypes[region]; len(ts) > 0 {
		return ts
	}
	return r.mapping.AllowedInstanceTypes
}
