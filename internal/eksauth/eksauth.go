// Package eksauth grants cluster-admin on freshly provisioned EKS clusters.
// The principals come from the cluster naming convention; the grant goes
// through access entries, the aws-auth ConfigMap, or both, depending on the
// cluster's authentication mode.
package eksauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	v1 "k8s.io/api/core/v1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
)

// AdminPolicyARN is the managed access policy granting cluster-admin.
const AdminPolicyARN = "arn:aws:eks::aws:cluster-access-policy/AmazonEKSClusterAdminPolicy"

const fieldManager = "aws-infra-setup"

// Mapping is the set of principals granted system:masters on a cluster.
type Mapping struct {
	AccountID string
	// Username is empty for root-created clusters.
	Username string
	RootOnly bool
}

// iamNamePattern extracts the creating IAM username from a cluster name of
// the form eks-cluster-<username>-<region>-<suffix>.
var iamNamePattern = regexp.MustCompile(`^eks-cluster-(.+?)-([a-z]{2}-[a-z]+-\d+)-`)

// ComputeMapping derives the auth mapping from the cluster name. A name
// containing "-root-" means the cluster was created with root credentials
// and only root is mapped; otherwise the embedded IAM username is mapped
// alongside root.
func ComputeMapping(clusterName, accountID string) Mapping {
	m := Mapping{AccountID: accountID}
	if strings.Contains(clusterName, "-root-") {
		m.RootOnly = true
		return m
	}
	if match := iamNamePattern.FindStringSubmatch(clusterName); match != nil {
		m.Username = match[1]
	} else {
		m.RootOnly = true
	}
	return m
}

// PrincipalARNs lists the mapped principals, IAM user first.
func (m Mapping) PrincipalARNs() []string {
	root := fmt.Sprintf("arn:aws:iam::%s:root", m.AccountID)
	if m.RootOnly || m.Username == "" {
		return []string{root}
	}
	return []string{
		fmt.Sprintf("arn:aws:iam::%s:user/%s", m.AccountID, m.Username),
		root,
	}
}

var mapUsersTmpl = template.Must(template.New("map-users").Parse(`{{- range . }}
- userarn: {{ . }}
  groups:
    - system:masters
{{- end }}
`))

// MapUsersYAML renders the mapUsers document for the aws-auth ConfigMap.
func (m Mapping) MapUsersYAML() (string, error) {
	buf := bytes.NewBuffer(nil)
	if err := mapUsersTmpl.Execute(buf, m.PrincipalARNs()); err != nil {
		return "", err
	}
	return strings.TrimPrefix(buf.String(), "\n"), nil
}

// eksAPI is the slice of the EKS control-plane API the configurator uses.
type eksAPI interface {
	DescribeCluster(ctx context.Context, in *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
	CreateAccessEntry(ctx context.Context, in *eks.CreateAccessEntryInput, optFns ...func(*eks.Options)) (*eks.CreateAccessEntryOutput, error)
	AssociateAccessPolicy(ctx context.Context, in *eks.AssociateAccessPolicyInput, optFns ...func(*eks.Options)) (*eks.AssociateAccessPolicyOutput, error)
}

// Configurator applies auth mappings to one cluster.
type Configurator struct {
	lg  *zap.Logger
	api eksAPI
	k8s kubernetes.Interface
}

func New(lg *zap.Logger, api eksAPI, k8s kubernetes.Interface) *Configurator {
	return &Configurator{lg: lg, api: api, k8s: k8s}
}

// Configure grants cluster-admin per the cluster's authentication mode:
// access entries for API and API_AND_CONFIG_MAP, the aws-auth ConfigMap for
// CONFIG_MAP and API_AND_CONFIG_MAP.
func (c *Configurator) Configure(ctx context.Context, clusterName, accountID string) error {
	out, err := c.api.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws_v2.String(clusterName)})
	if err != nil {
		return errors.Wrapf(err, "describe cluster %q", clusterName)
	}
	mode := ekstypes.AuthenticationModeConfigMap
	if out.Cluster.AccessConfig != nil && out.Cluster.AccessConfig.AuthenticationMode != "" {
		mode = out.Cluster.AccessConfig.AuthenticationMode
	}

	mapping := ComputeMapping(clusterName, accountID)
	c.lg.Info("configuring cluster auth",
		zap.String("cluster", clusterName),
		zap.String("authentication-mode", string(mode)),
		zap.Bool("root-only", mapping.RootOnly),
		zap.String("username", mapping.Username),
	)

	if mode == ekstypes.AuthenticationModeApi || mode == ekstypes.AuthenticationModeApiAndConfigMap {
		if err := c.createAccessEntries(ctx, clusterName, mapping); err != nil {
			return err
		}
	}
	if mode == ekstypes.AuthenticationModeConfigMap || mode == ekstypes.AuthenticationModeApiAndConfigMap {
		if err := c.applyAuthConfigMap(ctx, mapping); err != nil {
			return err
		}
		if err := c.verifyAuthConfigMap(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Configurator) createAccessEntries(ctx context.Context, clusterName string, mapping Mapping) error {
	for _, arn := range mapping.PrincipalARNs() {
		_, err := c.api.CreateAccessEntry(ctx, &eks.CreateAccessEntryInput{
			ClusterName:  aws_v2.String(clusterName),
			PrincipalArn: aws_v2.String(arn),
		})
		if err != nil && awsapi.ErrorCode(err) != "ResourceInUseException" {
			return errors.Wrapf(err, "create access entry for %q", arn)
		}
		_, err = c.api.AssociateAccessPolicy(ctx, &eks.AssociateAccessPolicyInput{
			ClusterName:  aws_v2.String(clusterName),
			PrincipalArn: aws_v2.String(arn),
			PolicyArn:    aws_v2.String(AdminPolicyARN),
			AccessScope: &ekstypes.AccessScope{
				Type: ekstypes.AccessScopeTypeCluster,
			},
		})
		if err != nil && awsapi.ErrorCode(err) != "ResourceInUseException" {
			return errors.Wrapf(err, "associate admin policy for %q", arn)
		}
		c.lg.Info("granted cluster-admin access entry", zap.String("principal", arn))
	}
	return nil
}

// applyAuthConfigMap writes aws-auth with a fallback chain: update (or
// create when absent), then replace with a fresh read, then delete and
// recreate, then server-side apply. Older control planes reject some of
// these verbs, which is why the chain exists.
func (c *Configurator) applyAuthConfigMap(ctx context.Context, mapping Mapping) error {
	mapUsers, err := mapping.MapUsersYAML()
	if err != nil {
		return err
	}
	desired := &v1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "aws-auth",
			Namespace: "kube-system",
		},
		Data: map[string]string{"mapUsers": mapUsers},
	}
	cms := c.k8s.CoreV1().ConfigMaps("kube-system")

	strategies := []struct {
		name string
		run  func() error
	}{
		{"apply", func() error {
			existing, err := cms.Get(ctx, "aws-auth", metav1.GetOptions{})
			if apierrs.IsNotFound(err) {
				_, err := cms.Create(ctx, desired, metav1.CreateOptions{})
				return err
			}
			if err != nil {
				return err
			}
			if existing.Data == nil {
				existing.Data = map[string]string{}
			}
			existing.Data["mapUsers"] = mapUsers
			_, err = cms.Update(ctx, existing, metav1.UpdateOptions{})
			return err
		}},
		{"replace", func() error {
			_, err := cms.Update(ctx, desired, metav1.UpdateOptions{})
			return err
		}},
		{"delete-and-create", func() error {
			if err := cms.Delete(ctx, "aws-auth", metav1.DeleteOptions{}); err != nil && !apierrs.IsNotFound(err) {
				return err
			}
			_, err := cms.Create(ctx, desired, metav1.CreateOptions{})
			return err
		}},
		{"server-side-apply", func() error {
			data, err := configMapPatch(mapUsers)
			if err != nil {
				return err
			}
			_, err = cms.Patch(ctx, "aws-auth", types.ApplyPatchType, data, metav1.PatchOptions{
				FieldManager: fieldManager,
				Force:        aws_v2.Bool(true),
			})
			return err
		}},
	}

	var lastErr error
	for _, s := range strategies {
		if err := s.run(); err != nil {
			c.lg.Warn("aws-auth write strategy failed",
				zap.String("strategy", s.name),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		c.lg.Info("applied aws-auth ConfigMap", zap.String("strategy", s.name))
		return nil
	}
	return errors.Wrap(lastErr, "all aws-auth write strategies failed")
}

func configMapPatch(mapUsers string) ([]byte, error) {
	patch := struct {
		APIVersion string            `json:"apiVersion"`
		Kind       string            `json:"kind"`
		Metadata   metav1.ObjectMeta `json:"metadata"`
		Data       map[string]string `json:"data"`
	}{
		APIVersion: "v1",
		Kind:       "ConfigMap",
		Metadata:   metav1.ObjectMeta{Name: "aws-auth", Namespace: "kube-system"},
		Data:       map[string]string{"mapUsers": mapUsers},
	}
	return json.Marshal(patch)
}

func (c *Configurator) verifyAuthConfigMap(ctx context.Context) error {
	cm, err := c.k8s.CoreV1().ConfigMaps("kube-system").Get(ctx, "aws-auth", metav1.GetOptions{})
	if err != nil {
		return errors.Wrap(err, "verify aws-auth ConfigMap")
	}
	if cm.Data["mapUsers"] == "" {
		return errors.New("aws-auth ConfigMap has no mapUsers")
	}
	return nil
}
