package eksauth

import (
	"context"
	"testing"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func TestComputeMapping(t *testing.T) {
	m := ComputeMapping("eks-cluster-account03_clouduser01-us-east-1-diox", "111122223333")
	assert.False(t, m.RootOnly)
	assert.Equal(t, "account03_clouduser01", m.Username)
	assert.Equal(t, []string{
		"arn:aws:iam::111122223333:user/account03_clouduser01",
		"arn:aws:iam::111122223333:root",
	}, m.PrincipalARNs())

	m = ComputeMapping("eks-cluster-root-us-west-2-k3df", "111122223333")
	assert.True(t, m.RootOnly)
	assert.Equal(t, []string{"arn:aws:iam::111122223333:root"}, m.PrincipalARNs())

	// a name outside the convention falls back to root-only
	m = ComputeMapping("legacy-cluster", "111122223333")
	assert.True(t, m.RootOnly)
}

func TestMapUsersYAML(t *testing.T) {
	m := ComputeMapping("eks-cluster-account03_clouduser01-us-east-1-diox", "111122223333")
	doc, err := m.MapUsersYAML()
	require.NoError(t, err)
	assert.Contains(t, doc, "- userarn: arn:aws:iam::111122223333:user/account03_clouduser01")
	assert.Contains(t, doc, "- userarn: arn:aws:iam::111122223333:root")
	assert.Contains(t, doc, "- system:masters")
}

type fakeEKS struct {
	mode          ekstypes.AuthenticationMode
	accessEntries []string
	policies      []string
}

func (f *fakeEKS) DescribeCluster(_ context.Context, in *eks.DescribeClusterInput, _ ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	return &eks.DescribeClusterOutput{
		Cluster: &ekstypes.Cluster{
			Name:         in.Name,
			AccessConfig: &ekstypes.AccessConfigResponse{AuthenticationMode: f.mode},
		},
	}, nil
}

func (f *fakeEKS) CreateAccessEntry(_ context.Context, in *eks.CreateAccessEntryInput, _ ...func(*eks.Options)) (*eks.CreateAccessEntryOutput, error) {
	f.accessEntries = append(f.accessEntries, aws_v2.ToString(in.PrincipalArn))
	return &eks.CreateAccessEntryOutput{}, nil
}

func (f *fakeEKS) AssociateAccessPolicy(_ context.Context, in *eks.AssociateAccessPolicyInput, _ ...func(*eks.Options)) (*eks.AssociateAccessPolicyOutput, error) {
	f.policies = append(f.policies, aws_v2.ToString(in.PolicyArn))
	return &eks.AssociateAccessPolicyOutput{}, nil
}

func getAwsAuth(t *testing.T, clientset *fake.Clientset) map[string]string {
	t.Helper()
	cm, err := clientset.CoreV1().ConfigMaps("kube-system").Get(context.Background(), "aws-auth", metav1.GetOptions{})
	require.NoError(t, err)
	return cm.Data
}

func TestConfigureConfigMapMode(t *testing.T) {
	api := &fakeEKS{mode: ekstypes.AuthenticationModeConfigMap}
	clientset := fake.NewSimpleClientset()
	c := New(zap.NewNop(), api, clientset)

	err := c.Configure(context.Background(), "eks-cluster-account03_clouduser01-us-east-1-diox", "111122223333")
	require.NoError(t, err)

	// no access entries in CONFIG_MAP mode
	assert.Empty(t, api.accessEntries)

	data := getAwsAuth(t, clientset)
	assert.Contains(t, data["mapUsers"], "user/account03_clouduser01")
	assert.Contains(t, data["mapUsers"], ":root")
}

func TestConfigureAPIMode(t *testing.T) {
	api := &fakeEKS{mode: ekstypes.AuthenticationModeApi}
	clientset := fake.NewSimpleClientset()
	c := New(zap.NewNop(), api, clientset)

	err := c.Configure(context.Background(), "eks-cluster-root-us-east-1-k3df", "111122223333")
	require.NoError(t, err)

	assert.Equal(t, []string{"arn:aws:iam::111122223333:root"}, api.accessEntries)
	assert.Equal(t, []string{AdminPolicyARN}, api.policies)

	// no ConfigMap in API mode
	_, err = clientset.CoreV1().ConfigMaps("kube-system").Get(context.Background(), "aws-auth", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestConfigureBothMode(t *testing.T) {
	api := &fakeEKS{mode: ekstypes.AuthenticationModeApiAndConfigMap}
	clientset := fake.NewSimpleClientset()
	c := New(zap.NewNop(), api, clientset)

	err := c.Configure(context.Background(), "eks-cluster-account03_clouduser01-us-east-1-diox", "111122223333")
	require.NoError(t, err)

	assert.Len(t, api.accessEntries, 2)
	assert.Contains(t, getAwsAuth(t, clientset)["mapUsers"], "system:masters")
}

func TestApplyFallsBackToDeleteAndCreate(t *testing.T) {
	api := &fakeEKS{mode: ekstypes.AuthenticationModeConfigMap}
	clientset := fake.NewSimpleClientset()

	// the first create and the update both fail, forcing the chain down to
	// delete-and-create
	creates := 0
	clientset.PrependReactor("create", "configmaps", func(k8stesting.Action) (bool, runtime.Object, error) {
		creates++
		if creates == 1 {
			return true, nil, errors.New("apply rejected")
		}
		return false, nil, nil
	})
	clientset.PrependReactor("update", "configmaps", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("replace rejected")
	})

	c := New(zap.NewNop(), api, clientset)
	err := c.Configure(context.Background(), "eks-cluster-root-us-east-1-k3df", "111122223333")
	require.NoError(t, err)

	assert.Contains(t, getAwsAuth(t, clientset)["mapUsers"], ":root")
	assert.Equal(t, 2, creates)
}
