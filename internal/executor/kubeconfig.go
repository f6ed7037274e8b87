package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
)

// KubeClientFactory builds a cluster client for one EKS cluster; swapped
// for a fake in tests.
type KubeClientFactory func(ctx context.Context, h credentials.Handle, region, clusterName string) (kubernetes.Interface, error)

// credentialEnv is the environment handed to external tools run on behalf
// of a handle.
func credentialEnv(h credentials.Handle, region string) []string {
	return []string{
		"AWS_ACCESS_KEY_ID=" + h.AccessKey,
		"AWS_SECRET_ACCESS_KEY=" + h.SecretKey,
		"AWS_DEFAULT_REGION=" + region,
	}
}

// DefaultKubeClientFactory writes a kubeconfig with the aws CLI and builds
// a client-go clientset from it. Connectivity is verified with a server
// version probe before the client is returned.
func DefaultKubeClientFactory(lg *zap.Logger) KubeClientFactory {
	return func(ctx context.Context, h credentials.Handle, region, clusterName string) (kubernetes.Interface, error) {
		awsPath, err := exec.LookPath("aws")
		if err != nil {
			return nil, &ErrToolMissing{Tool: "aws"}
		}

		dir, err := os.MkdirTemp("", "infra-setup-kubeconfig-*")
		if err != nil {
			return nil, err
		}
		kubeconfigPath := filepath.Join(dir, "kubeconfig."+clusterName+".yaml")

		cmd := exec.CommandContext(ctx, awsPath,
			"eks", "update-kubeconfig",
			"--name", clusterName,
			"--region", region,
			"--kubeconfig", kubeconfigPath,
		)
		cmd.Env = append(os.Environ(), credentialEnv(h, region)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, errors.Wrapf(err, "update kubeconfig for %q: %s", clusterName, string(out))
		}

		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, errors.Wrapf(err, "load kubeconfig %q", kubeconfigPath)
		}
		clientset, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return nil, err
		}

		if _, err := clientset.Discovery().ServerVersion(); err != nil {
			return nil, errors.Wrapf(err, "verify connectivity to %q", clusterName)
		}
		lg.Info("connected to cluster",
			zap.String("cluster", clusterName),
			zap.String("region", region),
		)
		return clientset, nil
	}
}
