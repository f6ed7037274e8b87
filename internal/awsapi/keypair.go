package awsapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
)

// KeyPairCache ensures exactly one key-pair creation attempt per
// (account, region) per session. The private key material is written next
// to the session outputs with owner-only permissions.
type KeyPairCache struct {
	lg     *zap.Logger
	keyDir string

	mu   sync.Mutex
	done map[string]string
}

// NewKeyPairCache creates a cache writing private keys under keyDir.
func NewKeyPairCache(lg *zap.Logger, keyDir string) *KeyPairCache {
	return &KeyPairCache{lg: lg, keyDir: keyDir, done: make(map[string]string)}
}

// Ensure returns the session key-pair name for the handle's account in the
// region, creating the key pair on first call.
func (k *KeyPairCache) Ensure(ctx context.Context, c *Clients, h credentials.Handle, region string) (string, error) {
	cacheKey := h.AccountID + "/" + region

	k.mu.Lock()
	defer k.mu.Unlock()
	if name, ok := k.done[cacheKey]; ok {
		return name, nil
	}

	keyName := fmt.Sprintf("infra-setup-%s-%s", h.AccountName, region)
	_, err := c.EC2().DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{keyName},
	})
	if err == nil {
		k.lg.Info("key pair already exists",
			zap.String("key-name", keyName),
			zap.String("region", region),
		)
		k.done[cacheKey] = keyName
		return keyName, nil
	}
	if !IsNotFound(err) {
		return "", err
	}

	out, err := c.EC2().CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws_v2.String(keyName),
	})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(k.keyDir, 0700); err != nil {
		return "", err
	}
	keyPath := filepath.Join(k.keyDir, keyName+".pem")
	if err := os.WriteFile(keyPath, []byte(aws_v2.ToString(out.KeyMaterial)), 0400); err != nil {
		return "", err
	}
	k.lg.Info("created key pair",
		zap.String("key-name", keyName),
		zap.String("region", region),
		zap.String("private-key-path", keyPath),
	)
	k.done[cacheKey] = keyName
	return keyName, nil
}
