package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/executor"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

func writeAccountsConfig(t *testing.T, dir string, accounts map[string]credentials.AccountConfig) string {
	t.Helper()
	cfg := credentials.ConfigFile{
		Accounts: accounts,
		UserSettings: credentials.UserSettings{
			UserRegions:          []string{"us-east-1"},
			UsersPerAccount:      1,
			AllowedInstanceTypes: []string{"t3.micro"},
		},
	}
	d, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "aws_accounts_config.json")
	require.NoError(t, os.WriteFile(path, d, 0600))
	return path
}

func threeAccounts() map[string]credentials.AccountConfig {
	return map[string]credentials.AccountConfig{
		"account01": {AccountID: "111111111111", Email: "a1@example.com", AccessKey: "AKIA1", SecretKey: "s1"},
		"account02": {AccountID: "222222222222", Email: "a2@example.com", AccessKey: "AKIA2", SecretKey: "s2"},
		"account03": {AccountID: "333333333333", Email: "a3@example.com", AccessKey: "AKIA3", SecretKey: "s3"},
	}
}

func TestNewSessionID(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	id := NewSessionID(now)
	assert.True(t, strings.HasPrefix(id, "20260824_103000-"), id)
	assert.Len(t, id, len("20260824_103000-")+6)
}

func TestRunMissingAccountsConfig(t *testing.T) {
	c := New(zap.NewNop(), Options{
		AccountsConfigPath: filepath.Join(t.TempDir(), "nope.json"),
		BaseDir:            t.TempDir(),
		CreateEC2:          true,
		DryRun:             true,
	}, nil)
	assert.Equal(t, ExitConfig, c.Run(context.Background()))
}

func TestRunAllPlaceholderAccounts(t *testing.T) {
	dir := t.TempDir()
	path := writeAccountsConfig(t, dir, map[string]credentials.AccountConfig{
		"account01": {AccountID: "1", AccessKey: "ADD_ACCESS_KEY_HERE", SecretKey: "ADD_SECRET"},
	})
	c := New(zap.NewNop(), Options{
		AccountsConfigPath: path,
		BaseDir:            t.TempDir(),
		CreateEC2:          true,
		DryRun:             true,
	}, nil)
	assert.Equal(t, ExitConfig, c.Run(context.Background()))
}

func TestRunRefusesEmptyIntent(t *testing.T) {
	dir := t.TempDir()
	path := writeAccountsConfig(t, dir, threeAccounts())
	c := New(zap.NewNop(), Options{
		AccountsConfigPath: path,
		BaseDir:            t.TempDir(),
		DryRun:             true,
	}, nil)
	assert.Equal(t, ExitConfig, c.Run(context.Background()))
}

// TestRunDryRunProvision drives the whole session path without AWS: three
// accounts each get a create-ec2 and a create-asg entry with dry-run ids,
// the exit code is 0, and reports land in the output tree.
func TestRunDryRunProvision(t *testing.T) {
	dir := t.TempDir()
	base := t.TempDir()
	path := writeAccountsConfig(t, dir, threeAccounts())

	c := New(zap.NewNop(), Options{
		AccountsConfigPath: path,
		BaseDir:            base,
		CreateEC2:          true,
		CreateASG:          true,
		DryRun:             true,
		NonInteractive:     true,
		Workers:            3,
	}, nil)
	require.Equal(t, ExitSuccess, c.Run(context.Background()))

	sessions, err := ledger.ListSessions(filepath.Join(base, "aws", "ledger"))
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	header, entries, err := ledger.Load(sessions[0])
	require.NoError(t, err)
	assert.True(t, header.DryRun)
	assert.Equal(t, "t3.micro", header.InvocationConfig["instance-type"])
	require.Len(t, entries, 6)
	for _, e := range entries {
		assert.Equal(t, ledger.EventCreated, e.Event)
		assert.True(t, strings.HasPrefix(e.Ref.ResourceID, "dry-run-"), e.Ref.ResourceID)
	}

	reportDir := filepath.Join(base, "aws", "ec2", "reports", "json")
	files, err := os.ReadDir(reportDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.FileExists(t, filepath.Join(base, "aws", "dashboard.html"))
}

func TestRunProductionRefusedNonInteractive(t *testing.T) {
	dir := t.TempDir()
	path := writeAccountsConfig(t, dir, map[string]credentials.AccountConfig{
		"prod-account": {AccountID: "1", AccessKey: "k", SecretKey: "s"},
	})
	c := New(zap.NewNop(), Options{
		AccountsConfigPath: path,
		BaseDir:            t.TempDir(),
		CreateEC2:          true,
		DryRun:             true,
		NonInteractive:     true,
	}, nil)
	assert.Equal(t, ExitConfig, c.Run(context.Background()))
}

func createdEntry(account, id, resourceType string) ledger.Entry {
	return ledger.Entry{
		Event: ledger.EventCreated,
		Ref: ledger.ResourceRef{
			ResourceID:   id,
			ResourceType: resourceType,
			AccountName:  account,
			Region:       "us-east-1",
		},
	}
}

// TestBuildRollbackGraph checks the serial deletion chain: the group first,
// then its launch template, then the instance.
func TestBuildRollbackGraph(t *testing.T) {
	entries := []ledger.Entry{
		createdEntry("account01", "lt-1", ledger.TypeLaunchTemplate),
		createdEntry("account01", "asg-1", ledger.TypeAutoScalingGroup),
		createdEntry("account01", "i-1", ledger.TypeInstance),
	}
	h := credentials.Handle{AccountName: "account01", Kind: credentials.KindRoot}
	handleFor := func(string) (credentials.Handle, bool) { return h, true }

	g, n, err := BuildRollbackGraph(zap.NewNop(), entries, handleFor)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all := g.Tasks()
	require.Len(t, all, 3)
	assert.Equal(t, tasks.KindDeleteASG, all[0].Kind)
	assert.Equal(t, tasks.KindDeleteLaunchTemplate, all[1].Kind)
	assert.Equal(t, tasks.KindDeleteInstance, all[2].Kind)
	assert.Equal(t, "asg-1", all[0].Payload["resource-id"])

	// serial chain: each task depends on its predecessor
	assert.Empty(t, all[0].DependsOn)
	assert.Equal(t, []string{all[0].ID}, all[1].DependsOn)
	assert.Equal(t, []string{all[1].ID}, all[2].DependsOn)
}

func TestBuildRollbackGraphSkipsRetired(t *testing.T) {
	entries := []ledger.Entry{
		createdEntry("account01", "i-1", ledger.TypeInstance),
		{Event: ledger.EventRetired, Ref: ledger.ResourceRef{
			ResourceID: "i-1", ResourceType: ledger.TypeInstance, AccountName: "account01",
		}},
	}
	handleFor := func(string) (credentials.Handle, bool) {
		return credentials.Handle{AccountName: "account01"}, true
	}
	_, n, err := BuildRollbackGraph(zap.NewNop(), entries, handleFor)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBuildRollbackGraphSkipsUnknownAccounts(t *testing.T) {
	entries := []ledger.Entry{
		createdEntry("ghost", "i-1", ledger.TypeInstance),
	}
	handleFor := func(string) (credentials.Handle, bool) { return credentials.Handle{}, false }
	_, n, err := BuildRollbackGraph(zap.NewNop(), entries, handleFor)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleIndexPrefersRoot(t *testing.T) {
	idx := handleIndex([]credentials.Handle{
		{AccountName: "account01", Kind: credentials.KindIAM, Username: "u1"},
		{AccountName: "account01", Kind: credentials.KindRoot},
	})
	h, ok := idx("account01")
	require.True(t, ok)
	assert.Equal(t, credentials.KindRoot, h.Kind)
}

func TestShouldRollback(t *testing.T) {
	base := Options{BaseDir: "x"}

	t.Run("clean run never rolls back", func(t *testing.T) {
		c := New(zap.NewNop(), base, nil)
		assert.False(t, c.shouldRollback(context.Background(), executor.Summary{Succeeded: 3}))
	})
	t.Run("auto-rollback on failure", func(t *testing.T) {
		opts := base
		opts.AutoRollback = true
		c := New(zap.NewNop(), opts, nil)
		assert.True(t, c.shouldRollback(context.Background(), executor.Summary{Failed: 1}))
	})
	t.Run("prompted when interactive", func(t *testing.T) {
		c := New(zap.NewNop(), base, func(string) bool { return true })
		assert.True(t, c.shouldRollback(context.Background(), executor.Summary{Failed: 1}))
	})
	t.Run("non-interactive without auto-rollback declines", func(t *testing.T) {
		opts := base
		opts.NonInteractive = true
		c := New(zap.NewNop(), opts, func(string) bool { return true })
		assert.False(t, c.shouldRollback(context.Background(), executor.Summary{Failed: 1}))
	})
	t.Run("dry run never rolls back", func(t *testing.T) {
		opts := base
		opts.DryRun = true
		opts.AutoRollback = true
		c := New(zap.NewNop(), opts, nil)
		assert.False(t, c.shouldRollback(context.Background(), executor.Summary{Failed: 1}))
	})
	t.Run("cancelled session never rolls back", func(t *testing.T) {
		opts := base
		opts.AutoRollback = true
		c := New(zap.NewNop(), opts, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, c.shouldRollback(ctx, executor.Summary{Failed: 1}))
	})
}

func TestRollbackSessionRefusesDryRun(t *testing.T) {
	dir := t.TempDir()
	base := t.TempDir()
	path := writeAccountsConfig(t, dir, threeAccounts())

	ledgerDir := filepath.Join(base, "aws", "ledger")
	led, err := ledger.New(zap.NewNop(), ledgerDir, ledger.Header{
		SessionID: "20260824_090000-dryrun", DryRun: true,
	})
	require.NoError(t, err)
	require.NoError(t, led.Close())

	c := New(zap.NewNop(), Options{
		AccountsConfigPath: path,
		BaseDir:            base,
		DryRun:             true,
	}, nil)
	assert.Equal(t, ExitConfig, c.RollbackSession(context.Background(), "20260824_090000-dryrun"))
}
