package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0600))
	return p
}

const accountsJSON = `{
  "accounts": {
    "account01": {"account_id": "111111111111", "email": "a1@example.com", "access_key": "AKIA1", "secret_key": "s1"},
    "account02": {"account_id": "222222222222", "email": "a2@example.com", "access_key": "AKIA2", "secret_key": "s2"},
    "account03": {"account_id": "333333333333", "email": "a3@example.com", "access_key": "ADD_ACCESS_KEY", "secret_key": "ADD_SECRET"}
  },
  "user_settings": {
    "user_regions": ["us-east-1", "us-west-2"],
    "users_per_account": 2,
    "allowed_instance_types": ["t3.micro"],
    "password": "x"
  }
}`

func TestLoadAccountsSkipsPlaceholders(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil)
	p := writeFile(t, t.TempDir(), "aws_accounts_config.json", accountsJSON)

	cfg, err := r.LoadAccounts(p)
	require.NoError(t, err)
	assert.Len(t, cfg.Accounts, 2)
	assert.NotContains(t, cfg.Accounts, "account03")
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.UserSettings.UserRegions)
}

func TestLoadAccountsEmpty(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil)
	p := writeFile(t, t.TempDir(), "aws_accounts_config.json",
		`{"accounts": {"a": {"account_id": "1", "access_key": "ADD_X", "secret_key": "y"}}, "user_settings": {}}`)
	_, err := r.LoadAccounts(p)
	require.Error(t, err)
}

func TestLoadIamCredentialsNewestFile(t *testing.T) {
	dir := t.TempDir()
	old := `{"created_date": "2026-08-01", "accounts": {"account01": {"account_id": "111111111111", "users": [{"username": "old", "region": "us-east-1"}]}}}`
	newer := `{"created_date": "2026-08-20", "accounts": {"account01": {"account_id": "111111111111", "users": [{"username": "new", "region": "us-east-1"}]}}}`
	writeFile(t, dir, "iam_users_credentials_20260801_090000.json", old)
	writeFile(t, dir, "iam_users_credentials_20260820_120000.json", newer)

	r := NewResolver(zap.NewNop(), nil)
	f, err := r.LoadIamCredentialsFile(dir)
	require.NoError(t, err)
	require.Len(t, f.Accounts["account01"].Users, 1)
	assert.Equal(t, "new", f.Accounts["account01"].Users[0].Username)
}

func TestLoadUserMappingAbsent(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil)
	m, err := r.LoadUserMapping(filepath.Join(t.TempDir(), "user_mapping.json"))
	require.NoError(t, err)
	assert.Empty(t, m.UserMappings)
}

func TestSelectAccounts(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil)
	available := map[string]AccountConfig{
		"account01": {}, "account02": {}, "account03": {},
	}
	selected, err := r.SelectAccounts(available, "1,3")
	require.NoError(t, err)
	assert.Equal(t, []string{"account01", "account03"}, selected)
}

func TestBuildRootHandles(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil)
	cfg := &ConfigFile{
		Accounts: map[string]AccountConfig{
			"account01": {AccountID: "111111111111", AccessKey: "AKIA1", SecretKey: "s1"},
		},
		UserSettings: UserSettings{UserRegions: []string{"us-east-1", "ap-south-1"}},
	}
	handles, err := r.BuildRootHandles(cfg, []string{"account01"}, nil)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, KindRoot, handles[0].Kind)
	assert.Equal(t, []string{"us-east-1", "ap-south-1"}, handles[0].Regions)
	assert.Equal(t, "arn:aws:iam::111111111111:root", handles[0].ARN())
}

func TestBuildIamHandles(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil)
	f := &IamFile{
		Accounts: map[string]IamAccount{
			"account03": {
				AccountID: "333333333333",
				Users: []IamUser{
					{Username: "account03_clouduser01", Region: "us-east-1", AccessKeyID: "AKIAX", SecretAccessKey: "sx"},
					{Username: "account03_clouduser02", Region: "us-west-2", AccessKeyID: "AKIAY", SecretAccessKey: "sy"},
				},
			},
		},
	}
	handles, err := r.BuildIamHandles(f, []string{"account03"})
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, KindIAM, handles[0].Kind)
	assert.Equal(t, []string{"us-east-1"}, handles[0].Regions)
	assert.Equal(t, "arn:aws:iam::333333333333:user/account03_clouduser01", handles[0].ARN())
	assert.Equal(t, "account03/account03_clouduser02", handles[1].DisplayName())
}

func TestFilterValid(t *testing.T) {
	lookup := func(_ context.Context, h Handle) (string, error) {
		switch h.AccountName {
		case "good":
			return h.AccountID, nil
		case "mismatch":
			return "999999999999", nil
		default:
			return "", errors.New("connect timeout")
		}
	}
	r := NewResolver(zap.NewNop(), lookup)
	handles := []Handle{
		{AccountName: "good", AccountID: "111111111111"},
		{AccountName: "mismatch", AccountID: "222222222222"},
		{AccountName: "unreachable", AccountID: "333333333333"},
	}
	valid, err := r.FilterValid(context.Background(), handles)
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "good", valid[0].AccountName)
}

func TestFilterValidAllRejected(t *testing.T) {
	lookup := func(_ context.Context, _ Handle) (string, error) {
		return "", errors.New("access denied")
	}
	r := NewResolver(zap.NewNop(), lookup)
	_, err := r.FilterValid(context.Background(), []Handle{{AccountName: "a", AccountID: "1"}})
	require.ErrorIs(t, err, ErrNoValidCredentials)
}

func TestLooksProduction(t *testing.T) {
	assert.True(t, Handle{AccountName: "acme-production"}.LooksProduction())
	assert.True(t, Handle{AccountName: "LIVE-payments"}.LooksProduction())
	assert.False(t, Handle{AccountName: "account01"}.LooksProduction())
}
