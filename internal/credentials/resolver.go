package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/fileutil"
)

// placeholderPrefix marks account entries that were generated but never
// filled in; such entries are skipped on load.
const placeholderPrefix = "ADD_"

// IamFilePattern matches generated IAM credentials files. The embedded
// timestamp makes lexicographic order chronological.
const IamFilePattern = "iam_users_credentials_*.json"

// ErrNoValidCredentials is returned when every selected handle failed
// validation; the session cannot proceed.
var ErrNoValidCredentials = errors.New("no valid credentials after validation")

// ValidationResult classifies the outcome of an identity-lookup call.
type ValidationResult string

const (
	ValidationOK          ValidationResult = "ok"
	ValidationMismatch    ValidationResult = "mismatch"
	ValidationUnreachable ValidationResult = "unreachable"
)

// IdentityLookup resolves a handle to the account ID AWS reports for it.
// The production implementation calls sts.GetCallerIdentity with the
// handle's static credentials.
type IdentityLookup func(ctx context.Context, h Handle) (accountID string, err error)

// Resolver loads account configuration and produces validated handles.
type Resolver struct {
	lg     *zap.Logger
	lookup IdentityLookup
}

// NewResolver creates a Resolver using the given identity-lookup function.
func NewResolver(lg *zap.Logger, lookup IdentityLookup) *Resolver {
	return &Resolver{lg: lg, lookup: lookup}
}

// LoadAccounts reads aws_accounts_config.json. Entries whose access key
// begins with the placeholder marker are skipped. An empty result is a
// configuration error.
func (r *Resolver) LoadAccounts(path string) (*ConfigFile, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read accounts config %q", path)
	}
	var cfg ConfigFile
	if err := json.Unmarshal(d, &cfg); err != nil {
		return nil, pkgerrors.Wrapf(err, "parse accounts config %q", path)
	}
	for name, acct := range cfg.Accounts {
		if strings.HasPrefix(acct.AccessKey, placeholderPrefix) {
			r.lg.Warn("skipping account with placeholder access key", zap.String("account", name))
			delete(cfg.Accounts, name)
		}
	}
	if len(cfg.Accounts) == 0 {
		return nil, pkgerrors.Errorf("accounts config %q has no usable accounts", path)
	}
	return &cfg, nil
}

// LoadIamCredentialsFile reads an IAM credentials file. When path is a
// directory, the newest file matching IamFilePattern inside it is used.
func (r *Resolver) LoadIamCredentialsFile(path string) (*IamFile, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		newest, err := fileutil.NewestMatch(filepath.Join(path, IamFilePattern))
		if err != nil {
			return nil, pkgerrors.Wrap(err, "locate IAM credentials file")
		}
		r.lg.Info("selected newest IAM credentials file", zap.String("path", newest))
		path = newest
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read IAM credentials file %q", path)
	}
	var f IamFile
	if err := json.Unmarshal(d, &f); err != nil {
		return nil, pkgerrors.Wrapf(err, "parse IAM credentials file %q", path)
	}
	if len(f.Accounts) == 0 {
		return nil, pkgerrors.Errorf("IAM credentials file %q has no accounts", path)
	}
	return &f, nil
}

// LoadUserMapping reads user_mapping.json; a missing file yields an empty
// mapping.
func (r *Resolver) LoadUserMapping(path string) (*UserMapping, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &UserMapping{UserMappings: map[string]IamRealUser{}}, nil
		}
		return nil, pkgerrors.Wrapf(err, "read user mapping %q", path)
	}
	var m UserMapping
	if err := json.Unmarshal(d, &m); err != nil {
		return nil, pkgerrors.Wrapf(err, "parse user mapping %q", path)
	}
	if m.UserMappings == nil {
		m.UserMappings = map[string]IamRealUser{}
	}
	return &m, nil
}

// SelectAccounts applies a selection expression to the sorted account names.
func (r *Resolver) SelectAccounts(available map[string]AccountConfig, selection string) ([]string, error) {
	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)
	indices, err := ParseSelection(selection, len(names))
	if err != nil {
		return nil, err
	}
	selected := make([]string, 0, len(indices))
	for _, idx := range indices {
		selected = append(selected, names[idx-1])
	}
	return selected, nil
}

// BuildRootHandles produces one root handle per selected account, carrying
// the region set from regionChoice (a selection expression against the
// configured user regions, or explicit region codes).
func (r *Resolver) BuildRootHandles(cfg *ConfigFile, selected []string, regions []string) ([]Handle, error) {
	if len(regions) == 0 {
		regions = cfg.UserSettings.UserRegions
	}
	if len(regions) == 0 {
		return nil, pkgerrors.New("no regions configured")
	}
	handles := make([]Handle, 0, len(selected))
	for _, name := range selected {
		acct, ok := cfg.Accounts[name]
		if !ok {
			return nil, pkgerrors.Errorf("account %q not in configuration", name)
		}
		handles = append(handles, Handle{
			AccountName: name,
			AccountID:   acct.AccountID,
			Email:       acct.Email,
			AccessKey:   acct.AccessKey,
			SecretKey:   acct.SecretKey,
			Kind:        KindRoot,
			Regions:     append([]string(nil), regions...),
		})
	}
	return handles, nil
}

// BuildIamHandles produces one IAM handle per (selected account, user).
func (r *Resolver) BuildIamHandles(f *IamFile, selected []string) ([]Handle, error) {
	var handles []Handle
	for _, name := range selected {
		acct, ok := f.Accounts[name]
		if !ok {
			return nil, pkgerrors.Errorf("account %q not in IAM credentials file", name)
		}
		for _, u := range acct.Users {
			handles = append(handles, Handle{
				AccountName: name,
				AccountID:   acct.AccountID,
				Email:       acct.AccountEmail,
				AccessKey:   u.AccessKeyID,
				SecretKey:   u.SecretAccessKey,
				Kind:        KindIAM,
				Username:    u.Username,
				Regions:     []string{u.Region},
			})
		}
	}
	if len(handles) == 0 {
		return nil, pkgerrors.New("no IAM users in the selected accounts")
	}
	return handles, nil
}

// Validate performs one identity-lookup call for the handle.
func (r *Resolver) Validate(ctx context.Context, h Handle) ValidationResult {
	accountID, err := r.lookup(ctx, h)
	if err != nil {
		r.lg.Warn("identity lookup failed",
			zap.String("handle", h.DisplayName()),
			zap.Error(err),
		)
		return ValidationUnreachable
	}
	if accountID != h.AccountID {
		r.lg.Warn("identity mismatch",
			zap.String("handle", h.DisplayName()),
			zap.String("expected-account-id", h.AccountID),
			zap.String("actual-account-id", accountID),
		)
		return ValidationMismatch
	}
	return ValidationOK
}

// FilterValid validates every handle and returns the validated subset.
// It returns ErrNoValidCredentials when the subset is empty.
func (r *Resolver) FilterValid(ctx context.Context, handles []Handle) ([]Handle, error) {
	valid := make([]Handle, 0, len(handles))
	for _, h := range handles {
		switch res := r.Validate(ctx, h); res {
		case ValidationOK:
			r.lg.Info("validated credentials", zap.String("handle", h.DisplayName()))
			valid = append(valid, h)
		default:
			r.lg.Warn("excluding handle",
				zap.String("handle", h.DisplayName()),
				zap.String("result", string(res)),
			)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoValidCredentials
	}
	return valid, nil
}
