// Package credentials resolves and validates the account credentials
// a session operates with.
package credentials

import (
	"fmt"
	"strings"
)

// Kind is the class of a credential handle.
type Kind string

const (
	// KindRoot is an account root access key.
	KindRoot Kind = "root"
	// KindIAM is an IAM user access key.
	KindIAM Kind = "iam"
)

// Handle is one validated identity plus the regions it operates in.
// Handles are never persisted; they live for one session only.
type Handle struct {
	AccountName string   `json:"account-name"`
	AccountID   string   `json:"account-id"`
	Email       string   `json:"email,omitempty"`
	AccessKey   string   `json:"-"`
	SecretKey   string   `json:"-"`
	Kind        Kind     `json:"kind"`
	Username    string   `json:"username,omitempty"`
	Regions     []string `json:"regions"`
}

// DisplayName returns "accountName" for root handles and
// "accountName/username" for IAM handles.
func (h Handle) DisplayName() string {
	if h.Kind == KindIAM && h.Username != "" {
		return h.AccountName + "/" + h.Username
	}
	return h.AccountName
}

// ARN returns the principal ARN for the handle.
func (h Handle) ARN() string {
	if h.Kind == KindIAM && h.Username != "" {
		return fmt.Sprintf("arn:aws:iam::%s:user/%s", h.AccountID, h.Username)
	}
	return fmt.Sprintf("arn:aws:iam::%s:root", h.AccountID)
}

// productionMarkers flag account names that look like live environments.
var productionMarkers = []string{"prod", "production", "live", "main", "master"}

// LooksProduction reports whether the account name contains a production marker.
func (h Handle) LooksProduction() bool {
	name := strings.ToLower(h.AccountName)
	for _, m := range productionMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// AccountConfig is one entry of the accounts configuration file.
type AccountConfig struct {
	AccountID       string `json:"account_id"`
	Email           string `json:"email"`
	AccessKey       string `json:"access_key"`
	SecretKey       string `json:"secret_key"`
	UsersPerAccount int    `json:"users_per_account,omitempty"`
}

// UserSettings is the user_settings block of the accounts configuration file.
type UserSettings struct {
	UserRegions          []string `json:"user_regions"`
	UsersPerAccount      int      `json:"users_per_account"`
	AllowedInstanceTypes []string `json:"allowed_instance_types"`
	Password             string   `json:"password"`
}

// ConfigFile mirrors aws_accounts_config.json.
type ConfigFile struct {
	Accounts     map[string]AccountConfig `json:"accounts"`
	UserSettings UserSettings             `json:"user_settings"`
}

// IamRealUser is the human behind a generated IAM user.
type IamRealUser struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
}

// IamUser is one generated IAM user record.
type IamUser struct {
	Username        string      `json:"username"`
	RealUser        IamRealUser `json:"real_user"`
	Region          string      `json:"region"`
	AccessKeyID     string      `json:"access_key_id"`
	SecretAccessKey string      `json:"secret_access_key"`
	ConsolePassword string      `json:"console_password,omitempty"`
	ConsoleURL      string      `json:"console_url,omitempty"`
}

// IamAccount is the per-account block of an IAM credentials file.
type IamAccount struct {
	AccountID    string    `json:"account_id"`
	AccountEmail string    `json:"account_email"`
	Users        []IamUser `json:"users"`
}

// IamFile mirrors iam_users_credentials_<YYYYMMDD>_<HHMMSS>.json.
type IamFile struct {
	CreatedDate string                `json:"created_date"`
	CreatedTime string                `json:"created_time"`
	CreatedBy   string                `json:"created_by"`
	TotalUsers  int                   `json:"total_users"`
	Accounts    map[string]IamAccount `json:"accounts"`
}

// UserMapping mirrors user_mapping.json; an absent file is tolerated.
type UserMapping struct {
	UserMappings map[string]IamRealUser `json:"user_mappings"`
}
