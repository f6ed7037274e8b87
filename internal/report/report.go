// Package report renders session summaries from the ledger: JSON for
// machines, CSV for spreadsheets, HTML for humans, and a dashboard over
// recent sessions. The reporter never talks to AWS.
package report

import (
	"sort"
	"time"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/timeutil"
)

// Account statuses in the summary.
const (
	StatusSuccessful = "successful"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
)

// TypeRow is one (resourceType, counts) line inside an account summary.
type TypeRow struct {
	ResourceType string `json:"resource-type"`
	Created      int    `json:"created"`
	Retired      int    `json:"retired"`
	Failed       int    `json:"failed"`
}

// AccountSummary aggregates one account's outcomes.
type AccountSummary struct {
	AccountName string    `json:"account-name"`
	AccountID   string    `json:"account-id"`
	Status      string    `json:"status"`
	Created     int       `json:"created"`
	Retired     int       `json:"retired"`
	Failed      int       `json:"failed"`
	ByType      []TypeRow `json:"by-type"`
}

// Report is the full session summary plus the raw ledger.
type Report struct {
	SessionID string             `json:"session-id"`
	StartedAt time.Time          `json:"started-at"`
	EndedAt   time.Time          `json:"ended-at"`
	TimeFrame timeutil.TimeFrame `json:"time-frame"`
	User      string             `json:"user"`
	DryRun    bool               `json:"dry-run"`

	Successful int `json:"successful"`
	Partial    int `json:"partial"`
	FailedAcct int `json:"failed-accounts"`

	Accounts []AccountSummary `json:"accounts"`
	Entries  []ledger.Entry   `json:"entries"`
}

// Build folds the ledger into a report.
func Build(header ledger.Header, entries []ledger.Entry, endedAt time.Time) Report {
	r := Report{
		SessionID: header.SessionID,
		StartedAt: header.StartedAt,
		EndedAt:   endedAt,
		TimeFrame: timeutil.NewTimeFrame(header.StartedAt, endedAt),
		User:      header.User,
		DryRun:    header.DryRun,
		Entries:   entries,
	}

	type key struct{ account, resourceType string }
	accounts := map[string]*AccountSummary{}
	rows := map[key]*TypeRow{}
	for _, e := range entries {
		acct := accounts[e.Ref.AccountName]
		if acct == nil {
			acct = &AccountSummary{AccountName: e.Ref.AccountName, AccountID: e.Ref.AccountID}
			accounts[e.Ref.AccountName] = acct
		}
		k := key{e.Ref.AccountName, e.Ref.ResourceType}
		row := rows[k]
		if row == nil {
			row = &TypeRow{ResourceType: e.Ref.ResourceType}
			rows[k] = row
		}
		switch e.Event {
		case ledger.EventCreated:
			acct.Created++
			row.Created++
		case ledger.EventRetired:
			acct.Retired++
			row.Retired++
		case ledger.EventFailed, ledger.EventFailedRetire:
			acct.Failed++
			row.Failed++
		}
	}

	for k, row := range rows {
		accounts[k.account].ByType = append(accounts[k.account].ByType, *row)
	}
	for _, acct := range accounts {
		sort.Slice(acct.ByType, func(i, j int) bool {
			return acct.ByType[i].ResourceType < acct.ByType[j].ResourceType
		})
		switch {
		case acct.Failed == 0:
			acct.Status = StatusSuccessful
			r.Successful++
		case acct.Created+acct.Retired > 0:
			acct.Status = StatusPartial
			r.Partial++
		default:
			acct.Status = StatusFailed
			r.FailedAcct++
		}
		r.Accounts = append(r.Accounts, *acct)
	}
	sort.Slice(r.Accounts, func(i, j int) bool {
		return r.Accounts[i].AccountName < r.Accounts[j].AccountName
	})
	return r
}

// serviceForType maps ledger resource types to the service directory the
// report files land in.
var serviceForType = map[string]string{
	ledger.TypeInstance:               "ec2",
	ledger.TypeLaunchTemplate:         "ec2",
	ledger.TypeAutoScalingGroup:       "ec2",
	ledger.TypeSecurityGroup:          "ec2",
	ledger.TypeKeyPair:                "ec2",
	ledger.TypeS3Bucket:               "s3",
	ledger.TypeEKSCluster:             "eks",
	ledger.TypeIAMUser:                "iam",
	ledger.TypeIAMGroup:               "iam",
	ledger.TypeEventRule:              "eventbridge",
	ledger.TypeEventBus:               "eventbridge",
	ledger.TypeRedshiftCluster:        "redshift",
	ledger.TypeRedshiftSubnetGroup:    "redshift",
	ledger.TypeRedshiftParameterGroup: "redshift",
	ledger.TypeStateMachine:           "stepfunctions",
	ledger.TypeNotebookInstance:       "sagemaker",
	ledger.TypeSageMakerEndpoint:      "sagemaker",
	ledger.TypeBroker:                 "mq",
	ledger.TypeFileSystem:             "fsx",
	ledger.TypeGateway:                "storagegateway",
}

// Services lists the service directories the report touches, sorted.
func (r Report) Services() []string {
	seen := map[string]bool{}
	for _, e := range r.Entries {
		if s, ok := serviceForType[e.Ref.ResourceType]; ok {
			seen[s] = true
		}
	}
	services := make([]string, 0, len(seen))
	for s := range seen {
		services = append(services, s)
	}
	sort.Strings(services)
	if len(services) == 0 {
		services = []string{"ec2"}
	}
	return services
}

// forService rebuilds the report from only the entries belonging to one
// service directory, so per-service files carry per-service summaries.
func (r Report) forService(service string) Report {
	var scoped []ledger.Entry
	for _, e := range r.Entries {
		if serviceForType[e.Ref.ResourceType] == service {
			scoped = append(scoped, e)
		}
	}
	return Build(ledger.Header{
		SessionID: r.SessionID,
		StartedAt: r.StartedAt,
		User:      r.User,
		DryRun:    r.DryRun,
	}, scoped, r.EndedAt)
}
