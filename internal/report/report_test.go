package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
)

func entry(event ledger.Event, account, id, resourceType string) ledger.Entry {
	return ledger.Entry{
		Event: event,
		Ref: ledger.ResourceRef{
			ResourceID:   id,
			ResourceType: resourceType,
			AccountName:  account,
			AccountID:    "111122223333",
			Region:       "us-east-1",
		},
		Timestamp: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
}

func sampleHeader() ledger.Header {
	return ledger.Header{
		SessionID: "20260824_100000-abc123",
		StartedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		User:      "varadhan",
	}
}

func TestBuildStatuses(t *testing.T) {
	entries := []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
		entry(ledger.EventRetired, "account01", "sg-1", ledger.TypeSecurityGroup),

		entry(ledger.EventRetired, "account02", "i-2", ledger.TypeInstance),
		entry(ledger.EventFailed, "account02", "sg-2", ledger.TypeSecurityGroup),

		entry(ledger.EventFailedRetire, "account03", "bucket-a", ledger.TypeS3Bucket),
	}
	r := Build(sampleHeader(), entries, time.Date(2026, 8, 24, 10, 5, 0, 0, time.UTC))

	assert.Equal(t, 1, r.Successful)
	assert.Equal(t, 1, r.Partial)
	assert.Equal(t, 1, r.FailedAcct)

	require.Len(t, r.Accounts, 3)
	assert.Equal(t, "account01", r.Accounts[0].AccountName)
	assert.Equal(t, StatusSuccessful, r.Accounts[0].Status)
	assert.Equal(t, StatusPartial, r.Accounts[1].Status)
	assert.Equal(t, StatusFailed, r.Accounts[2].Status)
}

func TestBuildTypeRows(t *testing.T) {
	entries := []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
		entry(ledger.EventRetired, "account01", "i-2", ledger.TypeInstance),
		entry(ledger.EventCreated, "account01", "i-3", ledger.TypeInstance),
		entry(ledger.EventRetired, "account01", "sg-1", ledger.TypeSecurityGroup),
	}
	r := Build(sampleHeader(), entries, time.Now())

	require.Len(t, r.Accounts, 1)
	byType := r.Accounts[0].ByType
	require.Len(t, byType, 2)
	// sorted by resource type
	assert.Equal(t, ledger.TypeInstance, byType[0].ResourceType)
	assert.Equal(t, 1, byType[0].Created)
	assert.Equal(t, 2, byType[0].Retired)
	assert.Equal(t, ledger.TypeSecurityGroup, byType[1].ResourceType)
}

func TestBuildIgnoresRulesCleared(t *testing.T) {
	entries := []ledger.Entry{
		entry(ledger.EventRulesCleared, "account01", "sg-1", ledger.TypeSecurityGroup),
		entry(ledger.EventRetired, "account01", "sg-1", ledger.TypeSecurityGroup),
	}
	r := Build(sampleHeader(), entries, time.Now())
	require.Len(t, r.Accounts, 1)
	assert.Equal(t, 1, r.Accounts[0].Retired)
	assert.Equal(t, 0, r.Accounts[0].Created)
	assert.Equal(t, 0, r.Accounts[0].Failed)
}

func TestServices(t *testing.T) {
	entries := []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
		entry(ledger.EventRetired, "account01", "bucket-a", ledger.TypeS3Bucket),
		entry(ledger.EventRetired, "account01", "cluster-x", ledger.TypeRedshiftCluster),
	}
	r := Build(sampleHeader(), entries, time.Now())
	assert.Equal(t, []string{"ec2", "redshift", "s3"}, r.Services())

	empty := Build(sampleHeader(), nil, time.Now())
	assert.Equal(t, []string{"ec2"}, empty.Services())
}

func TestWriteAllLayout(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(zap.NewNop(), base)

	entries := []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
		entry(ledger.EventRetired, "account01", "bucket-a", ledger.TypeS3Bucket),
	}
	r := Build(sampleHeader(), entries, time.Now())

	paths, err := w.WriteAll(r)
	require.NoError(t, err)
	require.Len(t, paths, 6) // 2 services x 3 formats

	for _, svc := range []string{"ec2", "s3"} {
		for _, format := range []string{"json", "csv", "html"} {
			path := filepath.Join(base, "aws", svc, "reports", format,
				"report_"+r.SessionID+"."+format)
			assert.FileExists(t, path)
		}
	}
}

func TestWriteJSONScopedToService(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(zap.NewNop(), base)

	entries := []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
		entry(ledger.EventRetired, "account01", "bucket-a", ledger.TypeS3Bucket),
	}
	r := Build(sampleHeader(), entries, time.Now())
	_, err := w.WriteAll(r)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, "aws", "s3", "reports", "json",
		"report_"+r.SessionID+".json"))
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "bucket-a", got.Entries[0].Ref.ResourceID)
}

func TestWriteCSVRows(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(zap.NewNop(), base)

	entries := []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
		entry(ledger.EventFailed, "account01", "sg-1", ledger.TypeSecurityGroup),
		entry(ledger.EventRetired, "account02", "i-2", ledger.TypeInstance),
	}
	r := Build(sampleHeader(), entries, time.Now())
	_, err := w.WriteAll(r)
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(base, "aws", "ec2", "reports", "csv",
		"report_"+r.SessionID+".csv"))
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4) // header + 3 (account, type) rows
	assert.Equal(t, "session-id", records[0][0])
	assert.Equal(t, "account01", records[1][1])
	assert.Equal(t, ledger.TypeInstance, records[1][3])
	assert.Equal(t, "partial", records[1][7])
}

func TestWriteHTMLContainsSummary(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(zap.NewNop(), base)

	entries := []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
	}
	r := Build(sampleHeader(), entries, time.Now())
	_, err := w.WriteAll(r)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, "aws", "ec2", "reports", "html",
		"report_"+r.SessionID+".html"))
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, r.SessionID)
	assert.Contains(t, html, "account01")
	assert.Contains(t, html, "successful")
}

func TestSummaryLine(t *testing.T) {
	r := Build(sampleHeader(), []ledger.Entry{
		entry(ledger.EventRetired, "account01", "i-1", ledger.TypeInstance),
	}, time.Now())
	line := r.SummaryLine()
	assert.Contains(t, line, r.SessionID)
	assert.Contains(t, line, "1 successful")
}

func TestDashboard(t *testing.T) {
	lg := zap.NewNop()
	ledgerDir := t.TempDir()

	for _, id := range []string{"20260823_090000-aaa111", "20260824_100000-bbb222"} {
		led, err := ledger.New(lg, ledgerDir, ledger.Header{
			SessionID: id,
			StartedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
			User:      "varadhan",
		})
		require.NoError(t, err)
		require.NoError(t, led.Retired(ledger.ResourceRef{
			ResourceID:   "i-1",
			ResourceType: ledger.TypeInstance,
			AccountName:  "account01",
		}, false))
		require.NoError(t, led.Close())
	}

	base := t.TempDir()
	w := NewWriter(lg, base)
	path, err := w.WriteDashboard(ledgerDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "aws", "dashboard.html"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	// newest first
	first := strings.Index(html, "20260824_100000-bbb222")
	second := strings.Index(html, "20260823_090000-aaa111")
	require.Greater(t, first, 0)
	require.Greater(t, second, 0)
	assert.Less(t, first, second)
}

func TestDashboardEmptyDir(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(zap.NewNop(), base)
	path, err := w.WriteDashboard(t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No sessions recorded yet")
}
