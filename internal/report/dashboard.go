package report

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/fileutil"
)

// dashboardSessions caps how many recent sessions the dashboard shows.
const dashboardSessions = 10

type dashboardRow struct {
	SessionID string
	StartedAt time.Time
	User      string
	DryRun    bool
	OK        int
	Fail      int
	OKPct     int
	FailPct   int
}

type dashboardPage struct {
	Sessions []dashboardRow
}

// WriteDashboard renders aws/dashboard.html from the most recent session
// ledgers under ledgerDir. Unreadable ledger files are skipped with a
// warning rather than failing the whole page.
func (w *Writer) WriteDashboard(ledgerDir string) (string, error) {
	paths, err := ledger.ListSessions(ledgerDir)
	if err != nil {
		return "", errors.Wrapf(err, "list sessions in %q", ledgerDir)
	}
	if len(paths) > dashboardSessions {
		paths = paths[:dashboardSessions]
	}

	var page dashboardPage
	for _, path := range paths {
		header, entries, err := ledger.Load(path)
		if err != nil {
			w.lg.Warn("skipping unreadable ledger", zap.String("path", path), zap.Error(err))
			continue
		}
		row := dashboardRow{
			SessionID: header.SessionID,
			StartedAt: header.StartedAt,
			User:      header.User,
			DryRun:    header.DryRun,
		}
		for _, e := range entries {
			switch e.Event {
			case ledger.EventCreated, ledger.EventRetired:
				row.OK++
			case ledger.EventFailed, ledger.EventFailedRetire:
				row.Fail++
			}
		}
		if total := row.OK + row.Fail; total > 0 {
			row.OKPct = row.OK * 100 / total
			row.FailPct = 100 - row.OKPct
		}
		page.Sessions = append(page.Sessions, row)
	}

	buf := newBuffer()
	if err := dashboardTmpl.Execute(buf, page); err != nil {
		return "", errors.Wrap(err, "render dashboard")
	}
	path := filepath.Join(w.baseDir, "aws", "dashboard.html")
	if err := fileutil.WriteAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", err
	}
	w.lg.Info("wrote dashboard",
		zap.String("path", path),
		zap.Int("sessions", len(page.Sessions)),
	)
	return path, nil
}
