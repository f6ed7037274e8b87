package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/csvutil"
	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/fileutil"
)

// Writer renders a report into the aws/<service>/reports/{json|html|csv}
// directory tree under its base directory.
type Writer struct {
	lg      *zap.Logger
	baseDir string
}

func NewWriter(lg *zap.Logger, baseDir string) *Writer {
	return &Writer{lg: lg, baseDir: baseDir}
}

func (w *Writer) dir(service, format string) string {
	return filepath.Join(w.baseDir, "aws", service, "reports", format)
}

// WriteAll renders the report in every format, one set per service the
// session touched. It returns the paths written.
func (w *Writer) WriteAll(r Report) ([]string, error) {
	var paths []string
	for _, service := range r.Services() {
		scoped := r.forService(service)

		jsonPath := filepath.Join(w.dir(service, "json"), "report_"+r.SessionID+".json")
		if err := w.writeJSON(scoped, jsonPath); err != nil {
			return paths, err
		}
		paths = append(paths, jsonPath)

		csvPath := filepath.Join(w.dir(service, "csv"), "report_"+r.SessionID+".csv")
		if err := w.writeCSV(scoped, csvPath); err != nil {
			return paths, err
		}
		paths = append(paths, csvPath)

		htmlPath := filepath.Join(w.dir(service, "html"), "report_"+r.SessionID+".html")
		if err := w.writeHTML(scoped, htmlPath); err != nil {
			return paths, err
		}
		paths = append(paths, htmlPath)
	}
	w.lg.Info("wrote session reports",
		zap.String("session-id", r.SessionID),
		zap.Int("files", len(paths)),
	)
	return paths, nil
}

func (w *Writer) writeJSON(r Report, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, 0644)
}

// writeCSV emits one row per (account, resourceType).
func (w *Writer) writeCSV(r Report, path string) error {
	header := []string{"session-id", "account-name", "account-id", "resource-type", "created", "retired", "failed", "status"}
	var rows [][]string
	for _, acct := range r.Accounts {
		for _, row := range acct.ByType {
			rows = append(rows, []string{
				r.SessionID,
				acct.AccountName,
				acct.AccountID,
				row.ResourceType,
				strconv.Itoa(row.Created),
				strconv.Itoa(row.Retired),
				strconv.Itoa(row.Failed),
				acct.Status,
			})
		}
	}
	if err := csvutil.Save(header, rows, path); err != nil {
		return errors.Wrapf(err, "write %q", path)
	}
	return nil
}

// htmlReport is the template payload for one session page.
type htmlReport struct {
	Report
	Duration string
	Total    int
}

func (w *Writer) writeHTML(r Report, path string) error {
	payload := htmlReport{
		Report:   r,
		Duration: humanize.RelTime(r.StartedAt, r.EndedAt, "", ""),
		Total:    len(r.Entries),
	}
	buf := newBuffer()
	if err := sessionTmpl.Execute(buf, payload); err != nil {
		return errors.Wrapf(err, "render %q", path)
	}
	return fileutil.WriteAtomic(path, buf.Bytes(), 0644)
}

// summaryLine is the one-line human rendering used by the CLI after a run.
func (r Report) summaryLine() string {
	return fmt.Sprintf("session %s: %d successful, %d partial, %d failed accounts (%d ledger entries)",
		r.SessionID, r.Successful, r.Partial, r.FailedAcct, len(r.Entries))
}

// SummaryLine exposes the one-line rendering.
func (r Report) SummaryLine() string { return r.summaryLine() }
