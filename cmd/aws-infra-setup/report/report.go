// Package report implements "aws-infra-setup report".
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/flags"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/orchestrator"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/report"
)

func init() {
	cobra.EnablePrefixMatching = true
}

var session flags.Session

// NewCommand implements "aws-infra-setup report [session-id]". With a
// session id the session's report files are regenerated from its ledger;
// the dashboard is rebuilt either way.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:        "report [session-id]",
		Short:      "Regenerates report files and the dashboard from session ledgers",
		SuggestFor: []string{"summary"},
		Args:       cobra.MaximumNArgs(1),
		Run:        reportFunc,
	}
	session.Register(cmd)
	return cmd
}

func reportFunc(cmd *cobra.Command, args []string) {
	lg := session.Logger()
	defer lg.Sync()

	ledgerDir := filepath.Join(session.OutputDir, "aws", "ledger")
	w := report.NewWriter(lg, session.OutputDir)

	if len(args) == 1 {
		header, entries, err := ledger.Load(ledger.Path(ledgerDir, args[0]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load session ledger: %v\n", err)
			os.Exit(orchestrator.ExitConfig)
		}
		rep := report.Build(header, entries, time.Now().UTC())
		fmt.Println(rep.SummaryLine())
		if _, err := w.WriteAll(rep); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write reports: %v\n", err)
			os.Exit(orchestrator.ExitFailed)
		}
	}

	if _, err := w.WriteDashboard(ledgerDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dashboard: %v\n", err)
		os.Exit(orchestrator.ExitFailed)
	}
	os.Exit(orchestrator.ExitSuccess)
}
