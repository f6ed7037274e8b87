// Package rollback implements "aws-infra-setup rollback".
package rollback

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/flags"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/orchestrator"
)

func init() {
	cobra.EnablePrefixMatching = true
}

var session flags.Session

// NewCommand implements "aws-infra-setup rollback <session-id>": it replays
// the session ledger's rollback plan, deleting every resource the session
// created and did not already retire.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:        "rollback <session-id>",
		Short:      "Deletes the resources a previous session created",
		SuggestFor: []string{"undo", "revert"},
		Args:       cobra.ExactArgs(1),
		Run:        rollbackFunc,
	}
	session.Register(cmd)
	return cmd
}

func rollbackFunc(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg := session.Logger()
	defer lg.Sync()

	core := orchestrator.New(lg, session.Options(), session.Confirmer())
	os.Exit(core.RollbackSession(ctx, args[0]))
}
