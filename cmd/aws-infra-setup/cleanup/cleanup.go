// Package cleanup implements "aws-infra-setup cleanup".
package cleanup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/flags"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/discover"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/orchestrator"
)

func init() {
	cobra.EnablePrefixMatching = true
}

var (
	session flags.Session

	nukeCommand   string
	nukeForceSend bool
)

// NewCommand implements "aws-infra-setup cleanup [service...]". With no
// arguments every supported service is cleaned.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:        "cleanup [service...]",
		Short:      "Discovers and deletes resources across the selected accounts",
		Long:       "Supported services: " + strings.Join(discover.Services, ", "),
		SuggestFor: []string{"delete", "nuke", "clean"},
		Args:       validateServices,
		Run:        cleanupFunc,
	}
	session.Register(cmd)
	f := cmd.PersistentFlags()
	f.StringVar(&nukeCommand, "nuke-command", "", "external destructive tool to drive through the confirmation prompt handler")
	f.BoolVar(&nukeForceSend, "nuke-force-send", false, "send the confirmation token after 10s even if no prompt was detected")
	return cmd
}

func validateServices(cmd *cobra.Command, args []string) error {
	known := map[string]bool{}
	for _, s := range discover.Services {
		known[s] = true
	}
	for _, arg := range args {
		if !known[arg] {
			return fmt.Errorf("unknown service %q; supported: %s", arg, strings.Join(discover.Services, ", "))
		}
	}
	return nil
}

func cleanupFunc(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services := args
	if len(services) == 0 {
		services = discover.Services
	}

	opts := session.Options()
	opts.CleanupServices = services
	opts.NukeCommand = nukeCommand
	opts.NukeForceSend = nukeForceSend
	opts.SessionID = orchestrator.NewSessionID(time.Now())

	lg := session.SessionLogger(opts.SessionID)
	defer lg.Sync()

	core := orchestrator.New(lg, opts, session.Confirmer())
	os.Exit(core.Run(ctx))
}
