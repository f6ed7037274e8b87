// aws-infra-setup provisions, cleans up, and rolls back AWS resources
// across multiple accounts and regions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/cleanup"
	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/provision"
	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/report"
	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/rollback"
	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/version"
)

var rootCmd = &cobra.Command{
	Use:        "aws-infra-setup",
	Short:      "multi-account AWS setup and cleanup CLI",
	SuggestFor: []string{"awsinfra"},
}

func init() {
	cobra.EnablePrefixMatching = true
}

func init() {
	rootCmd.AddCommand(
		provision.NewCommand(),
		cleanup.NewCommand(),
		rollback.NewCommand(),
		report.NewCommand(),
		version.NewCommand(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aws-infra-setup failed %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
