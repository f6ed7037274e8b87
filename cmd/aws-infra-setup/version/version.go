// Package version implements "aws-infra-setup version".
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varadharajaan/aws-infra-setup-sub002/version"
)

func init() {
	cobra.EnablePrefixMatching = true
}

// NewCommand implements "aws-infra-setup version".
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints out aws-infra-setup version",
		Run:   versionFunc,
	}
}

func versionFunc(cmd *cobra.Command, args []string) {
	fmt.Printf(`GitCommit: %s
ReleaseVersion: %s
BuildTime: %s
`,
		version.GitCommit,
		version.ReleaseVersion,
		version.BuildTime,
	)
}
