// Package provision implements "aws-infra-setup provision".
package provision

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/varadharajaan/aws-infra-setup-sub002/cmd/aws-infra-setup/flags"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/orchestrator"
)

func init() {
	cobra.EnablePrefixMatching = true
}

var (
	session flags.Session

	createEC2 bool
	createASG bool

	instanceType string
	ami          string
	keyName      string
	workload     string
	targetVcpu   int
)

// NewCommand implements "aws-infra-setup provision".
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:        "provision",
		Short:      "Provisions EC2 instances and auto scaling groups across the selected accounts",
		SuggestFor: []string{"create", "launch"},
		Run:        provisionFunc,
	}
	session.Register(cmd)
	f := cmd.PersistentFlags()
	f.BoolVar(&createEC2, "ec2", true, "launch one EC2 instance per (account, region)")
	f.BoolVar(&createASG, "asg", false, "create one auto scaling group per (account, region)")
	f.StringVar(&instanceType, "instance-type", "", "instance type; empty selects the best spot candidate")
	f.StringVar(&ami, "ami", "", "AMI id; empty resolves from the region mapping, then SSM")
	f.StringVar(&keyName, "key-name", "", "key pair name; empty generates one per (account, region)")
	f.StringVar(&workload, "workload", "mixed", "workload class for spot selection: general|compute|memory|storage|accelerated|mixed")
	f.IntVar(&targetVcpu, "target-vcpu", 16, "target vCPU capacity for spot placement scoring")
	return cmd
}

func provisionFunc(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := session.Options()
	opts.CreateEC2 = createEC2
	opts.CreateASG = createASG
	opts.InstanceType = instanceType
	opts.AMI = ami
	opts.KeyName = keyName
	opts.WorkloadClass = workload
	opts.TargetVcpu = targetVcpu
	opts.SessionID = orchestrator.NewSessionID(time.Now())

	lg := session.SessionLogger(opts.SessionID)
	defer lg.Sync()

	core := orchestrator.New(lg, opts, session.Confirmer())
	os.Exit(core.Run(ctx))
}
