// Package flags registers the session flags shared by the workflow
// subcommands and builds the orchestrator invocation from them.
package flags

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/executor"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/orchestrator"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/planner"
	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/logutil"
	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/zaputil"
)

// Session holds the flag values every workflow subcommand shares.
type Session struct {
	ConfigPath     string
	IamCredentials string
	Accounts       string
	Regions        []string

	Workers      int
	MaxResources int
	OutputDir    string
	CacheDir     string

	LogLevel string

	DryRun          bool
	NonInteractive  bool
	AllowProduction bool
	AutoRollback    bool
	NoFailFast      bool
	Debug           bool
}

// Register wires the shared flags onto the subcommand.
func (s *Session) Register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&s.ConfigPath, "config", "aws_accounts_config.json", "accounts configuration file path")
	f.StringVar(&s.IamCredentials, "iam-credentials", "", "IAM credentials file or directory; empty operates with account root credentials")
	f.StringVar(&s.Accounts, "accounts", "all", `account selection expression, e.g. "1,3-5,7" or "all"`)
	f.StringSliceVar(&s.Regions, "region", nil, "region(s) to operate in; defaults to the configured user regions")
	f.IntVar(&s.Workers, "workers", executor.DefaultWorkers, "worker pool size")
	f.IntVar(&s.MaxResources, "max-resources", planner.DefaultMaxResources, "abort when a session would touch more resources than this")
	f.StringVar(&s.OutputDir, "output-dir", ".", "base directory for ledgers, reports and logs")
	f.StringVar(&s.CacheDir, "cache-dir", defaultCacheDir(), "spot data cache directory")
	f.BoolVar(&s.DryRun, "dry-run", false, "plan and record without mutating AWS")
	f.BoolVar(&s.NonInteractive, "non-interactive", false, "never prompt; refuse anything that would require confirmation")
	f.BoolVar(&s.AllowProduction, "allow-production", false, "operate on accounts whose names look like production")
	f.BoolVar(&s.AutoRollback, "auto-rollback", false, "roll back this session's creations when tasks fail")
	f.BoolVar(&s.NoFailFast, "no-fail-fast", false, "return best-effort spot analysis flagged degraded instead of failing")
	f.StringVar(&s.LogLevel, "log-level", logutil.DefaultLogLevel, "log level: debug|info|warn|error")
	f.BoolVar(&s.Debug, "debug", false, "enable debug logging, including AWS SDK request logs")
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/aws-infra-setup"
	}
	return ".aws-infra-setup-cache"
}

// Options maps the flag values onto the orchestrator invocation.
func (s *Session) Options() orchestrator.Options {
	return orchestrator.Options{
		AccountsConfigPath: s.ConfigPath,
		IamCredentialsPath: s.IamCredentials,
		AccountSelection:   s.Accounts,
		Regions:            s.Regions,
		MaxResources:       s.MaxResources,
		Workers:            s.Workers,
		AllowProduction:    s.AllowProduction,
		NonInteractive:     s.NonInteractive,
		DryRun:             s.DryRun,
		AutoRollback:       s.AutoRollback,
		FailFast:           !s.NoFailFast,
		BaseDir:            s.OutputDir,
		CacheDir:           s.CacheDir,
		Debug:              s.Debug,
	}
}

// Logger builds the session logger; errors here are unrecoverable.
func (s *Session) Logger() *zap.Logger {
	lvl, err := logutil.ConvertToZapLevel(s.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level: %v\n", err)
		os.Exit(orchestrator.ExitConfig)
	}
	lg, err := zaputil.New(s.Debug || lvl == zap.DebugLevel, []string{"stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(orchestrator.ExitConfig)
	}
	return lg
}

// SessionLogger builds a logger that also tees into a dated session log
// file under <output-dir>/aws/logs/<YYYY-MM-DD>/.
func (s *Session) SessionLogger(sessionID string) *zap.Logger {
	lvl, err := logutil.ConvertToZapLevel(s.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level: %v\n", err)
		os.Exit(orchestrator.ExitConfig)
	}
	lg, logPath, err := zaputil.NewSession(s.Debug || lvl == zap.DebugLevel,
		filepath.Join(s.OutputDir, "aws", "logs"), sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create session logger: %v\n", err)
		os.Exit(orchestrator.ExitConfig)
	}
	lg.Info("session log", zap.String("path", logPath))
	return lg
}

// Confirmer returns the interactive yes/no prompt, or nil in
// non-interactive mode so every confirmation is refused.
func (s *Session) Confirmer() planner.Confirmer {
	if s.NonInteractive {
		return nil
	}
	return func(label string) bool {
		prompt := promptui.Prompt{
			Label:     label,
			IsConfirm: true,
		}
		answer, err := prompt.Run()
		if err != nil {
			return false
		}
		return answer == "y" || answer == "Y" || answer == "yes"
	}
}
