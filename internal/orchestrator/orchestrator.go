// Package orchestrator drives one session end to end: resolve credentials,
// plan the task graph, execute it through the worker pool, then flush
// reports and optionally roll the session back from its ledger.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/discover"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/executor"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/planner"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/report"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/spot"
	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/randutil"
)

// Process exit codes. 0-3 mirror executor.Summary.Worst; 4 is reserved for
// configuration errors that abort before any task runs.
const (
	ExitSuccess   = 0
	ExitPartial   = 1
	ExitFailed    = 2
	ExitCancelled = 3
	ExitConfig    = 4
)

// Options is the resolved invocation for one session.
type Options struct {
	AccountsConfigPath string
	// IamCredentialsPath is a credentials file or a directory holding
	// generated ones; the newest file wins. Empty means root credentials.
	IamCredentialsPath string
	AccountSelection   string
	Regions            []string

	CreateEC2       bool
	CreateASG       bool
	CleanupServices []string

	InstanceType  string
	AMI           string
	KeyName       string
	WorkloadClass string
	TargetVcpu    int
	FailFast      bool

	MaxResources    int
	Workers         int
	AllowProduction bool
	NonInteractive  bool
	DryRun          bool
	AutoRollback    bool

	// BaseDir roots the aws/<service>/... output tree; LedgerDir defaults
	// to <BaseDir>/aws/ledger.
	BaseDir   string
	LedgerDir string
	CacheDir  string
	KeyDir    string

	AMIMappingPath string
	NukeCommand    string
	NukeForceSend  bool
	Debug          bool

	// SessionID pins the session id; empty generates one.
	SessionID string
}

func (o *Options) ledgerDir() string {
	if o.LedgerDir != "" {
		return o.LedgerDir
	}
	return filepath.Join(o.BaseDir, "aws", "ledger")
}

// Core wires the session components together.
type Core struct {
	lg      *zap.Logger
	opts    Options
	factory *awsapi.Factory
	confirm planner.Confirmer

	now func() time.Time
}

// New creates a Core. confirm may be nil, which refuses every prompt (the
// non-interactive default).
func New(lg *zap.Logger, opts Options, confirm planner.Confirmer) *Core {
	return &Core{
		lg:      lg,
		opts:    opts,
		factory: awsapi.NewFactory(lg, opts.Debug),
		confirm: confirm,
		now:     time.Now,
	}
}

// NewSessionID returns "<YYYYMMDD>_<HHMMSS>-<suffix>"; the embedded UTC
// timestamp keeps lexicographic order chronological.
func NewSessionID(now time.Time) string {
	return now.UTC().Format("20060102_150405") + "-" + randutil.String(6)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// Run performs one session and returns the process exit code.
func (c *Core) Run(ctx context.Context) int {
	handles, cfg, code := c.resolveHandles(ctx)
	if code != ExitSuccess {
		return code
	}

	intent := planner.Intent{
		CreateEC2:       c.opts.CreateEC2,
		CreateASG:       c.opts.CreateASG,
		CleanupServices: c.opts.CleanupServices,
		InstanceType:    c.opts.InstanceType,
		AMI:             c.opts.AMI,
		KeyName:         c.opts.KeyName,
		MaxResources:    c.opts.MaxResources,
		AllowProduction: c.opts.AllowProduction,
		NonInteractive:  c.opts.NonInteractive,
		DryRun:          c.opts.DryRun,
	}
	if intent.InstanceType == "" && (intent.CreateEC2 || intent.CreateASG) {
		intent.InstanceType = c.selectInstanceType(ctx, handles, cfg)
	}

	sessionID := c.opts.SessionID
	if sessionID == "" {
		sessionID = NewSessionID(c.now())
	}
	led, err := ledger.New(c.lg, c.opts.ledgerDir(), ledger.Header{
		SessionID: sessionID,
		StartedAt: c.now().UTC(),
		User:      currentUser(),
		DryRun:    c.opts.DryRun,
		InvocationConfig: map[string]string{
			"instance-type":    intent.InstanceType,
			"cleanup-services": strings.Join(c.opts.CleanupServices, ","),
			"workers":          strconv.Itoa(c.opts.Workers),
		},
	})
	if err != nil {
		c.lg.Error("failed to open session ledger", zap.Error(err))
		return ExitConfig
	}
	defer led.Close()

	p := planner.New(c.lg, c.confirm)
	g, err := p.Plan(handles, intent)
	if err != nil {
		c.lg.Error("planning failed", zap.Error(err))
		return ExitConfig
	}

	exec := executor.New(executor.Config{
		Logger:     c.lg,
		Factory:    c.factory,
		KeyPairs:   awsapi.NewKeyPairCache(c.lg, c.keyDir()),
		Discoverer: discover.New(c.lg),
		Planner:    p,
		Ledger:     led,
		AMIs:       c.amiResolver(),
		Intent:     intent,
		Workers:    c.opts.Workers,
	})
	exec.NukeCommand = c.opts.NukeCommand
	exec.NukeForceSend = c.opts.NukeForceSend

	c.lg.Info("session starting",
		zap.String("session-id", sessionID),
		zap.Int("handles", len(handles)),
		zap.Bool("dry-run", c.opts.DryRun),
	)
	summary := exec.Run(ctx, g)

	c.flushReports(led)

	if c.shouldRollback(ctx, summary) {
		rbSummary := c.rollback(ctx, handles, led)
		c.lg.Info("rollback finished",
			zap.Int("succeeded", rbSummary.Succeeded),
			zap.Int("failed", rbSummary.Failed),
		)
	}
	return summary.Worst()
}

// resolveHandles loads configuration and validates credentials. Every
// failure here is a configuration error.
func (c *Core) resolveHandles(ctx context.Context) ([]credentials.Handle, *credentials.ConfigFile, int) {
	resolver := credentials.NewResolver(c.lg, c.factory.IdentityLookup())

	cfg, err := resolver.LoadAccounts(c.opts.AccountsConfigPath)
	if err != nil {
		c.lg.Error("failed to load accounts config", zap.Error(err))
		return nil, nil, ExitConfig
	}
	selected, err := resolver.SelectAccounts(cfg.Accounts, c.opts.AccountSelection)
	if err != nil {
		c.lg.Error("invalid account selection", zap.Error(err))
		return nil, nil, ExitConfig
	}

	var handles []credentials.Handle
	if c.opts.IamCredentialsPath != "" {
		f, err := resolver.LoadIamCredentialsFile(c.opts.IamCredentialsPath)
		if err != nil {
			c.lg.Error("failed to load IAM credentials", zap.Error(err))
			return nil, nil, ExitConfig
		}
		handles, err = resolver.BuildIamHandles(f, selected)
		if err != nil {
			c.lg.Error("failed to build IAM handles", zap.Error(err))
			return nil, nil, ExitConfig
		}
	} else {
		handles, err = resolver.BuildRootHandles(cfg, selected, c.opts.Regions)
		if err != nil {
			c.lg.Error("failed to build root handles", zap.Error(err))
			return nil, nil, ExitConfig
		}
	}

	// dry runs never reach AWS, identity checks included
	if !c.opts.DryRun {
		handles, err = resolver.FilterValid(ctx, handles)
		if err != nil {
			c.lg.Error("credential validation left no usable handles", zap.Error(err))
			return nil, nil, ExitConfig
		}
	}
	return handles, cfg, ExitSuccess
}

// selectInstanceType ranks spot candidates in the first handle's first
// region and takes the winner. Any failure falls back to the configured
// allowed types rather than aborting the session.
func (c *Core) selectInstanceType(ctx context.Context, handles []credentials.Handle, cfg *credentials.ConfigFile) string {
	fallback := "t3.micro"
	if cfg != nil && len(cfg.UserSettings.AllowedInstanceTypes) > 0 {
		fallback = cfg.UserSettings.AllowedInstanceTypes[0]
	}
	if c.opts.DryRun || len(handles) == 0 || len(handles[0].Regions) == 0 {
		return fallback
	}

	h := handles[0]
	region := h.Regions[0]
	clients, err := c.factory.For(ctx, h, region)
	if err != nil {
		c.lg.Warn("spot selection unavailable", zap.Error(err))
		return fallback
	}

	workload := c.opts.WorkloadClass
	if workload == "" {
		workload = "mixed"
	}
	advisor := spot.NewAdvisor(c.lg, c.opts.CacheDir)
	results, err := advisor.Analyze(ctx, clients.EC2(), clients.Pricing(), region, workload, spot.Filters{
		TargetVcpu: c.opts.TargetVcpu,
		FailFast:   c.opts.FailFast,
	})
	if err != nil || len(results) == 0 {
		c.lg.Warn("spot analysis failed, using fallback instance type",
			zap.String("fallback", fallback),
			zap.Error(err),
		)
		return fallback
	}
	best := results[0]
	c.lg.Info("selected spot instance type",
		zap.String("instance-type", best.InstanceType),
		zap.Float64("confidence", best.Confidence),
		zap.Float64("current-price", best.CurrentPrice),
		zap.Float64("on-demand-price", best.OnDemandPrice),
		zap.Bool("degraded", best.Degraded),
	)
	return best.InstanceType
}

func (c *Core) flushReports(led *ledger.Ledger) {
	header, entries := led.Snapshot()
	rep := report.Build(header, entries, c.now().UTC())
	c.lg.Info(rep.SummaryLine())

	w := report.NewWriter(c.lg, c.opts.BaseDir)
	if _, err := w.WriteAll(rep); err != nil {
		c.lg.Warn("failed to write session reports", zap.Error(err))
	}
	if _, err := w.WriteDashboard(c.opts.ledgerDir()); err != nil {
		c.lg.Warn("failed to write dashboard", zap.Error(err))
	}
}

// shouldRollback offers rollback after failures: automatic with
// --auto-rollback, otherwise by prompt. Dry runs and cancelled sessions
// are never rolled back.
func (c *Core) shouldRollback(ctx context.Context, s executor.Summary) bool {
	if c.opts.DryRun || ctx.Err() != nil {
		return false
	}
	if s.Failed+s.TimedOut == 0 {
		return false
	}
	if c.opts.AutoRollback {
		return true
	}
	if c.opts.NonInteractive || c.confirm == nil {
		return false
	}
	return c.confirm("some tasks failed; roll back resources created this session?")
}

func (c *Core) keyDir() string {
	if c.opts.KeyDir != "" {
		return c.opts.KeyDir
	}
	return filepath.Join(c.opts.BaseDir, "aws", "keys")
}

func (c *Core) amiResolver() *executor.AMIResolver {
	amis, err := executor.LoadAMIMapping(c.lg, c.opts.AMIMappingPath)
	if err != nil {
		c.lg.Warn("failed to load AMI mapping, relying on SSM fallback", zap.Error(err))
		amis, _ = executor.LoadAMIMapping(c.lg, "")
	}
	return amis
}

// ErrNothingToRollback means the ledger recorded no surviving creations.
var ErrNothingToRollback = errors.New("ledger has no resources to roll back")
