package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/credentials"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/discover"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/ledger"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/planner"
	"github.com/varadharajaan/aws-infra-setup-sub002/internal/tasks"
)

type apiError struct {
	code    string
	message string
}

func (e *apiError) Error() string     { return e.code }
func (e *apiError) ErrorCode() string { return e.code }
func (e *apiError) ErrorMessage() string {
	if e.message != "" {
		return e.message
	}
	return e.code
}
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestClassify(t *testing.T) {
	assert.Equal(t, DecisionAbsent, Classify(&apiError{code: "InvalidGroup.NotFound"}))
	assert.Equal(t, DecisionAbsent, Classify(&apiError{code: "NoSuchEntity"}))
	// deleting an already-gone auto scaling group succeeds instead of
	// retrying to exhaustion
	assert.Equal(t, DecisionAbsent, Classify(&apiError{
		code:    "ValidationError",
		message: "AutoScalingGroup name not found - null",
	}))
	assert.Equal(t, DecisionFail, Classify(&apiError{
		code:    "ValidationError",
		message: "MinSize must be less than or equal to MaxSize",
	}))
	assert.Equal(t, DecisionRetry, Classify(&apiError{code: "Throttling"}))
	assert.Equal(t, DecisionRetry, Classify(&apiError{code: "RequestLimitExceeded"}))
	assert.Equal(t, DecisionRetry, Classify(&apiError{code: "DependencyViolation"}))
	assert.Equal(t, DecisionFail, Classify(&apiError{code: "AccessDenied"}))
	assert.Equal(t, DecisionFail, Classify(errors.New("boom")))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, ErrKindThrottled, ErrorKind(&apiError{code: "Throttling"}))
	assert.Equal(t, ErrKindDependency, ErrorKind(&apiError{code: "DependencyViolation"}))
	assert.Equal(t, ErrKindAccessDenied, ErrorKind(&apiError{code: "AccessDenied"}))
	assert.Equal(t, ErrKindTimeout, ErrorKind(context.DeadlineExceeded))
	assert.Equal(t, ErrKindTask, ErrorKind(errors.New("boom")))
}

func TestBackoffJitter(t *testing.T) {
	base := time.Second
	for attempt := 0; attempt < 4; attempt++ {
		expected := float64(base << attempt)
		for i := 0; i < 50; i++ {
			d := float64(backoff(base, attempt))
			assert.GreaterOrEqual(t, d, 0.8*expected)
			assert.Less(t, d, 1.2*expected)
		}
	}
}

func TestCallWithRetry(t *testing.T) {
	lg := zap.NewNop()

	t.Run("absent short-circuits", func(t *testing.T) {
		calls := 0
		absent, err := callWithRetry(context.Background(), lg, "x", time.Millisecond, func(context.Context) error {
			calls++
			return &apiError{code: "InvalidGroupId.NotFound"}
		})
		require.NoError(t, err)
		assert.True(t, absent)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient then succeeds", func(t *testing.T) {
		calls := 0
		absent, err := callWithRetry(context.Background(), lg, "x", time.Millisecond, func(context.Context) error {
			calls++
			if calls < 3 {
				return &apiError{code: "ServiceUnavailable"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.False(t, absent)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-retryable fails immediately", func(t *testing.T) {
		calls := 0
		_, err := callWithRetry(context.Background(), lg, "x", time.Millisecond, func(context.Context) error {
			calls++
			return &apiError{code: "AccessDenied"}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		_, err := callWithRetry(context.Background(), lg, "x", time.Millisecond, func(context.Context) error {
			calls++
			return &apiError{code: "Throttling"}
		})
		require.Error(t, err)
		assert.Equal(t, maxAttempts, calls)
	})
}

func TestSummaryWorst(t *testing.T) {
	assert.Equal(t, 0, Summary{Succeeded: 5}.Worst())
	assert.Equal(t, 0, Summary{Succeeded: 3, Skipped: 2}.Worst())
	assert.Equal(t, 1, Summary{Succeeded: 3, Failed: 1}.Worst())
	assert.Equal(t, 2, Summary{Failed: 4}.Worst())
	assert.Equal(t, 2, Summary{TimedOut: 1}.Worst())
	assert.Equal(t, 3, Summary{Succeeded: 1, Cancelled: 2}.Worst())
}

func TestPromptedToolConfirmsOnce(t *testing.T) {
	var lines []string
	tool := &PromptedTool{
		lg: zap.NewNop(),
		Command: `/bin/sh -c 'echo "Are you sure you want to proceed?"; ` +
			`echo "Are you sure you want to proceed?"; read a; echo "got:$a"'`,
		ConfirmToken: "y",
		Timeout:      30 * time.Second,
		OnOutput:     func(line string) { lines = append(lines, line) },
	}
	require.NoError(t, tool.Run(context.Background()))

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "got:y")
	// the token was written exactly once even with two prompt lines
	assert.Equal(t, 1, strings.Count(joined, "got:"))
}

func TestPromptedToolMissing(t *testing.T) {
	tool := &PromptedTool{
		lg:           zap.NewNop(),
		Command:      "definitely-not-a-real-tool-xyz --flag",
		ConfirmToken: "y",
	}
	err := tool.Run(context.Background())
	var missing *ErrToolMissing
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "definitely-not-a-real-tool-xyz", missing.Tool)
}

func TestPromptedToolTimeout(t *testing.T) {
	tool := &PromptedTool{
		lg:           zap.NewNop(),
		Command:      "/bin/sh -c 'sleep 60'",
		ConfirmToken: "y",
		Timeout:      200 * time.Millisecond,
	}
	err := tool.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskDeadlines(t *testing.T) {
	h := credentials.Handle{AccountName: "a"}
	assert.Equal(t, defaultTaskDeadline, taskDeadline(tasks.New(tasks.KindDeleteInstance, h, "us-east-1", nil)))
	assert.Equal(t, nukeTaskDeadline, taskDeadline(tasks.New(tasks.KindExternalNuke, h, "us-east-1", nil)))

	custom := tasks.New(tasks.KindDeleteInstance, h, "us-east-1", nil)
	custom.Deadline = time.Minute
	assert.Equal(t, time.Minute, taskDeadline(custom))
}

// newDryRunExecutor wires an executor whose only side effects are ledger
// writes.
func newDryRunExecutor(t *testing.T, led *ledger.Ledger, intent planner.Intent) *Executor {
	t.Helper()
	lg := zap.NewNop()
	return New(Config{
		Logger:     lg,
		Factory:    awsapi.NewFactory(lg, false),
		KeyPairs:   awsapi.NewKeyPairCache(lg, t.TempDir()),
		Discoverer: discover.New(lg),
		Planner:    planner.New(lg, nil),
		Ledger:     led,
		Intent:     intent,
		Workers:    3,
	})
}

func TestDryRunProvision(t *testing.T) {
	lg := zap.NewNop()
	led, err := ledger.New(lg, t.TempDir(), ledger.Header{SessionID: "20260824-dryrun", DryRun: true})
	require.NoError(t, err)
	defer led.Close()

	intent := planner.Intent{CreateEC2: true, CreateASG: true, DryRun: true, InstanceType: "m5.xlarge"}
	handles := []credentials.Handle{
		{AccountName: "account01", AccountID: "1", AccessKey: "k", SecretKey: "s", Kind: credentials.KindRoot, Regions: []string{"us-east-1"}},
		{AccountName: "account02", AccountID: "2", AccessKey: "k", SecretKey: "s", Kind: credentials.KindRoot, Regions: []string{"us-east-1"}},
		{AccountName: "account03", AccountID: "3", AccessKey: "k", SecretKey: "s", Kind: credentials.KindRoot, Regions: []string{"us-east-1"}},
	}

	p := planner.New(lg, nil)
	g, err := p.Plan(handles, intent)
	require.NoError(t, err)

	e := newDryRunExecutor(t, led, intent)
	summary := e.Run(context.Background(), g)
	assert.Equal(t, 6, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 0, summary.Worst())

	_, entries := led.Snapshot()
	require.Len(t, entries, 6)
	for _, entry := range entries {
		assert.Equal(t, ledger.EventCreated, entry.Event)
		assert.True(t, strings.HasPrefix(entry.Ref.ResourceID, "dry-run-"), entry.Ref.ResourceID)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	lg := zap.NewNop()
	led, err := ledger.New(lg, t.TempDir(), ledger.Header{SessionID: "20260824-cancel", DryRun: true})
	require.NoError(t, err)
	defer led.Close()

	intent := planner.Intent{CreateEC2: true, DryRun: true}
	handles := []credentials.Handle{
		{AccountName: "account01", AccountID: "1", AccessKey: "k", SecretKey: "s", Kind: credentials.KindRoot, Regions: []string{"us-east-1"}},
	}
	p := planner.New(lg, nil)
	g, err := p.Plan(handles, intent)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newDryRunExecutor(t, led, intent)
	summary := e.Run(ctx, g)
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, 3, summary.Worst())
}
