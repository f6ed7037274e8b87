package executor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/internal/awsapi"
)

// Decision is the classifier's verdict on one API error.
type Decision int

const (
	// DecisionFail surfaces the error without retrying.
	DecisionFail Decision = iota
	// DecisionRetry backs off and tries again.
	DecisionRetry
	// DecisionAbsent means the resource is already gone; deletes treat
	// this as success.
	DecisionAbsent
)

// Error kinds recorded in the ledger.
const (
	ErrKindThrottled    = "throttled"
	ErrKindTransient    = "transient-api"
	ErrKindDependency   = "dependency-violation"
	ErrKindAccessDenied = "access-denied"
	ErrKindTimeout      = "timeout"
	ErrKindCancelled    = "cancelled"
	ErrKindToolMissing  = "tool-missing"
	ErrKindTask         = "task-error"
)

// maxAttempts bounds every retry loop.
const maxAttempts = 5

// Classify maps an AWS API error to a scheduling decision.
func Classify(err error) Decision {
	switch {
	case err == nil:
		return DecisionFail
	case awsapi.IsNotFound(err):
		return DecisionAbsent
	case awsapi.IsThrottle(err), awsapi.IsTransient(err):
		return DecisionRetry
	case awsapi.IsDependencyViolation(err):
		return DecisionRetry
	default:
		return DecisionFail
	}
}

// ErrorKind names the ledger error kind for a failed call.
func ErrorKind(err error) string {
	switch {
	case awsapi.IsThrottle(err):
		return ErrKindThrottled
	case awsapi.IsTransient(err):
		return ErrKindTransient
	case awsapi.IsDependencyViolation(err):
		return ErrKindDependency
	case awsapi.IsAccessDenied(err):
		return ErrKindAccessDenied
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrKindCancelled
	default:
		return ErrKindTask
	}
}

// backoff returns the sleep before the given attempt (0-based), exponential
// from base with at least 20% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	// jitter in [0.8, 1.2)
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * factor)
}

// callWithRetry runs fn up to maxAttempts times, sleeping between attempts
// per the classifier. A DecisionAbsent return is reported to the caller as
// (absent=true, nil).
func callWithRetry(ctx context.Context, lg *zap.Logger, what string, base time.Duration, fn func(ctx context.Context) error) (absent bool, err error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return false, nil
		}
		switch Classify(err) {
		case DecisionAbsent:
			return true, nil
		case DecisionRetry:
			if attempt == maxAttempts-1 {
				return false, err
			}
			d := backoff(base, attempt)
			lg.Warn("retrying after transient failure",
				zap.String("call", what),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", d),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(d):
			}
		default:
			return false, err
		}
	}
	return false, err
}
