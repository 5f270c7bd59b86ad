package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// DefaultNodeTimeout bounds a single node's provisioning operation.
const DefaultNodeTimeout = 30 * time.Minute

// DefaultRetryMax is the maximum number of retries for transient errors.
const DefaultRetryMax = 3

// RetryPolicy defines retry behavior for transient control-plane errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used for node lifecycle calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff and jitter. It
// retries only while shouldRetry returns true for the error.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			delay := backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

// transientAPICodes are service error codes safe to retry as-is.
var transientAPICodes = map[string]bool{
	"ThrottlingException":             true,
	"TooManyRequestsException":        true,
	"RequestLimitExceeded":            true,
	"ServiceUnavailableException":     true,
	"InternalServerException":         true,
	"InternalFailure":                 true,
	"ProvisionedThroughputExceeded":   true,
	"ConcurrentModificationException": true,
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"i/o timeout",
	"temporary failure",
}

// IsTransientError reports whether an error is likely transient. Typed API
// error codes are checked first; the message-pattern fallback covers plain
// network errors that carry no code.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var lce *AdapterLifecycleError
	if errors.As(err, &lce) {
		return lce.Transient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.ErrorCode()] {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
