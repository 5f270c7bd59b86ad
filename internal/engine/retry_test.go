package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithBackoff_EventualSuccess(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("throttling: rate exceeded")
		}
		return nil
	}, IsTransientError)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_TerminalErrorNotRetried(t *testing.T) {
	attempts := 0
	terminal := errors.New("validation failed")
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		return terminal
	}, IsTransientError)

	require.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		return errors.New("connection reset by peer")
	}, IsTransientError)

	require.Error(t, err)
	assert.Equal(t, 4, attempts) // initial try + 3 retries
	assert.Contains(t, err.Error(), "max retries")
}

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"throttle message", errors.New("ThrottlingException: slow down"), true},
		{"io timeout", errors.New("dial tcp: i/o timeout"), true},
		{"terminal validation", errors.New("invalid parameter value"), false},
		{"transient adapter error", &AdapterLifecycleError{ResourceID: "gw", Op: "Create", Transient: true, Body: "503"}, true},
		{"terminal adapter error", &AdapterLifecycleError{ResourceID: "gw", Op: "Create", Body: "bad request"}, false},
		{"build failure never transient", &BuildFailure{Status: "FAILED", Reason: "compile error"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransientError(tc.err))
		})
	}
}

func TestBackoffDelay_Bounded(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt, time.Second, 30*time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 30*time.Second)
	}
}
