package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeCorruptIndex, CategoryIO},
		{ErrCodeProviderUnavailable, CategoryProvider},
		{ErrCodeInvalidIdentifier, CategoryValidation},
		{ErrCodeUnknownAction, CategoryInternal},
	}

	for _, tt := range tests {
		err := New(tt.code, "msg", nil)
		assert.Equal(t, tt.category, err.Category, "code %s", tt.code)
	}
}

func TestNew_RetryableFlag(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeProviderTimeout, "slow", nil)))
	assert.True(t, IsRetryable(New(ErrCodeIndexWrite, "contention", nil)))
	assert.False(t, IsRetryable(New(ErrCodeUnknownAction, "bad action", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal_InvariantViolations(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeUnknownAction, "bad action", nil)))
	assert.True(t, IsFatal(New(ErrCodeFieldMismatch, "parallel arrays", nil)))
	assert.False(t, IsFatal(New(ErrCodeProviderUnavailable, "down", nil)))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCodeProviderUnavailable, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "ERR_302")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeInvalidQuery, "first", nil)
	b := New(ErrCodeInvalidQuery, "second", nil)
	c := New(ErrCodeInternal, "other", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeIndexWrite, "batch failed", nil).
		WithDetail("participant", "iso6523-actorid-upis::0088:123").
		WithDetail("docs", "3")

	assert.Equal(t, "iso6523-actorid-upis::0088:123", err.Details["participant"])
	assert.Equal(t, "3", err.Details["docs"])
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2.0}

	err := Retry(context.Background(), cfg, func() error {
		return fmt.Errorf("still failing")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "still failing")
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return fmt.Errorf("never seen")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
