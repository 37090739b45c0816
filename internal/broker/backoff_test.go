package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	require.Equal(t, 500*time.Millisecond, Backoff(0))
	require.Equal(t, time.Second, Backoff(1))
	require.Equal(t, 2*time.Second, Backoff(2))
	require.Equal(t, 30*time.Second, Backoff(10))
	require.Equal(t, 500*time.Millisecond, Backoff(-1))
}

func TestIsRetryableClassification(t *testing.T) {
	require.True(t, IsRetryable(&Error{Status: 503, Retryable: true}))
	require.False(t, IsRetryable(&Error{Status: 422}))
	require.False(t, IsRetryable(ErrOrderNotFound))
	require.False(t, IsRetryable(errors.New("boom")))
}

func TestIsIndeterminate(t *testing.T) {
	require.True(t, IsIndeterminate(context.DeadlineExceeded))
	require.True(t, IsIndeterminate(context.Canceled))
	require.False(t, IsIndeterminate(&Error{Status: 503, Retryable: true}))
	require.False(t, IsIndeterminate(errors.New("boom")))
}
