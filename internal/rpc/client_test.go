package rpc

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	v, err := retry(context.Background(), func() (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 1, calls)
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retry(ctx, func() (int, error) {
		calls++
		return 0, fmt.Errorf("always fails")
	})
	require.Error(t, err)
	require.Equal(t, context.Canceled, err)
	require.Equal(t, 1, calls, "the first attempt always runs before the cancellation check")
}
