// Copyright 2025 James Ross
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(KindNoHandler, "no handler for type foo")
	k, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindNoHandler, k)
	require.Equal(t, "no handler for type foo", err.Error())
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("database is gone")
	err := Wrap(KindStorageError, "insert job failed", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "database is gone")

	k, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindStorageError, k)
}

func TestKindOfUnwindsThroughFmtErrorf(t *testing.T) {
	base := New(KindRateLimited, "too fast")
	wrapped := fmt.Errorf("enqueue: %w", base)

	k, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, KindRateLimited, k)
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}
