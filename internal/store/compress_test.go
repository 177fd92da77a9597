// Copyright 2025 James Ross
package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressIfLargeRoundTrip(t *testing.T) {
	big := strings.Repeat("a", 1024)
	compressed := compressIfLarge([]byte(big), 100)
	require.True(t, strings.HasPrefix(string(compressed), zstdPrefix))

	out, err := decompressIfNeeded(compressed)
	require.NoError(t, err)
	require.Equal(t, big, string(out))
}

func TestCompressIfLargeBelowThresholdUnchanged(t *testing.T) {
	small := []byte(`{"a":1}`)
	out := compressIfLarge(small, 100)
	require.Equal(t, small, out)
}

func TestCompressIfLargeDisabledByZeroThreshold(t *testing.T) {
	big := []byte(strings.Repeat("b", 1024))
	out := compressIfLarge(big, 0)
	require.Equal(t, big, out)
}

func TestDecompressIfNeededPassesThroughPlainText(t *testing.T) {
	plain := []byte(`{"hello":"world"}`)
	out, err := decompressIfNeeded(plain)
	require.NoError(t, err)
	require.Equal(t, plain, out)
}
