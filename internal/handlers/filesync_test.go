// Copyright 2025 James Ross
package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.log"), []byte("c"), 0o644))
	return root
}

func TestFileSyncValidateAndParseRejectsMissingFields(t *testing.T) {
	h := NewFileSync()
	parsed, err := h.ValidateAndParse([]byte(`{"rootDir":"/tmp"}`))
	require.NoError(t, err)
	require.Nil(t, parsed)
}

func TestFileSyncValidateAndParseRejectsInvalidPattern(t *testing.T) {
	h := NewFileSync()
	parsed, err := h.ValidateAndParse([]byte(`{"rootDir":"/tmp","pattern":"["}`))
	require.NoError(t, err)
	require.Nil(t, parsed)
}

func TestFileSyncProcessMatchesGlobRecursively(t *testing.T) {
	root := writeTempTree(t)
	h := NewFileSync()

	parsed, err := h.ValidateAndParse([]byte(`{"rootDir":"` + filepath.ToSlash(root) + `","pattern":"**/*.txt"}`))
	require.NoError(t, err)

	reporter := &recordingReporter{}
	result, err := h.Process(context.Background(), parsed, "job-1", reporter)
	require.NoError(t, err)

	var out struct {
		Matched []string `json:"matched"`
		Count   int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(result, &out))
	require.Equal(t, 2, out.Count)
	require.ElementsMatch(t, []string{"a.txt", filepath.Join("sub", "b.txt")}, out.Matched)
	require.Len(t, reporter.calls, 2)
}

func TestFileSyncProcessToleratesMissingRootDir(t *testing.T) {
	h := NewFileSync()
	parsed, err := h.ValidateAndParse([]byte(`{"rootDir":"/no/such/dir","pattern":"*.txt"}`))
	require.NoError(t, err)

	result, err := h.Process(context.Background(), parsed, "job-1", &recordingReporter{})
	require.NoError(t, err)

	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(result, &out))
	require.Equal(t, 0, out.Count)
}

func TestFileSyncProcessRejectsWrongParsedType(t *testing.T) {
	h := NewFileSync()
	_, err := h.Process(context.Background(), 42, "job-1", &recordingReporter{})
	require.Error(t, err)
}
