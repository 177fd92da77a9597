// Copyright 2025 James Ross
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jamesross/durable-jobqueue/internal/registry"
)

// FileSyncPayload selects a source directory and a glob pattern of files
// within it to sync.
type FileSyncPayload struct {
	RootDir string `json:"rootDir"`
	Pattern string `json:"pattern"`
}

// FileSync illustrates glob-matching a directory tree for the
// file_operations operation type: it walks RootDir, reports progress per
// matched file, and returns the matched relative paths as its result.
type FileSync struct{}

func NewFileSync() *FileSync { return &FileSync{} }

func (h *FileSync) ValidateAndParse(raw []byte) (interface{}, error) {
	var p FileSyncPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	if p.RootDir == "" || p.Pattern == "" {
		return nil, nil
	}
	if !doublestar.ValidatePattern(p.Pattern) {
		return nil, nil
	}
	return p, nil
}

func (h *FileSync) Process(ctx context.Context, parsed interface{}, jobID string, reporter registry.ProgressReporter) ([]byte, error) {
	p, ok := parsed.(FileSyncPayload)
	if !ok {
		return nil, fmt.Errorf("filesync: unexpected parsed type %T", parsed)
	}

	var matched []string
	err := filepath.WalkDir(p.RootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.RootDir, path)
		if err != nil {
			return err
		}
		ok, err := doublestar.Match(p.Pattern, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if ok {
			matched = append(matched, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", p.RootDir, err)
	}

	for i, path := range matched {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := reporter.Report(ctx, i+1, len(matched), fmt.Sprintf("synced %s", path)); err != nil {
			return nil, fmt.Errorf("report progress: %w", err)
		}
	}

	result, err := json.Marshal(map[string]interface{}{"matched": matched, "count": len(matched)})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return result, nil
}
