// Copyright 2025 James Ross
// Package handlers ships two demonstration job handlers exercising the
// Worker Pool and Progress Monitor end to end; they are not part of the
// public contract.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jamesross/durable-jobqueue/internal/registry"
)

// EmbeddingPayload is the parsed shape of an embedding job's data.
type EmbeddingPayload struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Embedding illustrates progress reporting over a batch of text chunks.
// It chunks Text into fixed-size pieces and reports progress once per
// chunk, simulating incremental embedding work.
type Embedding struct {
	ChunkSize int
}

func NewEmbedding(chunkSize int) *Embedding {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	return &Embedding{ChunkSize: chunkSize}
}

func (h *Embedding) ValidateAndParse(raw []byte) (interface{}, error) {
	var p EmbeddingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	if p.Text == "" {
		return nil, nil
	}
	if p.Model == "" {
		p.Model = "default"
	}
	return p, nil
}

func (h *Embedding) Process(ctx context.Context, parsed interface{}, jobID string, reporter registry.ProgressReporter) ([]byte, error) {
	p, ok := parsed.(EmbeddingPayload)
	if !ok {
		return nil, fmt.Errorf("embedding: unexpected parsed type %T", parsed)
	}

	chunks := chunkText(p.Text, h.ChunkSize)
	vectors := make([][]float64, 0, len(chunks))
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vectors = append(vectors, fakeEmbed(chunk))
		if err := reporter.Report(ctx, i+1, len(chunks), fmt.Sprintf("embedded chunk %d/%d", i+1, len(chunks))); err != nil {
			return nil, fmt.Errorf("report progress: %w", err)
		}
	}

	result, err := json.Marshal(map[string]interface{}{
		"model":      p.Model,
		"vectors":    vectors,
		"chunkCount": len(chunks),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return result, nil
}

func chunkText(text string, size int) []string {
	if len(text) == 0 {
		return nil
	}
	var chunks []string
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
	}
	return chunks
}

// fakeEmbed stands in for a real embedding model call; handler business
// logic is out of scope.
func fakeEmbed(chunk string) []float64 {
	v := make([]float64, 4)
	for i, r := range chunk {
		v[i%4] += float64(r)
	}
	return v
}
