// Copyright 2025 James Ross
package store

import (
	"encoding/base64"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdPrefix marks a compressed payload so readers can tell compressed
// rows from plain JSON without a schema column; JSON payloads never start
// with this literal. The compressed bytes are base64-encoded so the
// column stays valid UTF-8 text on both backends.
const zstdPrefix = "zstd:"

var (
	sharedEncoder, _ = zstd.NewWriter(nil)
	sharedDecoder, _ = zstd.NewReader(nil)
)

// compressIfLarge compresses data with zstd and wraps it in the zstdPrefix
// envelope when data exceeds thresholdBytes. A threshold of 0 disables
// compression.
func compressIfLarge(data []byte, thresholdBytes int) []byte {
	if thresholdBytes <= 0 || len(data) <= thresholdBytes {
		return data
	}
	compressed := sharedEncoder.EncodeAll(data, nil)
	encoded := base64.StdEncoding.EncodeToString(compressed)
	return []byte(zstdPrefix + encoded)
}

// decompressIfNeeded reverses compressIfLarge, returning data unchanged
// when it does not carry the zstd envelope.
func decompressIfNeeded(data []byte) ([]byte, error) {
	s := string(data)
	if !strings.HasPrefix(s, zstdPrefix) {
		return data, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s[len(zstdPrefix):])
	if err != nil {
		return nil, err
	}
	return sharedDecoder.DecodeAll(raw, nil)
}
