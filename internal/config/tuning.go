package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"docrag/internal/chunker"
	"docrag/internal/indexer"
)

// Tuning holds ingestion parameters that rarely change between deployments.
type Tuning struct {
	Thresholds indexer.Thresholds `yaml:"thresholds"`
	Chunking   ChunkingConfig     `yaml:"chunking"`
	// EmbedBatchSize bounds the number of texts sent per embedding call.
	EmbedBatchSize int `yaml:"embed_batch_size"`
}

// ChunkingConfig holds the chunk windows per content kind.
type ChunkingConfig struct {
	PlainText chunker.Params `yaml:"plain_text"`
	Other     chunker.Params `yaml:"other"`
}

// DefaultTuning returns the built-in ingestion parameters.
func DefaultTuning() *Tuning {
	return &Tuning{
		Thresholds: indexer.DefaultThresholds,
		Chunking: ChunkingConfig{
			PlainText: chunker.DefaultPlainText,
			Other:     chunker.DefaultOther,
		},
		EmbedBatchSize: 32,
	}
}

// LoadTuning reads a YAML tuning file. Fields missing from the file keep
// their defaults. An empty path or a missing file yields the defaults.
func LoadTuning(path string) (*Tuning, error) {
	tuning := DefaultTuning()
	if path == "" {
		return tuning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tuning, nil
		}
		return nil, fmt.Errorf("failed to read ingest config: %w", err)
	}
	if err := yaml.Unmarshal(data, tuning); err != nil {
		return nil, fmt.Errorf("failed to parse ingest config %s: %w", path, err)
	}

	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config %s: %w", path, err)
	}
	return tuning, nil
}

// Validate reports inconsistent parameters.
func (t *Tuning) Validate() error {
	if err := t.Thresholds.Validate(); err != nil {
		return err
	}
	if err := t.Chunking.PlainText.Validate(); err != nil {
		return fmt.Errorf("plain_text: %w", err)
	}
	if err := t.Chunking.Other.Validate(); err != nil {
		return fmt.Errorf("other: %w", err)
	}
	if t.EmbedBatchSize <= 0 {
		return fmt.Errorf("embed_batch_size must be greater than 0, got %d", t.EmbedBatchSize)
	}
	return nil
}
