package backfill

import (
	"fmt"
	"time"
)

const (
	// DefaultItemPipelineSize is the maximum combined size of the items sent
	// to a backfillee that it has not yet acknowledged.
	DefaultItemPipelineSize = 4 << 20
	// DefaultItemChunkSize is the typical size of one items message.
	DefaultItemChunkSize = 100 << 10
)

// Config tunes the backfill source and sink.
type Config struct {
	// ItemPipelineSize bounds un-acknowledged item bytes in flight from
	// source to sink.
	ItemPipelineSize int64 `mapstructure:"item-pipeline-size"`
	// ItemChunkSize is the per-iteration window reservation and the target
	// size of one items message.
	ItemChunkSize int64 `mapstructure:"item-chunk-size"`
	// PreItemPipelineSize bounds un-acknowledged pre-item bytes in flight
	// from sink to source.
	PreItemPipelineSize int64 `mapstructure:"pre-item-pipeline-size"`
	// PreItemChunkSize is the target size of one pre-items message.
	PreItemChunkSize int64 `mapstructure:"pre-item-chunk-size"`
	// ProgressInterval is how often a backfillee logs session progress.
	ProgressInterval time.Duration `mapstructure:"progress-interval"`
}

// DefaultConfig returns the default backfill tuning.
func DefaultConfig() Config {
	return Config{
		ItemPipelineSize:    DefaultItemPipelineSize,
		ItemChunkSize:       DefaultItemChunkSize,
		PreItemPipelineSize: DefaultItemPipelineSize / 4,
		PreItemChunkSize:    DefaultItemChunkSize / 4,
		ProgressInterval:    10 * time.Second,
	}
}

// Validate checks the tuning invariants.
func (c Config) Validate() error {
	if c.ItemChunkSize <= 0 || c.ItemPipelineSize <= 0 {
		return fmt.Errorf("item sizes must be positive")
	}
	if c.ItemPipelineSize < 2*c.ItemChunkSize {
		return fmt.Errorf("item-pipeline-size %d must be at least twice item-chunk-size %d",
			c.ItemPipelineSize, c.ItemChunkSize)
	}
	if c.PreItemChunkSize <= 0 || c.PreItemPipelineSize <= 0 {
		return fmt.Errorf("pre-item sizes must be positive")
	}
	if c.PreItemPipelineSize < 2*c.PreItemChunkSize {
		return fmt.Errorf("pre-item-pipeline-size %d must be at least twice pre-item-chunk-size %d",
			c.PreItemPipelineSize, c.PreItemChunkSize)
	}
	return nil
}
