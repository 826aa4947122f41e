package export

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes one archival run for a campaign. It is written next to
// the exported dumps so an operator can tell what a directory contains
// without opening the data files.
type Manifest struct {
	RunID       string          `yaml:"run_id"`
	CampaignID  int64           `yaml:"campaign_id"`
	StartedAt   time.Time       `yaml:"started_at"`
	FinishedAt  time.Time       `yaml:"finished_at"`
	Shards      []ShardManifest `yaml:"shards"`
	FailedCount int             `yaml:"failed_count"`
}

// ShardManifest describes one participant's exported shard.
type ShardManifest struct {
	UserID  int64  `yaml:"user_id"`
	File    string `yaml:"file"`
	Records int64  `yaml:"records"`
	Error   string `yaml:"error,omitempty"`
}

// WriteManifest serializes the manifest to path as YAML.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
