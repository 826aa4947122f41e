package models

import (
	"encoding/json"
	"fmt"
)

// Campaign is a time-bounded data-collection effort. Timestamps are Unix
// milliseconds, matching what participant devices report.
type Campaign struct {
	ID                    int64                   `json:"id"`
	CreatorID             int64                   `json:"creatorId"`
	Name                  string                  `json:"name"`
	Notes                 string                  `json:"notes"`
	DataSourceConfigs     []DataSourceConfigEntry `json:"dataSourceConfigs"`
	StartTimestamp        int64                   `json:"startTimestamp"`
	EndTimestamp          int64                   `json:"endTimestamp"`
	RemoveInactiveAfterMS *int64                  `json:"removeInactiveAfterMs,omitempty"`
}

// DataSourceConfigEntry is one configured data source within a campaign.
// Config carries source-specific settings opaque to the server.
type DataSourceConfigEntry struct {
	DataSourceID int64           `json:"data_source_id"`
	Icon         string          `json:"icon,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// Validate checks the campaign invariants that hold independent of storage.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.EndTimestamp <= c.StartTimestamp {
		return fmt.Errorf("campaign end (%d) must be after start (%d)", c.EndTimestamp, c.StartTimestamp)
	}
	return nil
}

// IsActive reports whether the campaign has not yet ended at the given time.
func (c *Campaign) IsActive(nowMS int64) bool {
	return c.EndTimestamp > nowMS
}

// DataSource is a named category of sensor or event data. Names are globally
// unique; creation is lazy on first reference.
type DataSource struct {
	ID        int64  `json:"id"`
	CreatorID int64  `json:"creatorId"`
	Name      string `json:"name"`
	IconName  string `json:"iconName"`
}
