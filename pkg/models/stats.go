package models

// PerSourceStat is the derived per-data-source counter row. It is recomputed
// by the reconciler from raw shard contents and lags live writes; nothing on
// the ingestion path touches it.
type PerSourceStat struct {
	CampaignID      int64 `json:"campaignId"`
	UserID          int64 `json:"userId"`
	DataSourceID    int64 `json:"dataSourceId"`
	AmountOfSamples int64 `json:"amountOfSamples"`
	SyncTimestamp   int64 `json:"syncTimestamp"`
}

// ParticipantStats aggregates everything the dashboard shows for one
// participant in one campaign.
type ParticipantStats struct {
	CampaignID             int64           `json:"campaignId"`
	UserID                 int64           `json:"userId"`
	JoinTimestamp          int64           `json:"joinTimestamp"`
	LastHeartbeatTimestamp int64           `json:"lastHeartbeatTimestamp"`
	LastSyncTimestamp      int64           `json:"lastSyncTimestamp"`
	AmountOfSamples        int64           `json:"amountOfSamples"`
	PerSource              []PerSourceStat `json:"perSource"`
}
