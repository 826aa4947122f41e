package models

// Binding makes a user a participant of a campaign. At most one row exists
// per (campaign, user) pair; the pair's shard is provisioned together with
// the first binding.
type Binding struct {
	CampaignID             int64 `json:"campaignId"`
	UserID                 int64 `json:"userId"`
	JoinTimestamp          int64 `json:"joinTimestamp"`
	LastHeartbeatTimestamp int64 `json:"lastHeartbeatTimestamp"`
}

// BindResult is what a bind call reports back to the device.
type BindResult struct {
	IsNewBinding           bool  `json:"isNewBinding"`
	CampaignStartTimestamp int64 `json:"campaignStartTimestamp"`
}
