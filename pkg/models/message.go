package models

// DirectMessage is an in-app message between two users. Delivery by e-mail or
// push is a separate concern and not handled here.
type DirectMessage struct {
	ID         int64  `json:"id"`
	SrcUserID  int64  `json:"srcUserId"`
	DstUserID  int64  `json:"dstUserId"`
	Timestamp  int64  `json:"timestamp"`
	Subject    string `json:"subject"`
	Content    string `json:"content"`
	Read       bool   `json:"read"`
	SrcUsername string `json:"srcUsername,omitempty"`
}

// Notification is a campaign-wide announcement fanned out to every bound
// participant at creation time.
type Notification struct {
	ID         int64  `json:"id"`
	CampaignID int64  `json:"campaignId"`
	DstUserID  int64  `json:"dstUserId"`
	Timestamp  int64  `json:"timestamp"`
	Subject    string `json:"subject"`
	Content    string `json:"content"`
	Read       bool   `json:"read"`
}
