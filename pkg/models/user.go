// Package models contains domain types for fieldtrace-engine.
package models

import "time"

// User is a registered identity: a participant device owner or a researcher.
// The same account can act in either role; access is decided per campaign.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Tag          string    `json:"tag,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
