package models

// Record is one timestamped payload inside a shard. The key within a shard is
// (DataSourceID, Timestamp); rewriting the same key is last-write-wins.
type Record struct {
	DataSourceID int64  `json:"dataSourceId"`
	Timestamp    int64  `json:"timestamp"`
	Value        []byte `json:"value"`
}

// PayloadSize returns the record's contribution to a batch payload budget.
func (r Record) PayloadSize() int {
	return len(r.Value)
}
