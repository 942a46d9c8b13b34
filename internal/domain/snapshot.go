package domain

import (
	"fmt"
	"time"
)

// SnapshotID builds the conventional snapshot identifier for a pipeline run
func SnapshotID(league League, season, week int) string {
	return fmt.Sprintf("%s-%d-week%d", league, season, week)
}

// SnapshotMetadata is the metadata sidecar written next to each snapshot
type SnapshotMetadata struct {
	SnapshotID  string            `json:"snapshot_id"`
	Week        int               `json:"week"`
	Season      int               `json:"season"`
	League      League            `json:"league"`
	Description string            `json:"description,omitempty"`
	RowCount    int               `json:"row_count"`
	ColumnCount int               `json:"column_count"`
	CreatedAt   time.Time         `json:"created_at"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// SaveSummary reports the outcome of persisting a snapshot
type SaveSummary struct {
	SnapshotID  string `json:"snapshot_id"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
	Bytes       int64  `json:"bytes"`
	Path        string `json:"path"`
}
