package pipeline

import (
	"fmt"

	"github.com/propedge/propedge/internal/domain"
)

// Error is a batch-level feature-build failure not attributable to one prop
type Error struct {
	Op     string
	Week   int
	League domain.League
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline %s (week %d, %s): %v", e.Op, e.Week, e.League, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SourceStatus tags the outcome of one data-source fetch
type SourceStatus string

const (
	SourceOK       SourceStatus = "ok"
	SourceDegraded SourceStatus = "degraded"
	SourceFailed   SourceStatus = "failed"
)

// Degradation records one fetch that fell back to defaults
type Degradation struct {
	Source string `json:"source"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// DroppedProp records a prop excluded from the output table
type DroppedProp struct {
	PropID string `json:"prop_id"`
	Reason string `json:"reason"`
}

// BuildReport carries warnings and errors accumulated during one build.
// Degradations are survivable; dropped props are reported, never silent.
type BuildReport struct {
	Degradations []Degradation `json:"degradations,omitempty"`
	Dropped      []DroppedProp `json:"dropped,omitempty"`
}

// Degraded reports whether any source fell back to defaults
func (r *BuildReport) Degraded() bool { return len(r.Degradations) > 0 }
