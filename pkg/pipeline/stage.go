// Package pipeline tracks job application work items through a fixed stage
// lifecycle. Transitions are validated against an explicit table, every
// transition is appended to a per-item history, and a restartable sweep
// surfaces items that have stopped advancing.
package pipeline

import "fmt"

// Stage is one discrete step in a work item's lifecycle.
type Stage string

const (
	StageDiscovered   Stage = "discovered"
	StageScored       Stage = "scored"
	StageApproved     Stage = "approved"
	StageDocsPrepared Stage = "docs_prepared"
	StageFormFilled   Stage = "form_filled"
	StageSubmitted    Stage = "submitted"
	StageFailed       Stage = "failed"
	StageSkipped      Stage = "skipped"
)

// validTransitions defines the allowed forward edges for each stage.
// Terminal stages have no outgoing edges. failed/skipped are reachable from
// any non-terminal stage and are handled in ValidTransition directly.
var validTransitions = map[Stage][]Stage{
	StageDiscovered:   {StageScored, StageApproved},
	StageScored:       {StageApproved},
	StageApproved:     {StageDocsPrepared},
	StageDocsPrepared: {StageFormFilled},
	StageFormFilled:   {StageSubmitted},
}

// AllStages lists every stage in lifecycle order.
func AllStages() []Stage {
	return []Stage{
		StageDiscovered,
		StageScored,
		StageApproved,
		StageDocsPrepared,
		StageFormFilled,
		StageSubmitted,
		StageFailed,
		StageSkipped,
	}
}

// IsTerminal reports whether a stage is archival: no further transitions.
func (s Stage) IsTerminal() bool {
	return s == StageSubmitted || s == StageFailed || s == StageSkipped
}

// IsValid reports whether s names a known stage.
func (s Stage) IsValid() bool {
	for _, known := range AllStages() {
		if s == known {
			return true
		}
	}
	return false
}

func (s Stage) String() string {
	return string(s)
}

// ParseStage converts a string to a Stage, failing on unknown values.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return s, nil
}

// ValidTransition reports whether from → to is a legal edge. Absorbing
// stages (failed, skipped) are reachable from any non-terminal stage.
func ValidTransition(from, to Stage) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StageFailed || to == StageSkipped {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
