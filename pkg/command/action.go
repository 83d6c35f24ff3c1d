// Package command interprets free-form operator chat into a closed set of
// pipeline actions using an LLM, with a confidence threshold guarding
// anything that mutates state.
package command

import "fmt"

// Action is one member of the closed action vocabulary.
type Action string

const (
	// ActionSearch starts a job search run.
	ActionSearch Action = "search"
	// ActionApprove approves one or more items for application.
	ActionApprove Action = "approve"
	// ActionReject skips one or more items.
	ActionReject Action = "reject"
	// ActionPrepare generates application documents for approved items.
	ActionPrepare Action = "prepare"
	// ActionFillForm fills the application form for a prepared item.
	ActionFillForm Action = "fill_form"
	// ActionQueryStatus reports pipeline counts and recent activity.
	ActionQueryStatus Action = "query_status"
	// ActionSetPreferences updates stored search preferences.
	ActionSetPreferences Action = "set_preferences"
	// ActionReply carries a conversational answer with no side effects.
	ActionReply Action = "reply"
)

// AllActions lists the closed action vocabulary.
func AllActions() []Action {
	return []Action{
		ActionSearch,
		ActionApprove,
		ActionReject,
		ActionPrepare,
		ActionFillForm,
		ActionQueryStatus,
		ActionSetPreferences,
		ActionReply,
	}
}

// IsValid reports whether a names a known action.
func (a Action) IsValid() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// Mutating reports whether the action changes pipeline, session, or
// preference state. Mutating actions are gated by the confidence threshold.
func (a Action) Mutating() bool {
	switch a {
	case ActionSearch, ActionApprove, ActionReject, ActionPrepare, ActionFillForm, ActionSetPreferences:
		return true
	default:
		return false
	}
}

// ParseAction converts a string to an Action, failing on unknown values.
func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if !a.IsValid() {
		return "", fmt.Errorf("unknown action %q", raw)
	}
	return a, nil
}

// Command is one interpreted operator instruction.
type Command struct {
	Params     map[string]any `json:"params,omitempty"`
	Action     Action         `json:"action"`
	Reply      string         `json:"reply,omitempty"`
	Confidence float64        `json:"confidence"`
}

// ItemIDs extracts the target item list from params, tolerating both
// "item_ids" arrays and a single "item_id".
func (c *Command) ItemIDs() []string {
	var ids []string
	if raw, ok := c.Params["item_ids"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	if s, ok := c.Params["item_id"].(string); ok {
		ids = append(ids, s)
	}
	return ids
}
