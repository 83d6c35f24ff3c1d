package orch

import (
	"context"
	"fmt"
	"strings"

	"jobpilot/pkg/command"
	"jobpilot/pkg/pipeline"
)

// Dispatch executes an interpreted command and returns the reply shown to
// the operator. Every outcome, success or failure, is also published as a
// command_result event.
func (o *Orchestrator) Dispatch(ctx context.Context, cmd *command.Command) (string, error) {
	reply, err := o.dispatch(ctx, cmd)

	payload := map[string]any{"success": err == nil}
	if err != nil {
		payload["error"] = err.Error()
	}
	if reply != "" {
		payload["reply"] = reply
	}
	o.broadcaster.PublishCommandResult(string(cmd.Action), payload)

	return reply, err
}

func (o *Orchestrator) dispatch(ctx context.Context, cmd *command.Command) (string, error) {
	switch cmd.Action {
	case command.ActionReply:
		return cmd.Reply, nil

	case command.ActionQueryStatus:
		status, err := o.Status(ctx)
		if err != nil {
			return "", err
		}
		return formatStatus(status), nil

	case command.ActionSearch:
		outcome, err := o.StartSearch(ctx, searchRequestFromParams(cmd.Params))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Found %d new listings (%d duplicates skipped), scored %d.",
			outcome.Discovered, outcome.Duplicates, outcome.Scored), nil

	case command.ActionApprove:
		if all, _ := cmd.Params["all_above_threshold"].(bool); all {
			ids, err := o.ApproveAboveThreshold(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Approved %d listings scoring at least %.0f.", len(ids), o.cfg.Pipeline.FitScoreThreshold), nil
		}
		ids := cmd.ItemIDs()
		if len(ids) == 0 {
			return "Tell me which listings to approve.", nil
		}
		if err := o.Approve(ctx, ids); err != nil {
			return "", err
		}
		return fmt.Sprintf("Approved %d listing(s).", len(ids)), nil

	case command.ActionReject:
		ids := cmd.ItemIDs()
		if len(ids) == 0 {
			return "Tell me which listings to reject.", nil
		}
		if err := o.Reject(ctx, ids); err != nil {
			return "", err
		}
		return fmt.Sprintf("Rejected %d listing(s).", len(ids)), nil

	case command.ActionPrepare:
		if err := o.Prepare(ctx, cmd.ItemIDs()); err != nil {
			return "", err
		}
		return "Documents prepared.", nil

	case command.ActionFillForm:
		ids := cmd.ItemIDs()
		if len(ids) == 0 {
			return "Tell me which applications to fill.", nil
		}
		if err := o.FillForm(ctx, ids); err != nil {
			return "", err
		}
		return fmt.Sprintf("Filled %d application(s).", len(ids)), nil

	case command.ActionSetPreferences:
		return o.setPreferences(cmd.Params), nil

	default:
		return "", fmt.Errorf("unhandled action %q", cmd.Action)
	}
}

func searchRequestFromParams(params map[string]any) SearchRequest {
	return SearchRequest{
		JobTitles: stringSlice(params["job_titles"]),
		Locations: stringSlice(params["locations"]),
		Platforms: stringSlice(params["platforms"]),
	}
}

// setPreferences updates the in-memory search defaults used by later runs.
func (o *Orchestrator) setPreferences(params map[string]any) string {
	var changed []string
	if titles := stringSlice(params["job_titles"]); len(titles) > 0 {
		o.cfg.Search.JobTitles = titles
		changed = append(changed, "job titles")
	}
	if locations := stringSlice(params["locations"]); len(locations) > 0 {
		o.cfg.Search.Locations = locations
		changed = append(changed, "locations")
	}
	if remote, ok := params["remote_preference"].(string); ok && remote != "" {
		o.cfg.Search.RemotePreference = remote
		changed = append(changed, "remote preference")
	}
	if len(changed) == 0 {
		return "Nothing to update; tell me which preference to change."
	}
	return fmt.Sprintf("Updated %s.", strings.Join(changed, ", "))
}

func stringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func formatStatus(status *Status) string {
	var b strings.Builder
	b.WriteString("Pipeline: ")
	first := true
	for _, stage := range pipeline.AllStages() {
		count := status.Stages[stage]
		if count == 0 {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d %s", count, stage)
		first = false
	}
	if first {
		b.WriteString("empty")
	}
	fmt.Fprintf(&b, ". Session %s.", status.Session)
	if status.Stalled > 0 {
		fmt.Fprintf(&b, " %d item(s) stalled.", status.Stalled)
	}
	return b.String()
}
