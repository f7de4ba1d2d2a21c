package transcript

import "strings"

type ActivityKind int

const (
	// ActivityText is assistant text that belongs in the turn's result.
	ActivityText ActivityKind = iota
	// ActivityToolCall is an assistant tool invocation.
	ActivityToolCall
	// ActivityUserPrompt is a user message in the main conversation.
	ActivityUserPrompt
)

// Activity is one classified piece of conversation activity. A single entry
// may yield several (an assistant message with text and tool_use blocks).
type Activity struct {
	Kind      ActivityKind
	Text      string         // ActivityText, ActivityUserPrompt
	ToolName  string         // ActivityToolCall
	ToolInput map[string]any // ActivityToolCall
}

// Classify interprets one entry. It returns the activities the entry yields
// and whether the entry counts as liveness for idle detection.
//
// Noise record types and sidechain (subagent) entries yield nothing and do
// not count as liveness. Tool results are the inverse: they produce no
// activity (a tool's output is not new assistant output) but they do prove
// the agent is still working, so they keep the idle clock running.
func Classify(e Entry) ([]Activity, bool) {
	if noiseTypes[e.Type] {
		return nil, false
	}
	if e.Sidechain {
		return nil, false
	}

	switch e.Type {
	case "assistant":
		var acts []Activity
		for _, b := range e.Blocks {
			switch b.Kind {
			case BlockText:
				if b.Text != "" {
					acts = append(acts, Activity{Kind: ActivityText, Text: b.Text})
				}
			case BlockToolUse:
				acts = append(acts, Activity{
					Kind:      ActivityToolCall,
					ToolName:  b.ToolName,
					ToolInput: b.ToolInput,
				})
			}
		}
		return acts, len(acts) > 0

	case "user":
		var acts []Activity
		live := false
		if text := e.Text; len(e.Blocks) == 0 && strings.TrimSpace(text) != "" {
			acts = append(acts, Activity{Kind: ActivityUserPrompt, Text: text})
			live = true
		}
		for _, b := range e.Blocks {
			switch b.Kind {
			case BlockText:
				if b.Text != "" {
					acts = append(acts, Activity{Kind: ActivityUserPrompt, Text: b.Text})
					live = true
				}
			case BlockToolResult:
				// Informational only, but still liveness.
				live = true
			}
		}
		return acts, live
	}

	return nil, false
}
