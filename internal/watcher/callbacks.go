package watcher

import "github.com/claude-watch/backend/internal/transcript"

// Callbacks receives transcript activity from the watcher. All fields are
// optional; a nil func is skipped. Every callback may fire zero or more times
// per turn except OnTurnComplete, which fires exactly once when the turn is
// declared done.
type Callbacks struct {
	// OnText receives each chunk of assistant text as it appears.
	OnText func(text string)
	// OnTool receives each tool invocation.
	OnTool func(name string, input map[string]any)
	// OnUserMessage receives user prompts that did not come through Submit,
	// someone typing into the agent directly.
	OnUserMessage func(text string)
	// OnUsage receives the latest context usage snapshot at the end of a turn.
	OnUsage func(usage transcript.TokenUsage)
	// OnTurnComplete receives the turn's accumulated text. initiated reports
	// whether the turn was started by a coordinator submission.
	OnTurnComplete func(text string, initiated bool)
}

func (c *Callbacks) text(text string) {
	if c != nil && c.OnText != nil {
		c.OnText(text)
	}
}

func (c *Callbacks) tool(name string, input map[string]any) {
	if c != nil && c.OnTool != nil {
		c.OnTool(name, input)
	}
}

func (c *Callbacks) userMessage(text string) {
	if c != nil && c.OnUserMessage != nil {
		c.OnUserMessage(text)
	}
}

func (c *Callbacks) usage(u transcript.TokenUsage) {
	if c != nil && c.OnUsage != nil {
		c.OnUsage(u)
	}
}

func (c *Callbacks) turnComplete(text string, initiated bool) {
	if c != nil && c.OnTurnComplete != nil {
		c.OnTurnComplete(text, initiated)
	}
}
