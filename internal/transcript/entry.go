package transcript

import (
	"encoding/json"
	"time"
)

// Entry types that are bookkeeping noise in Claude Code transcripts and never
// carry conversation content.
var noiseTypes = map[string]bool{
	"file-history-snapshot": true,
	"change":                true,
	"queue-operation":       true,
}

// TokenUsage mirrors the usage object attached to assistant entries.
type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// TotalContext returns the context window fill represented by this usage
// record: real input plus everything served from cache.
func (t TokenUsage) TotalContext() int {
	return t.InputTokens + t.CacheCreationInputTokens + t.CacheReadInputTokens
}

type BlockKind int

const (
	BlockText BlockKind = iota
	BlockToolUse
	BlockToolResult
)

// ContentBlock is one element of an entry's content array, validated at parse
// time into a closed set of kinds. Blocks with unrecognized types are dropped
// during parsing.
type ContentBlock struct {
	Kind      BlockKind
	Text      string         // BlockText
	ToolName  string         // BlockToolUse
	ToolInput map[string]any // BlockToolUse
	IsError   bool           // BlockToolResult
}

// Entry is one parsed transcript record. Type is the record's declared type
// string ("assistant", "user", or anything else; the classifier decides what
// matters). Blocks holds the structured content for assistant/user entries;
// Text holds user content that arrived as a plain string.
type Entry struct {
	Type      string
	Sidechain bool
	Blocks    []ContentBlock
	Text      string
	Model     string
	Usage     *TokenUsage
	Time      time.Time
}

type rawEntry struct {
	Type        string          `json:"type"`
	IsSidechain bool            `json:"isSidechain"`
	Timestamp   string          `json:"timestamp"`
	Message     json.RawMessage `json:"message"`
}

type rawMessage struct {
	Model   string          `json:"model"`
	Usage   *TokenUsage     `json:"usage,omitempty"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Name    string         `json:"name,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// ParseEntry parses one transcript line into an Entry.
func ParseEntry(line []byte) (Entry, error) {
	var raw rawEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, err
	}

	e := Entry{
		Type:      raw.Type,
		Sidechain: raw.IsSidechain,
	}

	if raw.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			e.Time = t
		}
	}

	if len(raw.Message) == 0 {
		return e, nil
	}

	var msg rawMessage
	if err := json.Unmarshal(raw.Message, &msg); err != nil {
		return e, nil
	}
	e.Model = msg.Model
	e.Usage = msg.Usage

	if len(msg.Content) == 0 {
		return e, nil
	}

	// User content may be a plain string instead of a block array.
	var s string
	if err := json.Unmarshal(msg.Content, &s); err == nil {
		e.Text = s
		return e, nil
	}

	var blocks []rawBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return e, nil
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			e.Blocks = append(e.Blocks, ContentBlock{Kind: BlockText, Text: b.Text})
		case "tool_use":
			name := b.Name
			if name == "" {
				name = "unknown"
			}
			e.Blocks = append(e.Blocks, ContentBlock{Kind: BlockToolUse, ToolName: name, ToolInput: b.Input})
		case "tool_result":
			e.Blocks = append(e.Blocks, ContentBlock{Kind: BlockToolResult, IsError: b.IsError})
		}
	}
	return e, nil
}
