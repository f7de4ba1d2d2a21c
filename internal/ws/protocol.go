package ws

import (
	"github.com/claude-watch/backend/internal/chat"
)

type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgText         MessageType = "text"
	MsgTool         MessageType = "tool"
	MsgUserMessage  MessageType = "user_message"
	MsgUsage        MessageType = "usage"
	MsgTurnComplete MessageType = "turn_complete"
	MsgStatus       MessageType = "status"
	MsgError        MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload brings a newly connected client up to date.
type SnapshotPayload struct {
	Messages []chat.Message   `json:"messages"`
	Status   chat.AgentStatus `json:"status"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ToolPayload struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type UserMessagePayload struct {
	Message chat.Message `json:"message"`
}

type UsagePayload struct {
	InputTokens              int     `json:"inputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	TotalContext             int     `json:"totalContext"`
	ContextWindow            int     `json:"contextWindow"`
	Utilization              float64 `json:"utilization"`
}

type TurnCompletePayload struct {
	Text      string `json:"text"`
	Initiated bool   `json:"initiated"`
}

type StatusPayload struct {
	Status chat.AgentStatus `json:"status"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
