// Package vide provides the domain model shared by every core component:
// the Response variant emitted by an agent subprocess, the Conversation
// state machine folded from it, and the Network/Agent/Permission records
// persisted across a run.
package vide

import (
	"encoding/json"
	"time"
)

// ResponseType discriminates the Response variant.
type ResponseType string

const (
	ResponseText       ResponseType = "text"
	ResponseToolUse    ResponseType = "tool_use"
	ResponseToolResult ResponseType = "tool_result"
	ResponseCompletion ResponseType = "completion"
	ResponseError      ResponseType = "error"
	ResponseStatus     ResponseType = "status"
	ResponseMeta       ResponseType = "meta"
	ResponseUnknown    ResponseType = "unknown"
)

// Role distinguishes who authored a Text response, when reported.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is the unified, immutable event emitted by the JSON Frame
// Decoder (spec §4.A) for a single decoded subprocess frame. At most one
// of the typed payload pointers is non-nil for a given Type, mirroring
// the single-discriminator-plus-optional-payloads shape used throughout
// this codebase's event types.
type Response struct {
	ID   string       `json:"id"`
	Type ResponseType `json:"type"`
	Ts   time.Time    `json:"ts"`

	Text       *TextPayload       `json:"text,omitempty"`
	ToolUse    *ToolUsePayload    `json:"tool_use,omitempty"`
	ToolResult *ToolResultPayload `json:"tool_result,omitempty"`
	Completion *CompletionPayload `json:"completion,omitempty"`
	Error      *ErrorPayload      `json:"error,omitempty"`

	// RawData is the original decoded JSON object, retained for Unknown
	// responses and for usage-field extraction (rawData.message.usage).
	RawData json.RawMessage `json:"raw_data,omitempty"`
}

// TextPayload carries streamed or cumulative assistant/user text.
type TextPayload struct {
	Content   string `json:"content"`
	IsPartial bool   `json:"is_partial"`
	Role      Role   `json:"role,omitempty"`
}

// ToolUsePayload is a tool invocation request from the subprocess.
type ToolUsePayload struct {
	ToolName   string         `json:"tool_name"`
	Params     map[string]any `json:"params"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
}

// ToolResultPayload is the outcome of a previously requested tool call.
type ToolResultPayload struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// CompletionPayload reports end-of-turn usage and cost accounting.
type CompletionPayload struct {
	StopReason          string  `json:"stop_reason,omitempty"`
	InputTokens         int     `json:"input_tokens,omitempty"`
	OutputTokens        int     `json:"output_tokens,omitempty"`
	CacheReadTokens     int     `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int     `json:"cache_creation_tokens,omitempty"`
	CostUsd             float64 `json:"cost_usd,omitempty"`
}

// ErrorPayload reports a subprocess or protocol-level error.
type ErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Usage pulled out of a Completion or an end-of-turn Text response.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostUsd             float64
}

func (r Response) usage() (Usage, bool) {
	if r.Completion != nil {
		return Usage{
			InputTokens:         r.Completion.InputTokens,
			OutputTokens:        r.Completion.OutputTokens,
			CacheReadTokens:     r.Completion.CacheReadTokens,
			CacheCreationTokens: r.Completion.CacheCreationTokens,
			CostUsd:             r.Completion.CostUsd,
		}, true
	}
	return Usage{}, false
}
