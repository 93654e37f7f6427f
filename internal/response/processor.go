// Package response implements the Response Processor (spec §4.D): a pure
// reducer over (vide.Response, vide.Conversation) that folds one decoded
// frame into the next Conversation snapshot and reports whether the turn
// completed.
//
// It never mutates its Conversation argument; every call returns a fresh
// value so a caller (the Conversation Store, §4.E) can publish snapshots
// without racing a reader that still holds the previous one.
package response

import (
	"encoding/json"
	"fmt"

	"github.com/csells/vide-cli-sub001/pkg/vide"
	"github.com/google/uuid"
)

// Result is Process's return value: the next Conversation snapshot plus
// whether this Response closed out the current turn.
type Result struct {
	Conversation vide.Conversation
	TurnComplete bool
}

// rawMessageEnvelope mirrors the subset of a cumulative assistant frame's
// rawData.message.usage object the processor needs (spec §4.D rule 1).
type rawMessageEnvelope struct {
	Message *struct {
		StopReason string `json:"stop_reason"`
		Usage      *struct {
			InputTokens         int     `json:"input_tokens"`
			OutputTokens        int     `json:"output_tokens"`
			CacheReadTokens     int     `json:"cache_read_input_tokens"`
			CacheCreationTokens int     `json:"cache_creation_input_tokens"`
			CostUsd             float64 `json:"cost_usd"`
		} `json:"usage"`
	} `json:"message"`
}

// Process folds one Response into conv and reports the resulting
// snapshot plus whether the turn completed. Rule ordering follows spec
// §4.D exactly.
func Process(r vide.Response, conv vide.Conversation) Result {
	next := conv.clone()

	switch r.Type {
	case vide.ResponseText:
		return processText(r, next)
	case vide.ResponseToolUse:
		return processToolUse(r, next)
	case vide.ResponseToolResult:
		return processToolResult(r, next)
	case vide.ResponseCompletion:
		return processCompletion(r, next)
	case vide.ResponseError:
		return processError(r, next)
	default: // Status, Meta, Unknown: no-op
		return Result{Conversation: next, TurnComplete: false}
	}
}

func streamingAssistant(c *vide.Conversation) *vide.ConversationMessage {
	m := c.lastMessage()
	if m != nil && m.Role == vide.RoleAssistant && m.IsStreaming {
		return m
	}
	return nil
}

func newAssistantMessage(c *vide.Conversation) *vide.ConversationMessage {
	c.Messages = append(c.Messages, vide.ConversationMessage{
		ID:          uuid.NewString(),
		Role:        vide.RoleAssistant,
		IsStreaming: true,
	})
	return &c.Messages[len(c.Messages)-1]
}

// recomputeContent folds a message's Text responses into Content,
// preferring partial-stream text over cumulative text for the same
// logical block (spec §3, §4.D, §9): if ANY Text response in the
// message is partial, the concatenation of partial responses is
// authoritative and cumulative Text responses are ignored; otherwise
// the last cumulative Text response wins.
func recomputeContent(m *vide.ConversationMessage) {
	var partials []string
	var lastCumulative string
	haveCumulative := false
	for _, resp := range m.Responses {
		if resp.Type != vide.ResponseText {
			continue
		}
		if resp.Text.IsPartial {
			partials = append(partials, resp.Text.Content)
		} else {
			lastCumulative = resp.Text.Content
			haveCumulative = true
		}
	}
	if len(partials) > 0 {
		joined := ""
		for _, p := range partials {
			joined += p
		}
		m.Content = joined
		return
	}
	if haveCumulative {
		m.Content = lastCumulative
	}
}

func processText(r vide.Response, c vide.Conversation) Result {
	m := streamingAssistant(&c)
	if m == nil {
		m = newAssistantMessage(&c)
	}
	m.Responses = append(m.Responses, r)
	m.Ts = r.Ts
	recomputeContent(m)
	c.State = vide.StateReceivingResponse

	usage, stopReason, ok := extractUsage(r)
	if !ok {
		return Result{Conversation: c, TurnComplete: false}
	}

	c.applyUsage(usage)
	switch stopReason {
	case "end_turn", "stop":
		m.IsStreaming = false
		m.IsComplete = true
		c.State = vide.StateIdle
		return Result{Conversation: c, TurnComplete: true}
	case "tool_use":
		return Result{Conversation: c, TurnComplete: false}
	default:
		return Result{Conversation: c, TurnComplete: false}
	}
}

// extractUsage pulls usage + stop_reason out of a response's
// rawData.message.usage/stop_reason (spec §4.D rule 1); the typed
// Completion payload is not consulted here.
func extractUsage(r vide.Response) (vide.Usage, string, bool) {
	if len(r.RawData) == 0 {
		return vide.Usage{}, "", false
	}
	var env rawMessageEnvelope
	if err := json.Unmarshal(r.RawData, &env); err != nil || env.Message == nil {
		return vide.Usage{}, "", false
	}
	if env.Message.StopReason == "" {
		return vide.Usage{}, "", false
	}
	var u vide.Usage
	if env.Message.Usage != nil {
		u = vide.Usage{
			InputTokens:         env.Message.Usage.InputTokens,
			OutputTokens:        env.Message.Usage.OutputTokens,
			CacheReadTokens:     env.Message.Usage.CacheReadTokens,
			CacheCreationTokens: env.Message.Usage.CacheCreationTokens,
			CostUsd:             env.Message.Usage.CostUsd,
		}
	}
	return u, env.Message.StopReason, true
}

func processToolUse(r vide.Response, c vide.Conversation) Result {
	m := streamingAssistant(&c)
	if m == nil {
		m = newAssistantMessage(&c)
	}
	m.Responses = append(m.Responses, r)
	m.Ts = r.Ts
	c.State = vide.StateProcessing
	return Result{Conversation: c, TurnComplete: false}
}

func processToolResult(r vide.Response, c vide.Conversation) Result {
	m := c.lastMessage()
	if m == nil {
		m = newAssistantMessage(&c)
	}
	m.Responses = append(m.Responses, r)
	m.Ts = r.Ts
	c.State = vide.StateProcessing
	return Result{Conversation: c, TurnComplete: false}
}

func processCompletion(r vide.Response, c vide.Conversation) Result {
	m := c.lastMessage()
	if m == nil {
		m = newAssistantMessage(&c)
	}
	m.Responses = append(m.Responses, r)
	m.IsStreaming = false
	m.IsComplete = true
	m.Ts = r.Ts

	var u vide.Usage
	if r.Completion != nil {
		u = vide.Usage{
			InputTokens:         r.Completion.InputTokens,
			OutputTokens:        r.Completion.OutputTokens,
			CacheReadTokens:     r.Completion.CacheReadTokens,
			CacheCreationTokens: r.Completion.CacheCreationTokens,
			CostUsd:             r.Completion.CostUsd,
		}
	}
	c.applyUsage(u)
	c.State = vide.StateIdle
	return Result{Conversation: c, TurnComplete: true}
}

func processError(r vide.Response, c vide.Conversation) Result {
	m := c.lastMessage()
	if m == nil || m.IsComplete {
		m = newAssistantMessage(&c)
	}
	msg := "unknown error"
	if r.Error != nil {
		msg = r.Error.Error
	}
	m.Responses = append(m.Responses, r)
	m.IsStreaming = false
	m.IsComplete = true
	m.Error = msg
	m.Ts = r.Ts

	c.State = vide.StateError
	c.CurrentError = msg
	return Result{Conversation: c, TurnComplete: true}
}

// SyntheticError appends a synthetic Error response/message to conv, used
// by the Agent Client on abort ("Interrupted by user") and on unexpected
// process exit ("PROCESS_EXIT") (spec §4.C, §4.F, §7).
func SyntheticError(conv vide.Conversation, message, code string) vide.Conversation {
	r := vide.Response{
		ID:   uuid.NewString(),
		Type: vide.ResponseError,
		Error: &vide.ErrorPayload{
			Error: message,
			Code:  code,
		},
	}
	return Process(r, conv).Conversation
}

// ErrEmptyMessage is returned by callers validating a user message
// before it reaches the processor (the processor itself only ever
// handles subprocess-originated Responses).
var ErrEmptyMessage = fmt.Errorf("message must not be empty")
