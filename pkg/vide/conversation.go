package vide

import "time"

// ConversationState is the Conversation's coarse-grained status.
type ConversationState string

const (
	StateIdle              ConversationState = "idle"
	StateSendingMessage    ConversationState = "sendingMessage"
	StateReceivingResponse ConversationState = "receivingResponse"
	StateProcessing        ConversationState = "processing"
	StateError             ConversationState = "error"
)

// ToolInvocation pairs a ToolUse with its matching ToolResult, once both
// have arrived within the same message (spec §3, invariant 3).
type ToolInvocation struct {
	ToolUseID  string
	ToolName   string
	Params     map[string]any
	HasResult  bool
	IsComplete bool
	IsError    bool
	Result     string
}

// ConversationMessage is one turn's worth of Responses folded together.
type ConversationMessage struct {
	ID          string
	Role        Role
	Content     string
	Ts          time.Time
	Responses   []Response
	Attachments []string
	IsStreaming bool
	IsComplete  bool
	Error       string

	// toolUse indexes ToolUse responses by ToolUseID for O(1) pairing
	// with a later ToolResult; not part of the public snapshot contract.
	toolUse map[string]int // index into Responses
}

// ToolInvocations derives the paired tool calls for this message, in the
// order their ToolUse first appeared.
func (m *ConversationMessage) ToolInvocations() []ToolInvocation {
	var order []string
	byID := map[string]*ToolInvocation{}
	for _, r := range m.Responses {
		switch r.Type {
		case ResponseToolUse:
			id := r.ToolUse.ToolUseID
			if id == "" {
				id = r.ID
			}
			if _, ok := byID[id]; !ok {
				order = append(order, id)
				byID[id] = &ToolInvocation{
					ToolUseID: id,
					ToolName:  r.ToolUse.ToolName,
					Params:    r.ToolUse.Params,
				}
			}
		case ResponseToolResult:
			id := r.ToolResult.ToolUseID
			inv, ok := byID[id]
			if !ok {
				continue
			}
			inv.HasResult = true
			inv.IsComplete = true
			inv.IsError = r.ToolResult.IsError
			inv.Result = r.ToolResult.Content
		}
	}
	out := make([]ToolInvocation, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// ContextWindow is the most-recently-reported token usage snapshot
// (replaced wholesale on every update, never summed — spec §3).
type ContextWindow struct {
	Input         int
	CacheRead     int
	CacheCreation int
	// WindowTotal = Input + CacheRead + CacheCreation. Per §9's open
	// question, OutputTokens does NOT contribute; decided in DESIGN.md.
	WindowTotal int
}

// Conversation is an immutable snapshot; every mutation the Response
// Processor performs produces a new value, never mutates in place, so
// that a subscriber can safely retain an old snapshot while a new one
// is published (spec §3, §5 ordering guarantees).
type Conversation struct {
	Messages []ConversationMessage
	State    ConversationState

	CurrentError string

	TotalInputTokens         int64
	TotalOutputTokens        int64
	TotalCacheReadTokens     int64
	TotalCacheCreationTokens int64
	TotalCostUsd             float64

	CurrentContext ContextWindow
}

// clone returns a deep-enough copy for copy-on-write updates: the
// Messages slice is copied, and each message's Responses slice is
// copied into a fresh backing array so a later append to one snapshot's
// last message can never grow into, and corrupt, a retained earlier
// snapshot's spare capacity (spec §3, §5: a subscriber must never
// observe regression in a snapshot it already holds). Payload pointers
// within a Response are treated as immutable and shared.
func (c Conversation) clone() Conversation {
	out := c
	out.Messages = make([]ConversationMessage, len(c.Messages))
	copy(out.Messages, c.Messages)
	for i, m := range out.Messages {
		if len(m.Responses) == 0 {
			continue
		}
		out.Messages[i].Responses = append([]Response(nil), m.Responses...)
	}
	return out
}

// WithUserMessage returns a new snapshot with a complete user message
// appended and the state advanced to sendingMessage, as
// Client.sendMessage requires before the protocol forwards the turn
// (spec §4.F).
func (c Conversation) WithUserMessage(id, content string, attachments []string) Conversation {
	out := c.clone()
	out.Messages = append(out.Messages, ConversationMessage{
		ID:          id,
		Role:        RoleUser,
		Content:     content,
		Attachments: attachments,
		IsComplete:  true,
	})
	out.State = StateSendingMessage
	return out
}

func (c *Conversation) lastMessage() *ConversationMessage {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

func (c *Conversation) applyUsage(u Usage) {
	c.TotalInputTokens += int64(u.InputTokens)
	c.TotalOutputTokens += int64(u.OutputTokens)
	c.TotalCacheReadTokens += int64(u.CacheReadTokens)
	c.TotalCacheCreationTokens += int64(u.CacheCreationTokens)
	c.TotalCostUsd += u.CostUsd
	c.CurrentContext = ContextWindow{
		Input:         u.InputTokens,
		CacheRead:     u.CacheReadTokens,
		CacheCreation: u.CacheCreationTokens,
		WindowTotal:   u.InputTokens + u.CacheReadTokens + u.CacheCreationTokens,
	}
}
