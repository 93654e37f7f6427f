// Package multiplex implements the Event Multiplexer (spec §4.I):
// merges every agent's Conversation stream in a network into one
// ordered, attributed event timeline per external consumer (e.g. one
// WebSocket peer). A new subscriber gets a `connected` event, then a
// full-state snapshot of every agent's current Conversation replayed
// as message/tool_use/tool_result events, then live deltas.
//
// Grounded on the teacher's internal/gateway wsControlPlane (wsFrame's
// discriminated type+payload shape, one upgrader per connection)
// generalized from "one RPC frame format" to "one attributed agent
// event", and on the Conversation Store's (§4.E) non-blocking
// broadcast-channel idiom reused per subscriber per agent.
package multiplex

import (
	"sync"
	"time"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// EventType discriminates a multiplexed Event (spec §4.I).
type EventType string

const (
	EventConnected    EventType = "connected"
	EventMessage      EventType = "message"
	EventMessageDelta EventType = "message_delta"
	EventToolUse      EventType = "tool_use"
	EventToolResult   EventType = "tool_result"
	EventError        EventType = "error"
	EventDone         EventType = "done"
	EventStatus       EventType = "status"
)

// Event is one entry on the merged, attributed timeline (spec §4.I:
// "Every event carries {agentId, agentType, agentName, taskName?,
// type, data, timestamp}").
type Event struct {
	AgentID   string
	AgentType string
	AgentName string
	TaskName  string
	Type      EventType
	Data      any
	Timestamp time.Time
}

// MessageDeltaData is the payload of an EventMessageDelta.
type MessageDeltaData struct {
	Delta string
}

// ToolUseData is the payload of an EventToolUse.
type ToolUseData struct {
	ToolUseID string
	ToolName  string
	Params    map[string]any
}

// ToolResultData is the payload of an EventToolResult.
type ToolResultData struct {
	ToolUseID string
	ToolName  string
	Content   string
	IsError   bool
}

// AgentSource is the subset of agentclient.Client the multiplexer
// consumes: a live conversation stream plus the current snapshot for
// replay on subscribe.
type AgentSource interface {
	Subscribe(buffer int) <-chan vide.Conversation
	Conversation() vide.Conversation
}

// AgentMeta is the attribution every event for one agent carries.
type AgentMeta struct {
	Type     string
	Name     string
	TaskName string
}

type registeredAgent struct {
	meta   AgentMeta
	source AgentSource
}

// trackedState is the per-subscriber, per-agent delta-tracking state
// (spec §4.I: "{lastMessageCount, lastContentLength, lastMessageText}").
type trackedState struct {
	lastMessageCount int
	lastContentLength int
	lastMessageText   string
	lastConvState     vide.ConversationState
	errorEmitted      bool

	toolNames    map[string]string // toolUseId -> toolName, for every tool_use seen
	resultSeen   map[string]bool   // toolUseId -> result already emitted
}

// subscriberSink is one external consumer's merged stream.
type subscriberSink struct {
	out   chan Event
	mu    sync.Mutex
	state map[string]*trackedState // agentId -> tracked state
	done  chan struct{}
}

// Multiplexer merges every agent in one network onto per-subscriber
// streams (spec §4.I: "All agents in a network multiplex onto one
// stream per network").
type Multiplexer struct {
	mu          sync.RWMutex
	agents      map[string]registeredAgent
	subscribers []*subscriberSink
	bufferSize  int
}

// New builds a Multiplexer. bufferSize sizes both the per-agent fan-in
// channels and each subscriber's output channel.
func New(bufferSize int) *Multiplexer {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Multiplexer{agents: map[string]registeredAgent{}, bufferSize: bufferSize}
}

// AddAgent registers an agent's live source, attaching it to every
// already-active subscriber (spec §4.H spawn feeding §4.I, live).
func (m *Multiplexer) AddAgent(agentID string, meta AgentMeta, source AgentSource) {
	m.mu.Lock()
	m.agents[agentID] = registeredAgent{meta: meta, source: source}
	subs := make([]*subscriberSink, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, sink := range subs {
		m.attach(sink, agentID)
	}
}

// Subscribe opens one external consumer's stream: a `connected` event,
// a full-state snapshot of every currently registered agent, then live
// deltas for every agent (including ones AddAgent registers later).
func (m *Multiplexer) Subscribe() <-chan Event {
	sink := &subscriberSink{
		out:   make(chan Event, m.bufferSize),
		state: map[string]*trackedState{},
		done:  make(chan struct{}),
	}

	m.mu.Lock()
	m.subscribers = append(m.subscribers, sink)
	agentIDs := make([]string, 0, len(m.agents))
	for id := range m.agents {
		agentIDs = append(agentIDs, id)
	}
	m.mu.Unlock()

	sink.out <- Event{Type: EventConnected, Timestamp: time.Now()}
	for _, id := range agentIDs {
		m.replaySnapshot(sink, id)
		m.attach(sink, id)
	}

	return sink.out
}

// EmitStatus broadcasts an agent's status transition to every active
// subscriber (spec §4.I: "Status transitions emit status{status}"),
// fed by the Network Manager's setStatus (spec §4.H).
func (m *Multiplexer) EmitStatus(agentID string, status vide.AgentStatus) {
	m.mu.RLock()
	ra, ok := m.agents[agentID]
	subs := make([]*subscriberSink, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.RUnlock()
	if !ok {
		return
	}
	event := Event{
		AgentID:   agentID,
		AgentType: ra.meta.Type,
		AgentName: ra.meta.Name,
		TaskName:  ra.meta.TaskName,
		Type:      EventStatus,
		Data:      status,
		Timestamp: time.Now(),
	}
	for _, sink := range subs {
		sendNonBlocking(sink.out, event)
	}
}

func (m *Multiplexer) replaySnapshot(sink *subscriberSink, agentID string) {
	m.mu.RLock()
	ra := m.agents[agentID]
	m.mu.RUnlock()

	conv := ra.source.Conversation()
	st := &trackedState{
		toolNames:  map[string]string{},
		resultSeen: map[string]bool{},
	}

	for _, msg := range conv.Messages {
		sendNonBlocking(sink.out, m.event(agentID, ra.meta, EventMessage, msg.Content))
		for _, r := range msg.Responses {
			switch r.Type {
			case vide.ResponseToolUse:
				id := r.ToolUse.ToolUseID
				if id == "" {
					id = r.ID
				}
				st.toolNames[id] = r.ToolUse.ToolName
				sendNonBlocking(sink.out, m.event(agentID, ra.meta, EventToolUse, ToolUseData{
					ToolUseID: id, ToolName: r.ToolUse.ToolName, Params: r.ToolUse.Params,
				}))
			case vide.ResponseToolResult:
				id := r.ToolResult.ToolUseID
				st.resultSeen[id] = true
				sendNonBlocking(sink.out, m.event(agentID, ra.meta, EventToolResult, ToolResultData{
					ToolUseID: id, ToolName: st.toolNames[id], Content: r.ToolResult.Content, IsError: r.ToolResult.IsError,
				}))
			}
		}
	}

	st.lastMessageCount = len(conv.Messages)
	if last := lastMessage(conv); last != nil {
		st.lastContentLength = len(last.Content)
		st.lastMessageText = last.Content
	}
	st.lastConvState = conv.State
	if conv.CurrentError != "" {
		sendNonBlocking(sink.out, m.event(agentID, ra.meta, EventError, conv.CurrentError))
		st.errorEmitted = true
	}

	sink.mu.Lock()
	sink.state[agentID] = st
	sink.mu.Unlock()
}

func (m *Multiplexer) attach(sink *subscriberSink, agentID string) {
	m.mu.RLock()
	ra := m.agents[agentID]
	m.mu.RUnlock()

	sink.mu.Lock()
	if _, ok := sink.state[agentID]; !ok {
		sink.state[agentID] = &trackedState{toolNames: map[string]string{}, resultSeen: map[string]bool{}}
	}
	sink.mu.Unlock()

	updates := ra.source.Subscribe(m.bufferSize)
	go func() {
		for conv := range updates {
			m.applyUpdate(sink, agentID, ra.meta, conv)
		}
	}()
}

func (m *Multiplexer) applyUpdate(sink *subscriberSink, agentID string, meta AgentMeta, conv vide.Conversation) {
	sink.mu.Lock()
	st := sink.state[agentID]
	sink.mu.Unlock()
	if st == nil {
		return
	}

	if len(conv.Messages) > st.lastMessageCount {
		for _, msg := range conv.Messages[st.lastMessageCount:] {
			sendNonBlocking(sink.out, m.event(agentID, meta, EventMessage, msg.Content))
			m.emitNewToolEvents(sink, agentID, meta, st, msg)
		}
		st.lastMessageCount = len(conv.Messages)
		if last := lastMessage(conv); last != nil {
			st.lastContentLength = len(last.Content)
			st.lastMessageText = last.Content
		}
	} else if last := lastMessage(conv); last != nil {
		if len(last.Content) > st.lastContentLength {
			delta := last.Content[st.lastContentLength:]
			sendNonBlocking(sink.out, m.event(agentID, meta, EventMessageDelta, MessageDeltaData{Delta: delta}))
			st.lastContentLength = len(last.Content)
			st.lastMessageText = last.Content
		}
		m.emitNewToolEvents(sink, agentID, meta, st, *last)
	}

	if conv.CurrentError != "" && !st.errorEmitted {
		sendNonBlocking(sink.out, m.event(agentID, meta, EventError, conv.CurrentError))
		st.errorEmitted = true
	}

	if st.lastConvState == vide.StateReceivingResponse && conv.State == vide.StateIdle {
		sendNonBlocking(sink.out, m.event(agentID, meta, EventDone, nil))
	}
	st.lastConvState = conv.State
}

func (m *Multiplexer) emitNewToolEvents(sink *subscriberSink, agentID string, meta AgentMeta, st *trackedState, msg vide.ConversationMessage) {
	for _, r := range msg.Responses {
		switch r.Type {
		case vide.ResponseToolUse:
			id := r.ToolUse.ToolUseID
			if id == "" {
				id = r.ID
			}
			if _, seen := st.toolNames[id]; seen {
				continue
			}
			st.toolNames[id] = r.ToolUse.ToolName
			sendNonBlocking(sink.out, m.event(agentID, meta, EventToolUse, ToolUseData{
				ToolUseID: id, ToolName: r.ToolUse.ToolName, Params: r.ToolUse.Params,
			}))
		case vide.ResponseToolResult:
			id := r.ToolResult.ToolUseID
			if st.resultSeen[id] {
				continue
			}
			st.resultSeen[id] = true
			sendNonBlocking(sink.out, m.event(agentID, meta, EventToolResult, ToolResultData{
				ToolUseID: id, ToolName: st.toolNames[id], Content: r.ToolResult.Content, IsError: r.ToolResult.IsError,
			}))
		}
	}
}

func (m *Multiplexer) event(agentID string, meta AgentMeta, typ EventType, data any) Event {
	return Event{
		AgentID:   agentID,
		AgentType: meta.Type,
		AgentName: meta.Name,
		TaskName:  meta.TaskName,
		Type:      typ,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func lastMessage(conv vide.Conversation) *vide.ConversationMessage {
	if len(conv.Messages) == 0 {
		return nil
	}
	return &conv.Messages[len(conv.Messages)-1]
}

// sendNonBlocking drops the event rather than blocking a slow consumer
// indefinitely, matching the Conversation Store's broadcast idiom
// (spec §4.E, §5): a multiplexed stream favors liveness over completeness.
func sendNonBlocking(out chan Event, e Event) {
	select {
	case out <- e:
	default:
	}
}
