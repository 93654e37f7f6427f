// Package conversation implements the Conversation Store (spec §4.E):
// holds the current Conversation snapshot, broadcasts every replacement
// to subscribers, and exposes a distinct turn-complete stream so
// consumers can latch onto turn boundaries without diffing snapshots.
//
// Grounded on the teacher's internal/agent EventSink/ChanSink/MultiSink
// family (non-blocking fan-out sinks) adapted from "one AgentEvent" to
// "one immutable Conversation snapshot".
package conversation

import (
	"sync"

	"github.com/csells/vide-cli-sub001/internal/response"
	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// Store holds the current Conversation and fans out every update.
// Safe for concurrent use: Apply is expected to be called from a single
// writer goroutine (the Agent Client's fold loop), while Subscribe/
// Current may be called from any goroutine.
type Store struct {
	mu   sync.RWMutex
	conv vide.Conversation

	subs     []chan vide.Conversation
	turnSubs []chan struct{}
}

// New creates an empty Conversation Store.
func New() *Store {
	return &Store{conv: vide.Conversation{State: vide.StateIdle}}
}

// Current returns the current snapshot.
func (s *Store) Current() vide.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv
}

// Subscribe registers a channel that receives every future snapshot.
// The channel is buffered by the caller's choice; a full channel drops
// the oldest pending snapshot rather than blocking the writer, since a
// subscriber only ever needs the latest state.
func (s *Store) Subscribe(buffer int) <-chan vide.Conversation {
	ch := make(chan vide.Conversation, buffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// OnTurnComplete registers a channel signaled once per completed turn,
// distinct from the conversation stream (spec §4.E).
func (s *Store) OnTurnComplete(buffer int) <-chan struct{} {
	ch := make(chan struct{}, buffer)
	s.mu.Lock()
	s.turnSubs = append(s.turnSubs, ch)
	s.mu.Unlock()
	return ch
}

// AppendUserMessage appends a user message immediately and transitions
// to sendingMessage, as Client.sendMessage requires before the
// protocol forwards the turn (spec §4.F).
func (s *Store) AppendUserMessage(id, content string, attachments []string) {
	s.mu.Lock()
	next := s.conv.WithUserMessage(id, content, attachments)
	s.conv = next
	s.mu.Unlock()
	s.publish(next)
}

// Apply folds one subprocess Response through the Response Processor
// and publishes the resulting snapshot, notifying turn-complete
// subscribers when applicable.
func (s *Store) Apply(r vide.Response) response.Result {
	s.mu.Lock()
	result := response.Process(r, s.conv)
	s.conv = result.Conversation
	s.mu.Unlock()

	s.publish(result.Conversation)
	if result.TurnComplete {
		s.publishTurnComplete()
	}
	return result
}

// ApplySyntheticError appends a synthetic error (abort / process-exit)
// and publishes it, matching Apply's notification behavior.
func (s *Store) ApplySyntheticError(message, code string) {
	s.mu.Lock()
	next := response.SyntheticError(s.conv, message, code)
	s.conv = next
	s.mu.Unlock()
	s.publish(next)
	s.publishTurnComplete()
}

func (s *Store) publish(conv vide.Conversation) {
	s.mu.RLock()
	subs := append([]chan vide.Conversation(nil), s.subs...)
	s.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- conv:
		default:
			// Drain one stale snapshot to make room, then retry once;
			// a subscriber only ever needs the latest value.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- conv:
			default:
			}
		}
	}
}

func (s *Store) publishTurnComplete() {
	s.mu.RLock()
	subs := append([]chan struct{}(nil), s.turnSubs...)
	s.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
