// Package permission implements the Permission Broker (spec §4.J): one
// FIFO queue per network buffering PermissionRequest values raised by
// the Control Protocol's permission control frames, blocking the
// requesting goroutine until a UI consumer replies.
//
// Grounded on the teacher's internal/tools/policy tool-group
// classification (group:fs == write-family) used here to decide
// session-only vs. durable "remember" persistence (spec §4.J rule 2).
package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// writeFamilyTools mirrors the teacher's policy "group:fs": a remembered
// allow pattern for one of these is session-only (spec §4.J rule 2),
// never written to the durable settings allow-list.
var writeFamilyTools = map[string]bool{
	"Write":     true,
	"Edit":      true,
	"MultiEdit": true,
}

// IsWriteFamily reports whether toolName belongs to the write family.
func IsWriteFamily(toolName string) bool {
	return writeFamilyTools[toolName]
}

// SettingsAllower persists a durable allow pattern; satisfied by
// storage.SettingsStore.AllowPattern.
type SettingsAllower interface {
	AllowPattern(pattern string) error
}

// pendingRequest pairs a PermissionRequest with the channel its
// resolution is delivered on.
type pendingRequest struct {
	req   vide.PermissionRequest
	reply chan vide.PermissionResponse
}

// Broker holds one FIFO queue of pending requests per network (spec
// §4.J: "at-most-one outstanding permission per agent at a time" is
// enforced upstream by the Control Protocol serializing callbacks per
// requestId; the Broker additionally guarantees FIFO *emission* order on
// the external event stream within a network).
type Broker struct {
	mu       sync.Mutex
	settings SettingsAllower

	// sessionAllow tracks remembered write-family patterns that must not
	// survive process restart, keyed by networkID.
	sessionAllow map[string]map[string]bool

	pending map[string]*pendingRequest // requestId -> pending
	queues  map[string][]string        // networkId -> ordered requestIds still outstanding

	onRequest func(networkID string, req vide.PermissionRequest)
}

// New builds a Broker. settings may be nil if durable remember-pattern
// persistence is not needed (e.g. tests).
func New(settings SettingsAllower) *Broker {
	return &Broker{
		settings:     settings,
		sessionAllow: map[string]map[string]bool{},
		pending:      map[string]*pendingRequest{},
		queues:       map[string][]string{},
	}
}

// OnRequest installs the callback invoked whenever a request is
// enqueued, so an owner can forward it onto the external event stream as
// `permission_request` (spec §4.J).
func (b *Broker) OnRequest(fn func(networkID string, req vide.PermissionRequest)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRequest = fn
}

// SessionAllowed reports whether pattern was remembered as session-only
// allowed for networkID (spec §4.J rule 2), so a caller can short-circuit
// a repeat permission frame without round-tripping to the UI. Not part of
// spec.md's explicit operation list, but implied by "remember" being
// useful at all.
func (b *Broker) SessionAllowed(networkID, pattern string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionAllow[networkID][pattern]
}

// Request enqueues req on networkID's queue and blocks until Respond is
// called with a matching requestId, or ctx is canceled.
func (b *Broker) Request(ctx context.Context, networkID string, req vide.PermissionRequest) (vide.PermissionResponse, error) {
	reply := make(chan vide.PermissionResponse, 1)
	entry := &pendingRequest{req: req, reply: reply}

	b.mu.Lock()
	b.pending[req.RequestID] = entry
	b.queues[networkID] = append(b.queues[networkID], req.RequestID)
	onRequest := b.onRequest
	b.mu.Unlock()

	if onRequest != nil {
		onRequest(networkID, req)
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, req.RequestID)
		b.mu.Unlock()
		return vide.PermissionResponse{}, ctx.Err()
	}
}

// Respond resolves a pending request by requestId (spec §4.J rules
// 1-3). An unknown requestId is ignored, matching §7 ProtocolError
// handling for a reply with no matching pending request.
func (b *Broker) Respond(networkID string, resp vide.PermissionResponse, requestID string) error {
	b.mu.Lock()
	entry, ok := b.pending[requestID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.pending, requestID)
	b.removeFromQueue(networkID, requestID)

	if resp.Decision == vide.PermissionAllow && resp.RememberPattern != "" {
		if IsWriteFamily(entry.req.ToolName) {
			if b.sessionAllow[networkID] == nil {
				b.sessionAllow[networkID] = map[string]bool{}
			}
			b.sessionAllow[networkID][resp.RememberPattern] = true
			b.mu.Unlock()
		} else {
			b.mu.Unlock()
			if b.settings != nil {
				if err := b.settings.AllowPattern(resp.RememberPattern); err != nil {
					return fmt.Errorf("persist remembered allow pattern: %w", err)
				}
			}
		}
	} else {
		b.mu.Unlock()
	}

	entry.reply <- resp
	return nil
}

func (b *Broker) removeFromQueue(networkID, requestID string) {
	q := b.queues[networkID]
	for i, id := range q {
		if id == requestID {
			b.queues[networkID] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// Pending returns the requestIds still outstanding for networkID, in
// FIFO order.
func (b *Broker) Pending(networkID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.queues[networkID]))
	copy(out, b.queues[networkID])
	return out
}

// MatchesPattern reports whether toolName+a coarse glob pattern agree,
// a minimal helper for a caller checking SessionAllowed before issuing a
// new Broker.Request; full glob semantics live with whatever builds
// `pattern` (spec leaves the pattern grammar to the subprocess).
func MatchesPattern(pattern, toolName string) bool {
	if pattern == toolName {
		return true
	}
	return strings.HasPrefix(pattern, toolName+"(")
}
