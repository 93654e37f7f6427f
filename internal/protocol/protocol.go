// Package protocol implements the Control Protocol (spec §4.B): the
// framed, line-delimited JSON dialogue between one Agent Client and its
// LLM CLI subprocess, including the hook and permission control frames
// the subprocess invokes inline with conversation frames.
//
// Outbound writes share one subprocess stdin across several concurrent
// writers (a user turn, a routed inter-agent message, a hook/permission
// reply); Protocol serializes them through its own lane-isolated
// command queue (lanes.go, spec §9 "Command lanes") so frames never
// interleave on the wire while a slow main-lane write never blocks a
// control-lane reply.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/csells/vide-cli-sub001/internal/decoder"
	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// outboundFrame is the envelope written to the subprocess's stdin for a
// user turn.
type outboundFrame struct {
	Type    string          `json:"type"`
	Message outboundMessage `json:"message"`
}

type outboundMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// ContentPart is one block of a user turn: plain text or an attachment
// reference, matching sendUserMessageWithContent's parts (spec §4.B).
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type contentPart = ContentPart

// controlFrame is the shape of an inbound hook/permission request from
// the subprocess, and of our reply.
type controlFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolInput map[string]any  `json:"toolInput,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
}

type controlReply struct {
	Type         string         `json:"type"`
	RequestID    string         `json:"requestId"`
	Allow        bool           `json:"allow"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// PermissionCallback is invoked for a `permission` control frame; it
// must return quickly relative to the caller's context, and is expected
// to drive the Permission Broker (spec §4.J) under the hood.
type PermissionCallback func(ctx context.Context, req vide.PermissionRequest) (vide.PermissionResponse, error)

// HookCallback is invoked for a `hook` control frame (spec §4.B); the
// hook name and payload are opaque to the protocol.
type HookCallback func(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error)

// Protocol owns the framed dialogue with one subprocess. It guarantees
// at-most-one outstanding permission callback per requestId and FIFO
// reply order (spec §4.B).
type Protocol struct {
	proc   io.Writer
	queue  *commandQueue
	logger *slog.Logger

	mu         sync.Mutex
	permission PermissionCallback
	hooks      map[string]HookCallback
	pendingReq map[string]struct{}
	onDeny     func(ctx context.Context)

	messages chan json.RawMessage
}

// New builds a Protocol writing outbound frames to stdin and reading
// raw decoded JSON objects from messages (typically fed by a Decoder
// running over the subprocess's stdout).
func New(stdin io.Writer, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		proc:       stdin,
		queue:      newCommandQueue(),
		logger:     logger.With("component", "protocol"),
		hooks:      map[string]HookCallback{},
		pendingReq: map[string]struct{}{},
		messages:   make(chan json.RawMessage, 64),
	}
}

// SetOnDeny installs the callback invoked whenever a permission request
// is denied — including an unhandled or failed callback, which a
// subprocess observes identically to an explicit deny. Spec §4.J rule
// 4: "on deny, the Client additionally calls abort() on itself."
func (p *Protocol) SetOnDeny(cb func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDeny = cb
}

// Rebind points outbound writes at w. The Agent Client constructs a
// Protocol before its subprocess exists (so hooks/permission callbacks
// can be registered up front) and rebinds it to the real stdin pipe once
// Process Lifecycle has started the subprocess (spec §4.F).
func (p *Protocol) Rebind(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proc = w
}

// RegisterHooks installs hook callbacks by name; must be called before
// the first turn (spec §4.B).
func (p *Protocol) RegisterHooks(hooks map[string]HookCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, cb := range hooks {
		p.hooks[name] = cb
	}
}

// SetPermissionCallback installs the permission decision callback; must
// be called before the first turn (spec §4.B).
func (p *Protocol) SetPermissionCallback(cb PermissionCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permission = cb
}

// SendUserMessage enqueues an outbound text turn on LaneMain. Concurrent
// sends are serialized FIFO by the lane queue (spec §4.F, §8 property).
func (p *Protocol) SendUserMessage(ctx context.Context, text string) error {
	return p.SendUserMessageWithContent(ctx, []ContentPart{{Type: "text", Text: text}})
}

// SendUserMessageWithContent enqueues a multi-part outbound turn.
func (p *Protocol) SendUserMessageWithContent(ctx context.Context, parts []ContentPart) error {
	return p.queue.enqueue(ctx, laneMain, func(ctx context.Context) error {
		return p.writeFrame(outboundFrame{
			Type:    "user",
			Message: outboundMessage{Role: "user", Content: parts},
		})
	})
}

// SendRoutedMessage enqueues an inter-agent routed message on
// LaneSubagent so it never blocks behind a backed-up user turn (spec
// §4.H, §9).
func (p *Protocol) SendRoutedMessage(ctx context.Context, text string) error {
	return p.queue.enqueue(ctx, laneSubagent, func(ctx context.Context) error {
		return p.writeFrame(outboundFrame{
			Type:    "user",
			Message: outboundMessage{Role: "user", Content: []ContentPart{{Type: "text", Text: text}}},
		})
	})
}

// Interrupt sends an interrupt control frame on the control lane, ahead
// of any backed-up main-lane writes.
func (p *Protocol) Interrupt(ctx context.Context) error {
	return p.queue.enqueue(ctx, laneControl, func(ctx context.Context) error {
		return p.writeFrame(map[string]string{"type": "interrupt"})
	})
}

func (p *Protocol) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound frame: %w", err)
	}
	p.mu.Lock()
	w := p.proc
	p.mu.Unlock()
	if w == nil {
		return fmt.Errorf("protocol not bound to a subprocess yet")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// HandleLine dispatches one raw decoded JSON line from the subprocess:
// a control frame (hook/permission) is answered inline on LaneControl; a
// conversation frame is forwarded on Messages().
func (p *Protocol) HandleLine(ctx context.Context, line []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		p.messages <- line
		return
	}

	switch probe.Type {
	case "permission_request":
		p.handlePermission(ctx, line)
	case "hook_request":
		p.handleHook(ctx, line)
	default:
		p.messages <- line
	}
}

// Messages returns the stream of raw conversation frames (everything
// that is not a control frame), for the owning Agent Client to feed
// through the JSON Frame Decoder.
func (p *Protocol) Messages() <-chan json.RawMessage {
	return p.messages
}

func (p *Protocol) handlePermission(ctx context.Context, line []byte) {
	var cf controlFrame
	if err := json.Unmarshal(line, &cf); err != nil {
		p.logger.Error("malformed permission control frame", "error", err)
		return
	}

	p.mu.Lock()
	if _, dup := p.pendingReq[cf.RequestID]; dup {
		p.mu.Unlock()
		p.logger.Warn("duplicate permission requestId, ignoring", "requestId", cf.RequestID)
		return
	}
	p.pendingReq[cf.RequestID] = struct{}{}
	cb := p.permission
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.pendingReq, cf.RequestID)
			p.mu.Unlock()
		}()

		if cb == nil {
			p.replyDeny(ctx, cf.RequestID, "no permission handler registered")
			return
		}

		resp, err := cb(ctx, vide.PermissionRequest{
			RequestID: cf.RequestID,
			ToolName:  cf.ToolName,
			ToolInput: cf.ToolInput,
		})
		if err != nil {
			p.logger.Error("permission callback failed", "error", err, "requestId", cf.RequestID)
			p.replyDeny(ctx, cf.RequestID, "permission callback failed")
			return
		}
		if resp.Decision == vide.PermissionAllow {
			p.replyAllow(ctx, cf.RequestID, resp.UpdatedInput)
		} else {
			p.replyDeny(ctx, cf.RequestID, resp.Reason)
		}
	}()
}

func (p *Protocol) replyAllow(ctx context.Context, requestID string, updatedInput map[string]any) {
	err := p.queue.enqueue(ctx, laneControl, func(ctx context.Context) error {
		return p.writeFrame(controlReply{Type: "permission_response", RequestID: requestID, Allow: true, UpdatedInput: updatedInput})
	})
	if err != nil {
		p.logger.Error("failed to reply to permission request", "error", err, "requestId", requestID)
	}
}

// replyDeny writes the deny frame and, per spec §4.J rule 4, notifies
// the owning Client so it can abort its own turn — a reply-write
// failure does not excuse that notification, since the permission was
// still denied.
func (p *Protocol) replyDeny(ctx context.Context, requestID, message string) {
	err := p.queue.enqueue(ctx, laneControl, func(ctx context.Context) error {
		return p.writeFrame(controlReply{Type: "permission_response", RequestID: requestID, Allow: false, Message: message})
	})
	if err != nil {
		p.logger.Error("failed to reply to permission request", "error", err, "requestId", requestID)
	}

	p.mu.Lock()
	onDeny := p.onDeny
	p.mu.Unlock()
	if onDeny != nil {
		onDeny(ctx)
	}
}

func (p *Protocol) handleHook(ctx context.Context, line []byte) {
	var cf struct {
		RequestID string          `json:"requestId"`
		Name      string          `json:"name"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(line, &cf); err != nil {
		p.logger.Error("malformed hook control frame", "error", err)
		return
	}

	p.mu.Lock()
	cb, ok := p.hooks[cf.Name]
	p.mu.Unlock()

	go func() {
		var result json.RawMessage
		var err error
		if ok {
			result, err = cb(ctx, cf.Name, cf.Payload)
		} else {
			err = fmt.Errorf("no hook registered for %q", cf.Name)
		}

		reply := map[string]any{"type": "hook_response", "requestId": cf.RequestID}
		if err != nil {
			reply["error"] = err.Error()
		} else {
			reply["result"] = result
		}
		writeErr := p.queue.enqueue(ctx, laneControl, func(ctx context.Context) error {
			return p.writeFrame(reply)
		})
		if writeErr != nil {
			p.logger.Error("failed to reply to hook request", "error", writeErr, "requestId", cf.RequestID)
		}
	}()
}

// Drain scans r (the subprocess's stdout) line by line and hands each
// non-empty line to HandleLine, splitting control frames from
// conversation frames. The Agent Client's Create runs it in its own
// goroutine.
func Drain(ctx context.Context, p *Protocol, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		p.HandleLine(ctx, cp)
	}
}

// DecodeMessages converts Messages() into vide.Response values via the
// JSON Frame Decoder's line-parsing logic, for the Agent Client to fold
// through the Response Processor.
func DecodeMessages(msgs <-chan json.RawMessage) <-chan vide.Response {
	out := make(chan vide.Response, 64)
	go func() {
		defer close(out)
		for raw := range msgs {
			for _, resp := range decoder.DecodeLine(string(raw)) {
				out <- resp
			}
		}
	}()
	return out
}
