// Package decoder parses newline-delimited JSON frames from a subprocess's
// stdout into typed vide.Response variants (spec §4.A).
//
// It is grounded on the teacher's internal/mcp.StdioTransport.readLoop/
// processLine pair: a bufio.Scanner over stdout, one JSON object per
// line, dispatched by a discriminator field.
package decoder

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// maxLineBytes bounds a single frame; the teacher's stdio transport uses
// the same 1MB ceiling for its scanner buffer.
const maxLineBytes = 1024 * 1024

// wireFrame is the subprocess's raw frame shape before it is dispatched
// to one or more vide.Response variants by Type.
type wireFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Ts      *time.Time      `json:"ts"`
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
	Code    string          `json:"code"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    []wireBlock    `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *wireUsage     `json:"usage"`
}

type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	IsPartial bool           `json:"is_partial"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id"`
	Content   string         `json:"content"`
	IsError   bool           `json:"is_error"`
}

type wireUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheReadTokens     int     `json:"cache_read_input_tokens"`
	CacheCreationTokens int     `json:"cache_creation_input_tokens"`
	CostUsd             float64 `json:"cost_usd"`
}

// Decoder reads a byte stream and emits decoded Responses on Frames().
// A single malformed line reports a Response{Type: ResponseError, Code:
// "PARSE"} and does not abort the stream (spec §4.A).
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	out     chan vide.Response
}

// New wraps r (typically a subprocess's stdout pipe) in a Decoder.
func New(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Decoder{
		scanner: sc,
		logger:  logger.With("component", "decoder"),
		out:     make(chan vide.Response, 64),
	}
}

// Frames returns the channel of decoded Responses. It is closed when Run
// returns.
func (d *Decoder) Frames() <-chan vide.Response {
	return d.out
}

// Run drives the scan loop until EOF or a read error. It blocks, so a
// caller runs it in its own goroutine.
func (d *Decoder) Run() {
	defer close(d.out)

	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			continue
		}
		for _, resp := range DecodeLine(line) {
			d.out <- resp
		}
	}
	if err := d.scanner.Err(); err != nil {
		d.logger.Error("stdout scanner error", "error", err)
	}
}

// DecodeLine parses one control-protocol line into zero or more ordered
// Responses: an "assistant"/"user" frame carrying N content blocks
// yields N Responses (spec §6's observed quirk of multi-block frames),
// every other frame type yields exactly one.
func DecodeLine(line string) []vide.Response {
	var frame wireFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return []vide.Response{{
			Type: vide.ResponseError,
			Ts:   time.Now(),
			Error: &vide.ErrorPayload{
				Error:   "failed to parse control frame",
				Details: line,
				Code:    "PARSE",
			},
			RawData: json.RawMessage(line),
		}}
	}

	ts := time.Now()
	if frame.Ts != nil {
		ts = *frame.Ts
	}

	switch frame.Type {
	case "assistant", "user":
		return decodeMessage(frame, ts)
	case "result":
		return []vide.Response{decodeResult(frame, ts)}
	case "error":
		return []vide.Response{{
			ID: frame.ID, Type: vide.ResponseError, Ts: ts,
			Error:   &vide.ErrorPayload{Error: frame.Error, Details: frame.Details, Code: frame.Code},
			RawData: json.RawMessage(line),
		}}
	case "status":
		return []vide.Response{{ID: frame.ID, Type: vide.ResponseStatus, Ts: ts, RawData: json.RawMessage(line)}}
	case "system":
		return []vide.Response{{ID: frame.ID, Type: vide.ResponseMeta, Ts: ts, RawData: json.RawMessage(line)}}
	default:
		return []vide.Response{{ID: frame.ID, Type: vide.ResponseUnknown, Ts: ts, RawData: json.RawMessage(line)}}
	}
}

// decodeMessage splits a multi-block assistant/user frame into one
// Response per content block, in arrival order. The final block carries
// the frame's raw message bytes in RawData so the Response Processor
// can pull rawData.message.usage off the Response that closes the turn
// (spec §4.D rule 1).
func decodeMessage(frame wireFrame, ts time.Time) []vide.Response {
	var msg wireMessage
	if len(frame.Message) > 0 {
		if err := json.Unmarshal(frame.Message, &msg); err != nil {
			return []vide.Response{{
				ID: frame.ID, Type: vide.ResponseError, Ts: ts,
				Error:   &vide.ErrorPayload{Error: "failed to parse message frame", Details: err.Error(), Code: "PARSE"},
				RawData: json.RawMessage(frame.Message),
			}}
		}
	}

	if len(msg.Content) == 0 {
		return []vide.Response{{ID: frame.ID, Type: vide.ResponseUnknown, Ts: ts, RawData: frame.Message}}
	}

	out := make([]vide.Response, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			out = append(out, vide.Response{
				ID: frame.ID, Type: vide.ResponseToolUse, Ts: ts,
				ToolUse: &vide.ToolUsePayload{ToolName: block.Name, Params: block.Input, ToolUseID: block.ID},
			})
		case "tool_result":
			out = append(out, vide.Response{
				ID: frame.ID, Type: vide.ResponseToolResult, Ts: ts,
				ToolResult: &vide.ToolResultPayload{ToolUseID: block.ToolUseID, Content: block.Content, IsError: block.IsError},
			})
		default: // "text"
			out = append(out, vide.Response{
				ID: frame.ID, Type: vide.ResponseText, Ts: ts,
				Text: &vide.TextPayload{Content: block.Text, IsPartial: block.IsPartial, Role: vide.Role(msg.Role)},
			})
		}
	}
	// Attach the full frame (including stop_reason/usage) to the last
	// block only, matching where the processor looks for end-of-turn
	// usage.
	out[len(out)-1].RawData = frame.Message
	return out
}

func decodeResult(frame wireFrame, ts time.Time) vide.Response {
	var payload struct {
		StopReason          string  `json:"stop_reason"`
		InputTokens         int     `json:"input_tokens"`
		OutputTokens        int     `json:"output_tokens"`
		CacheReadTokens     int     `json:"cache_read_input_tokens"`
		CacheCreationTokens int     `json:"cache_creation_input_tokens"`
		CostUsd             float64 `json:"cost_usd"`
	}
	_ = json.Unmarshal(frame.Message, &payload)
	return vide.Response{
		ID: frame.ID, Type: vide.ResponseCompletion, Ts: ts,
		Completion: &vide.CompletionPayload{
			StopReason:          payload.StopReason,
			InputTokens:         payload.InputTokens,
			OutputTokens:        payload.OutputTokens,
			CacheReadTokens:     payload.CacheReadTokens,
			CacheCreationTokens: payload.CacheCreationTokens,
			CostUsd:             payload.CostUsd,
		},
		RawData: frame.Message,
	}
}
