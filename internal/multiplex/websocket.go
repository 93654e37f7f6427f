package multiplex

import (
	"context"

	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn PumpToWebSocket needs,
// narrowed so tests can substitute a fake without opening a real
// socket.
type wsConn interface {
	WriteJSON(v any) error
	Close() error
}

// PumpToWebSocket writes every Event from events to conn as a JSON text
// frame until events closes or ctx is canceled, then closes conn. This
// is the multiplexer's reference Subscriber: the HTTP upgrade that
// produces conn is out of scope (spec §1 non-goal, "the REST server's
// HTTP framing"), but once a peer has one, handing Subscribe()'s
// channel to this function is the whole wiring needed to drive it.
func PumpToWebSocket(ctx context.Context, events <-chan Event, conn *websocket.Conn) error {
	return pumpToWebSocket(ctx, events, conn)
}

func pumpToWebSocket(ctx context.Context, events <-chan Event, conn wsConn) error {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(wireEvent{
				AgentID:   e.AgentID,
				AgentType: e.AgentType,
				AgentName: e.AgentName,
				TaskName:  e.TaskName,
				Type:      string(e.Type),
				Data:      e.Data,
			}); err != nil {
				return err
			}
		}
	}
}

// wireEvent is Event's JSON-over-the-wire shape for a WebSocket peer.
type wireEvent struct {
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	AgentName string `json:"agentName"`
	TaskName  string `json:"taskName,omitempty"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}
