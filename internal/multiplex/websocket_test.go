package multiplex

import (
	"context"
	"testing"
)

type fakeWSConn struct {
	written []any
	closed  bool
}

func (f *fakeWSConn) WriteJSON(v any) error {
	f.written = append(f.written, v)
	return nil
}

func (f *fakeWSConn) Close() error {
	f.closed = true
	return nil
}

func TestPumpToWebSocketWritesEventsAndClosesOnChannelClose(t *testing.T) {
	events := make(chan Event, 2)
	conn := &fakeWSConn{}

	events <- Event{AgentID: "a1", Type: EventConnected}
	events <- Event{AgentID: "a1", Type: EventDone}
	close(events)

	if err := pumpToWebSocket(context.Background(), events, conn); err != nil {
		t.Fatalf("pumpToWebSocket: %v", err)
	}
	if len(conn.written) != 2 {
		t.Fatalf("expected 2 written frames, got %d", len(conn.written))
	}
	if !conn.closed {
		t.Fatal("expected conn to be closed once events drained")
	}
}

func TestPumpToWebSocketStopsOnContextCancel(t *testing.T) {
	events := make(chan Event)
	conn := &fakeWSConn{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := pumpToWebSocket(ctx, events, conn); err == nil {
		t.Fatal("expected an error from a canceled context")
	}
	if !conn.closed {
		t.Fatal("expected conn to be closed on cancellation")
	}
}
