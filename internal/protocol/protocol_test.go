package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// syncBuffer is a concurrency-safe io.Writer that also lets a test drain
// lines written to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := bufio.NewScanner(bytes.NewReader(s.buf.Bytes()))
	var out []string
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPermissionAllowRepliesOnRequestID(t *testing.T) {
	out := &syncBuffer{}
	p := New(out, nil)
	p.SetPermissionCallback(func(ctx context.Context, req vide.PermissionRequest) (vide.PermissionResponse, error) {
		return vide.PermissionResponse{Decision: vide.PermissionAllow}, nil
	})

	line := []byte(`{"type":"permission_request","requestId":"r1","toolName":"Read","toolInput":{"file_path":"/a.txt"}}`)
	p.HandleLine(context.Background(), line)

	waitFor(t, func() bool { return len(out.lines()) == 1 })

	var reply map[string]any
	if err := json.Unmarshal([]byte(out.lines()[0]), &reply); err != nil {
		t.Fatalf("failed to parse reply: %v", err)
	}
	if reply["requestId"] != "r1" || reply["allow"] != true {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestPermissionDenyIncludesMessage(t *testing.T) {
	out := &syncBuffer{}
	p := New(out, nil)
	p.SetPermissionCallback(func(ctx context.Context, req vide.PermissionRequest) (vide.PermissionResponse, error) {
		return vide.PermissionResponse{Decision: vide.PermissionDeny, Reason: "nope"}, nil
	})

	p.HandleLine(context.Background(), []byte(`{"type":"permission_request","requestId":"r2","toolName":"Bash"}`))
	waitFor(t, func() bool { return len(out.lines()) == 1 })

	var reply map[string]any
	_ = json.Unmarshal([]byte(out.lines()[0]), &reply)
	if reply["allow"] != false || reply["message"] != "nope" {
		t.Fatalf("unexpected deny reply: %+v", reply)
	}
}

func TestDuplicateRequestIDIgnored(t *testing.T) {
	out := &syncBuffer{}
	p := New(out, nil)

	release := make(chan struct{})
	p.SetPermissionCallback(func(ctx context.Context, req vide.PermissionRequest) (vide.PermissionResponse, error) {
		<-release
		return vide.PermissionResponse{Decision: vide.PermissionAllow}, nil
	})

	line := []byte(`{"type":"permission_request","requestId":"dup","toolName":"Read"}`)
	p.HandleLine(context.Background(), line)
	p.HandleLine(context.Background(), line) // duplicate while first is still pending

	close(release)
	waitFor(t, func() bool { return len(out.lines()) == 1 })
	if len(out.lines()) != 1 {
		t.Fatalf("expected exactly one reply for a duplicate requestId, got %d", len(out.lines()))
	}
}

func TestPermissionDenyCallsOnDeny(t *testing.T) {
	out := &syncBuffer{}
	p := New(out, nil)
	p.SetPermissionCallback(func(ctx context.Context, req vide.PermissionRequest) (vide.PermissionResponse, error) {
		return vide.PermissionResponse{Decision: vide.PermissionDeny, Reason: "nope"}, nil
	})

	denied := make(chan struct{}, 1)
	p.SetOnDeny(func(ctx context.Context) { denied <- struct{}{} })

	p.HandleLine(context.Background(), []byte(`{"type":"permission_request","requestId":"r3","toolName":"Bash"}`))

	select {
	case <-denied:
	case <-time.After(time.Second):
		t.Fatal("expected onDeny to be called after a permission deny")
	}
}

func TestPermissionAllowDoesNotCallOnDeny(t *testing.T) {
	out := &syncBuffer{}
	p := New(out, nil)
	p.SetPermissionCallback(func(ctx context.Context, req vide.PermissionRequest) (vide.PermissionResponse, error) {
		return vide.PermissionResponse{Decision: vide.PermissionAllow}, nil
	})

	denied := make(chan struct{}, 1)
	p.SetOnDeny(func(ctx context.Context) { denied <- struct{}{} })

	p.HandleLine(context.Background(), []byte(`{"type":"permission_request","requestId":"r4","toolName":"Read"}`))
	waitFor(t, func() bool { return len(out.lines()) == 1 })

	select {
	case <-denied:
		t.Fatal("did not expect onDeny to be called after an allow")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCommandQueueSerializesWithinLaneAndIsolatesAcrossLanes(t *testing.T) {
	q := newCommandQueue()

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})
	started := make(chan struct{})

	done := make(chan struct{})
	go func() {
		_ = q.enqueue(context.Background(), laneMain, func(ctx context.Context) error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, "main-1")
			mu.Unlock()
			return nil
		})
		close(done)
	}()
	<-started

	// A control-lane write must not wait behind the blocked main lane.
	if err := q.enqueue(context.Background(), laneControl, func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "control-1")
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("control lane enqueue failed: %v", err)
	}

	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "control-1" || order[1] != "main-1" {
		t.Fatalf("expected control lane to finish first, got %v", order)
	}
}

func TestCommandQueueCanceledWaiterReleasesNextTicket(t *testing.T) {
	q := newCommandQueue()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = q.enqueue(context.Background(), laneMain, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.enqueue(ctx, laneMain, func(ctx context.Context) error {
		t.Fatal("task must not run once its context is already canceled")
		return nil
	}); err == nil {
		t.Fatal("expected a canceled-context error")
	}

	close(release)

	done := make(chan struct{})
	go func() {
		_ = q.enqueue(context.Background(), laneMain, func(ctx context.Context) error {
			close(done)
			return nil
		})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("next ticket on the lane never ran; a canceled waiter left the lane stuck")
	}
}

func TestUnknownControlFrameIgnored(t *testing.T) {
	out := &syncBuffer{}
	p := New(out, nil)
	// A frame of an unrecognised type is not a control frame: nothing
	// should be written back, and it goes on to Messages().
	p.HandleLine(context.Background(), []byte(`{"type":"something_else"}`))
	time.Sleep(10 * time.Millisecond)
	if len(out.lines()) != 0 {
		t.Fatalf("expected no writes for a non-control, non-permission frame; this forwards to Messages()")
	}
	select {
	case <-p.Messages():
	default:
		t.Fatal("expected the frame to be forwarded as a conversation message")
	}
}
