package proclife

import (
	"context"
	"sync"
	"testing"
)

func TestEnsureStartedIsIdempotent(t *testing.T) {
	p := New(Spawner{Command: "cat"}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.EnsureStarted(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected start error: %v", i, err)
		}
	}
	if !p.IsRunning() {
		t.Fatal("expected subprocess to be running after EnsureStarted")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("expected subprocess to have exited after Close")
	}
}

func TestEnsureStartedFailurePropagatesToAllCallers(t *testing.T) {
	p := New(Spawner{Command: "/nonexistent/binary/does/not/exist"}, nil)

	err1 := p.EnsureStarted(context.Background())
	err2 := p.EnsureStarted(context.Background())
	if err1 == nil || err2 == nil {
		t.Fatal("expected start error for a nonexistent binary")
	}
}

func TestAbortWithoutStartIsNoop(t *testing.T) {
	p := New(Spawner{Command: "cat"}, nil)
	if err := p.Abort(context.Background(), nil); err != nil {
		t.Fatalf("expected no error aborting an unstarted process, got %v", err)
	}
}
