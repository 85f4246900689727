package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dbgbridge/dbgbridge/internal/transport"
)

// fakeSender records every sent request but never writes to a real
// socket; tests drive responses directly via Resolve.
type fakeSender struct {
	mu   sync.Mutex
	seq  int
	sent []int
}

func (f *fakeSender) NextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

func (f *fakeSender) Send(v any) error {
	req := v.(outgoing)
	f.mu.Lock()
	f.sent = append(f.sent, req.Seq)
	f.mu.Unlock()
	return nil
}

func TestCorrelator_OutOfOrderResponses(t *testing.T) {
	fs := &fakeSender{}
	c := New(fs)

	type res struct {
		seq  int
		body string
	}
	doneA := make(chan res, 1)
	doneB := make(chan res, 1)

	go func() {
		body, err := c.Send(context.Background(), "threads", nil)
		if err != nil {
			t.Errorf("request A failed: %v", err)
			return
		}
		doneA <- res{seq: 1, body: string(body)}
	}()

	// Let A take seq 1 before B is issued, so B gets seq 2.
	deadlineA := time.Now().Add(time.Second)
	for {
		fs.mu.Lock()
		n := len(fs.sent)
		fs.mu.Unlock()
		if n == 1 || time.Now().After(deadlineA) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	go func() {
		body, err := c.Send(context.Background(), "stackTrace", nil)
		if err != nil {
			t.Errorf("request B failed: %v", err)
			return
		}
		doneB <- res{seq: 2, body: string(body)}
	}()

	// Wait until B has actually been sent too before resolving, since
	// Send runs on its own goroutine.
	deadline := time.Now().Add(time.Second)
	for {
		fs.mu.Lock()
		n := len(fs.sent)
		fs.mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Respond to seq 2 first, then seq 1.
	c.Resolve(transport.Envelope{RequestSeq: 2, Success: true, Body: []byte(`{"from":"B"}`)})
	c.Resolve(transport.Envelope{RequestSeq: 1, Success: true, Body: []byte(`{"from":"A"}`)})

	var gotB, gotA res
	select {
	case gotB = <-doneB:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for B")
	}
	select {
	case gotA = <-doneA:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for A")
	}

	if gotB.body != `{"from":"B"}` {
		t.Errorf("B got body %q", gotB.body)
	}
	if gotA.body != `{"from":"A"}` {
		t.Errorf("A got body %q", gotA.body)
	}
}

func TestCorrelator_Timeout(t *testing.T) {
	fs := &fakeSender{}
	c := New(fs)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, "evaluate", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestCorrelator_UnmatchedResponseIsDropped(t *testing.T) {
	fs := &fakeSender{}
	c := New(fs)

	// Resolving a seq nobody is waiting on must not panic or block.
	c.Resolve(transport.Envelope{RequestSeq: 999, Success: true})
}

func TestCorrelator_FailAllRejectsPending(t *testing.T) {
	fs := &fakeSender{}
	c := New(fs)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "variables", nil)
		errCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		fs.mu.Lock()
		n := len(fs.sent)
		fs.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	c.FailAll(context.DeadlineExceeded)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected disconnection error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for FailAll to unblock Send")
	}
}
