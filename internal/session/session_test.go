package session

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	"github.com/dbgbridge/dbgbridge/internal/dapclient"
	"github.com/dbgbridge/dbgbridge/internal/transport"
)

// fakeAdapter stands in for debugpy: it answers requests with scripted
// bodies and can push events, letting tests exercise a live
// dapclient.Client without a real process.
type fakeAdapter struct {
	tr       *transport.Transport
	handlers map[string]func(seq int)
}

func newFakeAdapter(conn net.Conn) *fakeAdapter {
	fa := &fakeAdapter{tr: transport.New(conn), handlers: make(map[string]func(int))}
	go fa.tr.ReadLoop(fa.dispatch, func(error) {})
	return fa
}

func (fa *fakeAdapter) dispatch(env transport.Envelope) {
	if env.Kind != transport.KindRequest {
		return
	}
	if h, ok := fa.handlers[env.Command]; ok {
		h(env.Seq)
		return
	}
	fa.respond(env.Seq, env.Command, map[string]any{})
}

func (fa *fakeAdapter) respond(requestSeq int, command string, body any) {
	fa.tr.Send(map[string]any{
		"seq":         fa.tr.NextSeq(),
		"type":        "response",
		"request_seq": requestSeq,
		"success":     true,
		"command":     command,
		"body":        body,
	})
}

func (fa *fakeAdapter) sendEvent(name string, body any) {
	fa.tr.Send(map[string]any{
		"seq":   fa.tr.NextSeq(),
		"type":  "event",
		"event": name,
		"body":  body,
	})
}

// newTestSession wires a Session to a live dapclient.Client backed by an
// in-memory pipe and a fakeAdapter, as start_debug_session's handshake
// would once it has completed.
func newTestSession(t *testing.T) (*Session, *fakeAdapter) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	fa := newFakeAdapter(server)
	c := dapclient.New(transport.New(client), bus.New(), "sess-1")

	s := New("sess-1", "/tmp/script.py", 5679, true, bus.New())
	s.AttachClient(c)
	s.SetState(StateRunning)
	return s, fa
}

func TestSetBreakpoint_AddsAndReturnsVerified(t *testing.T) {
	s, fa := newTestSession(t)
	fa.handlers["setBreakpoints"] = func(seq int) {
		fa.respond(seq, "setBreakpoints", map[string]any{
			"breakpoints": []map[string]any{{"id": 1, "verified": true, "line": 10}},
		})
	}

	bp, err := s.SetBreakpoint(context.Background(), "app.py", 10)
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	if bp.Line != 10 || !bp.Verified || bp.ID != 1 {
		t.Fatalf("unexpected breakpoint: %+v", bp)
	}

	got := s.ListBreakpoints("app.py")
	if len(got) != 1 || got[0].Line != 10 {
		t.Fatalf("ListBreakpoints = %+v", got)
	}
}

func TestSetBreakpoint_RejectsInvalidLine(t *testing.T) {
	s, _ := newTestSession(t)
	if _, err := s.SetBreakpoint(context.Background(), "app.py", 0); err == nil {
		t.Fatal("expected an error for line 0")
	}
}

func TestSetBreakpoint_IsIdempotentForSameLine(t *testing.T) {
	s, fa := newTestSession(t)
	calls := 0
	fa.handlers["setBreakpoints"] = func(seq int) {
		calls++
		fa.respond(seq, "setBreakpoints", map[string]any{
			"breakpoints": []map[string]any{{"id": 1, "verified": true, "line": 10}},
		})
	}

	if _, err := s.SetBreakpoint(context.Background(), "app.py", 10); err != nil {
		t.Fatalf("first SetBreakpoint: %v", err)
	}
	if _, err := s.SetBreakpoint(context.Background(), "app.py", 10); err != nil {
		t.Fatalf("second SetBreakpoint: %v", err)
	}

	got := s.ListBreakpoints("app.py")
	if len(got) != 1 {
		t.Fatalf("expected the duplicate line to collapse to one breakpoint, got %+v", got)
	}
	if calls != 2 {
		t.Fatalf("expected two round trips to the adapter, got %d", calls)
	}
}

func TestRemoveBreakpoint_ResendsRemainingLines(t *testing.T) {
	s, fa := newTestSession(t)
	fa.handlers["setBreakpoints"] = func(seq int) {
		fa.respond(seq, "setBreakpoints", map[string]any{
			"breakpoints": []map[string]any{{"id": 1, "verified": true}},
		})
	}

	if _, err := s.SetBreakpoint(context.Background(), "app.py", 10); err != nil {
		t.Fatalf("SetBreakpoint 10: %v", err)
	}
	if _, err := s.SetBreakpoint(context.Background(), "app.py", 20); err != nil {
		t.Fatalf("SetBreakpoint 20: %v", err)
	}
	if err := s.RemoveBreakpoint(context.Background(), "app.py", 10); err != nil {
		t.Fatalf("RemoveBreakpoint: %v", err)
	}

	got := s.ListBreakpoints("app.py")
	if len(got) != 1 || got[0].Line != 20 {
		t.Fatalf("expected only line 20 to remain, got %+v", got)
	}
}

func TestOnStopped_ResolvesThreadAndFrame(t *testing.T) {
	s, fa := newTestSession(t)
	fa.handlers["stackTrace"] = func(seq int) {
		fa.respond(seq, "stackTrace", map[string]any{
			"stackFrames": []map[string]any{
				{"id": 7, "name": "main", "line": 42, "source": map[string]any{"path": "app.py"}},
			},
		})
	}

	fa.sendEvent("stopped", map[string]any{"reason": "breakpoint", "threadId": 3})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == StatePaused {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if s.State() != StatePaused {
		t.Fatalf("expected StatePaused, got %v", s.State())
	}

	threadID, err := s.requireThread()
	if err != nil || threadID != 3 {
		t.Fatalf("requireThread() = %d, %v", threadID, err)
	}
	frameID, err := s.requireFrame()
	if err != nil || frameID != 7 {
		t.Fatalf("requireFrame() = %d, %v", frameID, err)
	}
}

func TestRequireThread_ErrorsWhenNotPaused(t *testing.T) {
	s, _ := newTestSession(t)
	if _, err := s.requireThread(); err == nil {
		t.Fatal("expected an error with no active thread")
	}
}

func TestContinue_RequiresAnActiveThread(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Continue(context.Background()); err == nil {
		t.Fatal("expected Continue to fail without a paused thread")
	}
}

func TestEvaluate_AdapterFailureIsDataNotError(t *testing.T) {
	s, fa := newTestSession(t)
	fa.handlers["stackTrace"] = func(seq int) {
		fa.respond(seq, "stackTrace", map[string]any{
			"stackFrames": []map[string]any{{"id": 1, "name": "main", "line": 1}},
		})
	}
	fa.sendEvent("stopped", map[string]any{"reason": "breakpoint", "threadId": 1})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.State() != StatePaused {
		time.Sleep(5 * time.Millisecond)
	}

	fa.handlers["evaluate"] = func(seq int) {
		fa.tr.Send(map[string]any{
			"seq":         fa.tr.NextSeq(),
			"type":        "response",
			"request_seq": seq,
			"success":     false,
			"command":     "evaluate",
			"message":     "NameError: name 'x' is not defined",
		})
	}

	result, err := s.Evaluate(context.Background(), "x")
	if err != nil {
		t.Fatalf("Evaluate returned a Go error, want data: %v", err)
	}
	if result.Err == "" {
		t.Fatal("expected result.Err to carry the adapter failure")
	}
}

func TestOnExited_ClassifiesExitCode(t *testing.T) {
	s, _ := newTestSession(t)
	var captured map[string]any
	b := bus.New()
	unsub := b.Subscribe(func(ev bus.Event) {
		if ev.Kind == "exited" {
			captured = ev.Payload
		}
	})
	defer unsub()
	s.bus = b

	s.onExited(mustJSON(t, map[string]any{"exitCode": 1}))
	if captured["classification"] != "abnormal" {
		t.Fatalf("expected abnormal classification, got %+v", captured)
	}

	s.onExited(mustJSON(t, map[string]any{"exitCode": 0}))
	if captured["classification"] != "normal" {
		t.Fatalf("expected normal classification, got %+v", captured)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
