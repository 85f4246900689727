package handshake

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	"github.com/dbgbridge/dbgbridge/internal/dapclient"
	"github.com/dbgbridge/dbgbridge/internal/transport"
)

// fakeAdapter answers the fixed handshake sequence the way a healthy
// debugpy instance does: it never responds to attach, only emitting
// "initialized" once attach has been seen, matching the rendezvous this
// package is built around.
type fakeAdapter struct {
	tr        *transport.Transport
	sawAttach bool
	failInit  int
	initCalls int
}

func newFakeAdapter(conn net.Conn) *fakeAdapter {
	fa := &fakeAdapter{tr: transport.New(conn)}
	go fa.tr.ReadLoop(fa.dispatch, func(error) {})
	return fa
}

func (fa *fakeAdapter) dispatch(env transport.Envelope) {
	if env.Kind != transport.KindRequest {
		return
	}
	switch env.Command {
	case "initialize":
		fa.initCalls++
		if fa.initCalls <= fa.failInit {
			fa.respondFail(env.Seq, "initialize", "not ready")
			return
		}
		fa.respond(env.Seq, "initialize", map[string]any{})
	case "attach":
		// Deliberately never respond; only the initialized event follows.
		fa.sawAttach = true
		go func() {
			time.Sleep(20 * time.Millisecond)
			fa.sendEvent("initialized", map[string]any{})
		}()
	case "threads":
		fa.respond(env.Seq, "threads", map[string]any{
			"threads": []map[string]any{{"id": 1, "name": "MainThread"}},
		})
	case "stackTrace":
		fa.respond(env.Seq, "stackTrace", map[string]any{
			"stackFrames": []map[string]any{{"id": 5, "name": "main", "line": 1}},
		})
	case "configurationDone":
		fa.respond(env.Seq, "configurationDone", map[string]any{})
	default:
		fa.respond(env.Seq, env.Command, map[string]any{})
	}
}

func (fa *fakeAdapter) respond(requestSeq int, command string, body any) {
	fa.tr.Send(map[string]any{
		"seq": fa.tr.NextSeq(), "type": "response", "request_seq": requestSeq,
		"success": true, "command": command, "body": body,
	})
}

func (fa *fakeAdapter) respondFail(requestSeq int, command, message string) {
	fa.tr.Send(map[string]any{
		"seq": fa.tr.NextSeq(), "type": "response", "request_seq": requestSeq,
		"success": false, "command": command, "message": message,
	})
}

func (fa *fakeAdapter) sendEvent(name string, body any) {
	fa.tr.Send(map[string]any{"seq": fa.tr.NextSeq(), "type": "event", "event": name, "body": body})
}

func newTestClient(t *testing.T) (*dapclient.Client, *fakeAdapter) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	fa := newFakeAdapter(serverConn)
	c := dapclient.New(transport.New(clientConn), bus.New(), "sess-1")
	return c, fa
}

func TestRun_CompletesTheFixedSequence(t *testing.T) {
	c, fa := newTestClient(t)

	result, err := Run(context.Background(), c, Options{
		ClientID:   "dbgbridge",
		ClientName: "dbgbridge",
		AttachArgs: dapclient.AttachArgs{Name: "test", Type: "python", Request: "attach"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fa.sawAttach {
		t.Fatal("expected the adapter to have seen an attach request")
	}
	if result.ThreadID == nil || *result.ThreadID != 1 {
		t.Fatalf("expected primed thread id 1, got %+v", result.ThreadID)
	}
	if result.FrameID == nil || *result.FrameID != 5 {
		t.Fatalf("expected primed frame id 5, got %+v", result.FrameID)
	}
}

func TestInitializeWithRetry_RecoversFromTransientFailure(t *testing.T) {
	c, fa := newTestClient(t)
	fa.failInit = 2 // fail twice, succeed on the third attempt

	_, err := Run(context.Background(), c, Options{
		ClientID: "dbgbridge", ClientName: "dbgbridge",
		AttachArgs: dapclient.AttachArgs{Name: "test", Type: "python", Request: "attach"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fa.initCalls != 3 {
		t.Fatalf("expected 3 initialize attempts, got %d", fa.initCalls)
	}
}

func TestBackoffDelay_CapsAtFiveSeconds(t *testing.T) {
	if d := backoffDelay(0); d != 1*time.Second {
		t.Fatalf("backoffDelay(0) = %v, want 1s", d)
	}
	if d := backoffDelay(2); d != 4*time.Second {
		t.Fatalf("backoffDelay(2) = %v, want 4s", d)
	}
	if d := backoffDelay(10); d != 5*time.Second {
		t.Fatalf("backoffDelay(10) = %v, want 5s", d)
	}
}
