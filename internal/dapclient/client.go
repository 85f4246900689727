// Package dapclient provides a typed request/response surface over the
// Debug Adapter Protocol: initialize, attach, setBreakpoints, threads,
// stackTrace, scopes, variables, evaluate, the step family, pause,
// configurationDone, and disconnect. It owns one Transport, one
// Correlator, and one Router per debug adapter connection.
package dapclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/go-dap"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	"github.com/dbgbridge/dbgbridge/internal/correlator"
	"github.com/dbgbridge/dbgbridge/internal/router"
	"github.com/dbgbridge/dbgbridge/internal/transport"
)

// Client is the typed DAP operations surface for one adapter connection.
type Client struct {
	Transport  *transport.Transport
	Correlator *correlator.Correlator
	Router     *router.Router

	initialized     chan struct{}
	initializedOnce func()
	closed          chan struct{}
}

// New builds a Client around a live transport and starts its read loop.
// sessionID is used only to tag events published on the bus.
func New(t *transport.Transport, b *bus.Bus, sessionID string) *Client {
	c := &Client{
		Transport:  t,
		Correlator: correlator.New(t),
		Router:     router.New(b, sessionID),
		initialized: make(chan struct{}),
		closed:      make(chan struct{}),
	}

	var once bool
	c.initializedOnce = func() {
		if !once {
			once = true
			close(c.initialized)
		}
	}
	c.Router.On("initialized", func(json.RawMessage) { c.initializedOnce() })

	go func() {
		_ = t.ReadLoop(c.dispatch, func(err error) {
			// Malformed frames are logged by the caller via the bus; the
			// loop itself keeps running since TryExtractFrame has already
			// recovered the buffer.
			b.Publish(bus.Event{Kind: "transport_error", SessionID: sessionID, Payload: map[string]any{"error": err.Error()}})
		})
		close(c.closed)
		c.Correlator.FailAll(fmt.Errorf("dapclient: transport closed"))
	}()

	return c
}

func (c *Client) dispatch(env transport.Envelope) {
	switch env.Kind {
	case transport.KindResponse:
		c.Correlator.Resolve(env)
	case transport.KindEvent:
		c.Router.Dispatch(env)
	case transport.KindRequest:
		// Adapter-initiated requests are not expected in this system.
	}
}

// WaitInitialized blocks until the adapter's "initialized" event has
// been observed, ctx is cancelled, or timeout elapses.
func (c *Client) WaitInitialized(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-c.initialized:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dapclient: timed out waiting for initialized event: %w", ctx.Err())
	}
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.Transport.Close()
}

// Initialize negotiates capabilities. Returns the adapter's declared
// capabilities.
func (c *Client) Initialize(ctx context.Context, clientID, clientName string) (dap.Capabilities, error) {
	args := dap.InitializeRequestArguments{
		ClientID:                     clientID,
		ClientName:                   clientName,
		AdapterID:                    "dbgbridge",
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsRunInTerminalRequest: false,
	}
	body, err := c.Correlator.Send(ctx, "initialize", args)
	if err != nil {
		return dap.Capabilities{}, err
	}
	var caps dap.Capabilities
	if err := json.Unmarshal(body, &caps); err != nil {
		return dap.Capabilities{}, fmt.Errorf("dapclient: decode initialize body: %w", err)
	}
	return caps, nil
}

// AttachArgs carries the path-mapping and debug options every attach
// sends, per spec: local root == remote root == cwd, justMyCode=false.
type AttachArgs struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Request string `json:"request"`
	Connect struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"connect"`
	PathMappings []PathMapping `json:"pathMappings,omitempty"`
	JustMyCode   bool          `json:"justMyCode"`
}

// PathMapping maps a local source root to the (identical, for this
// system) remote root the adapter sees.
type PathMapping struct {
	LocalRoot  string `json:"localRoot"`
	RemoteRoot string `json:"remoteRoot"`
}

// Attach sends the attach request. Per the handshake design this
// response may never arrive on some adapter versions; callers race it
// against the "initialized" event rather than depending on its success.
func (c *Client) Attach(ctx context.Context, args AttachArgs) (json.RawMessage, error) {
	return c.Correlator.Send(ctx, "attach", args)
}

// ConfigurationDone signals that breakpoints and other configuration
// are complete and the adapter may resume the target.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.Correlator.Send(ctx, "configurationDone", nil)
	return err
}

// Disconnect ends the session, optionally killing the debuggee.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	_, err := c.Correlator.Send(ctx, "disconnect", dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee})
	return err
}

// Threads lists the target's threads.
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	body, err := c.Correlator.Send(ctx, "threads", nil)
	if err != nil {
		return nil, err
	}
	var out dap.ThreadsResponseBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("dapclient: decode threads body: %w", err)
	}
	return out.Threads, nil
}

// StackTrace fetches frames for a thread.
func (c *Client) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	args := dap.StackTraceArguments{ThreadId: threadID}
	body, err := c.Correlator.Send(ctx, "stackTrace", args)
	if err != nil {
		return nil, err
	}
	var out dap.StackTraceResponseBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("dapclient: decode stackTrace body: %w", err)
	}
	return out.StackFrames, nil
}

// Scopes fetches variable scopes for a frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	args := dap.ScopesArguments{FrameId: frameID}
	body, err := c.Correlator.Send(ctx, "scopes", args)
	if err != nil {
		return nil, err
	}
	var out dap.ScopesResponseBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("dapclient: decode scopes body: %w", err)
	}
	return out.Scopes, nil
}

// Variables fetches the variables addressed by a variablesReference.
func (c *Client) Variables(ctx context.Context, variablesRef int) ([]dap.Variable, error) {
	args := dap.VariablesArguments{VariablesReference: variablesRef}
	body, err := c.Correlator.Send(ctx, "variables", args)
	if err != nil {
		return nil, err
	}
	var out dap.VariablesResponseBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("dapclient: decode variables body: %w", err)
	}
	return out.Variables, nil
}

// Evaluate evaluates an expression in a frame's context.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int) (dap.EvaluateResponseBody, error) {
	args := dap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: "repl"}
	body, err := c.Correlator.Send(ctx, "evaluate", args)
	if err != nil {
		return dap.EvaluateResponseBody{}, err
	}
	var out dap.EvaluateResponseBody
	if err := json.Unmarshal(body, &out); err != nil {
		return dap.EvaluateResponseBody{}, fmt.Errorf("dapclient: decode evaluate body: %w", err)
	}
	return out, nil
}

// SetBreakpoints replaces the full set of breakpoints for one source
// file. The response's breakpoints are positionally aligned with lines.
func (c *Client) SetBreakpoints(ctx context.Context, path string, lines []int) ([]dap.Breakpoint, error) {
	sourceBreakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, l := range lines {
		sourceBreakpoints[i] = dap.SourceBreakpoint{Line: l}
	}
	args := dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: path},
		Breakpoints: sourceBreakpoints,
	}
	body, err := c.Correlator.Send(ctx, "setBreakpoints", args)
	if err != nil {
		return nil, err
	}
	var out dap.SetBreakpointsResponseBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("dapclient: decode setBreakpoints body: %w", err)
	}
	return out.Breakpoints, nil
}

// Continue resumes a thread.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	_, err := c.Correlator.Send(ctx, "continue", dap.ContinueArguments{ThreadId: threadID})
	return err
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := c.Correlator.Send(ctx, "next", dap.NextArguments{ThreadId: threadID})
	return err
}

// StepIn steps into a call on the current line.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.Correlator.Send(ctx, "stepIn", dap.StepInArguments{ThreadId: threadID})
	return err
}

// StepOut steps out of the current function.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.Correlator.Send(ctx, "stepOut", dap.StepOutArguments{ThreadId: threadID})
	return err
}

// Pause interrupts a running thread.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	_, err := c.Correlator.Send(ctx, "pause", dap.PauseArguments{ThreadId: threadID})
	return err
}
