// Package session implements the Session entity: identity, lifecycle
// state, breakpoint table, current thread/frame cache, and the
// inspection/control operations that validate preconditions against
// that state before delegating to the DAP client.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	"github.com/dbgbridge/dbgbridge/internal/dapclient"
	errs "github.com/dbgbridge/dbgbridge/internal/errors"
)

// State is one point in the session lifecycle.
type State int

const (
	StateStarting State = iota
	StateRunning
	StatePaused
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Breakpoint is one line breakpoint in a source file, as last
// reconciled against the adapter.
type Breakpoint struct {
	ID       int
	File     string
	Line     int
	Verified bool
}

// Location describes where a paused thread currently sits.
type Location struct {
	File string
	Line int
	Name string
}

// VariableEntry is a variable value tagged with the scope it came from.
type VariableEntry struct {
	Name  string
	Value string
	Type  string
	Scope string
}

// StackEntry is one call-stack frame in tool-surface shape.
type StackEntry struct {
	Name string
	File string
	Line int
}

// Killer terminates an owned subprocess; implemented by
// internal/supervisor.Process. Kept as an interface here so session
// tests do not need a real OS process.
type Killer interface {
	Terminate(ctx context.Context, grace time.Duration) error
}

// Session is one debugging relationship with one adapter instance and
// (for owned sessions) one target process.
type Session struct {
	ID         string
	ScriptPath string
	Port       int
	OwnsProc   bool

	client  *dapclient.Client
	process Killer
	bus     *bus.Bus

	mu                      sync.Mutex
	state                   State
	breakpoints             map[string][]Breakpoint
	currentThread           *int
	currentFrame            *int
	currentLocation         *Location
	seenStoppedSinceRunning bool
	startedAt               time.Time
}

// New creates a Session in Starting state. The caller must call
// AttachClient with a live dapclient.Client before running the handshake.
func New(id, scriptPath string, port int, ownsProc bool, b *bus.Bus) *Session {
	return &Session{
		ID:          id,
		ScriptPath:  scriptPath,
		Port:        port,
		OwnsProc:    ownsProc,
		bus:         b,
		state:       StateStarting,
		breakpoints: make(map[string][]Breakpoint),
		startedAt:   time.Now(),
	}
}

// AttachClient wires the session to its live DAP client and subscribes
// to the events that drive state transitions. Must be called once,
// before the handshake runs, so that no event is missed.
func (s *Session) AttachClient(c *dapclient.Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()

	// onStopped waits for a stackTrace reply, which is read by the same
	// loop that delivers this event, so it runs on its own goroutine.
	c.Router.On("stopped", func(raw json.RawMessage) { go s.onStopped(raw) })
	c.Router.On("continued", func(raw json.RawMessage) { s.onContinued(raw) })
	c.Router.On("terminated", func(raw json.RawMessage) { s.onTerminated(raw) })
	c.Router.On("exited", func(raw json.RawMessage) { s.onExited(raw) })
	c.Router.On("output", func(raw json.RawMessage) { s.onOutput(raw) })
}

// SetProcess records the owned subprocess handle, used by Terminate.
func (s *Session) SetProcess(p Killer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = p
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session. Exported so the tool handlers in
// internal/mcpserver can move Starting -> Running once the handshake
// completes, or to Error when it fails.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// StartedAt returns the session's creation timestamp.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Client returns the underlying DAP client, or nil before the
// handshake has produced one.
func (s *Session) Client() *dapclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) publish(kind string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, SessionID: s.ID, Payload: payload})
}

// --- Event-driven state transitions ---

func (s *Session) onStopped(raw json.RawMessage) {
	var body dap.StoppedEventBody
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	threadID := body.ThreadId
	s.currentThread = &threadID
	s.currentFrame = nil
	client := s.client
	s.mu.Unlock()

	// Fetch the stack trace (retry up to 2 times) to set the top frame.
	var frames []dap.StackFrame
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		frames, err = client.StackTrace(context.Background(), threadID)
		if err == nil {
			break
		}
	}

	var loc *Location
	if err == nil && len(frames) > 0 {
		top := frames[0]
		frameID := top.Id
		s.mu.Lock()
		s.currentFrame = &frameID
		s.mu.Unlock()
		if top.Source != nil {
			loc = &Location{File: top.Source.Path, Line: top.Line, Name: top.Name}
		} else {
			loc = &Location{Line: top.Line, Name: top.Name}
		}
	}

	// Paused becomes visible only after the frame has been resolved.
	s.mu.Lock()
	s.currentLocation = loc
	s.state = StatePaused
	s.seenStoppedSinceRunning = true
	s.mu.Unlock()

	payload := map[string]any{"reason": body.Reason, "threadId": threadID}
	if loc != nil {
		payload["file"] = loc.File
		payload["line"] = loc.Line
	}
	s.publish("paused", payload)
}

func (s *Session) onContinued(raw json.RawMessage) {
	var body dap.ContinuedEventBody
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	s.state = StateRunning
	s.currentFrame = nil
	s.currentLocation = nil
	s.seenStoppedSinceRunning = false
	s.mu.Unlock()

	s.publish("continued", map[string]any{"threadId": body.ThreadId})
}

func (s *Session) onTerminated(json.RawMessage) {
	s.SetState(StateStopped)
	s.publish("terminated", nil)
}

func (s *Session) onExited(raw json.RawMessage) {
	var body dap.ExitedEventBody
	_ = json.Unmarshal(raw, &body)
	s.SetState(StateStopped)
	kind := "normal"
	if body.ExitCode != 0 {
		kind = "abnormal"
	}
	s.publish("exited", map[string]any{"exitCode": body.ExitCode, "classification": kind})
}

func (s *Session) onOutput(raw json.RawMessage) {
	var body dap.OutputEventBody
	_ = json.Unmarshal(raw, &body)

	stream := "stdout"
	if body.Category == "stderr" || matchesErrorPrefix(body.Output) {
		stream = "stderr"
	}
	s.publish("output", map[string]any{"stream": stream, "text": body.Output})
}

var errorPrefixes = []string{
	"Traceback", "Exception", "TypeError:", "ValueError:", "KeyError:",
	"IndexError:", "AttributeError:", "NameError:", "SyntaxError:",
	"RuntimeError:", "ImportError:", "ModuleNotFoundError:",
	"FileNotFoundError:", "PermissionError:",
}

func matchesErrorPrefix(line string) bool {
	for _, p := range errorPrefixes {
		if hasPrefix(line, p) {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return s[:len(prefix)] == prefix
}

// --- Operations ---

// SetBreakpoint adds a breakpoint at line in file, then sends the full
// reconciled line list to the adapter and replaces the cached set from
// its response.
func (s *Session) SetBreakpoint(ctx context.Context, file string, line int) (Breakpoint, error) {
	if line < 1 {
		return Breakpoint{}, errs.InvalidArgument("line", line, "a 1-based line number >= 1")
	}

	s.mu.Lock()
	client := s.client
	st := s.state
	existing := append([]Breakpoint(nil), s.breakpoints[file]...)
	s.mu.Unlock()

	if st == StateStopped || st == StateError {
		return Breakpoint{}, errs.Lifecycle(fmt.Sprintf("session %s is terminal", s.ID), nil)
	}

	lines := make([]int, 0, len(existing)+1)
	seen := false
	for _, bp := range existing {
		lines = append(lines, bp.Line)
		if bp.Line == line {
			seen = true
		}
	}
	if !seen {
		lines = append(lines, line)
	}

	adapterBPs, err := client.SetBreakpoints(ctx, file, lines)
	if err != nil {
		return Breakpoint{}, errs.Protocol("setBreakpoints failed", err)
	}

	reconciled := reconcile(file, lines, adapterBPs)

	s.mu.Lock()
	s.breakpoints[file] = reconciled
	s.mu.Unlock()

	for _, bp := range reconciled {
		if bp.Line == line {
			return bp, nil
		}
	}
	return Breakpoint{}, errs.Protocol("adapter did not acknowledge the new breakpoint", nil)
}

// RemoveBreakpoint removes line from file's breakpoint set and
// resends the remaining lines as an absolute replacement.
func (s *Session) RemoveBreakpoint(ctx context.Context, file string, line int) error {
	s.mu.Lock()
	client := s.client
	existing := append([]Breakpoint(nil), s.breakpoints[file]...)
	s.mu.Unlock()

	lines := make([]int, 0, len(existing))
	for _, bp := range existing {
		if bp.Line != line {
			lines = append(lines, bp.Line)
		}
	}

	adapterBPs, err := client.SetBreakpoints(ctx, file, lines)
	if err != nil {
		return errs.Protocol("setBreakpoints failed", err)
	}

	reconciled := reconcile(file, lines, adapterBPs)

	s.mu.Lock()
	s.breakpoints[file] = reconciled
	s.mu.Unlock()
	return nil
}

// ListBreakpoints returns the cached breakpoints for file, or for every
// file if file is empty.
func (s *Session) ListBreakpoints(file string) []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file != "" {
		return append([]Breakpoint(nil), s.breakpoints[file]...)
	}
	var all []Breakpoint
	for _, bps := range s.breakpoints {
		all = append(all, bps...)
	}
	return all
}

func reconcile(file string, lines []int, adapterBPs []dap.Breakpoint) []Breakpoint {
	out := make([]Breakpoint, len(lines))
	for i, line := range lines {
		id := i
		verified := false
		if i < len(adapterBPs) {
			if adapterBPs[i].Id != 0 {
				id = adapterBPs[i].Id
			}
			verified = adapterBPs[i].Verified
		}
		out[i] = Breakpoint{ID: id, File: file, Line: line, Verified: verified}
	}
	return out
}

// requireThread returns the current thread id or a "no active thread"
// error.
func (s *Session) requireThread() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused || s.currentThread == nil {
		return 0, errs.InvalidArgument("threadId", nil, "no active thread: the session must be paused")
	}
	return *s.currentThread, nil
}

// requireFrame returns the current frame id or a "no active frame"
// error.
func (s *Session) requireFrame() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused || s.currentFrame == nil {
		return 0, errs.InvalidArgument("frameId", nil, "no active frame: the session must be paused with a resolved stack")
	}
	return *s.currentFrame, nil
}

// Continue resumes the current thread. The session transitions to
// Running only when the adapter's "continued" event arrives, not on
// this call's response.
func (s *Session) Continue(ctx context.Context) error {
	threadID, err := s.requireThread()
	if err != nil {
		return err
	}
	return s.Client().Continue(ctx, threadID)
}

// StepOver, StepIn, StepOut mirror Continue's precondition.
func (s *Session) StepOver(ctx context.Context) error {
	threadID, err := s.requireThread()
	if err != nil {
		return err
	}
	return s.Client().Next(ctx, threadID)
}

func (s *Session) StepIn(ctx context.Context) error {
	threadID, err := s.requireThread()
	if err != nil {
		return err
	}
	return s.Client().StepIn(ctx, threadID)
}

func (s *Session) StepOut(ctx context.Context) error {
	threadID, err := s.requireThread()
	if err != nil {
		return err
	}
	return s.Client().StepOut(ctx, threadID)
}

// Scope selects which variable scopes GetVariables returns.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeGlobal Scope = "global"
	ScopeAll    Scope = "all"
)

// GetVariables fetches scopes for the current frame, filters by name
// (case-insensitive substring match, adapter-dependent per spec §9),
// and concatenates their variables tagged with the originating scope.
func (s *Session) GetVariables(ctx context.Context, scope Scope) ([]VariableEntry, error) {
	frameID, err := s.requireFrame()
	if err != nil {
		return nil, err
	}

	client := s.Client()
	scopes, err := client.Scopes(ctx, frameID)
	if err != nil {
		return nil, errs.Protocol("scopes failed", err)
	}

	var out []VariableEntry
	for _, sc := range scopes {
		if !scopeMatches(sc.Name, scope) {
			continue
		}
		vars, err := client.Variables(ctx, sc.VariablesReference)
		if err != nil {
			return nil, errs.Protocol("variables failed", err)
		}
		for _, v := range vars {
			out = append(out, VariableEntry{Name: v.Name, Value: v.Value, Type: v.Type, Scope: sc.Name})
		}
	}
	return out, nil
}

func scopeMatches(scopeName string, want Scope) bool {
	if want == ScopeAll || want == "" {
		return true
	}
	return containsFold(scopeName, string(want))
}

func containsFold(s, substr string) bool {
	sl, subl := lower(s), lower(substr)
	if len(subl) == 0 {
		return true
	}
	for i := 0; i+len(subl) <= len(sl); i++ {
		if sl[i:i+len(subl)] == subl {
			return true
		}
	}
	return false
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// GetCallStack returns the current thread's stack in tool-surface shape.
func (s *Session) GetCallStack(ctx context.Context) ([]StackEntry, error) {
	threadID, err := s.requireThread()
	if err != nil {
		return nil, err
	}
	frames, err := s.Client().StackTrace(ctx, threadID)
	if err != nil {
		return nil, errs.Protocol("stackTrace failed", err)
	}
	out := make([]StackEntry, len(frames))
	for i, f := range frames {
		e := StackEntry{Name: f.Name, Line: f.Line}
		if f.Source != nil {
			e.File = f.Source.Path
		}
		out[i] = e
	}
	return out, nil
}

// EvaluateResult is the outcome of an evaluate_expression call.
// Adapter-side evaluation failures are returned as data (Err set), not
// as a Go error, matching spec §4.7's "evaluate" row.
type EvaluateResult struct {
	Result string
	Type   string
	Err    string
}

// Evaluate evaluates expr in the current frame's context.
func (s *Session) Evaluate(ctx context.Context, expr string) (EvaluateResult, error) {
	frameID, err := s.requireFrame()
	if err != nil {
		return EvaluateResult{}, err
	}
	body, err := s.Client().Evaluate(ctx, expr, frameID)
	if err != nil {
		return EvaluateResult{Err: err.Error()}, nil
	}
	return EvaluateResult{Result: body.Result, Type: body.Type}, nil
}

// Terminate closes the DAP socket, requests graceful then forced
// termination of an owned subprocess, and marks the session Stopped.
// Pending requests on the Correlator are rejected with a disconnection
// error as a side effect of closing the transport.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	proc := s.process
	s.state = StateStopped
	s.mu.Unlock()

	var firstErr error
	if client != nil {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if proc != nil {
		if err := proc.Terminate(ctx, 5*time.Second); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.publish("session_removed", nil)
	return firstErr
}
