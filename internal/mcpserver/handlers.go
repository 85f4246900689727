package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dbgbridge/dbgbridge/internal/dapclient"
	errs "github.com/dbgbridge/dbgbridge/internal/errors"
	"github.com/dbgbridge/dbgbridge/internal/handshake"
	"github.com/dbgbridge/dbgbridge/internal/session"
	"github.com/dbgbridge/dbgbridge/internal/supervisor"
	"github.com/dbgbridge/dbgbridge/internal/transport"
)

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(errs.FromError(err).Error()), nil
}

func (s *Server) handleStartDebugSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scriptPath, err := request.RequireString("scriptPath")
	if err != nil {
		return errResult(errs.MissingArgument("scriptPath", "path to the Python script to debug"))
	}

	interpreter := s.config.Interpreter
	if v, err := request.RequireString("interpreter"); err == nil && v != "" {
		interpreter = v
	}
	cwd, _ := request.RequireString("cwd")

	var scriptArgs []string
	if raw, err := request.RequireString("args"); err == nil && raw != "" {
		if jerr := json.Unmarshal([]byte(raw), &scriptArgs); jerr != nil {
			return errResult(errs.InvalidArgument("args", raw, "a JSON array of strings"))
		}
	}

	port, err := s.registry.AllocatePort()
	if err != nil {
		return errResult(err)
	}

	sess, err := s.registry.Create(scriptPath, port, true)
	if err != nil {
		return errResult(err)
	}

	proc, err := supervisor.Spawn(ctx, supervisor.SpawnConfig{
		SessionID:     sess.ID,
		Interpreter:   interpreter,
		AdapterModule: s.config.AdapterModule,
		Port:          port,
		Script:        scriptPath,
		Args:          scriptArgs,
		Cwd:           cwd,
	}, s.bus)
	if err != nil {
		s.registry.Remove(sess.ID)
		return errResult(err)
	}
	sess.SetProcess(proc)

	connectCtx, cancel := context.WithTimeout(ctx, connectBudgetOwned)
	defer cancel()
	addr := fmt.Sprintf("localhost:%d", port)
	if err := supervisor.WaitForPort(connectCtx, addr); err != nil {
		_ = sess.Terminate(ctx)
		s.registry.Remove(sess.ID)
		return errResult(errs.Transport("adapter never started listening", err))
	}

	result, err := s.runHandshake(ctx, sess, addr, cwd, false)
	if err != nil {
		sess.SetState(session.StateError)
		_ = sess.Terminate(ctx)
		s.registry.Remove(sess.ID)
		return errResult(err)
	}

	sess.SetState(session.StateRunning)
	return textResult(map[string]any{
		"sessionId": sess.ID,
		"port":      port,
		"threadId":  result.ThreadID,
	})
}

func (s *Server) handleAttachToDebugpy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scriptPath, _ := request.RequireString("scriptPath")

	port := s.config.DefaultAttachPort
	if p, err := request.RequireFloat("port"); err == nil {
		port = int(p)
	}

	sess, err := s.registry.Create(scriptPath, port, false)
	if err != nil {
		return errResult(err)
	}

	addr := fmt.Sprintf("localhost:%d", port)
	connectCtx, cancel := context.WithTimeout(ctx, connectBudgetAttach)
	defer cancel()
	if err := supervisor.WaitForPort(connectCtx, addr); err != nil {
		s.registry.Remove(sess.ID)
		return errResult(errs.Transport(fmt.Sprintf("could not connect to debugpy at %s", addr), err))
	}

	result, err := s.runHandshake(ctx, sess, addr, "", true)
	if err != nil {
		sess.SetState(session.StateError)
		_ = sess.Terminate(ctx)
		s.registry.Remove(sess.ID)
		return errResult(err)
	}

	sess.SetState(session.StateRunning)
	return textResult(map[string]any{
		"sessionId": sess.ID,
		"port":      port,
		"threadId":  result.ThreadID,
	})
}

const (
	connectBudgetOwned  = tenSeconds
	connectBudgetAttach = fiveSeconds
)

func (s *Server) runHandshake(ctx context.Context, sess *session.Session, addr, cwd string, attachOnly bool) (handshake.Result, error) {
	t, err := transport.Dial(addr)
	if err != nil {
		return handshake.Result{}, errs.Transport("dial adapter", err)
	}

	client := dapclient.New(t, s.bus, sess.ID)
	sess.AttachClient(client)

	root := cwd
	if root == "" {
		root = "."
	}
	opts := handshake.Options{
		ClientID:   "dbgbridge",
		ClientName: "dbgbridge",
		AttachOnly: attachOnly,
		AttachArgs: dapclient.AttachArgs{
			Name:    "dbgbridge-attach",
			Type:    "python",
			Request: "attach",
			PathMappings: []dapclient.PathMapping{
				{LocalRoot: root, RemoteRoot: root},
			},
			JustMyCode: false,
		},
	}
	opts.AttachArgs.Connect.Host = "127.0.0.1"
	_, port, _ := splitHostPort(addr)
	opts.AttachArgs.Connect.Port = port

	return handshake.Run(ctx, client, opts)
}

func (s *Server) handleStopDebugSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("sessionId")
	if err != nil {
		return errResult(errs.MissingArgument("sessionId", "the session ID to terminate"))
	}
	if err := s.registry.Terminate(ctx, id); err != nil {
		return errResult(err)
	}
	return textResult(map[string]any{"sessionId": id, "terminated": true})
}

func (s *Server) handleListDebugSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := s.registry.List()
	out := make([]map[string]any, len(summaries))
	for i, sum := range summaries {
		out[i] = map[string]any{
			"sessionId":  sum.ID,
			"scriptPath": sum.ScriptPath,
			"port":       sum.Port,
			"owned":      sum.OwnsProc,
			"state":      sum.State.String(),
		}
	}
	return textResult(map[string]any{"sessions": out})
}

func (s *Server) sessionArg(request mcp.CallToolRequest) (*session.Session, error) {
	id, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errs.MissingArgument("sessionId", "the session ID")
	}
	return s.registry.Get(id)
}

func (s *Server) handleSetBreakpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	file, err := request.RequireString("file")
	if err != nil {
		return errResult(errs.MissingArgument("file", "the source file path"))
	}
	line, err := request.RequireFloat("line")
	if err != nil {
		return errResult(errs.MissingArgument("line", "a 1-based line number"))
	}

	bp, err := sess.SetBreakpoint(ctx, file, int(line))
	if err != nil {
		return errResult(err)
	}
	return textResult(map[string]any{"id": bp.ID, "file": bp.File, "line": bp.Line, "verified": bp.Verified})
}

func (s *Server) handleRemoveBreakpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	file, err := request.RequireString("file")
	if err != nil {
		return errResult(errs.MissingArgument("file", "the source file path"))
	}
	line, err := request.RequireFloat("line")
	if err != nil {
		return errResult(errs.MissingArgument("line", "a 1-based line number"))
	}

	if err := sess.RemoveBreakpoint(ctx, file, int(line)); err != nil {
		return errResult(err)
	}
	return textResult(map[string]any{"file": file, "line": int(line), "removed": true})
}

func (s *Server) handleListBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	file, _ := request.RequireString("file")

	bps := sess.ListBreakpoints(file)
	out := make([]map[string]any, len(bps))
	for i, bp := range bps {
		out[i] = map[string]any{"id": bp.ID, "file": bp.File, "line": bp.Line, "verified": bp.Verified}
	}
	return textResult(map[string]any{"breakpoints": out})
}

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	if err := sess.Continue(ctx); err != nil {
		return errResult(err)
	}
	return textResult(map[string]any{"sessionId": sess.ID, "resumed": true})
}

func (s *Server) handleDebugStepOver(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	if err := sess.StepOver(ctx); err != nil {
		return errResult(err)
	}
	return textResult(map[string]any{"sessionId": sess.ID, "stepped": "over"})
}

func (s *Server) handleDebugStepIn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	if err := sess.StepIn(ctx); err != nil {
		return errResult(err)
	}
	return textResult(map[string]any{"sessionId": sess.ID, "stepped": "in"})
}

func (s *Server) handleDebugStepOut(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	if err := sess.StepOut(ctx); err != nil {
		return errResult(err)
	}
	return textResult(map[string]any{"sessionId": sess.ID, "stepped": "out"})
}

func (s *Server) handleGetVariables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	scopeStr, _ := request.RequireString("scope")
	scope := session.ScopeAll
	if scopeStr != "" {
		scope = session.Scope(scopeStr)
	}

	vars, err := sess.GetVariables(ctx, scope)
	if err != nil {
		return errResult(err)
	}
	out := make([]map[string]any, len(vars))
	for i, v := range vars {
		out[i] = map[string]any{"name": v.Name, "value": v.Value, "type": v.Type, "scope": v.Scope}
	}
	return textResult(map[string]any{"variables": out})
}

func (s *Server) handleGetCallStack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	frames, err := sess.GetCallStack(ctx)
	if err != nil {
		return errResult(err)
	}
	out := make([]map[string]any, len(frames))
	for i, f := range frames {
		out[i] = map[string]any{"name": f.Name, "file": f.File, "line": f.Line}
	}
	return textResult(map[string]any{"stack": out})
}

func (s *Server) handleEvaluateExpression(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessionArg(request)
	if err != nil {
		return errResult(err)
	}
	expr, err := request.RequireString("expression")
	if err != nil {
		return errResult(errs.MissingArgument("expression", "the expression to evaluate"))
	}

	result, err := sess.Evaluate(ctx, expr)
	if err != nil {
		return errResult(err)
	}
	if result.Err != "" {
		return textResult(map[string]any{"error": result.Err})
	}
	return textResult(map[string]any{"result": result.Result, "type": result.Type})
}

func (s *Server) handleCheckPythonSetup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	interpreter := s.config.Interpreter
	if v, err := request.RequireString("interpreter"); err == nil && v != "" {
		interpreter = v
	}

	err := supervisor.Probe(ctx, interpreter, s.config.AdapterModule)
	if err != nil {
		return textResult(map[string]any{
			"interpreter": interpreter,
			"ok":          false,
			"error":       err.Error(),
		})
	}
	return textResult(map[string]any{"interpreter": interpreter, "ok": true})
}
