package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the full 15-tool debug API.
func (s *Server) registerTools() {
	s.registerStartDebugSession()
	s.registerAttachToDebugpy()
	s.registerStopDebugSession()
	s.registerListDebugSessions()
	s.registerSetBreakpoint()
	s.registerRemoveBreakpoint()
	s.registerListBreakpoints()
	s.registerDebugContinue()
	s.registerDebugStepOver()
	s.registerDebugStepIn()
	s.registerDebugStepOut()
	s.registerGetVariables()
	s.registerGetCallStack()
	s.registerEvaluateExpression()
	s.registerCheckPythonSetup()
}

func (s *Server) registerStartDebugSession() {
	tool := mcp.NewTool("start_debug_session",
		mcp.WithDescription("Spawn debugpy and run a Python script under it, stopped until the handshake completes. Returns sessionId needed for every other tool."),
		mcp.WithString("scriptPath",
			mcp.Required(),
			mcp.Description("Path to the Python script to debug"),
		),
		mcp.WithString("args",
			mcp.Description("JSON array of command-line arguments to pass to the script, e.g. [\"--verbose\"]"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory for the script"),
		),
		mcp.WithString("interpreter",
			mcp.Description("Python interpreter to use (default: the server's configured interpreter, normally python3)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleStartDebugSession)
}

func (s *Server) registerAttachToDebugpy() {
	tool := mcp.NewTool("attach_to_debugpy",
		mcp.WithDescription("Attach to a debugpy instance the caller already started and is listening for a client, e.g. via debugpy.listen() in the target script."),
		mcp.WithString("scriptPath",
			mcp.Description("Path to the script being debugged, used only for display"),
		),
		mcp.WithNumber("port",
			mcp.Description("Port debugpy is listening on (default: 5678)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleAttachToDebugpy)
}

func (s *Server) registerStopDebugSession() {
	tool := mcp.NewTool("stop_debug_session",
		mcp.WithDescription("Terminate a debug session: closes the DAP socket and, for owned sessions, sends SIGTERM then SIGKILL to the target process."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID to terminate")),
	)
	s.mcpServer.AddTool(tool, s.handleStopDebugSession)
}

func (s *Server) registerListDebugSessions() {
	tool := mcp.NewTool("list_debug_sessions",
		mcp.WithDescription("List all active debug sessions with their state, script path, and port."),
	)
	s.mcpServer.AddTool(tool, s.handleListDebugSessions)
}

func (s *Server) registerSetBreakpoint() {
	tool := mcp.NewTool("set_breakpoint",
		mcp.WithDescription("Set a line breakpoint. The full set of breakpoints for the file is resent to the adapter each time; this call is additive from the caller's perspective."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("file", mcp.Required(), mcp.Description("Source file path")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
	)
	s.mcpServer.AddTool(tool, s.handleSetBreakpoint)
}

func (s *Server) registerRemoveBreakpoint() {
	tool := mcp.NewTool("remove_breakpoint",
		mcp.WithDescription("Remove a line breakpoint previously set with set_breakpoint."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("file", mcp.Required(), mcp.Description("Source file path")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
	)
	s.mcpServer.AddTool(tool, s.handleRemoveBreakpoint)
}

func (s *Server) registerListBreakpoints() {
	tool := mcp.NewTool("list_breakpoints",
		mcp.WithDescription("List the currently set breakpoints for a session, optionally filtered to one file."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("file", mcp.Description("Limit the listing to this source file; omit for all files")),
	)
	s.mcpServer.AddTool(tool, s.handleListBreakpoints)
}

func (s *Server) registerDebugContinue() {
	tool := mcp.NewTool("debug_continue",
		mcp.WithDescription("Resume the paused thread. Returns immediately; poll list_debug_sessions or inspect after it stops again."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
	)
	s.mcpServer.AddTool(tool, s.handleDebugContinue)
}

func (s *Server) registerDebugStepOver() {
	tool := mcp.NewTool("debug_step_over",
		mcp.WithDescription("Step to the next line in the current frame, not descending into calls."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStepOver)
}

func (s *Server) registerDebugStepIn() {
	tool := mcp.NewTool("debug_step_in",
		mcp.WithDescription("Step into a function call on the current line."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStepIn)
}

func (s *Server) registerDebugStepOut() {
	tool := mcp.NewTool("debug_step_out",
		mcp.WithDescription("Step out of the current function back to its caller."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStepOut)
}

func (s *Server) registerGetVariables() {
	tool := mcp.NewTool("get_variables",
		mcp.WithDescription("Read variables visible at the current paused frame."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("scope",
			mcp.Description("Which scope to read: 'local', 'global', or 'all' (default: 'all'); matched case-insensitively against the adapter's scope names"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleGetVariables)
}

func (s *Server) registerGetCallStack() {
	tool := mcp.NewTool("get_call_stack",
		mcp.WithDescription("Read the current thread's call stack."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
	)
	s.mcpServer.AddTool(tool, s.handleGetCallStack)
}

func (s *Server) registerEvaluateExpression() {
	tool := mcp.NewTool("evaluate_expression",
		mcp.WithDescription("Evaluate a Python expression in the current paused frame's context."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("The expression to evaluate")),
	)
	s.mcpServer.AddTool(tool, s.handleEvaluateExpression)
}

func (s *Server) registerCheckPythonSetup() {
	tool := mcp.NewTool("check_python_setup",
		mcp.WithDescription("Verify that the configured Python interpreter can import debugpy, the same check performed before every start_debug_session."),
		mcp.WithString("interpreter", mcp.Description("Override the interpreter to probe (default: the server's configured interpreter)")),
	)
	s.mcpServer.AddTool(tool, s.handleCheckPythonSetup)
}
