package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	"github.com/dbgbridge/dbgbridge/internal/config"
	"github.com/dbgbridge/dbgbridge/internal/mcpserver"
	"github.com/dbgbridge/dbgbridge/internal/registry"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	interpreter := flag.String("interpreter", "", "Override the configured Python interpreter")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("dbgbridge version %s\n", version)
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *interpreter != "" {
		cfg.Interpreter = *interpreter
	}

	// MCP speaks JSON-RPC over stdout; structured event logging goes to
	// stderr so it never corrupts the protocol stream.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	eventBus := bus.New()
	eventBus.Subscribe(func(ev bus.Event) {
		logger.Info(ev.Kind, "sessionId", ev.SessionID, "payload", ev.Payload)
	})

	reg := registry.New(eventBus, cfg.MaxSessions)
	srv := mcpserver.NewServer(cfg, reg, eventBus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		srv.Close()
		os.Exit(0)
	}()

	log.Println("dbgbridge server starting...")
	if err := srv.ServeStdio(); err != nil {
		srv.Close()
		log.Fatalf("Server error: %v", err)
	}
	srv.Close()
}

func printHelp() {
	fmt.Println(`dbgbridge: Python debug session bridge for MCP

A Model Context Protocol (MCP) server that exposes Debug Adapter Protocol
(DAP) functionality for Python programs debugged via debugpy, enabling AI
agents to spawn, attach to, inspect, and control a debug session.

USAGE:
    dbgbridge [OPTIONS]

OPTIONS:
    -config <path>       Path to configuration file (JSON)
    -interpreter <path>  Override the configured Python interpreter
    -version             Show version and exit
    -help                Show this help message

CONFIGURATION:
    Create a JSON configuration file to customize behavior:

    {
        "interpreter": "python3",
        "adapterModule": "debugpy",
        "defaultAttachPort": 5678,
        "maxSessions": 16,
        "sessionTimeout": 1800000000000
    }

    sessionTimeout is in nanoseconds (1800000000000 = 30m).

MCP INTEGRATION:
    Add to your MCP client configuration:

    Claude Code (~/.claude.json):
    {
        "mcpServers": {
            "dbgbridge": {
                "command": "dbgbridge"
            }
        }
    }

TOOLS:
    Session Management:
        start_debug_session    Spawn debugpy and run a script under it
        attach_to_debugpy      Attach to an already-listening debugpy
        stop_debug_session     Terminate a session
        list_debug_sessions    List active sessions

    Breakpoints:
        set_breakpoint         Set a line breakpoint
        remove_breakpoint      Remove a line breakpoint
        list_breakpoints       List breakpoints for a session

    Execution Control:
        debug_continue         Resume the paused thread
        debug_step_over        Step over
        debug_step_in          Step into
        debug_step_out         Step out

    Inspection:
        get_variables          Read variables in the current frame
        get_call_stack         Read the current call stack
        evaluate_expression    Evaluate a Python expression

    Diagnostics:
        check_python_setup     Verify the interpreter can import debugpy

For more information, visit: https://github.com/dbgbridge/dbgbridge`)
}
