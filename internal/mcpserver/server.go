// Package mcpserver exposes the bridge's 15-tool surface over the
// Model Context Protocol, forwarding each call to the Registry/Session
// API in internal/registry and internal/session.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	"github.com/dbgbridge/dbgbridge/internal/config"
	"github.com/dbgbridge/dbgbridge/internal/registry"
)

// Server wraps the MCP server with the debug-bridge tool set.
type Server struct {
	mcpServer *server.MCPServer
	registry  *registry.Registry
	bus       *bus.Bus
	config    *config.Config
}

// NewServer builds the MCP server and registers all 15 tools.
func NewServer(cfg *config.Config, reg *registry.Registry, b *bus.Bus) *Server {
	mcpServer := server.NewMCPServer(
		"dbgbridge",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		registry:  reg,
		bus:       b,
		config:    cfg,
	}
	s.registerTools()
	return s
}

// ServeStdio serves the MCP protocol over stdio until the client
// closes the connection.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close shuts down every live session.
func (s *Server) Close() {
	s.registry.ShutdownAll(context.Background())
}

// Registry exposes the underlying registry, mainly for tests.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}
