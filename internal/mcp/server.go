package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/job"
)

// MCPServer wraps the mcp-go server with Spigot-specific tool and resource
// registrations. It exposes the gateway's table services and job scheduler
// as MCP tools so AI agents can explore schemas, move data, and run
// background work.
type MCPServer struct {
	engines   *engine.Registry
	jobs      *job.Registry
	scheduler *job.Scheduler
	logger    *slog.Logger
	server    *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all Spigot tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(engines *engine.Registry, jobs *job.Registry, scheduler *job.Scheduler, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		engines:   engines,
		jobs:      jobs,
		scheduler: scheduler,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"Spigot Table Gateway",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, the integration path for
// MCP clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on the
// given address (e.g. ":3001"). Suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
