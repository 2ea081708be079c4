package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spigotdb/spigot/internal/job"
	smcp "github.com/spigotdb/spigot/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes table operations
and the job scheduler as tools for AI agents. Supports stdio (default) and
HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with MCP clients that launch it as a
subprocess. In HTTP mode, the server listens on the specified port.`,
		Example: `  spigot mcp                               # stdio mode
  spigot mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logs go to stderr; stdout belongs to the stdio transport.
	logger := newLogger(cfg.Logging, false)

	engines, err := connectServices(cfg, logger)
	if err != nil {
		return err
	}
	defer engines.CloseAll()

	media, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	jobs := job.NewRegistry()
	scheduler := job.NewScheduler(jobs, cfg.Jobs.Workers, cfg.Jobs.QueueSize, nil, logger)
	defer scheduler.Shutdown()
	job.NewExecutors(engines, media).RegisterAll(scheduler)

	mcpSrv := smcp.NewMCPServer(engines, jobs, scheduler, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
