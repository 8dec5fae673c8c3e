package cmd

import (
	"fmt"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nkazachenko/grps-core-go/pkg/config"
	"github.com/nkazachenko/grps-core-go/pkg/engine"
	"github.com/nkazachenko/grps-core-go/pkg/logging"
	"github.com/nkazachenko/grps-core-go/pkg/transport/mcpfrontend"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Bootstrap the engine and serve it as an MCP server",
	Long: `Starts grps-core-go as a Model Context Protocol (MCP) server, so AI
assistants can call grps_infer/grps_models directly instead of going
through HTTP or gRPC.

Transports:
  stdio (default) - for local desktop apps (Claude Desktop, Cursor)
  http            - for remote/cloud deployments

Example:
  grps mcp
  grps mcp --transport http --port 8081`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "transport type: stdio or http")
	mcpCmd.Flags().Int("port", 8081, "HTTP server port (for http transport)")
	mcpCmd.Flags().String("host", "0.0.0.0", "HTTP server host (for http transport)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

	serverCfg, err := config.LoadServerFromFile(serverCfgFile)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}
	inferCfg, err := config.LoadInferenceFromFile(inferenceCfgFile)
	if err != nil {
		return fmt.Errorf("load inference config: %w", err)
	}

	log := logging.New(viper.GetString("log.level"), nil)
	eng, err := engine.Bootstrap(serverCfg, inferCfg, engine.Options{Log: log})
	if err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.Online()
	defer eng.Stop()

	srv := mcpfrontend.NewServer(eng).MCPServer("grps-core-go", engine.Version)

	switch transport {
	case "stdio":
		if err := mcpserver.ServeStdio(srv); err != nil {
			return fmt.Errorf("mcp server error: %w", err)
		}
		return nil

	case "http":
		addr := fmt.Sprintf("%s:%d", host, port)
		fmt.Printf("grps-core-go MCP server starting on http://%s\n", addr)
		fmt.Printf("  Endpoint: http://%s/mcp\n", addr)

		mux := http.NewServeMux()
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(srv, mcpserver.WithStateful(true)))

		httpServer := &http.Server{Addr: addr, Handler: mux}
		if err := httpServer.ListenAndServe(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported transport: %s (use 'stdio' or 'http')", transport)
	}
}
