package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/scenesync/pkg/adapters/mcp"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the configured documents as MCP tools (get_tree, apply_patch,
undo, redo, persist, list_docs) and the scene://tree/{doc_id} resource.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		transport, _ := cmd.Flags().GetString("transport")
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.MCP.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		docs := st.manager(domain.Hooks{})
		defer docs.CloseAll(ctx)
		srv := mcp.NewServer(docs, mcp.WithLogger(logger))

		switch transport {
		case "stdio":
			// Logs go to stderr so they do not corrupt JSON-RPC on stdout.
			logger.Info("starting scenesync MCP server (stdio)")
			return srv.ServeStdio()
		case "sse":
			if err := srv.ServeSSE(ctx, cfg.MCP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("MCP server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", "", "Address to listen on for sse (overrides mcp.addr)")
}
