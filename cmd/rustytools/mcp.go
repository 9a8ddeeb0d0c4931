package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	rtmcp "github.com/deixis/rustytools/internal/mcp"
)

var mcpFlags struct {
	http         string
	instructions bool
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server (stdio by default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if mcpFlags.instructions {
			fmt.Fprint(cmd.OutOrStdout(), rtmcp.Instructions)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return serve(ctx, mcpFlags.http)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpFlags.http, "http", "", "serve streamable HTTP on address (e.g. :9090) instead of stdio")
	mcpCmd.Flags().BoolVar(&mcpFlags.instructions, "instructions", false, "print model instructions and exit")
	rootCmd.AddCommand(mcpCmd)
}

func serve(ctx context.Context, httpAddr string) error {
	a, err := newApp(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	server := rtmcp.NewServer(a.engine, rtmcp.WithLogger(a.logger))

	if httpAddr != "" {
		return serveHTTP(ctx, a, server, httpAddr)
	}
	a.logger.Info("serving MCP on stdio", "workspace", a.engine.Workspace)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, a *app, server *mcpsdk.Server, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           rtmcp.NewHTTPHandler(server, prometheus.DefaultGatherer, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	a.logger.Info("listening", "addr", addr, "workspace", a.engine.Workspace)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
