package main

import (
	"context"

	"github.com/spf13/cobra"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"codescribe/internal/logging"
	mcpserver "codescribe/internal/mcp"
	"codescribe/internal/merge"
	"codescribe/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: "Starts an MCP server over stdin/stdout exposing the pipeline as tools:\n" +
		"start_analysis, start_sync, get_progress, get_status, get_section.\n" +
		"Progress is replayed by event index, so a client that reconnects\n" +
		"picks up where it left off.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(rootFlags.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	// One Deps value for the whole server: every run shares the same
	// arbiter, so the cost budget holds across concurrent projects.
	deps, err := a.deps()
	if err != nil {
		return err
	}
	srv := mcpserver.NewServer(mcpserver.Backends{
		Store: a.store,
		NewRunner: func(ring *pipeline.Ring) *pipeline.Runner {
			return &pipeline.Runner{
				Source: a.source(), Store: a.store, Deps: deps,
				Ring: ring, Log: logging.New("pipeline"), Opts: a.pipelineOpts(),
			}
		},
		NewEngine: func(ring *pipeline.Ring) *merge.Engine {
			return &merge.Engine{
				Source: a.source(), Store: a.store, Deps: deps,
				Ring: ring, Log: logging.New("sync"), Opts: a.pipelineOpts(),
			}
		},
	})
	defer srv.Shutdown()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logging.New("mcp").Info("starting codescribe MCP server over stdio")
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
