package cmd

import (
	"os"

	"github.com/spf13/cobra"

	qamcp "github.com/joescharf/qagate/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Lets an assistant lint summaries, queue and track QA batches, and record
overrides. Configure the client with:

  {
    "mcpServers": {
      "qagate": { "command": "qagate", "args": ["mcp"] }
    }
  }

Available tools: qa_lint, qa_create_batch, qa_batch_status, qa_cancel_batch,
qa_run, qa_job_status, qa_override, qa_history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	// stdout carries the protocol.
	ui.Out = os.Stderr

	_, batches, overrides, err := services()
	if err != nil {
		return err
	}
	checker, err := newPipeline(true)
	if err != nil {
		return err
	}
	return qamcp.NewServer(batches, overrides, checker, buildVersion).ServeStdio(commandContext())
}
