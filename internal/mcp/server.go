package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/qagate/internal/batch"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/override"
	"github.com/joescharf/qagate/internal/pipeline"
)

// Checker runs one QA pass without persisting it.
type Checker interface {
	Check(ctx context.Context, s *models.Subject) (*pipeline.Pass, error)
}

// Server exposes the QA gate as MCP tools.
type Server struct {
	batches   *batch.Service
	overrides *override.Service
	checker   Checker
	version   string
}

// NewServer creates the MCP server wrapper. checker may be nil, which
// leaves qa_lint unregistered.
func NewServer(batches *batch.Service, overrides *override.Service, checker Checker, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{batches: batches, overrides: overrides, checker: checker, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("qagate", s.version, server.WithToolCapabilities(true))

	if s.checker != nil {
		srv.AddTool(s.lintTool())
	}
	srv.AddTool(s.createBatchTool())
	srv.AddTool(s.batchStatusTool())
	srv.AddTool(s.cancelBatchTool())
	srv.AddTool(s.runTool())
	srv.AddTool(s.jobStatusTool())
	srv.AddTool(s.overrideTool())
	srv.AddTool(s.historyTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// optionalBool distinguishes an absent argument from false.
func optionalBool(request mcp.CallToolRequest, key string) *bool {
	v, ok := request.GetArguments()[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// qa_lint
func (s *Server) lintTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_lint",
		mcp.WithDescription("Run the QA gate once on a summary without storing anything. Returns the Layer A result and the fused verdict with issues and fix directives."),
		mcp.WithString("summary_text", mcp.Required(), mcp.Description("Summary to check")),
		mcp.WithNumber("impact_level", mcp.Description("Impact level 0-5")),
		mcp.WithString("label", mcp.Description("Tone or outcome label")),
		mcp.WithString("holding", mcp.Description("Holding of the ruling")),
		mcp.WithString("practical_effect", mcp.Description("Practical effect of the ruling")),
		mcp.WithString("source_excerpt", mcp.Description("Excerpt of the source text")),
		mcp.WithString("case_type", mcp.Description("Case type, e.g. procedural")),
		mcp.WithBoolean("merits_reached", mcp.Description("Whether the ruling reached the merits")),
		mcp.WithBoolean("dissent_exists", mcp.Description("Whether the ruling had a dissent")),
	)
	return tool, s.handleLint
}

func (s *Server) handleLint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := request.RequireString("summary_text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: summary_text"), nil
	}
	subj := &models.Subject{
		ContentID:   "lint",
		SummaryText: summary,
		ImpactLevel: request.GetInt("impact_level", 0),
		Label:       request.GetString("label", ""),
		Grounding: models.Grounding{
			Holding:         request.GetString("holding", ""),
			PracticalEffect: request.GetString("practical_effect", ""),
			SourceExcerpt:   request.GetString("source_excerpt", ""),
		},
		Facts: models.Facts{
			CaseType:      request.GetString("case_type", ""),
			MeritsReached: optionalBool(request, "merits_reached"),
			DissentExists: optionalBool(request, "dissent_exists"),
		},
	}
	pass, err := s.checker.Check(ctx, subj)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lint failed: %v", err)), nil
	}
	return jsonResult(pass)
}

// qa_create_batch
func (s *Server) createBatchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_create_batch",
		mcp.WithDescription("Queue a QA batch. Subjects are selected by verdict, needs_qa and explicit content ids, newest first. Returns the batch."),
		mcp.WithArray("verdicts", mcp.Description("Only subjects whose current verdict is one of these"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("content_ids", mcp.Description("Only these subjects"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithBoolean("needs_qa", mcp.Description("Only subjects never checked or changed since the last check")),
		mcp.WithNumber("limit", mcp.Description("Maximum items (default 50, max 100)")),
		mcp.WithString("actor", mcp.Description("Who is requesting the batch")),
	)
	return tool, s.handleCreateBatch
}

func (s *Server) handleCreateBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := models.BatchFilter{
		ContentIDs: request.GetStringSlice("content_ids", nil),
		NeedsQA:    request.GetBool("needs_qa", false),
		Limit:      request.GetInt("limit", 0),
	}
	for _, v := range request.GetStringSlice("verdicts", nil) {
		f.Verdicts = append(f.Verdicts, models.Verdict(v))
	}
	b, err := s.batches.Create(ctx, f, request.GetString("actor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create batch: %v", err)), nil
	}
	return jsonResult(b)
}

// qa_batch_status
func (s *Server) batchStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_batch_status",
		mcp.WithDescription("Get a batch with per-status counts, verdict counts, total cost, progress and items."),
		mcp.WithString("batch_id", mcp.Required(), mcp.Description("Batch ID")),
	)
	return tool, s.handleBatchStatus
}

func (s *Server) handleBatchStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("batch_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: batch_id"), nil
	}
	rep, err := s.batches.Status(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("batch status: %v", err)), nil
	}
	return jsonResult(rep)
}

// qa_cancel_batch
func (s *Server) cancelBatchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_cancel_batch",
		mcp.WithDescription("Cancel a batch. Pending items are skipped; items already running finish."),
		mcp.WithString("batch_id", mcp.Required(), mcp.Description("Batch ID")),
	)
	return tool, s.handleCancelBatch
}

func (s *Server) handleCancelBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("batch_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: batch_id"), nil
	}
	b, skipped, err := s.batches.Cancel(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel batch: %v", err)), nil
	}
	return jsonResult(map[string]any{"batch_id": b.ID, "status": b.Status, "skipped_items": skipped})
}

// qa_run
func (s *Server) runTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_run",
		mcp.WithDescription("Queue QA for one subject. Returns a job id to poll with qa_job_status."),
		mcp.WithString("content_id", mcp.Required(), mcp.Description("Subject content ID")),
		mcp.WithString("actor", mcp.Description("Who is requesting the run")),
	)
	return tool, s.handleRun
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("content_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content_id"), nil
	}
	b, item, err := s.batches.RunSingle(ctx, id, request.GetString("actor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("queue run: %v", err)), nil
	}
	return jsonResult(map[string]any{"job_id": item.ID, "batch_id": b.ID, "status": item.Status})
}

// qa_job_status
func (s *Server) jobStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_job_status",
		mcp.WithDescription("Get one QA job (batch item) with its verdict, issues and cost once finished."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID returned by qa_run")),
	)
	return tool, s.handleJobStatus
}

func (s *Server) handleJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}
	item, err := s.batches.Job(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job status: %v", err)), nil
	}
	return jsonResult(item)
}

// qa_override
func (s *Server) overrideTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_override",
		mcp.WithDescription("Replace a subject's QA verdict with a human decision. The original verdict must match the current one."),
		mcp.WithString("content_id", mcp.Required(), mcp.Description("Subject content ID")),
		mcp.WithString("original_verdict", mcp.Required(), mcp.Description("Verdict being overridden")),
		mcp.WithString("override_verdict", mcp.Required(), mcp.Description("APPROVE, FLAG or REJECT")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why (at least 10 characters)")),
		mcp.WithArray("dismissed_issues", mcp.Description("Issue types to dismiss"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithBoolean("add_to_gold_set", mcp.Description("Mark as a reference example")),
		mcp.WithString("actor", mcp.Description("Who is overriding")),
	)
	return tool, s.handleOverride
}

func (s *Server) handleOverride(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req override.Request
	var err error
	if req.ContentID, err = request.RequireString("content_id"); err != nil {
		return mcp.NewToolResultError("missing required parameter: content_id"), nil
	}
	original, err := request.RequireString("original_verdict")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: original_verdict"), nil
	}
	target, err := request.RequireString("override_verdict")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: override_verdict"), nil
	}
	if req.Reason, err = request.RequireString("reason"); err != nil {
		return mcp.NewToolResultError("missing required parameter: reason"), nil
	}
	req.OriginalVerdict = models.Verdict(original)
	req.OverrideVerdict = models.Verdict(target)
	req.DismissedIssues = request.GetStringSlice("dismissed_issues", nil)
	req.AddToGoldSet = request.GetBool("add_to_gold_set", false)

	res, err := s.overrides.Apply(ctx, req, request.GetString("actor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("override failed: %v", err)), nil
	}
	return jsonResult(res)
}

// qa_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qa_history",
		mcp.WithDescription("Get a subject's revision history newest first, its overrides and current QA state."),
		mcp.WithString("content_id", mcp.Required(), mcp.Description("Subject content ID")),
		mcp.WithNumber("limit", mcp.Description("Maximum revisions (default 20)")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("content_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content_id"), nil
	}
	h, err := s.overrides.History(ctx, id, request.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history: %v", err)), nil
	}
	return jsonResult(h)
}
