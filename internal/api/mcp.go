package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/handoff/internal/storage"
	"github.com/kalambet/handoff/internal/ticketing"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Poster     Poster
	Tickets    ticketing.Client // optional; if nil, fetch_ticket returns an error
	Summarizer Summarizer       // optional; if nil, summarize_escalation returns an error
}

// NewMCPServer creates an MCP server with the escalation tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"handoff",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("handoff — prepare L1 support escalations and post them to Jira as comment plus attachments."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_escalations",
			mcp.WithDescription("List stored escalations, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status (draft, posted, post_failed)")),
		),
		mcpListEscalations(deps),
	)

	s.AddTool(
		mcp.NewTool("get_escalation",
			mcp.WithDescription("Return the full escalation record including its rendered markdown and error details."),
			mcp.WithString("id", mcp.Description("Escalation ID"), mcp.Required()),
		),
		mcpGetEscalation(deps),
	)

	s.AddTool(
		mcp.NewTool("post_escalation",
			mcp.WithDescription("Post a draft escalation to its Jira ticket as a comment, optionally with file attachments."),
			mcp.WithString("id", mcp.Description("Escalation ID"), mcp.Required()),
			mcp.WithArray("files", mcp.Description("Local file paths to attach")),
		),
		mcpPostEscalation(deps),
	)

	s.AddTool(
		mcp.NewTool("fetch_ticket",
			mcp.WithDescription("Fetch a Jira ticket by key and return its summary, status, and comments."),
			mcp.WithString("key", mcp.Description("Ticket key, e.g. SUP-1234"), mcp.Required()),
		),
		mcpFetchTicket(deps),
	)

	s.AddTool(
		mcp.NewTool("summarize_escalation",
			mcp.WithDescription("Generate an L2 handoff summary for an escalation using the local model and store it on the record."),
			mcp.WithString("id", mcp.Description("Escalation ID"), mcp.Required()),
		),
		mcpSummarizeEscalation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"handoff://templates",
			"Escalation Templates",
			mcp.WithResourceDescription("Available escalation templates with their checklists"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTemplates(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"handoff://recent",
			"Recent Escalations",
			mcp.WithResourceDescription("Last 10 escalations (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpListEscalations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "")

		summaries, err := deps.Store.ListEscalations()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list escalations: %v", err)), nil
		}

		type summaryResult struct {
			ID             string `json:"id"`
			TicketID       string `json:"ticket_id"`
			ProblemSummary string `json:"problem_summary"`
			Status         string `json:"status"`
			CreatedAt      string `json:"created_at"`
		}
		results := make([]summaryResult, 0, len(summaries))
		for _, s := range summaries {
			if status != "" && s.Status != status {
				continue
			}
			results = append(results, summaryResult{
				ID:             s.ID,
				TicketID:       s.TicketID,
				ProblemSummary: s.ProblemSummary,
				Status:         s.Status,
				CreatedAt:      s.CreatedAt.Format(time.RFC3339),
			})
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetEscalation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		e, err := deps.Store.GetEscalation(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("escalation %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get escalation: %v", err)), nil
		}

		b, err := json.Marshal(toEscalationJSON(e))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal escalation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPostEscalation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		files := req.GetStringSlice("files", nil)

		e, err := deps.Store.GetEscalation(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("escalation %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get escalation: %v", err)), nil
		}

		if e.Status == storage.StatusPostFailed {
			err = deps.Poster.Retry(ctx, id, files)
		} else {
			err = deps.Poster.Post(ctx, id, files)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("post failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Posted escalation %s to %s with %d attachment(s)", id, e.TicketID, len(files))), nil
	}
}

func mcpFetchTicket(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Tickets == nil {
			return mcpError("ticket lookup not available: Jira is not configured"), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}

		ticket, err := deps.Tickets.FetchTicket(ctx, key)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to fetch ticket: %v", err)), nil
		}

		b, err := json.Marshal(toTicketJSON(ticket))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal ticket: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSummarizeEscalation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Summarizer == nil {
			return mcpError("summarization not available: no local model configured"), nil
		}
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		e, err := deps.Store.GetEscalation(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("escalation %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get escalation: %v", err)), nil
		}

		result, err := deps.Summarizer.Summarize(ctx, e.ProblemSummary, e.Checklist)
		if err != nil {
			return mcpError(fmt.Sprintf("summarization failed: %v", err)), nil
		}
		if err := deps.Store.UpdateEscalationSummary(id, result.Summary, result.Confidence); err != nil {
			return mcpError(fmt.Sprintf("summary generated but failed to save: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Confidence: %s (%s)\n\n%s", result.Confidence, result.ConfidenceReason, result.Summary)), nil
	}
}

func mcpResourceTemplates(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		templates, err := deps.Store.ListTemplates()
		if err != nil {
			return nil, fmt.Errorf("failed to list templates: %w", err)
		}

		out := make([]templateJSON, len(templates))
		for i, t := range templates {
			out[i] = toTemplateJSON(t)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal templates: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries, err := deps.Store.ListEscalations()
		if err != nil {
			return nil, fmt.Errorf("failed to list escalations: %w", err)
		}
		if len(summaries) > 10 {
			summaries = summaries[:10]
		}

		type summaryJSON struct {
			ID        string `json:"id"`
			TicketID  string `json:"ticket_id"`
			Status    string `json:"status"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]summaryJSON, len(summaries))
		for i, s := range summaries {
			out[i] = summaryJSON{
				ID:        s.ID,
				TicketID:  s.TicketID,
				Status:    s.Status,
				CreatedAt: s.CreatedAt.Format(time.RFC3339),
			}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal escalations: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
