// Package escalate implements the posting pipeline: it publishes an
// escalation to the ticket system as a comment plus attachments, aggregates
// partial failure, and records the resulting status transition durably.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/handoff/internal/render"
	"github.com/kalambet/handoff/internal/storage"
	"github.com/kalambet/handoff/internal/ticketing"
)

// Store is the subset of the record store the pipeline needs. The pipeline
// is the only writer of status, markdown_output, and posted_at.
type Store interface {
	GetEscalation(id string) (storage.Escalation, error)
	GetTemplate(id string) (storage.Template, error)
	UpdateEscalationStatus(id, status, markdown, errorDetails string) error
	AppendAudit(escalationID, action string, details map[string]any) error
}

// Renderer produces the markdown document for an escalation.
type Renderer func(tmpl *storage.Template, input render.Input) (string, error)

// Poster publishes escalations. One Post/Retry call is one logical
// operation; concurrent calls for the same escalation must be serialized by
// the caller.
type Poster struct {
	store  Store
	client ticketing.Client
	render Renderer
	logger *slog.Logger
}

// NewPoster creates a Poster. renderer may be nil to use render.Render;
// logger may be nil to use slog.Default().
func NewPoster(store Store, client ticketing.Client, renderer Renderer, logger *slog.Logger) *Poster {
	if renderer == nil {
		renderer = render.Render
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{store: store, client: client, render: renderer, logger: logger}
}

// Post publishes a draft escalation: comment first, then each attachment in
// input order. Every outcome is persisted (status + audit) before returning.
func (p *Poster) Post(ctx context.Context, id string, filePaths []string) error {
	return p.run(ctx, id, filePaths, storage.AuditPosted)
}

// Retry re-publishes an escalation whose previous attempt failed. It reuses
// the cached markdown from the failed attempt so the published comment
// matches what was originally recorded; only the audit action differs from
// Post.
func (p *Poster) Retry(ctx context.Context, id string, filePaths []string) error {
	e, err := p.store.GetEscalation(id)
	if err != nil {
		return fmt.Errorf("loading escalation %s: %w", id, err)
	}
	if e.Status != storage.StatusPostFailed {
		return fmt.Errorf("escalation %s is in state %q, retry requires %q", id, e.Status, storage.StatusPostFailed)
	}
	return p.run(ctx, id, filePaths, storage.AuditRetryPosted)
}

func (p *Poster) run(ctx context.Context, id string, filePaths []string, action string) error {
	e, err := p.store.GetEscalation(id)
	if err != nil {
		return fmt.Errorf("loading escalation %s: %w", id, err)
	}

	// Reuse cached markdown when a previous attempt recorded it: the retry
	// must publish exactly the original text, and the user may have edited
	// fields since.
	markdown := e.MarkdownOutput
	if markdown == "" {
		markdown, err = p.renderEscalation(e)
		if err != nil {
			return err
		}
	}

	// Comment strictly before any attachment; a comment failure skips the
	// uploads entirely.
	if err := p.client.PostComment(ctx, e.TicketID, markdown); err != nil {
		p.recordFailure(e, markdown, err.Error(), map[string]any{
			"ticket_id": e.TicketID,
			"error":     err.Error(),
		})
		return fmt.Errorf("posting comment to %s: %w", e.TicketID, err)
	}

	// Each attachment is attempted regardless of prior attachment outcomes;
	// partial success must be surfaced, not hidden.
	var failed []string
	for _, path := range filePaths {
		if err := p.client.AttachFile(ctx, e.TicketID, path); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", path, err))
		}
	}

	if len(failed) > 0 {
		detail := fmt.Sprintf("failed to attach %d file(s) to %s:\n%s",
			len(failed), e.TicketID, strings.Join(failed, "\n"))
		p.recordFailure(e, markdown, detail, map[string]any{
			"ticket_id":    e.TicketID,
			"error":        detail,
			"files_failed": len(failed),
		})
		return errors.New(detail)
	}

	if err := p.store.UpdateEscalationStatus(e.ID, storage.StatusPosted, markdown, ""); err != nil {
		return fmt.Errorf("recording posted status for %s: %w", e.ID, err)
	}
	if err := p.store.AppendAudit(e.ID, action, map[string]any{
		"ticket_id":       e.TicketID,
		"files_attached":  len(filePaths),
		"had_llm_summary": e.LLMSummary != "",
	}); err != nil {
		return fmt.Errorf("writing audit entry for %s: %w", e.ID, err)
	}

	p.logger.Info("escalation posted",
		"escalation_id", e.ID, "ticket_id", e.TicketID,
		"files_attached", len(filePaths), "action", action)
	return nil
}

func (p *Poster) renderEscalation(e storage.Escalation) (string, error) {
	var tmpl *storage.Template
	if e.TemplateID != "" {
		t, err := p.store.GetTemplate(e.TemplateID)
		if err != nil {
			// A missing template degrades the document, it does not block it.
			p.logger.Warn("template lookup failed, rendering without it",
				"escalation_id", e.ID, "template_id", e.TemplateID, "error", err)
		} else {
			tmpl = &t
		}
	}

	markdown, err := p.render(tmpl, render.FromEscalation(e))
	if err != nil {
		return "", fmt.Errorf("rendering escalation %s: %w", e.ID, err)
	}
	return markdown, nil
}

// recordFailure persists the failed attempt before the error propagates, so
// stored state is never stale relative to the last outcome. The attempted
// markdown is stored so a retry has it cached.
func (p *Poster) recordFailure(e storage.Escalation, markdown, detail string, audit map[string]any) {
	if err := p.store.UpdateEscalationStatus(e.ID, storage.StatusPostFailed, markdown, detail); err != nil {
		p.logger.Error("failed to record post_failed status",
			"escalation_id", e.ID, "error", err)
	}
	if err := p.store.AppendAudit(e.ID, storage.AuditPostFailed, audit); err != nil {
		p.logger.Error("failed to write audit entry",
			"escalation_id", e.ID, "error", err)
	}
}
