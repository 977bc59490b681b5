// Package api exposes the escalation workflow over a local REST surface and
// an MCP server for agent integrations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/handoff/internal/ollama"
	"github.com/kalambet/handoff/internal/storage"
	"github.com/kalambet/handoff/internal/ticketing"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Poster abstracts the posting pipeline for the API layer.
type Poster interface {
	Post(ctx context.Context, id string, filePaths []string) error
	Retry(ctx context.Context, id string, filePaths []string) error
}

// Summarizer abstracts local LLM summarization.
type Summarizer interface {
	Summarize(ctx context.Context, problem string, checklist []storage.ChecklistItem) (ollama.SummaryResult, error)
}

type AppDeps struct {
	Store      *storage.Store
	Poster     Poster
	Tickets    ticketing.Client // optional; if nil, ticket lookup returns an error
	Summarizer Summarizer       // optional; if nil, summarize returns an error
	Token      string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/escalations", handleCreateEscalation(deps))
		r.Get("/escalations", handleListEscalations(deps))
		r.Get("/escalations/{id}", handleGetEscalation(deps))
		r.Delete("/escalations/{id}", handleDeleteEscalation(deps))
		r.Get("/escalations/{id}/audit", handleListAudit(deps))
		r.Post("/escalations/{id}/post", handlePostEscalation(deps))
		r.Post("/escalations/{id}/retry", handleRetryEscalation(deps))
		r.Post("/escalations/{id}/summarize", handleSummarize(deps))
		r.Get("/templates", handleListTemplates(deps))
		r.Get("/templates/{id}", handleGetTemplate(deps))
		r.Get("/tickets/{key}", handleGetTicket(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type CreateEscalationRequest struct {
	TicketID       string                  `json:"ticket_id"`
	TemplateID     string                  `json:"template_id"`
	ProblemSummary string                  `json:"problem_summary"`
	Checklist      []storage.ChecklistItem `json:"checklist"`
	CurrentStatus  string                  `json:"current_status"`
	NextSteps      string                  `json:"next_steps"`
}

type escalationJSON struct {
	ID             string                  `json:"id"`
	TicketID       string                  `json:"ticket_id"`
	TemplateID     string                  `json:"template_id,omitempty"`
	ProblemSummary string                  `json:"problem_summary"`
	Checklist      []storage.ChecklistItem `json:"checklist"`
	CurrentStatus  string                  `json:"current_status,omitempty"`
	NextSteps      string                  `json:"next_steps,omitempty"`
	LLMSummary     string                  `json:"llm_summary,omitempty"`
	LLMConfidence  string                  `json:"llm_confidence,omitempty"`
	MarkdownOutput string                  `json:"markdown_output,omitempty"`
	Status         string                  `json:"status"`
	ErrorDetails   string                  `json:"error_details,omitempty"`
	PostedAt       string                  `json:"posted_at,omitempty"`
	CreatedAt      string                  `json:"created_at"`
	UpdatedAt      string                  `json:"updated_at"`
}

func toEscalationJSON(e storage.Escalation) escalationJSON {
	out := escalationJSON{
		ID:             e.ID,
		TicketID:       e.TicketID,
		TemplateID:     e.TemplateID,
		ProblemSummary: e.ProblemSummary,
		Checklist:      e.Checklist,
		CurrentStatus:  e.CurrentStatus,
		NextSteps:      e.NextSteps,
		LLMSummary:     e.LLMSummary,
		LLMConfidence:  e.LLMConfidence,
		MarkdownOutput: e.MarkdownOutput,
		Status:         e.Status,
		ErrorDetails:   e.ErrorDetails,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.Format(time.RFC3339),
	}
	if out.Checklist == nil {
		out.Checklist = []storage.ChecklistItem{}
	}
	if !e.PostedAt.IsZero() {
		out.PostedAt = e.PostedAt.Format(time.RFC3339)
	}
	return out
}

func handleCreateEscalation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateEscalationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TicketID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ticket_id is required")
			return
		}
		if req.ProblemSummary == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "problem_summary is required")
			return
		}
		if req.TemplateID != "" {
			if _, err := deps.Store.GetTemplate(req.TemplateID); errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "template %s not found", req.TemplateID)
				return
			} else if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to look up template: %v", err)
				return
			}
		}

		now := time.Now().UTC()
		e := storage.Escalation{
			ID:             uuid.New().String(),
			TicketID:       req.TicketID,
			TemplateID:     req.TemplateID,
			ProblemSummary: req.ProblemSummary,
			Checklist:      req.Checklist,
			CurrentStatus:  req.CurrentStatus,
			NextSteps:      req.NextSteps,
			Status:         storage.StatusDraft,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := deps.Store.SaveEscalation(e); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save escalation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toEscalationJSON(e))
	}
}

func handleListEscalations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := deps.Store.ListEscalations()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list escalations: %v", err)
			return
		}

		type summaryJSON struct {
			ID             string `json:"id"`
			TicketID       string `json:"ticket_id"`
			ProblemSummary string `json:"problem_summary"`
			Status         string `json:"status"`
			CreatedAt      string `json:"created_at"`
		}
		out := make([]summaryJSON, len(summaries))
		for i, s := range summaries {
			out[i] = summaryJSON{
				ID:             s.ID,
				TicketID:       s.TicketID,
				ProblemSummary: s.ProblemSummary,
				Status:         s.Status,
				CreatedAt:      s.CreatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetEscalation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := loadEscalation(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toEscalationJSON(e))
	}
}

func handleDeleteEscalation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.DeleteEscalation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "escalation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete escalation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleListAudit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := loadEscalation(w, deps, id); !ok {
			return
		}
		entries, err := deps.Store.ListAuditEntries(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list audit entries: %v", err)
			return
		}

		type auditJSON struct {
			ID        int64           `json:"id"`
			Action    string          `json:"action"`
			Details   json.RawMessage `json:"details"`
			CreatedAt string          `json:"created_at"`
		}
		out := make([]auditJSON, len(entries))
		for i, a := range entries {
			details := json.RawMessage(a.Details)
			if !json.Valid(details) {
				details = json.RawMessage("{}")
			}
			out[i] = auditJSON{
				ID:        a.ID,
				Action:    a.Action,
				Details:   details,
				CreatedAt: a.CreatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

type postRequest struct {
	Files []string `json:"files"`
}

func handlePostEscalation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		req, ok := decodePostRequest(w, r)
		if !ok {
			return
		}
		if _, ok := loadEscalation(w, deps, id); !ok {
			return
		}

		if err := deps.Poster.Post(r.Context(), id, req.Files); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "post failed: %v", err)
			return
		}
		respondWithEscalation(w, deps, id)
	}
}

func handleRetryEscalation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		req, ok := decodePostRequest(w, r)
		if !ok {
			return
		}
		e, ok := loadEscalation(w, deps, id)
		if !ok {
			return
		}
		if e.Status != storage.StatusPostFailed {
			httpError(w, http.StatusConflict, "conflict", "escalation is in state %q, retry requires %q", e.Status, storage.StatusPostFailed)
			return
		}

		if err := deps.Poster.Retry(r.Context(), id, req.Files); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "retry failed: %v", err)
			return
		}
		respondWithEscalation(w, deps, id)
	}
}

func handleSummarize(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Summarizer == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "summarization not available: no local model configured")
			return
		}
		id := chi.URLParam(r, "id")
		e, ok := loadEscalation(w, deps, id)
		if !ok {
			return
		}

		result, err := deps.Summarizer.Summarize(r.Context(), e.ProblemSummary, e.Checklist)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "summarization failed: %v", err)
			return
		}
		if err := deps.Store.UpdateEscalationSummary(id, result.Summary, result.Confidence); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save summary: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"summary":           result.Summary,
			"confidence":        result.Confidence,
			"confidence_reason": result.ConfidenceReason,
		})
	}
}

type templateJSON struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description"`
	Category       string                  `json:"category"`
	ChecklistItems []storage.ChecklistItem `json:"checklist_items"`
	L2Team         string                  `json:"l2_team"`
}

func toTemplateJSON(t storage.Template) templateJSON {
	out := templateJSON{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		Category:       t.Category,
		ChecklistItems: t.ChecklistItems,
		L2Team:         t.L2Team,
	}
	if out.ChecklistItems == nil {
		out.ChecklistItems = []storage.ChecklistItem{}
	}
	return out
}

func handleListTemplates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := deps.Store.ListTemplates()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list templates: %v", err)
			return
		}
		out := make([]templateJSON, len(templates))
		for i, t := range templates {
			out[i] = toTemplateJSON(t)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetTemplate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTemplate(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "template not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get template: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toTemplateJSON(t))
	}
}

func handleGetTicket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Tickets == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "ticket lookup not available: Jira is not configured")
			return
		}
		key := chi.URLParam(r, "key")

		ticket, err := deps.Tickets.FetchTicket(r.Context(), key)
		if err != nil {
			var apiErr *ticketing.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				httpError(w, http.StatusNotFound, "not_found", "%v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "failed to fetch ticket: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toTicketJSON(ticket))
	}
}

type ticketJSON struct {
	Key         string       `json:"key"`
	Summary     string       `json:"summary"`
	Description string       `json:"description,omitempty"`
	Status      string       `json:"status"`
	Reporter    string       `json:"reporter,omitempty"`
	Assignee    string       `json:"assignee,omitempty"`
	Comments    []ticketNote `json:"comments"`
}

type ticketNote struct {
	Author  string `json:"author"`
	Body    string `json:"body"`
	Created string `json:"created,omitempty"`
}

func toTicketJSON(t ticketing.Ticket) ticketJSON {
	out := ticketJSON{
		Key:         t.Key,
		Summary:     t.Summary,
		Description: t.Description,
		Status:      t.Status,
		Comments:    make([]ticketNote, len(t.Comments)),
	}
	if t.Reporter != nil {
		out.Reporter = t.Reporter.DisplayName
	}
	if t.Assignee != nil {
		out.Assignee = t.Assignee.DisplayName
	}
	for i, c := range t.Comments {
		out.Comments[i] = ticketNote{Author: c.Author, Body: c.Body, Created: c.Created}
	}
	return out
}

func decodePostRequest(w http.ResponseWriter, r *http.Request) (postRequest, bool) {
	var req postRequest
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return postRequest{}, false
		}
	}
	return req, true
}

func loadEscalation(w http.ResponseWriter, deps AppDeps, id string) (storage.Escalation, bool) {
	e, err := deps.Store.GetEscalation(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "escalation not found")
		return storage.Escalation{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get escalation: %v", err)
		return storage.Escalation{}, false
	}
	return e, true
}

func respondWithEscalation(w http.ResponseWriter, deps AppDeps, id string) {
	e, ok := loadEscalation(w, deps, id)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toEscalationJSON(e))
}
