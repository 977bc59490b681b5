package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Escalation statuses. An escalation starts as a draft; a post attempt moves
// it to posted or post_failed. There is no way back to draft.
const (
	StatusDraft      = "draft"
	StatusPosted     = "posted"
	StatusPostFailed = "post_failed"
)

// Audit actions.
const (
	AuditCreated     = "created"
	AuditPosted      = "posted"
	AuditPostFailed  = "post_failed"
	AuditRetryPosted = "retry_posted"
)

// ChecklistItem is one troubleshooting step with its completion flag.
type ChecklistItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// Escalation is one troubleshooting case prepared for handoff to L2.
type Escalation struct {
	ID             string
	TicketID       string
	TemplateID     string // empty when no template was used
	ProblemSummary string
	Checklist      []ChecklistItem
	CurrentStatus  string
	NextSteps      string
	LLMSummary     string
	LLMConfidence  string
	MarkdownOutput string // text that was (or will be) published; cached across retries
	Status         string
	ErrorDetails   string
	PostedAt       time.Time // zero unless Status == posted
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EscalationSummary is the list-view projection of an escalation.
type EscalationSummary struct {
	ID             string
	TicketID       string
	ProblemSummary string
	Status         string
	CreatedAt      time.Time
}

// Template is a reusable handoff checklist for a known problem category.
type Template struct {
	ID             string
	Name           string
	Description    string
	Category       string
	ChecklistItems []ChecklistItem
	L2Team         string
}

// AuditEntry records one lifecycle event of an escalation. Entries are
// append-only and removed only when their escalation is deleted.
type AuditEntry struct {
	ID           int64
	EscalationID string
	Action       string
	Details      string // JSON payload
	CreatedAt    time.Time
}
