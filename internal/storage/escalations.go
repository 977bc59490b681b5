package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveEscalation inserts a new escalation record in draft status and writes
// the "created" audit entry. The ID and timestamps must be set by the caller
// before saving; Status is forced to draft.
func (s *Store) SaveEscalation(e Escalation) error {
	checklist, err := json.Marshal(e.Checklist)
	if err != nil {
		return fmt.Errorf("serializing checklist: %w", err)
	}

	now := time.Now().UTC()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO escalations
		(id, ticket_id, template_id, problem_summary, checklist, current_status, next_steps,
		 llm_summary, llm_confidence, markdown_output, status, error_details, posted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, '', NULL, ?, ?)`,
		e.ID, e.TicketID, e.TemplateID, e.ProblemSummary, string(checklist),
		e.CurrentStatus, e.NextSteps, e.LLMSummary, e.LLMConfidence,
		StatusDraft, createdAt.Format(time.RFC3339), createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]any{
		"ticket_id":   e.TicketID,
		"template_id": e.TemplateID,
	})
	if _, err := tx.Exec(`INSERT INTO audit_log (escalation_id, action, details, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, AuditCreated, string(details), now.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}

	return tx.Commit()
}

const escalationColumns = `id, ticket_id, template_id, problem_summary, checklist, current_status,
	next_steps, llm_summary, llm_confidence, markdown_output, status, error_details,
	posted_at, created_at, updated_at`

func scanEscalation(row *sql.Row) (Escalation, error) {
	var e Escalation
	var checklist, createdAt, updatedAt string
	var postedAt sql.NullString
	err := row.Scan(&e.ID, &e.TicketID, &e.TemplateID, &e.ProblemSummary, &checklist,
		&e.CurrentStatus, &e.NextSteps, &e.LLMSummary, &e.LLMConfidence,
		&e.MarkdownOutput, &e.Status, &e.ErrorDetails, &postedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Escalation{}, ErrNotFound
	}
	if err != nil {
		return Escalation{}, err
	}
	if err := json.Unmarshal([]byte(checklist), &e.Checklist); err != nil {
		return Escalation{}, fmt.Errorf("parsing checklist: %w", err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Escalation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Escalation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if postedAt.Valid && postedAt.String != "" {
		if e.PostedAt, err = time.Parse(time.RFC3339, postedAt.String); err != nil {
			return Escalation{}, fmt.Errorf("parsing posted_at: %w", err)
		}
	}
	return e, nil
}

// GetEscalation returns the escalation with the given ID, or ErrNotFound.
func (s *Store) GetEscalation(id string) (Escalation, error) {
	row := s.db.QueryRow(`SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
	return scanEscalation(row)
}

// ListEscalations returns escalation summaries ordered by most recent first.
func (s *Store) ListEscalations() ([]EscalationSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, ticket_id, problem_summary, status, created_at
		FROM escalations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EscalationSummary
	for rows.Next() {
		var sum EscalationSummary
		var createdAt string
		if err := rows.Scan(&sum.ID, &sum.TicketID, &sum.ProblemSummary, &sum.Status, &createdAt); err != nil {
			return nil, err
		}
		if sum.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, sum)
	}
	return results, rows.Err()
}

// DeleteEscalation removes an escalation and its audit entries.
// Returns ErrNotFound if no such escalation exists.
func (s *Store) DeleteEscalation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Audit entries first (FK constraint).
	if _, err := tx.Exec(`DELETE FROM audit_log WHERE escalation_id = ?`, id); err != nil {
		return err
	}

	res, err := tx.Exec(`DELETE FROM escalations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// UpdateEscalationStatus records the outcome of a post attempt: the new
// status, the markdown that was sent (cached for retries), and any error
// detail. posted_at is stamped when status is posted and cleared otherwise,
// keeping the posted_at/status invariant in one place.
func (s *Store) UpdateEscalationStatus(id, status, markdown, errorDetails string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var postedAt any
	if status == StatusPosted {
		postedAt = now
	}

	res, err := s.db.Exec(`
		UPDATE escalations
		SET status = ?, markdown_output = ?, error_details = ?, posted_at = ?, updated_at = ?
		WHERE id = ?`,
		status, markdown, errorDetails, postedAt, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEscalationSummary stores a generated LLM summary and its confidence
// label on an existing escalation.
func (s *Store) UpdateEscalationSummary(id, summary, confidence string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE escalations SET llm_summary = ?, llm_confidence = ?, updated_at = ? WHERE id = ?`,
		summary, confidence, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
