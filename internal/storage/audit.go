package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// AppendAudit writes one audit entry for an escalation. details is marshalled
// to JSON; pass nil for an empty payload.
func (s *Store) AppendAudit(escalationID, action string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("serializing audit details: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO audit_log (escalation_id, action, details, created_at)
		VALUES (?, ?, ?, ?)`,
		escalationID, action, string(payload), time.Now().UTC().Format(time.RFC3339))
	return err
}

// ListAuditEntries returns all audit entries for an escalation, oldest first.
func (s *Store) ListAuditEntries(escalationID string) ([]AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, escalation_id, action, details, created_at
		FROM audit_log WHERE escalation_id = ? ORDER BY id ASC`, escalationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AuditEntry
	for rows.Next() {
		var a AuditEntry
		var createdAt string
		if err := rows.Scan(&a.ID, &a.EscalationID, &a.Action, &a.Details, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
