package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// ListTemplates returns all templates ordered by category then name.
func (s *Store) ListTemplates() ([]Template, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, category, checklist_items, l2_team
		FROM templates ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Template
	for rows.Next() {
		var t Template
		var items string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &items, &t.L2Team); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(items), &t.ChecklistItems); err != nil {
			return nil, fmt.Errorf("parsing checklist items for template %s: %w", t.ID, err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// GetTemplate returns the template with the given ID, or ErrNotFound.
func (s *Store) GetTemplate(id string) (Template, error) {
	var t Template
	var items string
	err := s.db.QueryRow(`
		SELECT id, name, description, category, checklist_items, l2_team
		FROM templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.Category, &items, &t.L2Team)
	if err == sql.ErrNoRows {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, err
	}
	if err := json.Unmarshal([]byte(items), &t.ChecklistItems); err != nil {
		return Template{}, fmt.Errorf("parsing checklist items: %w", err)
	}
	return t, nil
}
