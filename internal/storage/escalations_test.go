package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testEscalation(id, ticket string) Escalation {
	now := time.Now().UTC().Truncate(time.Second)
	return Escalation{
		ID:             id,
		TicketID:       ticket,
		TemplateID:     "tmpl-network-vpn",
		ProblemSummary: "VPN drops every 30 minutes",
		Checklist: []ChecklistItem{
			{Text: "Restarted VPN client", Checked: true},
			{Text: "Checked MTU settings"},
		},
		CurrentStatus: "User can work over hotspot",
		NextSteps:     "Capture client logs",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TestSaveAndGetEscalation saves a draft and reads it back field by field.
func TestSaveAndGetEscalation(t *testing.T) {
	s := openTestStore(t)

	want := testEscalation("esc-001", "SUP-1234")
	if err := s.SaveEscalation(want); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}

	got, err := s.GetEscalation("esc-001")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}

	if got.TicketID != want.TicketID {
		t.Errorf("TicketID = %q, want %q", got.TicketID, want.TicketID)
	}
	if got.ProblemSummary != want.ProblemSummary {
		t.Errorf("ProblemSummary = %q, want %q", got.ProblemSummary, want.ProblemSummary)
	}
	if got.Status != StatusDraft {
		t.Errorf("Status = %q, want %q", got.Status, StatusDraft)
	}
	if len(got.Checklist) != 2 {
		t.Fatalf("Checklist length = %d, want 2", len(got.Checklist))
	}
	if !got.Checklist[0].Checked || got.Checklist[1].Checked {
		t.Errorf("checklist checked flags wrong: %+v", got.Checklist)
	}
	if !got.PostedAt.IsZero() {
		t.Errorf("PostedAt = %v, want zero for a draft", got.PostedAt)
	}
}

// TestSaveEscalationWritesCreatedAudit verifies the creation audit entry is
// recorded in the same transaction as the insert.
func TestSaveEscalationWritesCreatedAudit(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveEscalation(testEscalation("esc-001", "SUP-1234")); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}

	entries, err := s.ListAuditEntries("esc-001")
	if err != nil {
		t.Fatalf("ListAuditEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Action != AuditCreated {
		t.Errorf("action = %q, want %q", entries[0].Action, AuditCreated)
	}
}

func TestGetEscalationNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetEscalation("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEscalation(missing) = %v, want ErrNotFound", err)
	}
}

// TestListEscalationsOrder verifies newest-first ordering.
func TestListEscalationsOrder(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := testEscalation(fmt.Sprintf("esc-%03d", i), fmt.Sprintf("SUP-%d", i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.SaveEscalation(e); err != nil {
			t.Fatalf("SaveEscalation %d: %v", i, err)
		}
	}

	summaries, err := s.ListEscalations()
	if err != nil {
		t.Fatalf("ListEscalations: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries, want 3", len(summaries))
	}
	for i, wantID := range []string{"esc-002", "esc-001", "esc-000"} {
		if summaries[i].ID != wantID {
			t.Errorf("summaries[%d].ID = %q, want %q", i, summaries[i].ID, wantID)
		}
	}
}

// TestDeleteEscalation verifies the record and its audit entries go together.
func TestDeleteEscalation(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveEscalation(testEscalation("esc-001", "SUP-1234")); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}
	if err := s.AppendAudit("esc-001", AuditPostFailed, map[string]any{"error": "boom"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	if err := s.DeleteEscalation("esc-001"); err != nil {
		t.Fatalf("DeleteEscalation: %v", err)
	}

	if _, err := s.GetEscalation("esc-001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEscalation after delete = %v, want ErrNotFound", err)
	}
	entries, err := s.ListAuditEntries("esc-001")
	if err != nil {
		t.Fatalf("ListAuditEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("audit entries after delete = %d, want 0", len(entries))
	}

	if err := s.DeleteEscalation("esc-001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteEscalation = %v, want ErrNotFound", err)
	}
}

// TestUpdateEscalationStatus verifies posted_at is stamped only while the
// record is posted.
func TestUpdateEscalationStatus(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveEscalation(testEscalation("esc-001", "SUP-1234")); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}

	if err := s.UpdateEscalationStatus("esc-001", StatusPosted, "## rendered", ""); err != nil {
		t.Fatalf("UpdateEscalationStatus(posted): %v", err)
	}
	got, err := s.GetEscalation("esc-001")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if got.Status != StatusPosted {
		t.Errorf("Status = %q, want %q", got.Status, StatusPosted)
	}
	if got.MarkdownOutput != "## rendered" {
		t.Errorf("MarkdownOutput = %q, want cached markdown", got.MarkdownOutput)
	}
	if got.PostedAt.IsZero() {
		t.Error("PostedAt not stamped on posted status")
	}

	if err := s.UpdateEscalationStatus("esc-001", StatusPostFailed, "## rendered", "jira server error: HTTP 503"); err != nil {
		t.Fatalf("UpdateEscalationStatus(post_failed): %v", err)
	}
	got, err = s.GetEscalation("esc-001")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if got.Status != StatusPostFailed {
		t.Errorf("Status = %q, want %q", got.Status, StatusPostFailed)
	}
	if got.ErrorDetails == "" {
		t.Error("ErrorDetails not recorded on failure")
	}
	if !got.PostedAt.IsZero() {
		t.Errorf("PostedAt = %v, want cleared when not posted", got.PostedAt)
	}

	if err := s.UpdateEscalationStatus("missing", StatusPosted, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEscalationStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpdateEscalationSummary(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveEscalation(testEscalation("esc-001", "SUP-1234")); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}

	if err := s.UpdateEscalationSummary("esc-001", "summary text", "High"); err != nil {
		t.Fatalf("UpdateEscalationSummary: %v", err)
	}
	got, err := s.GetEscalation("esc-001")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if got.LLMSummary != "summary text" || got.LLMConfidence != "High" {
		t.Errorf("summary = (%q, %q), want (summary text, High)", got.LLMSummary, got.LLMConfidence)
	}

	if err := s.UpdateEscalationSummary("missing", "x", "Low"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEscalationSummary(missing) = %v, want ErrNotFound", err)
	}
}

// TestAuditEntriesOrdered verifies append order is preserved.
func TestAuditEntriesOrdered(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveEscalation(testEscalation("esc-001", "SUP-1234")); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}
	actions := []string{AuditPostFailed, AuditRetryPosted}
	for _, a := range actions {
		if err := s.AppendAudit("esc-001", a, map[string]any{"ticket_id": "SUP-1234"}); err != nil {
			t.Fatalf("AppendAudit(%s): %v", a, err)
		}
	}

	entries, err := s.ListAuditEntries("esc-001")
	if err != nil {
		t.Fatalf("ListAuditEntries: %v", err)
	}
	want := []string{AuditCreated, AuditPostFailed, AuditRetryPosted}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, a := range want {
		if entries[i].Action != a {
			t.Errorf("entries[%d].Action = %q, want %q", i, entries[i].Action, a)
		}
	}
}
