package main

import (
	"strings"
	"testing"
	"time"

	"github.com/kalambet/handoff/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func saveTestEscalation(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.SaveEscalation(storage.Escalation{
		ID:             id,
		TicketID:       "SUP-1234",
		ProblemSummary: "VPN drops",
		Status:         storage.StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("saving escalation: %v", err)
	}
}

func TestNewCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"new"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestResolveEscalation_FullID(t *testing.T) {
	store := openTestStore(t)
	saveTestEscalation(t, store, "3f2a9c1e-0000-0000-0000-000000000001")

	e, err := resolveEscalation(store, "3f2a9c1e-0000-0000-0000-000000000001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.TicketID != "SUP-1234" {
		t.Errorf("ticket = %q, want SUP-1234", e.TicketID)
	}
}

func TestResolveEscalation_Prefix(t *testing.T) {
	store := openTestStore(t)
	saveTestEscalation(t, store, "3f2a9c1e-0000-0000-0000-000000000001")
	saveTestEscalation(t, store, "9b7d4e20-0000-0000-0000-000000000002")

	e, err := resolveEscalation(store, "3f2a9c1e")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID != "3f2a9c1e-0000-0000-0000-000000000001" {
		t.Errorf("resolved = %q", e.ID)
	}
}

func TestResolveEscalation_AmbiguousPrefix(t *testing.T) {
	store := openTestStore(t)
	saveTestEscalation(t, store, "3f2a9c1e-0000-0000-0000-000000000001")
	saveTestEscalation(t, store, "3f2a9c1e-ffff-0000-0000-000000000002")

	_, err := resolveEscalation(store, "3f2a9c1e")
	if err == nil {
		t.Fatal("expected error for ambiguous prefix")
	}
	if !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("error = %q, want it to mention 'ambiguous'", err.Error())
	}
}

func TestResolveEscalation_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := resolveEscalation(store, "deadbeef")
	if err == nil {
		t.Fatal("expected error for unknown ID")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to mention 'not found'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestStatusColor(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{storage.StatusPosted, colorGreen},
		{storage.StatusPostFailed, colorRed},
		{storage.StatusDraft, colorYellow},
	}
	for _, tt := range tests {
		if got := statusColor(tt.status); got != tt.want {
			t.Errorf("statusColor(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
