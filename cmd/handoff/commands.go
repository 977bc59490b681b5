package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/handoff/internal/config"
	"github.com/kalambet/handoff/internal/ollama"
	"github.com/kalambet/handoff/internal/render"
	"github.com/kalambet/handoff/internal/storage"
)

// --- new ---

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a draft escalation",
	Long: `Create a draft escalation for a support ticket.

Examples:
  handoff new --ticket SUP-1234 --problem "VPN drops every 30 minutes" \
    --template tmpl-network-vpn \
    --done "Restarted VPN client" --step "Checked MTU settings" \
    --status "User can work over hotspot" --next "Capture client logs"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ticketID, _ := cmd.Flags().GetString("ticket")
		problem, _ := cmd.Flags().GetString("problem")
		templateID, _ := cmd.Flags().GetString("template")
		steps, _ := cmd.Flags().GetStringArray("step")
		done, _ := cmd.Flags().GetStringArray("done")
		currentStatus, _ := cmd.Flags().GetString("status")
		nextSteps, _ := cmd.Flags().GetString("next")

		if ticketID == "" {
			return fmt.Errorf("--ticket is required")
		}
		if problem == "" {
			return fmt.Errorf("--problem is required")
		}

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var checklist []storage.ChecklistItem
		if templateID != "" {
			tmpl, err := store.GetTemplate(templateID)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("template %s not found, run `handoff templates` to list them", templateID)
			}
			if err != nil {
				return err
			}
			checklist = tmpl.ChecklistItems
		}
		for _, s := range done {
			checklist = append(checklist, storage.ChecklistItem{Text: s, Checked: true})
		}
		for _, s := range steps {
			checklist = append(checklist, storage.ChecklistItem{Text: s})
		}

		now := time.Now().UTC()
		e := storage.Escalation{
			ID:             uuid.New().String(),
			TicketID:       ticketID,
			TemplateID:     templateID,
			ProblemSummary: problem,
			Checklist:      checklist,
			CurrentStatus:  currentStatus,
			NextSteps:      nextSteps,
			Status:         storage.StatusDraft,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := store.SaveEscalation(e); err != nil {
			return fmt.Errorf("saving escalation: %w", err)
		}

		printSuccess("Created draft escalation %s for %s", e.ID, e.TicketID)
		return nil
	},
}

func init() {
	newCmd.Flags().String("ticket", "", "ticket key, e.g. SUP-1234")
	newCmd.Flags().String("problem", "", "one-line problem summary")
	newCmd.Flags().String("template", "", "template ID to seed the checklist from")
	newCmd.Flags().StringArray("step", nil, "troubleshooting step not yet attempted (repeatable)")
	newCmd.Flags().StringArray("done", nil, "troubleshooting step already completed (repeatable)")
	newCmd.Flags().String("status", "", "current state of the issue")
	newCmd.Flags().String("next", "", "suggested next steps for L2")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.ListEscalations()
		if err != nil {
			return err
		}

		shown := 0
		for _, s := range summaries {
			if statusFilter != "" && s.Status != statusFilter {
				continue
			}
			problem := s.ProblemSummary
			if len(problem) > 60 {
				problem = problem[:60] + "..."
			}
			fmt.Printf("%s  %-11s  %-10s  %s  %s\n",
				colorize(colorCyan, s.ID[:8]),
				colorize(statusColor(s.Status), s.Status),
				s.TicketID,
				s.CreatedAt.Local().Format("2006-01-02 15:04"),
				problem,
			)
			shown++
		}
		if shown == 0 {
			fmt.Println("No escalations found.")
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", "", "filter by status (draft, posted, post_failed)")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an escalation with its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := resolveEscalation(store, args[0])
		if err != nil {
			return err
		}

		printStatus("ID", "%s", e.ID)
		printStatus("Ticket", "%s", e.TicketID)
		printStatus("Status", "%s", colorize(statusColor(e.Status), e.Status))
		printStatus("Problem", "%s", e.ProblemSummary)
		if e.TemplateID != "" {
			printStatus("Template", "%s", e.TemplateID)
		}
		if e.CurrentStatus != "" {
			printStatus("Current state", "%s", e.CurrentStatus)
		}
		if e.NextSteps != "" {
			printStatus("Next steps", "%s", e.NextSteps)
		}
		if e.LLMConfidence != "" {
			printStatus("AI confidence", "%s", e.LLMConfidence)
		}
		if !e.PostedAt.IsZero() {
			printStatus("Posted at", "%s", e.PostedAt.Local().Format(time.RFC3339))
		}
		if e.ErrorDetails != "" {
			printStatus("Last error", "%s", colorize(colorRed, e.ErrorDetails))
		}

		if len(e.Checklist) > 0 {
			fmt.Fprintln(os.Stderr)
			for _, item := range e.Checklist {
				box := "[ ]"
				if item.Checked {
					box = "[x]"
				}
				fmt.Fprintf(os.Stderr, "  %s %s\n", box, item.Text)
			}
		}

		entries, err := store.ListAuditEntries(e.ID)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			fmt.Fprintln(os.Stderr)
			for _, a := range entries {
				fmt.Fprintf(os.Stderr, "  %s  %-12s  %s\n",
					a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					a.Action,
					a.Details,
				)
			}
		}
		return nil
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an escalation and its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := resolveEscalation(store, args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteEscalation(e.ID); err != nil {
			return err
		}
		printSuccess("Deleted escalation %s", e.ID)
		return nil
	},
}

// --- render ---

var renderCmd = &cobra.Command{
	Use:   "render <id>",
	Short: "Print the escalation markdown without posting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := resolveEscalation(store, args[0])
		if err != nil {
			return err
		}

		// A failed post caches the exact text it attempted; show that.
		if e.MarkdownOutput != "" {
			fmt.Println(e.MarkdownOutput)
			return nil
		}

		var tmpl *storage.Template
		if e.TemplateID != "" {
			if t, err := store.GetTemplate(e.TemplateID); err == nil {
				tmpl = &t
			}
		}
		markdown, err := render.Render(tmpl, render.FromEscalation(e))
		if err != nil {
			return err
		}
		fmt.Println(markdown)
		return nil
	},
}

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize <id>",
	Short: "Generate an L2 handoff summary with the local model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := resolveEscalation(store, args[0])
		if err != nil {
			return err
		}

		client := ollama.New(cfg.Ollama.BaseURL)
		if !client.IsRunning(cmd.Context()) {
			return fmt.Errorf("ollama is not running at %s", cfg.Ollama.BaseURL)
		}

		printStep("Summarizing with %s...", cfg.Ollama.Model)
		summarizer := ollama.NewSummarizer(client, cfg.Ollama.Model)
		result, err := summarizer.Summarize(cmd.Context(), e.ProblemSummary, e.Checklist)
		if err != nil {
			return err
		}
		if err := store.UpdateEscalationSummary(e.ID, result.Summary, result.Confidence); err != nil {
			return fmt.Errorf("saving summary: %w", err)
		}

		printStatus("Confidence", "%s (%s)", result.Confidence, result.ConfidenceReason)
		fmt.Println(result.Summary)
		return nil
	},
}

// --- templates ---

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List escalation templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		templates, err := store.ListTemplates()
		if err != nil {
			return err
		}
		for _, t := range templates {
			fmt.Printf("%s  %s (%s → %s)\n",
				colorize(colorCyan, t.ID),
				colorize(colorBold, t.Name),
				t.Category,
				t.L2Team,
			)
			for _, item := range t.ChecklistItems {
				fmt.Printf("    - %s\n", item.Text)
			}
		}
		return nil
	},
}

// --- ticket ---

var ticketCmd = &cobra.Command{
	Use:   "ticket <key>",
	Short: "Fetch a Jira ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := jiraClient(cfg)
		if err != nil {
			return err
		}

		ticket, err := client.FetchTicket(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printStatus("Key", "%s", ticket.Key)
		printStatus("Summary", "%s", ticket.Summary)
		printStatus("Status", "%s", ticket.Status)
		if ticket.Reporter != nil {
			printStatus("Reporter", "%s", ticket.Reporter.DisplayName)
		}
		if ticket.Assignee != nil {
			printStatus("Assignee", "%s", ticket.Assignee.DisplayName)
		}
		printStatus("Comments", "%d", len(ticket.Comments))
		if ticket.Description != "" {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, "  "+strings.ReplaceAll(ticket.Description, "\n", "\n  "))
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the Jira API token in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetJiraToken(config.NewKeychain(), args[0]); err != nil {
			return err
		}
		printSuccess("Jira API token stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}

// --- doctor ---

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check storage, Jira, and Ollama connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		var (
			storageErr  error
			jiraName    string
			jiraErr     error
			ollamaAlive bool
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			store, err := storage.Open(cfg.Storage.DataDir)
			if err != nil {
				storageErr = err
				return nil
			}
			defer store.Close()
			_, storageErr = store.AppliedMigrations()
			return nil
		})
		g.Go(func() error {
			client, err := jiraClient(cfg)
			if err != nil {
				jiraErr = err
				return nil
			}
			jiraName, jiraErr = client.TestConnection(gctx)
			return nil
		})
		g.Go(func() error {
			ollamaAlive = ollama.New(cfg.Ollama.BaseURL).IsRunning(gctx)
			return nil
		})
		// Probes report through their captured variables, never an error.
		_ = g.Wait()

		ok := true
		if storageErr != nil {
			printError("Storage: %v", storageErr)
			ok = false
		} else {
			printSuccess("Storage: %s", cfg.Storage.DataDir)
		}
		if jiraErr != nil {
			printError("Jira: %v", jiraErr)
			ok = false
		} else {
			printSuccess("Jira: connected as %s", jiraName)
		}
		if ollamaAlive {
			printSuccess("Ollama: running at %s", cfg.Ollama.BaseURL)
		} else {
			printWarning("Ollama: not running at %s (summaries unavailable)", cfg.Ollama.BaseURL)
		}

		if !ok {
			return fmt.Errorf("some checks failed")
		}
		return nil
	},
}

// resolveEscalation accepts a full ID or an unambiguous prefix.
func resolveEscalation(store *storage.Store, id string) (storage.Escalation, error) {
	e, err := store.GetEscalation(id)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Escalation{}, err
	}

	summaries, listErr := store.ListEscalations()
	if listErr != nil {
		return storage.Escalation{}, listErr
	}
	var match string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, id) {
			if match != "" {
				return storage.Escalation{}, fmt.Errorf("escalation ID prefix %q is ambiguous", id)
			}
			match = s.ID
		}
	}
	if match == "" {
		return storage.Escalation{}, fmt.Errorf("escalation %s not found", id)
	}
	return store.GetEscalation(match)
}
