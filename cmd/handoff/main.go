package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/handoff/internal/config"
	"github.com/kalambet/handoff/internal/storage"
	"github.com/kalambet/handoff/internal/ticketing"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "handoff",
	Short:         "Prepare L1 support escalations and post them to Jira",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(ticketCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// openStore loads config and opens the escalation store. The caller owns
// closing the store.
func openStore() (*storage.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("opening storage: %w", err)
	}
	return store, cfg, nil
}

// jiraClient builds a ticket client from config, failing with an actionable
// message when credentials are incomplete.
func jiraClient(cfg config.Config) (*ticketing.JiraClient, error) {
	if err := cfg.Jira.Validate(); err != nil {
		return nil, err
	}
	return ticketing.NewJiraClient(ticketing.JiraConfig{
		BaseURL:  cfg.Jira.BaseURL,
		Email:    cfg.Jira.Email,
		APIToken: cfg.Jira.APIToken,
	}), nil
}
