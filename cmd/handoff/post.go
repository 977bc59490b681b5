package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kalambet/handoff/internal/attach"
	"github.com/kalambet/handoff/internal/escalate"
)

var postCmd = &cobra.Command{
	Use:   "post <id>",
	Short: "Post an escalation to its Jira ticket",
	Long: `Post an escalation to its Jira ticket as a comment, optionally
attaching files (logs, screenshots, diagnostics).

Examples:
  handoff post 4f1c2d8a
  handoff post 4f1c2d8a --file vpn.log --file capture.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost(cmd, args[0], false)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed post with the originally rendered text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost(cmd, args[0], true)
	},
}

func init() {
	postCmd.Flags().StringArray("file", nil, "file to attach (repeatable)")
	retryCmd.Flags().StringArray("file", nil, "file to attach (repeatable)")
}

func runPost(cmd *cobra.Command, id string, isRetry bool) error {
	files, _ := cmd.Flags().GetStringArray("file")

	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := resolveEscalation(store, id)
	if err != nil {
		return err
	}

	if len(files) > 0 {
		infos, err := attach.Inspect(files)
		if err != nil {
			return err
		}
		for _, info := range infos {
			if info.TooLarge {
				printWarning("%s is %s, Jira will reject files over %s",
					info.Name, attach.FormatSize(info.Size), attach.FormatSize(attach.MaxUploadBytes))
				continue
			}
			if info.Pages > 0 {
				printStep("Attaching %s (%s, %d pages)", info.Name, attach.FormatSize(info.Size), info.Pages)
			} else {
				printStep("Attaching %s (%s)", info.Name, attach.FormatSize(info.Size))
			}
		}
	}

	client, err := jiraClient(cfg)
	if err != nil {
		return err
	}
	poster := escalate.NewPoster(store, client, nil, nil)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if isRetry {
		err = poster.Retry(ctx, e.ID, files)
	} else {
		err = poster.Post(ctx, e.ID, files)
	}
	if err != nil {
		return err
	}

	printSuccess("Posted escalation %s to %s", e.ID, e.TicketID)
	return nil
}
