package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/handoff/internal/storage"
)

// SummaryResult is a generated handoff summary with its confidence label.
type SummaryResult struct {
	Summary          string
	Confidence       string // "High", "Medium", "Low"
	ConfidenceReason string
}

// Summarizer generates L2 handoff summaries from a problem description and
// troubleshooting checklist using a local model.
type Summarizer struct {
	client *Client
	model  string
}

// NewSummarizer creates a Summarizer using the given client and model name.
func NewSummarizer(client *Client, model string) *Summarizer {
	return &Summarizer{client: client, model: model}
}

// Summarize generates a structured summary of the troubleshooting done so
// far. The confidence label is a pure function of the checklist, not of the
// model output.
func (s *Summarizer) Summarize(ctx context.Context, problem string, checklist []storage.ChecklistItem) (SummaryResult, error) {
	prompt := BuildPrompt(problem, checklist)

	response, err := s.client.Chat(ctx, s.model, []Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return SummaryResult{}, fmt.Errorf("generating summary: %w", err)
	}

	confidence, reason := Confidence(checklist)
	return SummaryResult{
		Summary:          strings.TrimSpace(response),
		Confidence:       confidence,
		ConfidenceReason: reason,
	}, nil
}

// BuildPrompt assembles the summarization prompt from the problem and checklist.
func BuildPrompt(problem string, checklist []storage.ChecklistItem) string {
	var steps strings.Builder
	for _, item := range checklist {
		checkbox := "[ ]"
		if item.Checked {
			checkbox = "[x]"
		}
		fmt.Fprintf(&steps, "- %s %s\n", checkbox, item.Text)
	}

	return fmt.Sprintf(`You are summarizing troubleshooting steps for an L2 support engineer.

Given the following problem and checklist of troubleshooting steps, generate a structured summary.

Problem: %s

Troubleshooting checklist:
%s
Generate output in exactly this format:

✓ Completed steps:
- [step description]

✗ Steps not attempted:
- [step description]

? Recommendations for L2:
- [what L2 should investigate next]

Keep it concise. Only include steps from the checklist above. Do not invent steps.`, problem, steps.String())
}

// Confidence labels how much signal the checklist carries:
// High needs 5+ items with at least 60% completed, Medium is 3-4 items or a
// long but mostly-unfinished list, Low is anything thinner.
func Confidence(checklist []storage.ChecklistItem) (label, reason string) {
	total := len(checklist)
	if total == 0 {
		return "Low", "No troubleshooting steps provided"
	}

	checked := 0
	for _, item := range checklist {
		if item.Checked {
			checked++
		}
	}
	percentage := float64(checked) / float64(total) * 100

	switch {
	case total >= 5 && percentage >= 60:
		return "High", fmt.Sprintf("Based on %d checklist items, %d completed (%.0f%%)", total, checked, percentage)
	case total >= 3 && total <= 4:
		return "Medium", fmt.Sprintf("Based on %d checklist items, %d completed (%.0f%%)", total, checked, percentage)
	case total >= 5:
		return "Medium", fmt.Sprintf("Based on %d checklist items, only %d completed (%.0f%%)", total, checked, percentage)
	default:
		return "Low", fmt.Sprintf("Only %d checklist items provided", total)
	}
}
