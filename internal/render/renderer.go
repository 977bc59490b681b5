// Package render turns an escalation into the markdown document published to
// the ticket system. Rendering is a pure function of its input: the posting
// pipeline caches the output so a retry republishes exactly the text of the
// original attempt.
package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/kalambet/handoff/internal/storage"
)

// Input is the escalation content the renderer consumes.
type Input struct {
	TicketID       string
	ProblemSummary string
	Checklist      []storage.ChecklistItem
	CurrentStatus  string
	NextSteps      string
	LLMSummary     string
	LLMConfidence  string
}

// FromEscalation projects a stored escalation into renderer input.
func FromEscalation(e storage.Escalation) Input {
	return Input{
		TicketID:       e.TicketID,
		ProblemSummary: e.ProblemSummary,
		Checklist:      e.Checklist,
		CurrentStatus:  e.CurrentStatus,
		NextSteps:      e.NextSteps,
		LLMSummary:     e.LLMSummary,
		LLMConfidence:  e.LLMConfidence,
	}
}

const docTemplate = `## L1 → L2 Escalation: {{.TicketID}}
{{- if .TemplateName}}

Template: {{.TemplateName}}{{if .L2Team}} · Routed to: {{.L2Team}}{{end}}
{{- end}}

**Problem**

{{.ProblemSummary}}

**Troubleshooting performed**

{{range .Checklist}}- {{checkbox .Checked}} {{.Text}}
{{end}}
{{- if .CurrentStatus}}
**Current status**

{{.CurrentStatus}}
{{end}}
{{- if .NextSteps}}
**Suggested next steps**

{{.NextSteps}}
{{end}}
{{- if .LLMSummary}}
**AI summary** (confidence: {{.LLMConfidence}})

{{.LLMSummary}}
{{end}}`

var doc = template.Must(template.New("escalation").Funcs(template.FuncMap{
	"checkbox": func(checked bool) string {
		if checked {
			return "[x]"
		}
		return "[ ]"
	},
}).Parse(docTemplate))

type docData struct {
	Input
	TemplateName string
	L2Team       string
}

// Render produces the markdown handoff document. tmpl is optional; when
// present its name and L2 team appear in the header.
func Render(tmpl *storage.Template, input Input) (string, error) {
	if strings.TrimSpace(input.TicketID) == "" {
		return "", fmt.Errorf("rendering escalation: ticket id is required")
	}
	if strings.TrimSpace(input.ProblemSummary) == "" {
		return "", fmt.Errorf("rendering escalation: problem summary is required")
	}

	data := docData{Input: input}
	if tmpl != nil {
		data.TemplateName = tmpl.Name
		data.L2Team = tmpl.L2Team
	}

	var sb strings.Builder
	if err := doc.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering escalation: %w", err)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}
