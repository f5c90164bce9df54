package core

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/valter-silva-au/ralph/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultPromptTemplate is used when no prompt_template_path is configured.
const DefaultPromptTemplate = `You are producing one piece of educational content.

## Work item

- ID: {{.Item.ID}}
- Category: {{.Item.Category}}
- Description: {{.Item.Description}}
{{- if .Metadata}}

Additional attributes:

` + "```yaml" + `
{{.Metadata}}` + "```" + `
{{- end}}

## Instructions

Write the content as markdown to exactly this file:

    {{.ArtifactPath}}

Create only that file. Do not edit {{.LedgerName}} or any other tracking file;
progress is recorded for you once the file exists.
{{- if .RecentLog}}

## Recently completed (for tone and continuity)
{{range .RecentLog}}
- {{.ItemID}}: {{.Summary}}
{{- end}}
{{- end}}

Progress: {{.Progress.Completed}}/{{.Progress.Total}} items done.
{{- if .Sentinel}}

If there is no work left to do, reply with {{.Sentinel}} and nothing else.
{{- end}}
`

// PromptData is the data available to prompt templates.
type PromptData struct {
	Item         models.WorkItem
	Metadata     string
	ArtifactPath string
	OutputDir    string
	LedgerName   string
	RecentLog    []models.LogRecord
	Progress     models.Progress
	Iteration    int
	Attempt      int
	Sentinel     string
}

// PromptRenderer turns a work item and its produce context into the text
// sent to the agent.
type PromptRenderer interface {
	Render(item models.WorkItem, pc models.ProduceContext) (string, error)
}

type promptRenderer struct {
	tmpl       *template.Template
	ledgerName string
	sentinel   string
}

// NewPromptRenderer parses tmplText, or DefaultPromptTemplate when it is
// empty.
func NewPromptRenderer(tmplText, ledgerName, sentinel string) (PromptRenderer, error) {
	if strings.TrimSpace(tmplText) == "" {
		tmplText = DefaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	return &promptRenderer{tmpl: tmpl, ledgerName: ledgerName, sentinel: sentinel}, nil
}

// LoadPromptRenderer reads the template at path, falling back to the
// default template when path is empty.
func LoadPromptRenderer(path, ledgerName, sentinel string) (PromptRenderer, error) {
	if path == "" {
		return NewPromptRenderer("", ledgerName, sentinel)
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured template path
	if err != nil {
		return nil, fmt.Errorf("reading prompt template: %w", err)
	}
	return NewPromptRenderer(string(data), ledgerName, sentinel)
}

func (p *promptRenderer) Render(item models.WorkItem, pc models.ProduceContext) (string, error) {
	data := PromptData{
		Item:         item,
		ArtifactPath: pc.ArtifactPath,
		OutputDir:    pc.OutputDir,
		LedgerName:   p.ledgerName,
		RecentLog:    pc.RecentLog,
		Progress:     pc.Progress,
		Iteration:    pc.Iteration,
		Attempt:      pc.Attempt,
		Sentinel:     p.sentinel,
	}
	if data.LedgerName == "" {
		data.LedgerName = "the progress ledger"
	}
	if len(item.Metadata) > 0 {
		meta, err := yaml.Marshal(item.Metadata)
		if err != nil {
			return "", fmt.Errorf("encoding metadata for %s: %w", item.ID, err)
		}
		data.Metadata = string(meta)
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt for %s: %w", item.ID, err)
	}
	return buf.String(), nil
}
