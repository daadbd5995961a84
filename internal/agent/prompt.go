package agent

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"

	"github.com/michaelbrown/dolchat/internal/llm"
)

// DefaultPromptTemplate is the system prompt used when no override is
// configured. Overrides are rendered with the same data.
const DefaultPromptTemplate = `You are a data assistant for the Department of Labor's Open Data Portal. Your sole purpose is to help users discover, query, and interpret datasets available through the DOL API.

You have {{ len .Tools }} tool{{ if ne (len .Tools) 1 }}s{{ end }}:
{{- range .Tools }}
- {{ .Name }}: {{ .Description | splitList ". " | first | trimSuffix "." | lower }}
{{- end }}

Guidelines:
{{- if has "list_datasets" .ToolNames }}
- Use list_datasets if the dataset the user needs is not in the catalog below
{{- end }}
{{- if has "get_metadata" .ToolNames }}
- Use get_metadata before querying to understand available fields
{{- end }}
- Pick agency and endpoint values from the catalog below
- Present data clearly and summarize key findings
- If asked about anything unrelated to DOL data, politely redirect the user
- Never answer general policy, legal, or news questions
{{- if .Catalog }}

{{ .Catalog | trim }}
{{- end }}
`

// PromptData is the input of a system prompt template.
type PromptData struct {
	Tools     []llm.ToolDef
	ToolNames []string
	Catalog   string
}

// RenderSystemPrompt executes tmpl (DefaultPromptTemplate when empty) with the
// exposed tools and the rendered dataset catalog.
func RenderSystemPrompt(tmpl, catalog string, defs []llm.ToolDef) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultPromptTemplate
	}

	t, err := template.New("system").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing system prompt: %w", err)
	}

	data := PromptData{Tools: defs, Catalog: catalog}
	for _, d := range defs {
		data.ToolNames = append(data.ToolNames, d.Name)
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return b.String(), nil
}
