package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/dolchat/internal/llm"
)

// ExportMarkdown renders a transcript and its messages as a markdown document.
func ExportMarkdown(t *Transcript, messages []llm.Message) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# %s\n\n", t.Title))
	b.WriteString(fmt.Sprintf("- **Transcript:** %s\n", t.ID))
	b.WriteString(fmt.Sprintf("- **Model:** %s\n", t.Model))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", t.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", t.Status))
	if t.Error != "" {
		b.WriteString(fmt.Sprintf("- **Error:** %s\n", t.Error))
	}
	b.WriteString("\n---\n\n")

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleUser:
			if m.Content != "" {
				b.WriteString(fmt.Sprintf("## You\n\n%s\n\n", m.Content))
			}
			for _, tr := range m.ToolResults {
				b.WriteString(fmt.Sprintf("<details>\n<summary>Tool Result</summary>\n\n```\n%s\n```\n</details>\n\n", tr.Content))
			}
		case llm.RoleAssistant:
			if m.Content != "" {
				b.WriteString(fmt.Sprintf("## Assistant\n\n%s\n\n", m.Content))
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				b.WriteString(fmt.Sprintf("**Tool Call:** `%s`\n```json\n%s\n```\n\n", tc.Name, string(args)))
			}
		}
	}

	return b.String()
}

// ExportJSON renders a transcript and its messages as formatted JSON.
func ExportJSON(t *Transcript, messages []llm.Message) ([]byte, error) {
	export := struct {
		Transcript *Transcript   `json:"transcript"`
		Messages   []llm.Message `json:"messages"`
	}{
		Transcript: t,
		Messages:   messages,
	}
	return json.MarshalIndent(export, "", "  ")
}
