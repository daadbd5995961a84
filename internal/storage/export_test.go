package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/dolchat/internal/llm"
)

func sampleTranscript() (*Transcript, []llm.Message) {
	tr := &Transcript{
		ID:        "t-1",
		Title:     "WHD cases",
		Status:    StatusError,
		Model:     "claude-test",
		Error:     "DOL API rate limit exceeded",
		CreatedAt: time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC),
	}
	msgs := []llm.Message{
		llm.SystemMessage("hidden"),
		llm.UserMessage("Show WHD cases"),
		{Role: llm.RoleAssistant, Content: "Querying.", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "query_data", Args: map[string]any{"agency": "WHD"}}}},
		llm.ToolResultsMessage([]llm.ToolResult{{ToolCallID: "c1", Content: `{"error":"rate limited"}`, IsError: true}}),
	}
	return tr, msgs
}

func TestExportMarkdown(t *testing.T) {
	tr, msgs := sampleTranscript()
	md := ExportMarkdown(tr, msgs)

	for _, want := range []string{
		"# WHD cases",
		"- **Transcript:** t-1",
		"- **Created:** 2026-05-04 10:30:00",
		"- **Error:** DOL API rate limit exceeded",
		"## You\n\nShow WHD cases",
		"## Assistant\n\nQuerying.",
		"**Tool Call:** `query_data`",
		`{"error":"rate limited"}`,
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(md, "hidden") {
		t.Error("system prompt should not be exported")
	}
}

func TestExportJSON(t *testing.T) {
	tr, msgs := sampleTranscript()
	data, err := ExportJSON(tr, msgs)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var out struct {
		Transcript Transcript    `json:"transcript"`
		Messages   []llm.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Transcript.ID != "t-1" || len(out.Messages) != 4 {
		t.Errorf("got transcript %q with %d messages", out.Transcript.ID, len(out.Messages))
	}
}

func TestCountToolCalls(t *testing.T) {
	_, msgs := sampleTranscript()
	if got := CountToolCalls(msgs); got != 1 {
		t.Errorf("CountToolCalls = %d, want 1", got)
	}
}
