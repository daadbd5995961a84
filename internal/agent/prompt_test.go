package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/dolchat/internal/catalog"
	"github.com/michaelbrown/dolchat/internal/llm"
)

func TestRenderSystemPromptDefault(t *testing.T) {
	defs := []llm.ToolDef{
		{Name: "query_data", Description: "Query records from a DOL dataset. Supports pagination."},
		{Name: "get_metadata", Description: "Get the metadata for a specific DOL dataset."},
	}
	cat := catalog.Render([]catalog.Dataset{{Agency: "OSHA", Endpoint: "inspection", Name: "Inspections"}})

	got, err := RenderSystemPrompt("", cat, defs)
	require.NoError(t, err)

	assert.Contains(t, got, "You have 2 tools:")
	assert.Contains(t, got, "- query_data: query records from a dol dataset\n")
	assert.Contains(t, got, "Use get_metadata before querying")
	assert.NotContains(t, got, "list_datasets")
	assert.Contains(t, got, "## Available DOL Datasets")
	assert.Contains(t, got, "OSHA/inspection|Inspections||")
}

func TestRenderSystemPromptSingleTool(t *testing.T) {
	got, err := RenderSystemPrompt("", "", []llm.ToolDef{{Name: "query_data", Description: "Query records."}})
	require.NoError(t, err)
	assert.Contains(t, got, "You have 1 tool:")
	assert.False(t, strings.HasSuffix(strings.TrimSpace(got), "|"))
}

func TestRenderSystemPromptOverride(t *testing.T) {
	got, err := RenderSystemPrompt(`Tools: {{ join ", " .ToolNames }}`, "", []llm.ToolDef{{Name: "a"}, {Name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "Tools: a, b", got)

	_, err = RenderSystemPrompt(`{{ .Nope`, "", nil)
	assert.Error(t, err)
}
