package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// contentBlock is the wire form of one typed piece of message content.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON writes plain text messages as {"role","content":"..."} and
// anything carrying tool traffic as a list of typed blocks.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.ToolCalls) == 0 && len(m.ToolResults) == 0 {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireMessage{Role: m.Role, Content: content})
	}

	var blocks []contentBlock
	if m.Content != "" {
		blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		input := tc.Args
		if input == nil {
			input = map[string]any{}
		}
		blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	for _, tr := range m.ToolResults {
		content, err := json.Marshal(tr.Content)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, contentBlock{Type: "tool_result", ToolUseID: tr.ToolCallID, Content: content, IsError: tr.IsError})
	}

	content, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

// UnmarshalJSON accepts content as a string or as a list of text, tool_use and
// tool_result blocks. Unknown block types are skipped.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{Role: w.Role}

	raw := bytes.TrimSpace(w.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		return json.Unmarshal(raw, &m.Content)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return fmt.Errorf("message content must be a string or a list of blocks: %w", err)
	}

	var text []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text = append(text, b.Text)
		case "tool_use":
			args := b.Input
			if args == nil {
				args = map[string]any{}
			}
			m.ToolCalls = append(m.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Args: args})
		case "tool_result":
			m.ToolResults = append(m.ToolResults, ToolResult{
				ToolCallID: b.ToolUseID,
				Content:    blockText(b.Content),
				IsError:    b.IsError,
			})
		}
	}
	m.Content = strings.Join(text, "\n")
	return nil
}

// blockText flattens tool_result content, which may be a string or a list of
// text blocks.
func blockText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var blocks []contentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
