package agent

import (
	"encoding/json"

	"github.com/michaelbrown/dolchat/internal/llm"
)

// DefaultMaxHistory is how many prior messages a request may carry.
const DefaultMaxHistory = 20

// TrimHistory keeps the newest max messages. A result block left without its
// invocation at the front is dropped later, when the request is converted
// for the provider.
func TrimHistory(history []llm.Message, max int) []llm.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// estimateTokens returns an approximate token count for a message.
// Uses chars/4 heuristic, good enough for logging request size.
func estimateTokens(m llm.Message) int {
	tokens := len(m.Content) / 4
	for _, tc := range m.ToolCalls {
		tokens += len(tc.Name) / 4
		if argsJSON, err := json.Marshal(tc.Args); err == nil {
			tokens += len(argsJSON) / 4
		}
	}
	for _, tr := range m.ToolResults {
		tokens += len(tr.Content) / 4
	}
	// Minimum 1 token per message for role overhead
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// estimateHistoryTokens returns approximate total tokens for a message slice.
func estimateHistoryTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m)
	}
	return total
}
