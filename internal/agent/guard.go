package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/dolchat/internal/llm"
)

// OffTopicMessage is streamed instead of an answer when the guard rejects a
// message.
const OffTopicMessage = "I can only help with the DOL Open Data Portal: discovering datasets, querying data, and understanding field metadata. " +
	"Try asking something like: 'What OSHA datasets are available?' or 'Show me recent workplace fatality records.'"

const classifierPrompt = "You are a strict topic classifier. The user is interacting with a DOL Open Data Portal assistant. " +
	"Determine if the user's message is asking about: discovering DOL datasets, querying or filtering DOL data, " +
	"understanding dataset fields or metadata, or interpreting DOL data results. Answer only YES or NO."

// Guard screens user messages with a one-shot YES/NO classification. It is a
// best-effort filter and lets messages through when the classifier fails.
type Guard struct {
	llm llm.Client
}

// NewGuard creates a Guard. The client should be a small model configured
// with a tiny max_tokens budget.
func NewGuard(client llm.Client) *Guard {
	return &Guard{llm: client}
}

// OnTopic reports whether message is about DOL data.
func (g *Guard) OnTopic(ctx context.Context, message string) bool {
	resp, err := g.llm.ChatCompletion(ctx, []llm.Message{
		llm.SystemMessage(classifierPrompt),
		llm.UserMessage(message),
	}, nil)
	if err != nil {
		log.Warn().Err(err).Msg("topic classifier failed, allowing message")
		return true
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Message.Content))
	onTopic := strings.HasPrefix(answer, "YES")
	log.Debug().Str("answer", answer).Bool("on_topic", onTopic).Msg("topic classified")
	return onTopic
}
