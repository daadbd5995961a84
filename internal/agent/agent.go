package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/dolchat/internal/dol"
	"github.com/michaelbrown/dolchat/internal/llm"
	"github.com/michaelbrown/dolchat/internal/tools"
)

// DefaultMaxTurns bounds the LLM round trips of one request.
const DefaultMaxTurns = 10

// User-facing error event messages.
const (
	MsgInternal    = "An internal error occurred."
	MsgUnavailable = "The AI service is temporarily overloaded or unavailable. Please try again in a moment."
	MsgDOLOffline  = "Could not reach the DOL API. Please try again later."
)

// Status is how a Run ended.
type Status string

const (
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusOffTopic Status = "off_topic"
	StatusCanceled Status = "canceled"
)

// Result summarizes a finished Run.
type Result struct {
	Status Status
	// Messages is the conversation state: prior history, the user message and
	// everything the loop appended.
	Messages []llm.Message
	// Text is all text streamed to the caller.
	Text  string
	Turns int
	// Err is the cause of StatusError or StatusCanceled.
	Err error
}

// Agent runs the tool-calling loop for one request at a time. An Agent holds
// no per-request state and is safe for concurrent use.
type Agent struct {
	llm          llm.Client
	registry     *tools.Registry
	guard        *Guard
	systemPrompt string
	tools        []llm.ToolDef
	maxTurns     int
}

// New creates an Agent with the given LLM client, tool registry and turn limit.
func New(client llm.Client, registry *tools.Registry, maxTurns int) *Agent {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	a := &Agent{
		llm:      client,
		registry: registry,
		maxTurns: maxTurns,
	}
	if registry != nil {
		a.tools = registry.Definitions()
	}
	return a
}

// SetSystemPrompt sets the rendered system prompt.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.systemPrompt = prompt
}

// FilterTools restricts available tools to the given names. It returns the
// names that match no registered tool.
func (a *Agent) FilterTools(names []string) []string {
	if len(names) == 0 || a.registry == nil {
		return nil
	}
	a.tools = a.registry.Definitions(names...)

	found := make(map[string]bool, len(a.tools))
	for _, d := range a.tools {
		found[d.Name] = true
	}
	var unknown []string
	for _, n := range names {
		if !found[n] {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		log.Warn().Strs("tools", unknown).Msg("ignoring unknown tools")
	}
	return unknown
}

// SetGuard enables the topic guard.
func (a *Agent) SetGuard(g *Guard) {
	a.guard = g
}

// Tools returns the declarations sent with every LLM call.
func (a *Agent) Tools() []llm.ToolDef {
	return a.tools
}

// Run answers message given the prior history, streaming events to sink.
// Exactly one terminal event is sent unless the sink fails or ctx is
// canceled first.
func (a *Agent) Run(ctx context.Context, history []llm.Message, message string, sink Sink) *Result {
	em := newEmitter(sink)

	state := make([]llm.Message, 0, len(history)+2)
	state = append(state, history...)
	state = append(state, llm.UserMessage(message))

	res := &Result{}
	finish := func(status Status, err error) *Result {
		res.Status = status
		res.Err = err
		res.Messages = state
		res.Text = em.streamed()
		return res
	}

	if a.guard != nil && !a.guard.OnTopic(ctx, message) {
		if err := em.delta(OffTopicMessage); err != nil {
			return finish(StatusCanceled, err)
		}
		state = append(state, llm.AssistantMessage(OffTopicMessage))
		if err := em.done(); err != nil {
			return finish(StatusCanceled, err)
		}
		return finish(StatusOffTopic, nil)
	}

	for turn := 1; turn <= a.maxTurns; turn++ {
		res.Turns = turn

		messages := make([]llm.Message, 0, len(state)+1)
		if a.systemPrompt != "" {
			messages = append(messages, llm.SystemMessage(a.systemPrompt))
		}
		messages = append(messages, state...)

		log.Debug().
			Int("turn", turn).
			Int("messages", len(messages)).
			Int("est_tokens", estimateHistoryTokens(messages)).
			Msg("llm call")

		resp, err := a.llm.ChatCompletionStream(ctx, messages, a.tools, em.delta)
		if err != nil {
			return a.llmFailed(ctx, em, finish, err)
		}

		state = append(state, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			if err := em.done(); err != nil {
				return finish(StatusCanceled, err)
			}
			return finish(StatusDone, nil)
		}
		// No turn is left to read the results.
		if turn == a.maxTurns {
			break
		}

		results := make([]llm.ToolResult, 0, len(resp.Message.ToolCalls))
		for _, tc := range resp.Message.ToolCalls {
			if err := em.send(EventToolCall, ToolCallData{Name: tc.Name, Input: tc.Args}); err != nil {
				return finish(StatusCanceled, err)
			}

			out := a.callTool(ctx, tc)
			if err := ctx.Err(); err != nil {
				return finish(StatusCanceled, err)
			}

			if err := em.send(EventToolResult, ToolResultData{Name: tc.Name}); err != nil {
				return finish(StatusCanceled, err)
			}

			if out.Transient() {
				log.Warn().Str("tool", tc.Name).Err(out.Err).Msg("upstream unavailable, stopping")
				if err := em.fail(transientMessage(out.Err)); err != nil {
					return finish(StatusCanceled, err)
				}
				return finish(StatusError, out.Err)
			}

			results = append(results, llm.ToolResult{
				ToolCallID: tc.ID,
				Content:    out.JSON(),
				IsError:    out.Failed(),
			})
		}

		state = append(state, llm.ToolResultsMessage(results))
	}

	err := fmt.Errorf("no final answer after %d turns", a.maxTurns)
	log.Warn().Err(err).Msg("turn limit reached")
	if sendErr := em.fail(fmt.Sprintf("The assistant could not finish within %d steps. Please try a more specific question.", a.maxTurns)); sendErr != nil {
		return finish(StatusCanceled, sendErr)
	}
	return finish(StatusError, err)
}

func (a *Agent) callTool(ctx context.Context, tc llm.ToolCall) tools.Result {
	if a.registry == nil {
		return tools.Failf("Unknown tool: %s", tc.Name)
	}
	return a.registry.Call(ctx, tc.Name, tc.Args)
}

func (a *Agent) llmFailed(ctx context.Context, em *emitter, finish func(Status, error) *Result, err error) *Result {
	if em.failed() || ctx.Err() != nil {
		return finish(StatusCanceled, err)
	}

	msg := MsgInternal
	if errors.Is(err, llm.ErrUnavailable) {
		msg = MsgUnavailable
		log.Warn().Err(err).Msg("llm unavailable")
	} else {
		log.Error().Err(err).Msg("llm call failed")
	}

	if sendErr := em.fail(msg); sendErr != nil {
		return finish(StatusCanceled, sendErr)
	}
	return finish(StatusError, err)
}

// transientMessage picks the user-facing text for an upstream failure.
func transientMessage(err error) string {
	var dErr *dol.Error
	if errors.As(err, &dErr) && dErr.Kind != dol.KindConnectivity {
		return dErr.Message
	}
	return MsgDOLOffline
}

// FormatToolCall returns a human-readable string for a tool call.
func FormatToolCall(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}
