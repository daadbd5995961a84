package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/dolchat/internal/agent"
	"github.com/michaelbrown/dolchat/internal/llm"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the DOL data assistant in the terminal",
	Long: `Start an interactive conversation using the same loop as the server.
History is kept in memory for the session only.

Examples:
  dolchat chat
  dolchat chat --model claude-haiku-4-5-20251001`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// terminalSink prints events as they stream.
func terminalSink(w io.Writer) agent.Sink {
	return agent.SinkFunc(func(e agent.Event) error {
		switch d := e.Data.(type) {
		case agent.TextData:
			fmt.Fprint(w, d.Delta)
		case agent.ToolCallData:
			fmt.Fprintf(w, "\n  \033[33m> %s\033[0m\n", agent.FormatToolCall(d.Name, d.Input))
		case agent.ToolResultData:
			fmt.Fprintf(w, "  \033[90m< %s returned\033[0m\n", d.Name)
		case agent.ErrorData:
			fmt.Fprintf(w, "\n\033[31merror: %s\033[0m", d.Message)
		}
		return nil
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key is not set (ANTHROPIC_API_KEY)")
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("dolchat - DOL Open Data assistant\n")
	fmt.Printf("Model: %s\n", a.model)
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "dolchat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C cancels the active request, not the whole app.
	var (
		mu        sync.Mutex
		reqCancel context.CancelFunc
	)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			mu.Lock()
			if reqCancel != nil {
				reqCancel()
			}
			mu.Unlock()
		}
	}()

	var history []llm.Message
	sink := terminalSink(os.Stdout)

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit := handleCommand(input, &history)
			if quit {
				return nil
			}
			continue
		}

		if n := len([]rune(input)); n > cfg.Server.MaxMessageChars {
			fmt.Printf("Message too long (%d characters, limit %d).\n\n", n, cfg.Server.MaxMessageChars)
			continue
		}

		reqCtx, cancel := context.WithCancel(cmd.Context())
		mu.Lock()
		reqCancel = cancel
		mu.Unlock()

		fmt.Printf("\n\033[32mdol>\033[0m ")
		res := a.agent.Run(reqCtx, agent.TrimHistory(history, cfg.Server.MaxHistory), input, sink)

		mu.Lock()
		reqCancel = nil
		mu.Unlock()
		cancel()

		switch res.Status {
		case agent.StatusDone, agent.StatusOffTopic:
			history = res.Messages
		case agent.StatusCanceled:
			fmt.Print("\n(interrupted)")
		}
		fmt.Printf("\n\n")
	}
}

// handleCommand runs a slash command and reports whether to exit.
func handleCommand(input string, history *[]llm.Message) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/reset":
		*history = nil
		fmt.Println("Conversation reset.")
		fmt.Println()
	case "/history":
		data, err := json.MarshalIndent(*history, "", "  ")
		if err != nil {
			fmt.Printf("error: %v\n\n", err)
			return false
		}
		fmt.Println(string(data))
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help     - Show this help")
		fmt.Println("  /reset    - Clear conversation history")
		fmt.Println("  /history  - Show raw conversation history (JSON)")
		fmt.Println("  /quit     - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}
