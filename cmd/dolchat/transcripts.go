package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/dolchat/internal/llm"
	"github.com/michaelbrown/dolchat/internal/storage"
	"github.com/michaelbrown/dolchat/internal/storage/sqlite"
)

var (
	statusFilter string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var transcriptsCmd = &cobra.Command{
	Use:     "transcripts",
	Aliases: []string{"transcript", "t"},
	Short:   "Inspect recorded conversations",
	Long: `Inspect conversations recorded by "dolchat serve" when storage.enabled is set.
Transcripts are an audit trail only; they are never fed back into a chat.`,
}

var transcriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded transcripts",
	RunE:  runTranscriptsList,
}

var transcriptsShowCmd = &cobra.Command{
	Use:   "show <transcript-id>",
	Short: "Show transcript details and messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscriptsShow,
}

var transcriptsDeleteCmd = &cobra.Command{
	Use:   "delete <transcript-id>",
	Short: "Delete a transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscriptsDelete,
}

var transcriptsExportCmd = &cobra.Command{
	Use:   "export <transcript-id>",
	Short: "Export a transcript as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscriptsExport,
}

func init() {
	rootCmd.AddCommand(transcriptsCmd)
	transcriptsCmd.AddCommand(transcriptsListCmd, transcriptsShowCmd, transcriptsDeleteCmd, transcriptsExportCmd)

	transcriptsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (done, error, off_topic, canceled)")
	transcriptsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max transcripts to show")

	transcriptsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	transcriptsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	transcriptsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runTranscriptsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	switch storage.Status(statusFilter) {
	case "", storage.StatusDone, storage.StatusError, storage.StatusOffTopic, storage.StatusCanceled:
	default:
		return fmt.Errorf("unknown status %q", statusFilter)
	}

	list, err := store.ListTranscripts(context.Background(), storage.ListOptions{
		Status: storage.Status(statusFilter),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No transcripts found.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-40s %-6s %-6s %s\n", "ID", "STATUS", "TITLE", "TURNS", "TOOLS", "CREATED")
	fmt.Println(strings.Repeat("─", 90))

	for _, t := range list {
		title := truncate(t.Title, 38)
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-10s %-10s %-40s %-6d %-6d %s\n",
			shortID(t.ID), t.Status, title, t.Turns, t.ToolCalls, timeAgo(t.CreatedAt))
	}

	return nil
}

func runTranscriptsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	t, err := store.GetTranscript(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Transcript: %s\n", t.ID)
	fmt.Printf("Title:      %s\n", t.Title)
	fmt.Printf("Status:     %s\n", t.Status)
	fmt.Printf("Model:      %s\n", t.Model)
	fmt.Printf("Turns:      %d\n", t.Turns)
	fmt.Printf("Tool calls: %d\n", t.ToolCalls)
	if t.Error != "" {
		fmt.Printf("Error:      %s\n", t.Error)
	}
	fmt.Printf("Created:    %s\n", t.CreatedAt.Format(time.RFC3339))

	messages, err := store.LoadMessages(ctx, t.ID)
	if err != nil {
		return err
	}

	fmt.Printf("\nMessages: %d\n", len(messages))
	fmt.Println(strings.Repeat("─", 60))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleUser:
			if m.Content != "" {
				fmt.Printf("\n\033[36myou>\033[0m %s\n", truncate(m.Content, 200))
			}
			for _, tr := range m.ToolResults {
				fmt.Printf("  \033[90m< %s\033[0m\n", truncate(tr.Content, 100))
			}
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Printf("\n\033[32mdol>\033[0m %s\n", truncate(m.Content, 200))
			}
			for _, tc := range m.ToolCalls {
				fmt.Printf("  \033[33m> %s\033[0m\n", tc.Name)
			}
		}
	}

	return nil
}

func runTranscriptsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	t, err := store.GetTranscript(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("Delete transcript %s - %q? [y/N] ", shortID(t.ID), title)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteTranscript(ctx, t.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted transcript %s\n", shortID(t.ID))
	return nil
}

func runTranscriptsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	t, err := store.GetTranscript(ctx, args[0])
	if err != nil {
		return err
	}

	messages, err := store.LoadMessages(ctx, t.ID)
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(t, messages)
		if err != nil {
			return err
		}
		output = string(data)
	case "md", "markdown":
		output = storage.ExportMarkdown(t, messages)
	default:
		return fmt.Errorf("unknown export format %q", exportFormat)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
