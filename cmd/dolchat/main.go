package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFlag    string
	modelFlag     string
	profileFlag   string
	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "dolchat",
	Short: "dolchat - chat with U.S. Department of Labor open data",
	Long: `dolchat is a chat backend for the DOL Open Data Portal.

It streams LLM answers over Server-Sent Events and WebSocket, and lets the
model look up DOL datasets, their field metadata and their rows.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger(logLevelFlag, logFormatFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./dolchat.yaml or ~/.dolchat/dolchat.yaml)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model to use (overrides config)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "Agent profile YAML file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "console", "Log format: console or json")
}

func initLogger(level, format string) error {
	var w io.Writer = os.Stderr
	switch format {
	case "console", "text":
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	case "json":
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	log.Logger = log.Output(w)

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
