package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/michaelbrown/dolchat/internal/server"
	"github.com/michaelbrown/dolchat/internal/storage"
	"github.com/michaelbrown/dolchat/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP server",
	Long: `Start the dolchat HTTP server.

Endpoints:
  GET  /health    liveness check
  POST /chat      stream a reply as Server-Sent Events
  GET  /chat/ws   the same conversation over WebSocket

Examples:
  dolchat serve
  dolchat serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var store storage.Store
	if cfg.Storage.Enabled {
		s, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
		log.Info().Str("path", cfg.Storage.DBPath).Msg("recording transcripts")
	}

	srv := server.New(cfg.Server, a.agent, store, a.model)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}
