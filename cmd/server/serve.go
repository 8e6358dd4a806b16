package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/localchat/internal/api"
	"github.com/RichardoC/localchat/internal/catalog"
	"github.com/RichardoC/localchat/internal/chat"
	"github.com/RichardoC/localchat/internal/config"
	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/gate"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/search"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.Database.Path))
		return err
	}
	defer func() { err = multierr.Append(err, database.Close()) }()

	engine, err := llm.NewOllamaEngine(cfg.Ollama.BaseURL, logger)
	if err != nil {
		logger.Error("failed to initialize Ollama client", zap.Error(err))
		return err
	}
	manager := llm.NewManager(engine, logger)
	cat := catalog.New(cfg.Models...)

	client := &http.Client{Timeout: cfg.Search.Timeout}
	searcher := search.NewService(search.NewWikipedia(cfg.Search.WikipediaURL, client), cfg.Search.GoogleURL, logger)

	session := chat.New(database, manager, searcher, cat, logger)
	if err := session.Load(); err != nil {
		return err
	}
	seedGoogleCredentials(session, cfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := gate.New(manager, database, cfg.MandatoryModels, cfg.StartupDelay, logger)
	g.Start(ctx)

	handler := api.NewHandler(session, g, cat, manager, cfg.Device, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	session.Stop()
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	session.Wait()
	g.Wait()
	return multierr.Append(err, manager.Close(shutdownCtx))
}

// seedGoogleCredentials copies configured Google credentials into settings
// that have none.
func seedGoogleCredentials(session *chat.Orchestrator, cfg config.Config, logger *zap.Logger) {
	settings := session.Snapshot().Settings
	if settings.GoogleAPIKey != "" || cfg.Search.GoogleAPIKey == "" {
		return
	}
	settings.GoogleAPIKey = cfg.Search.GoogleAPIKey
	if settings.GoogleCX == "" {
		settings.GoogleCX = cfg.Search.GoogleCX
	}
	if err := session.UpdateSettings(settings); err != nil {
		logger.Warn("failed to seed Google credentials", zap.Error(err))
	}
}
