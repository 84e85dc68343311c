package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/access"
	"github.com/fyrsmithlabs/tierkb/internal/chat"
	"github.com/fyrsmithlabs/tierkb/internal/config"
	"github.com/fyrsmithlabs/tierkb/internal/docstore"
	"github.com/fyrsmithlabs/tierkb/internal/embeddings"
	tierkbhttp "github.com/fyrsmithlabs/tierkb/internal/http"
	"github.com/fyrsmithlabs/tierkb/internal/ingest"
	"github.com/fyrsmithlabs/tierkb/internal/knowledge"
	"github.com/fyrsmithlabs/tierkb/internal/logging"
	"github.com/fyrsmithlabs/tierkb/internal/telemetry"
	"github.com/fyrsmithlabs/tierkb/internal/userstore"
	"github.com/fyrsmithlabs/tierkb/internal/vectorstore"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// defaultSecretKey matches the config default; running with it in
// anything multi-user deserves a warning.
const defaultSecretKey = "supersecretkey"

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return run(ctx)
}

// run initializes all dependencies, starts the HTTP server and blocks
// until the context is cancelled, then shuts down gracefully.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting tierkbd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)
	if cfg.Server.SecretKey == defaultSecretKey {
		logger.Warn("running with the default secret key; set TIERKB_SERVER_SECRET_KEY")
	}

	shutdownTraces, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := shutdownTraces(shutdownCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", zap.Error(err))
		}
	}()

	policy, err := access.NewPolicy(cfg.Storage.Tiers)
	if err != nil {
		return fmt.Errorf("building access policy: %w", err)
	}

	users, err := userstore.Open(cfg.Storage.UsersFile, logger)
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}

	docs, err := docstore.New(docstore.Config{
		DataDir:           cfg.Storage.DataDir,
		UploadDir:         cfg.Storage.UploadDir,
		AllowedExtensions: cfg.Storage.AllowedExtensions,
		MaxFileSize:       cfg.Storage.MaxFileSize,
	}, policy, logger)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	if err := docs.CleanUploads(); err != nil {
		logger.Warn("cleaning stale uploads", zap.Error(err))
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
	})
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}

	index, err := vectorstore.New(vectorstore.Config{
		Path: cfg.Knowledge.IndexDir,
	}, embedder, logger)
	if err != nil {
		return fmt.Errorf("opening vector index: %w", err)
	}

	loader := ingest.NewLoader(logger)

	kb, err := knowledge.New(knowledge.Config{
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
		TopK:         cfg.Knowledge.TopK,
	}, docs, loader, index, logger)
	if err != nil {
		return fmt.Errorf("creating knowledge service: %w", err)
	}

	if cfg.Knowledge.Watch {
		watcher, err := knowledge.NewWatcher(kb, docs.DataDir(), logger)
		if err != nil {
			return fmt.Errorf("starting document watcher: %w", err)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warn("closing document watcher", zap.Error(err))
			}
		}()
	}

	local, err := chat.NewOllamaBackend(chat.OllamaConfig{
		BaseURL: cfg.Chat.OllamaURL,
		Model:   cfg.Chat.OllamaModel,
	})
	if err != nil {
		return fmt.Errorf("creating ollama backend: %w", err)
	}

	remote, err := chat.NewDeepSeekBackend(chat.DeepSeekConfig{
		APIKey:  cfg.Chat.DeepSeekAPIKey,
		BaseURL: cfg.Chat.DeepSeekBaseURL,
		Model:   cfg.Chat.DeepSeekModel,
	})
	if err != nil {
		return fmt.Errorf("creating deepseek backend: %w", err)
	}
	if !remote.Configured() {
		logger.Info("deepseek backend not configured, remote queries answer with a notice")
	}

	answerer, err := chat.NewService(kb, local, remote, logger)
	if err != nil {
		return fmt.Errorf("creating chat service: %w", err)
	}

	server, err := tierkbhttp.NewServer(users, docs, kb, answerer, policy, logger, &tierkbhttp.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		SecretKey: cfg.Server.SecretKey,
		MaxFiles:  cfg.Storage.MaxFiles,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
