package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"github.com/recollect-ai/recollect/pkg/ai"
	"github.com/recollect-ai/recollect/pkg/config"
	"github.com/recollect-ai/recollect/pkg/memory/retain"
	"github.com/recollect-ai/recollect/pkg/memory/storage"
	"github.com/recollect-ai/recollect/pkg/memory/tasks"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Level:           log.DebugLevel,
		TimeFormat:      time.Kitchen,
	})

	bankID := flag.String("bank", "", "Bank to retain into")
	docPath := flag.String("doc", "", "Document to retain (defaults to stdin)")
	docContext := flag.String("context", "", "Context for the document")
	documentID := flag.String("document-id", "", "Document ID (optional)")
	appendBatch := flag.Bool("append", false, "Append to the document instead of replacing it")
	factType := flag.String("fact-type", "", "Force fact type for all facts (world, bank or opinion)")
	deleteBank := flag.Bool("delete", false, "Delete the bank instead of retaining")
	printEnv := flag.Bool("print-env", false, "Print environment variables on startup")
	flag.Parse()

	if *bankID == "" {
		logger.Error("Bank ID is required (-bank)")
		os.Exit(1)
	}

	envs, err := config.LoadConfig(*printEnv)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	migrationDB, err := sql.Open("postgres", envs.DatabaseURL)
	if err != nil {
		logger.Error("Failed to open database for migrations", "error", err)
		os.Exit(1)
	}
	if err := storage.RunMigrations(migrationDB, logger); err != nil {
		logger.Error("Migrations failed", "error", err)
		os.Exit(1)
	}
	_ = migrationDB.Close()

	pool, err := storage.NewPool(ctx, envs.DatabaseURL, envs.PoolSize)
	if err != nil {
		logger.Error("Failed to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store, err := storage.NewPostgresStore(storage.NewPostgresStoreInput{
		Pool:                pool,
		EmbeddingDimensions: envs.EmbeddingDimensions,
		Logger:              logger,
	})
	if err != nil {
		logger.Error("Failed to create store", "error", err)
		os.Exit(1)
	}
	if err := store.VerifyEmbeddingDimensions(ctx); err != nil {
		logger.Error("Embedding dimensions check failed", "error", err)
		os.Exit(1)
	}

	completionsService := ai.NewOpenAIService(logger, envs.CompletionsAPIKey, envs.CompletionsAPIURL)
	embeddingsService := ai.NewOpenAIService(logger, envs.EmbeddingsAPIKey, envs.EmbeddingsAPIURL)

	embedder, err := ai.NewEmbedder(embeddingsService, envs.EmbeddingsModel)
	if err != nil {
		logger.Error("Failed to create embedder", "error", err)
		os.Exit(1)
	}

	extractor, err := retain.NewExtractor(logger, completionsService, envs.CompletionsModel, envs.MaxChunkChars)
	if err != nil {
		logger.Error("Failed to create extractor", "error", err)
		os.Exit(1)
	}

	var taskBackend tasks.Backend
	if envs.NatsURL != "" {
		nc, err := nats.Connect(envs.NatsURL)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		taskBackend, err = tasks.NewNATSBackend(nc, logger)
		if err != nil {
			logger.Error("Failed to create NATS task backend", "error", err)
			os.Exit(1)
		}
		logger.Info("Using NATS task backend", "url", envs.NatsURL)
	} else {
		taskBackend = tasks.NewInProcessBackend()
		logger.Info("No NATS URL configured, buffering background tasks in process")
	}

	orchestrator, err := retain.New(retain.Dependencies{
		Logger:     logger,
		Storage:    store,
		Extractor:  extractor,
		Embedder:   embedder,
		Tasks:      taskBackend,
		Resolver:   retain.NewNaiveEntityResolver(logger),
		Duplicates: retain.NewVectorDuplicateChecker(logger),
		Config: retain.Config{
			TimeWindowHours:  envs.TimeWindowHours,
			MaxTemporalLinks: envs.MaxTemporalLinks,
			SemanticTopK:     envs.SemanticTopK,
			SemanticFloor:    envs.SemanticFloor,
			MaxSemanticLinks: envs.MaxSemanticLinks,
			DedupThreshold:   envs.DedupThreshold,
		},
	})
	if err != nil {
		logger.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	if *deleteBank {
		if err := orchestrator.DeleteBank(ctx, *bankID); err != nil {
			logger.Error("Failed to delete bank", "error", err)
			os.Exit(1)
		}
		logger.Info("Bank deleted", "bank_id", *bankID)
		return
	}

	content, err := readContent(*docPath)
	if err != nil {
		logger.Error("Failed to read document", "error", err)
		os.Exit(1)
	}
	if content == "" {
		logger.Error("Document is empty")
		os.Exit(1)
	}

	unitIDs, err := orchestrator.Retain(ctx, *bankID,
		retain.ContentItem{
			Content: content,
			Context: *docContext,
		},
		retain.RetainOptions{
			DocumentID:       *documentID,
			Append:           *appendBatch,
			FactTypeOverride: *factType,
		})
	if err != nil {
		logger.Error("Retain failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Retain complete", "units", len(unitIDs))
	for _, id := range unitIDs {
		fmt.Println(id)
	}
}

func readContent(path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
