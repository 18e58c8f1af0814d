package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/embeddings"

	"regulation-rag/internal/chromemdb"
	"regulation-rag/internal/config"
	"regulation-rag/internal/db"
	"regulation-rag/internal/embedding"
	"regulation-rag/internal/helper"
	"regulation-rag/internal/llmservice"
	"regulation-rag/internal/rag"
	"regulation-rag/internal/vectordb"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath string
	importPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "regrag",
	Short: "Question answering over university regulations",
	Long: `regrag indexes regulation documents into a vector store and answers
questions about them with citations, over HTTP or in the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		setupLogger(cfg.Log)
		log.Debug().Str("config", configPath).Str("backend", cfg.Database.Backend).Str("collection", cfg.Database.Collection).Msg("Loaded config")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configFilePath, "path to the yaml config file")
}

func setupLogger(lc config.LogConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !lc.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
}

// openIndex opens the configured vector store backend
func openIndex(ctx context.Context, c *config.Config) (vectordb.Index, error) {
	switch c.Database.Backend {
	case config.BackendPostgres:
		idx, err := db.Open(ctx, &c.Database)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		if !c.Database.InMemory {
			if err := helper.CreateFolder(c.Database.Path); err != nil {
				return nil, err
			}
		}
		return chromemdb.NewVectorDBManager(c.Database.Path, c.Database.InMemory, c.Database.EncryptionKey)
	}
}

// snapshotter is implemented by backends that support encrypted snapshots
type snapshotter interface {
	Export(ctx context.Context, collection, filePath string) error
	Import(ctx context.Context, collection, filePath string) error
}

func asSnapshotter(idx vectordb.Index) (snapshotter, error) {
	s, ok := idx.(snapshotter)
	if !ok {
		return nil, fmt.Errorf("backend %q does not support snapshots", cfg.Database.Backend)
	}
	return s, nil
}

// newEmbedder builds the embedder, with the Redis query cache when enabled
// and reachable.
func newEmbedder(ctx context.Context, c *config.Config) (embeddings.Embedder, func(), error) {
	var rc *redis.Client
	if c.Cache.Enabled {
		rc = embedding.NewRedisClient(c.Cache)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rc.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", c.Cache.RedisAddr).Msg("Embedding cache unavailable, continuing without it")
			rc.Close()
			rc = nil
		}
	}

	e, err := embedding.New(c, rc)
	if err != nil {
		if rc != nil {
			rc.Close()
		}
		return nil, nil, err
	}
	closer := func() {
		if rc != nil {
			rc.Close()
		}
	}
	return e, closer, nil
}

// pipeline wires everything a query needs
type pipeline struct {
	index vectordb.Index
	rag   *rag.RAG
	close func()
}

func openPipeline(ctx context.Context) (*pipeline, error) {
	idx, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if importPath != "" {
		s, err := asSnapshotter(idx)
		if err != nil {
			idx.Close()
			return nil, err
		}
		if err := s.Import(ctx, cfg.Database.Collection, importPath); err != nil {
			idx.Close()
			return nil, err
		}
		log.Info().Str("file", importPath).Msg("Imported snapshot")
	}

	rt, err := rag.Init(ctx, idx, &cfg.Database)
	if err != nil {
		idx.Close()
		return nil, err
	}

	embedder, closeEmbedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		idx.Close()
		return nil, err
	}

	completer, err := llmservice.New(&cfg.InferenceLLM, cfg.Resilience)
	if err != nil {
		closeEmbedder()
		idx.Close()
		return nil, err
	}

	return &pipeline{
		index: idx,
		rag:   rag.NewRAG(rt, embedder, completer, cfg),
		close: func() {
			closeEmbedder()
			if err := idx.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing index")
			}
		},
	}, nil
}
