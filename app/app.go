// Package app assembles the assistant from configuration: embedder,
// index, memory stores, pipeline, agent, sessions, and server. All wiring
// lives here so the CLI commands stay thin.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/agent"
	"github.com/inception881/knowledgeGPT/checkpoint"
	"github.com/inception881/knowledgeGPT/chunker"
	"github.com/inception881/knowledgeGPT/config"
	"github.com/inception881/knowledgeGPT/embedder"
	"github.com/inception881/knowledgeGPT/embedder/openai"
	"github.com/inception881/knowledgeGPT/index"
	"github.com/inception881/knowledgeGPT/loader"
	"github.com/inception881/knowledgeGPT/memory"
	"github.com/inception881/knowledgeGPT/pipeline"
	"github.com/inception881/knowledgeGPT/registry"
	"github.com/inception881/knowledgeGPT/server"
	"github.com/inception881/knowledgeGPT/session"
	"github.com/inception881/knowledgeGPT/tools"
)

// App is the fully wired assistant.
type App struct {
	Config      *config.Config
	Logger      *log.Logger
	Index       *index.Manager
	Loader      *loader.Loader
	Memory      *memory.Store
	Checkpoints *checkpoint.Store
	Agent       *agent.Agent
	Sessions    *session.Manager
	Server      *server.Server
}

// New builds every component from the configuration. The returned App
// owns the checkpoint store; call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := log.Default()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	idx, err := index.New(ctx, emb, index.Options{
		Dir:       cfg.Index.Dir,
		TopK:      cfg.Index.TopK,
		BatchSize: cfg.Index.BatchSize,
		Trusted:   cfg.Index.Trusted(),
	}, logger.WithPrefix("index"))
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	reg, err := registry.Open(cfg.ProcessedRecord, cfg.DocumentsDir, logger.WithPrefix("registry"))
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}
	splitter := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	ld := loader.New(reg, splitter, idx, logger.WithPrefix("loader"))

	mem, err := memory.Open(cfg.Memory.Dir, emb, logger.WithPrefix("memory"))
	if err != nil {
		return nil, fmt.Errorf("init memory: %w", err)
	}

	checkpoints, err := checkpoint.Open(cfg.CheckpointDir)
	if err != nil {
		return nil, fmt.Errorf("init checkpoints: %w", err)
	}

	apiKey := os.Getenv(cfg.Anthropic.APIKeyEnv)
	if apiKey == "" {
		checkpoints.Close()
		return nil, fmt.Errorf("missing API key in env %s", cfg.Anthropic.APIKeyEnv)
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	retrieval := tools.NewRetrieval(idx, cfg.Index.TopK, logger.WithPrefix("tools"))

	// The summarizer stage needs the agent's model client, and the agent
	// needs the assembled pipeline. Bind the stage through a late slot.
	var ag *agent.Agent
	summarize := pipeline.SummaryFunc(func(ctx context.Context, transcript string) (string, error) {
		return ag.SummarizeTranscript(ctx, transcript)
	})

	pipeLogger := logger.WithPrefix("pipeline")
	pipe := pipeline.New(pipeLogger,
		[]pipeline.Stage{
			&pipeline.Sanitizer{Logger: pipeLogger},
			&pipeline.HistoryRecall{Store: mem, Top: cfg.Memory.RecallTop, Logger: pipeLogger},
			&pipeline.PersistUser{Store: mem, Logger: pipeLogger},
			&pipeline.Summarizer{
				Summarize:      summarize,
				TokenThreshold: cfg.Summary.TokenThreshold,
				Keep:           cfg.Summary.KeepMessages,
				Logger:         pipeLogger,
			},
		},
		[]pipeline.PostStage{
			&pipeline.PersistAssistant{Store: mem, Logger: pipeLogger},
		},
	)

	ag = agent.New(&client, retrieval, pipe, checkpoints, logger.WithPrefix("agent"), agent.Options{
		Model:        cfg.Anthropic.Model,
		SummaryModel: cfg.Anthropic.SummaryModel,
		MaxTokens:    cfg.Anthropic.MaxTokens,
		MaxTurns:     cfg.Anthropic.MaxTurns,
	})

	sessions := session.NewManager(ag, checkpoints, logger.WithPrefix("session"))
	srv := server.New(ld, sessions, logger.WithPrefix("server"))

	return &App{
		Config:      cfg,
		Logger:      logger,
		Index:       idx,
		Loader:      ld,
		Memory:      mem,
		Checkpoints: checkpoints,
		Agent:       ag,
		Sessions:    sessions,
		Server:      srv,
	}, nil
}

// Close releases resources that hold file locks.
func (a *App) Close() error {
	return a.Checkpoints.Close()
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	client, err := openai.New(openai.Config{
		BaseURL:   cfg.Embedder.BaseURL,
		APIKeyEnv: cfg.Embedder.APIKeyEnv,
		Model:     cfg.Embedder.Model,
		Timeout:   time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if cfg.Embedder.CacheEntries <= 0 {
		return client, nil
	}
	cached, err := embedder.NewCached(client, cfg.Embedder.CacheEntries)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return cached, nil
}
