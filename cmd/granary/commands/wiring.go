// Package commands implements the granary CLI subcommands.
package commands

import (
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/corvid-labs/granary/chunk"
	"github.com/corvid-labs/granary/collect"
	"github.com/corvid-labs/granary/config"
	"github.com/corvid-labs/granary/db"
	"github.com/corvid-labs/granary/embedder"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/notify"
	"github.com/corvid-labs/granary/pipeline"
	"github.com/corvid-labs/granary/queue"
	"github.com/corvid-labs/granary/ratelimit"
	"github.com/corvid-labs/granary/summarize"
	"github.com/corvid-labs/granary/vectorstore"
	"github.com/corvid-labs/granary/worker"
)

// runtime bundles everything a command needs, wired once from config.
type runtime struct {
	cfg        *config.Config
	db         *sql.DB
	store      *queue.Store
	publisher  notify.Publisher
	collectors map[string]collect.Collector
	states     *collect.StateStore
	vectors    *vectorstore.SQLiteStore
	chunker    *chunk.Chunker
	batcher    *embedder.Batcher
	summarizer summarize.Summarizer
	items      *worker.ItemProcessor
}

// newRuntime loads config, opens the migrated database and wires the full
// component graph. Call close() when done.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.ComponentLogger("db"))
	if err != nil {
		return nil, err
	}

	var publisher notify.Publisher
	if cfg.Notify.URL != "" {
		publisher, err = notify.NewNATSPublisher(cfg.Notify.URL)
		if err != nil {
			// The queue is correct without wake-ups; polling covers it.
			logger.Logger.Warnw("NATS publisher unavailable, continuing with polling only",
				logger.FieldError, err,
			)
			publisher = nil
		}
	}

	store := queue.NewStore(database, publisher, logger.ComponentLogger("queue"))
	store.SetStaleTimeout(time.Duration(cfg.Queue.StaleTimeoutMinutes) * time.Minute)
	states := collect.NewStateStore(database)
	vectors := vectorstore.NewSQLiteStore(database, cfg.Embeddings.Model, logger.ComponentLogger("vectorstore"))

	chunker := chunk.NewChunker(chunk.Config{
		ChunkSize:         cfg.Chunking.ChunkSize,
		ChunkOverlap:      cfg.Chunking.ChunkOverlap,
		MaxTokensPerChunk: cfg.Chunking.MaxTokensPerChunk,
	}, logger.ComponentLogger("chunk"))

	provider := embedder.NewHTTPProvider(embedder.HTTPProviderConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		APIKey:  cfg.Embeddings.APIKey,
		Model:   cfg.Embeddings.Model,
		Logger:  logger.ComponentLogger("embedder"),
	})
	embedLimiter := ratelimit.NewLimiter(
		ratelimit.DefaultConfig(cfg.Embeddings.RequestsPerMinute),
		logger.ComponentLogger("ratelimit.embed"),
	)
	batcher := embedder.NewBatcher(provider, embedLimiter, chunker, embedder.Config{
		SafeTokenLimit: cfg.Embeddings.SafeTokenLimit(),
		BatchSizeHint:  cfg.Embeddings.BatchSizeHint,
	}, logger.ComponentLogger("embedder"))

	summarizeLimiter := ratelimit.NewLimiter(
		ratelimit.DefaultConfig(cfg.Summarizer.RequestsPerMinute),
		logger.ComponentLogger("ratelimit.summarize"),
	)
	summarizer := summarize.NewClient(summarize.Config{
		APIKey:      cfg.Summarizer.APIKey,
		Model:       cfg.Summarizer.Model,
		BaseURL:     cfg.Summarizer.BaseURL,
		MaxTokens:   cfg.Summarizer.MaxTokens,
		Temperature: cfg.Summarizer.Temperature,
	}, summarizeLimiter, logger.ComponentLogger("summarize"))

	items := worker.NewItemProcessor(store, summarizer, chunker, batcher, vectors,
		cfg.Embeddings.MaxContentBytes, logger.ComponentLogger("worker"))

	return &runtime{
		cfg:        cfg,
		db:         database,
		store:      store,
		publisher:  publisher,
		collectors: buildCollectors(cfg),
		states:     states,
		vectors:    vectors,
		chunker:    chunker,
		batcher:    batcher,
		summarizer: summarizer,
		items:      items,
	}, nil
}

func (r *runtime) close() {
	if r.publisher != nil {
		r.publisher.Close()
	}
	r.db.Close()
}

// buildCollectors constructs one collector per configured source, keyed by
// source name.
func buildCollectors(cfg *config.Config) map[string]collect.Collector {
	collectors := make(map[string]collect.Collector)

	githubLimiter := ratelimit.NewLimiter(
		ratelimit.DefaultConfig(cfg.Sources.GitHub.RequestsPerMinute),
		logger.ComponentLogger("ratelimit.github"),
	)
	for _, repo := range cfg.Sources.GitHub.Repos {
		owner, name, ok := strings.Cut(repo, "/")
		if !ok {
			logger.Logger.Warnw("Skipping malformed GitHub repo, want owner/name",
				"repo", repo,
			)
			continue
		}
		c := collect.NewGitHubCollector(collect.GitHubConfig{
			Owner: owner,
			Repo:  name,
			Token: cfg.Sources.GitHub.Token,
		}, githubLimiter, logger.ComponentLogger("collect.github"))
		collectors[c.Source()] = c
	}

	if cfg.Sources.Forum.BaseURL != "" {
		forumLimiter := ratelimit.NewLimiter(
			ratelimit.DefaultConfig(cfg.Sources.Forum.RequestsPerMinute),
			logger.ComponentLogger("ratelimit.forum"),
		)
		c := collect.NewForumCollector(collect.ForumConfig{
			BaseURL: cfg.Sources.Forum.BaseURL,
			APIKey:  cfg.Sources.Forum.APIKey,
		}, forumLimiter, logger.ComponentLogger("collect.forum"))
		collectors[c.Source()] = c
	}

	return collectors
}

// registry wires every job handler over the runtime's components.
func (r *runtime) registry() *worker.Registry {
	registry := worker.NewRegistry()
	registry.Register(worker.NewCollectSourceHandler(r.store, r.collectors, r.states, logger.ComponentLogger("worker")))
	registry.Register(worker.NewProcessBatchHandler(r.store))
	registry.Register(worker.NewProcessItemHandler(r.items))
	registry.Register(worker.NewProcessPendingItemsHandler(r.store, r.items, logger.ComponentLogger("worker")))
	return registry
}

func (r *runtime) orchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(r.store, r.collectors, r.states, r.summarizer,
		r.chunker, r.batcher, r.vectors, r.cfg.Embeddings.MaxContentBytes,
		logger.ComponentLogger("pipeline"))
}

func sourceNames(collectors map[string]collect.Collector) string {
	names := make([]string, 0, len(collectors))
	for name := range collectors {
		names = append(names, name)
	}
	if len(names) == 0 {
		return "(none configured)"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
