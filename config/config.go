// Package config loads Granary configuration from TOML files and the
// environment using Viper.
package config

// Config is the root configuration for Granary
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig configures the durable job queue and its worker loop
type QueueConfig struct {
	Workers             int `mapstructure:"workers"`               // concurrent jobs per poll (default: 4)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // how often the daemon polls for jobs (default: 5)
	MaxJobsPerPoll      int `mapstructure:"max_jobs_per_poll"`     // batch size per poll (default: 4)
	StaleTimeoutMinutes int `mapstructure:"stale_timeout_minutes"` // running jobs older than this reset to pending (default: 5)
	CleanupAfterHours   int `mapstructure:"cleanup_after_hours"`   // terminal jobs older than this are purged (default: 168)
}

// EmbeddingsConfig configures the embedding provider and batching budgets
type EmbeddingsConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	APIKey             string `mapstructure:"api_key"`
	Model              string `mapstructure:"model"`
	ProviderMaxTokens  int    `mapstructure:"provider_max_tokens"`  // hard provider limit (default: 8192)
	SafetyMarginTokens int    `mapstructure:"safety_margin_tokens"` // subtracted from the hard limit (default: 500)
	MaxContentBytes    int    `mapstructure:"max_content_bytes"`    // storage byte ceiling per document (default: 1000000)
	RequestsPerMinute  int    `mapstructure:"requests_per_minute"`
	BatchSizeHint      int    `mapstructure:"batch_size_hint"` // starting batch size for FindMaxBatchSize (default: 20)
}

// SummarizerConfig configures the LLM summarization client
type SummarizerConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
}

// ChunkingConfig configures the text chunker window
type ChunkingConfig struct {
	ChunkSize         int `mapstructure:"chunk_size"`           // window width in characters (default: 600)
	ChunkOverlap      int `mapstructure:"chunk_overlap"`        // overlap between windows in characters (default: 100)
	MaxTokensPerChunk int `mapstructure:"max_tokens_per_chunk"` // hard token ceiling per chunk (default: 500)
}

// SourcesConfig configures the external document sources
type SourcesConfig struct {
	GitHub GitHubSourceConfig `mapstructure:"github"`
	Forum  ForumSourceConfig  `mapstructure:"forum"`
}

// GitHubSourceConfig configures GitHub issue/file collection
type GitHubSourceConfig struct {
	Token             string   `mapstructure:"token"`
	Repos             []string `mapstructure:"repos"` // "owner/name"
	RequestsPerMinute int      `mapstructure:"requests_per_minute"`
}

// ForumSourceConfig configures Discourse-style forum collection
type ForumSourceConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// NotifyConfig configures the optional NATS wake-up publisher.
// An empty URL disables publishing; the polling path alone is sufficient.
type NotifyConfig struct {
	URL string `mapstructure:"url"`
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "granary.db"
	}
	return c.Database.Path
}

// SafeTokenLimit returns the usable token budget per embedding request:
// the provider's hard limit minus the safety margin.
func (c *EmbeddingsConfig) SafeTokenLimit() int {
	return c.ProviderMaxTokens - c.SafetyMarginTokens
}
