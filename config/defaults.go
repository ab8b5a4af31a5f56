package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "granary.db")

	// Queue defaults
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.poll_interval_seconds", 5)
	v.SetDefault("queue.max_jobs_per_poll", 4)
	v.SetDefault("queue.stale_timeout_minutes", 5)
	v.SetDefault("queue.cleanup_after_hours", 168) // one week

	// Embedding defaults
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.provider_max_tokens", 8192)
	v.SetDefault("embeddings.safety_margin_tokens", 500)
	v.SetDefault("embeddings.max_content_bytes", 1_000_000)
	v.SetDefault("embeddings.requests_per_minute", 60)
	v.SetDefault("embeddings.batch_size_hint", 20)

	// Summarizer defaults
	v.SetDefault("summarizer.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("summarizer.model", "openai/gpt-4o-mini") // Cost-effective default
	v.SetDefault("summarizer.temperature", 0.2)            // Deterministic
	v.SetDefault("summarizer.max_tokens", 1000)
	v.SetDefault("summarizer.requests_per_minute", 20)

	// Chunking defaults
	v.SetDefault("chunking.chunk_size", 600)
	v.SetDefault("chunking.chunk_overlap", 100)
	v.SetDefault("chunking.max_tokens_per_chunk", 500)

	// Source defaults
	v.SetDefault("sources.github.requests_per_minute", 30)
	v.SetDefault("sources.forum.requests_per_minute", 30)

	// Notify defaults (disabled unless a URL is configured)
	v.SetDefault("notify.url", "")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("sources.github.token", "GRANARY_GITHUB_TOKEN")
	v.BindEnv("sources.forum.api_key", "GRANARY_FORUM_API_KEY")
	v.BindEnv("embeddings.api_key", "GRANARY_EMBEDDINGS_API_KEY")
	v.BindEnv("summarizer.api_key", "GRANARY_SUMMARIZER_API_KEY")
	v.BindEnv("database.path", "GRANARY_DATABASE_PATH")
}
