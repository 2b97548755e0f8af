package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Backend defaults
	v.SetDefault("backend.base_url", "http://localhost:8188")
	v.SetDefault("backend.client_id", "atelier")
	v.SetDefault("backend.timeout_seconds", 120)
	v.SetDefault("backend.max_retries", 3)          // additional attempts after the first
	v.SetDefault("backend.base_delay_seconds", 2.0) // exponential backoff base
	v.SetDefault("backend.max_delay_seconds", 60.0) // backoff cap
	v.SetDefault("backend.poll_interval_seconds", 5)
	v.SetDefault("backend.max_poll_time_seconds", 3600)
	v.SetDefault("backend.requests_per_minute", 0) // 0 = no client-side pacing

	// Pipeline defaults
	v.SetDefault("pipeline.input_dir", "pipeline/input")
	v.SetDefault("pipeline.processed_dir", "pipeline/processing")
	v.SetDefault("pipeline.output_dir", "pipeline/archive")
	v.SetDefault("pipeline.grain_strength", 8.0)
	v.SetDefault("pipeline.grain_seed", 1337)

	// Database defaults
	v.SetDefault("database.path", "atelier.db")

	// Archive (external persistence) defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "renders")

	// Prompt defaults
	v.SetDefault("prompt.default_persona", "")
	v.SetDefault("prompt.negative_prompt", "lowres, bad anatomy, watermark, text")
}
