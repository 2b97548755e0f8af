package config

// Config represents the core atelier configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Prompt   PromptConfig   `mapstructure:"prompt"`
}

// BackendConfig configures the remote rendering backend (ComfyUI-compatible)
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ClientID       string `mapstructure:"client_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // per-request HTTP timeout

	// Retry policy for transient failures (timeouts, 5xx, 429)
	MaxRetries       int     `mapstructure:"max_retries"`
	BaseDelaySeconds float64 `mapstructure:"base_delay_seconds"`
	MaxDelaySeconds  float64 `mapstructure:"max_delay_seconds"`

	// Polling loop
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	MaxPollTimeSeconds  int `mapstructure:"max_poll_time_seconds"` // wall-clock ceiling per job

	// Optional client-side pacing toward the backend (0 = off)
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// PipelineConfig configures the batch file pipeline directories
type PipelineConfig struct {
	InputDir     string `mapstructure:"input_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
	OutputDir    string `mapstructure:"output_dir"`

	// Grain post-filter applied to every downloaded artifact
	GrainStrength float64 `mapstructure:"grain_strength"` // 0 disables the filter
	GrainSeed     int64   `mapstructure:"grain_seed"`     // fixed seed keeps output deterministic
}

// DatabaseConfig configures the SQLite execution log
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig configures optional external persistence of finished renders.
// When Enabled, uploads require full correlation metadata; missing metadata is
// an error, never a silent skip.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BaseURL     string `mapstructure:"base_url"`
	Bucket      string `mapstructure:"bucket"`
	BearerToken string `mapstructure:"bearer_token"`
}

// PromptConfig configures the prompt-generation step fed into each render
type PromptConfig struct {
	TemplateDir    string `mapstructure:"template_dir"`
	DefaultPersona string `mapstructure:"default_persona"`
	NegativePrompt string `mapstructure:"negative_prompt"`
}
