package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the full turnkit configuration.
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Turn     TurnConfig     `yaml:"turn"`
	Compat   CompatConfig   `yaml:"compat"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Context  ContextConfig  `yaml:"context"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// RemoteConfig describes the remote model service.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url" split_words:"true"`
	APIKey  string `yaml:"api_key" split_words:"true"`
	// TokenURL, ClientID and ClientSecret select the OAuth2 client-credentials
	// grant instead of a static API key.
	TokenURL         string        `yaml:"token_url" split_words:"true"`
	ClientID         string        `yaml:"client_id" split_words:"true"`
	ClientSecret     string        `yaml:"client_secret" split_words:"true"`
	Scopes           []string      `yaml:"scopes" split_words:"true"`
	Model            string        `yaml:"model" split_words:"true"`
	Streaming        bool          `yaml:"streaming" split_words:"true"`
	Timeout          time.Duration `yaml:"timeout" split_words:"true"`
	PollInterval     time.Duration `yaml:"poll_interval" split_words:"true"`
	PollTimeout      time.Duration `yaml:"poll_timeout" split_words:"true"`
	ReasoningEffort  string        `yaml:"reasoning_effort" split_words:"true"`
	ReasoningSummary string        `yaml:"reasoning_summary" split_words:"true"`
	Verbosity        string        `yaml:"verbosity" split_words:"true"`
	ServiceTier      string        `yaml:"service_tier" split_words:"true"`
	Debug            bool          `yaml:"debug" split_words:"true"`
}

// TurnConfig bounds a single turn.
type TurnConfig struct {
	Instructions           string `yaml:"instructions" split_words:"true"`
	MaxRounds              int    `yaml:"max_rounds" split_words:"true"`
	MaxForcedContinuations int    `yaml:"max_forced_continuations" split_words:"true"`
	AllowFollowUps         bool   `yaml:"allow_follow_ups" split_words:"true"`
	AutoCompactTokens      int64  `yaml:"auto_compact_tokens" split_words:"true"`
	WebSearch              bool   `yaml:"web_search" split_words:"true"`
	// MutationTools lists tool names whose calls change user data.
	MutationTools []string `yaml:"mutation_tools" split_words:"true"`
	// ToolsFile is a YAML or JSON file with the tool declarations offered to the model.
	ToolsFile string `yaml:"tools_file" split_words:"true"`
}

// CompatConfig controls the learned compatibility cache.
type CompatConfig struct {
	Enabled    bool          `yaml:"enabled" split_words:"true"`
	MaxModels  int           `yaml:"max_models" split_words:"true"`
	TTL        time.Duration `yaml:"ttl" split_words:"true"`
	MaxRetries int           `yaml:"max_retries" split_words:"true"`
}

// EvidenceConfig controls the proof requirements for sensitive mutations.
type EvidenceConfig struct {
	MinSources     int `yaml:"min_sources" split_words:"true"`
	MaxSources     int `yaml:"max_sources" split_words:"true"`
	MaxAttachments int `yaml:"max_attachments" split_words:"true"`
}

// ContextConfig bounds the history digest and manifest.
type ContextConfig struct {
	RecentTurns   int `yaml:"recent_turns" split_words:"true"`
	TurnCharLimit int `yaml:"turn_char_limit" split_words:"true"`
	SummaryChunk  int `yaml:"summary_chunk" split_words:"true"`
	SummaryLimit  int `yaml:"summary_limit" split_words:"true"`
	DigestLimit   int `yaml:"digest_limit" split_words:"true"`
	ManifestLimit int `yaml:"manifest_limit" split_words:"true"`
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	DBPath     string        `yaml:"db_path" split_words:"true"`
	PendingTTL time.Duration `yaml:"pending_ttl" split_words:"true"`
	RedisAddr  string        `yaml:"redis_addr" split_words:"true"`
	LockTTL    time.Duration `yaml:"lock_ttl" split_words:"true"`
}

// ServerConfig is the HTTP surface.
type ServerConfig struct {
	Host             string        `yaml:"host" split_words:"true"`
	Port             int           `yaml:"port" split_words:"true"`
	ReadTimeout      time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout     time.Duration `yaml:"write_timeout" split_words:"true"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown" split_words:"true"`
	// AccessToken, when set, is required as a bearer token on /v1 routes.
	AccessToken string `yaml:"access_token" split_words:"true"`
	Verbose     bool   `yaml:"verbose" split_words:"true"`
	Debug       bool   `yaml:"debug" split_words:"true"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-5",
			Streaming:        true,
			Timeout:          10 * time.Minute,
			PollInterval:     1300 * time.Millisecond,
			PollTimeout:      20 * time.Minute,
			ReasoningEffort:  "medium",
			ReasoningSummary: "auto",
		},
		Turn: TurnConfig{
			MaxRounds:              12,
			MaxForcedContinuations: 2,
			AutoCompactTokens:      200_000,
			WebSearch:              true,
			MutationTools:          []string{"create_item", "add_item", "update_item", "delete_item", "set_cells", "apply_changes"},
		},
		Compat: CompatConfig{
			Enabled:    true,
			MaxModels:  64,
			TTL:        6 * time.Hour,
			MaxRetries: 8,
		},
		Evidence: EvidenceConfig{
			MinSources:     2,
			MaxSources:     8,
			MaxAttachments: 8,
		},
		Context: ContextConfig{
			RecentTurns:   6,
			TurnCharLimit: 2000,
			SummaryChunk:  4,
			SummaryLimit:  4000,
			DigestLimit:   12000,
			ManifestLimit: 4000,
		},
		Storage: StorageConfig{
			PendingTTL: 24 * time.Hour,
			LockTTL:    30 * time.Minute,
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Minute,
			GracefulShutdown: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Addr returns host:port for the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
