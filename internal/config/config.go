// Package config provides the configuration schema, YAML loader, hot-reload
// watcher, and provider registry for the felix voice assistant server.
package config

import "time"

// Config is the root configuration structure for felix. It is loaded from a
// YAML file via [Load] or [LoadFromReader], then overlaid with environment
// variable overrides (see [Load]).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Tools       ToolsConfig       `yaml:"tools"`
	Memory      MemoryConfig      `yaml:"memory"`
	MCP         MCPConfig         `yaml:"mcp"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Auth        AuthConfig        `yaml:"auth"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP/WebSocket server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr" env:"FELIX_LISTEN_ADDR"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level" env:"FELIX_LOG_LEVEL"`
}

// LogLevel is a validated string enum for slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case "", LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// AudioConfig describes the PCM format contract with clients and the
// minimum utterance length accepted by the segmenter.
type AudioConfig struct {
	SampleRate       int           `yaml:"sample_rate"`
	Channels         int           `yaml:"channels"`
	MinUtteranceMs   int           `yaml:"min_utterance_ms"`
	SpeakingTimeout  time.Duration `yaml:"speaking_timeout"`
}

// VADConfig tunes the C1 hysteresis gate.
type VADConfig struct {
	Threshold    float64 `yaml:"threshold"`
	MinSpeechMs  int     `yaml:"min_speech_ms"`
	MinSilenceMs int     `yaml:"min_silence_ms"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	VAD        ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ollama", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key" env:"FELIX_PROVIDER_API_KEY"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "llama3.1", "nova-3").
	Model string `yaml:"model"`

	// Temperature and MaxTokens are LLM-only knobs; ignored by other provider kinds.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// ConversationConfig tunes the C4 conversation store.
type ConversationConfig struct {
	SystemPrompt      string `yaml:"system_prompt"`
	MaxMessages       int    `yaml:"max_messages"`
	MaxTokensEstimate int    `yaml:"max_tokens_estimate"`
}

// ToolsConfig tunes the C6 tool executor.
type ToolsConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// MemoryConfig holds settings for the knowledge_search tool's semantic
// retrieval layer.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector-backed
	// knowledge store. Empty disables the knowledge_search tool.
	PostgresDSN string `yaml:"postgres_dsn" env:"FELIX_POSTGRES_DSN"`

	// EmbeddingDimensions is the vector dimension used for the embeddings column.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// MCPConfig holds the list of Model Context Protocol servers the tool
// registry bridges in addition to in-process Go tool handlers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport MCPTransport      `yaml:"transport"`
	Command   string            `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
}

// MCPTransport selects how a tool server is reached.
type MCPTransport string

const (
	TransportStdio           MCPTransport = "stdio"
	TransportStreamableHTTP  MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t MCPTransport) IsValid() bool {
	switch t {
	case "", TransportStdio, TransportStreamableHTTP:
		return true
	default:
		return false
	}
}

// PersistenceConfig controls session snapshot and per-client settings
// persistence (§6.6).
type PersistenceConfig struct {
	// DataDir is the root directory for all persisted state.
	DataDir string `yaml:"data_dir" env:"FELIX_DATA_DIR"`

	// SnapshotInterval is how often the Connection Manager writes the
	// sessions snapshot to disk. 0 disables periodic snapshotting (only
	// the shutdown-time write remains).
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// AuthConfig controls the optional multi-user auth HTTP surface (§6.5).
type AuthConfig struct {
	// Enabled turns on /api/auth/login, /api/auth/logout, and bearer-token
	// protection for /api/admin/*. When false, /api/admin/* is protected
	// solely by AdminToken.
	Enabled bool `yaml:"enabled"`

	// AdminToken is a shared secret accepted via the X-Admin-Token header
	// regardless of Enabled.
	AdminToken string `yaml:"admin_token" env:"FELIX_ADMIN_TOKEN"`

	// TokenTTL is how long an issued session token remains valid.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// JWTSigningKey signs issued session tokens. Required when Enabled.
	JWTSigningKey string `yaml:"jwt_signing_key" env:"FELIX_JWT_SIGNING_KEY"`
}
