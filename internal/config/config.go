// Package config provides configuration loading for tierkb.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig indicates a configuration value that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for the tierkb service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Chat      ChatConfig      `koanf:"chat"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Storage   StorageConfig   `koanf:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// SecretKey signs session tokens. Override the default in any
	// deployment that is reachable by more than one person.
	SecretKey string `koanf:"secret_key"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// TelemetryConfig holds trace export settings. An empty endpoint
// disables export entirely.
type TelemetryConfig struct {
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`
}

// EmbeddingConfig holds the embedding model settings.
type EmbeddingConfig struct {
	// BaseURL is the Ollama server address.
	BaseURL string `koanf:"base_url"`
	// Model is the embedding model identifier.
	Model string `koanf:"model"`
}

// ChatConfig holds the answer generation backend settings.
type ChatConfig struct {
	OllamaURL   string `koanf:"ollama_url"`
	OllamaModel string `koanf:"ollama_model"`

	// DeepSeekAPIKey enables the remote backend. Empty disables it.
	DeepSeekAPIKey  string `koanf:"deepseek_api_key"`
	DeepSeekBaseURL string `koanf:"deepseek_base_url"`
	DeepSeekModel   string `koanf:"deepseek_model"`
}

// KnowledgeConfig holds retrieval pipeline settings.
type KnowledgeConfig struct {
	// ChunkSize is the chunk window length in runes.
	ChunkSize int `koanf:"chunk_size"`
	// ChunkOverlap is the overlap between consecutive chunks in runes.
	// Must be strictly less than ChunkSize.
	ChunkOverlap int `koanf:"chunk_overlap"`
	// TopK is the number of chunks retrieved per query.
	TopK int `koanf:"top_k"`
	// IndexDir is the directory the vector index persists under.
	// A leading ~ expands to the user's home directory.
	IndexDir string `koanf:"index_dir"`
	// Watch enables filesystem watching of the document root so that
	// out-of-band file drops invalidate the knowledge cache.
	Watch bool `koanf:"watch"`
}

// StorageConfig holds document and credential storage settings.
type StorageConfig struct {
	// DataDir is the tier-partitioned document root.
	DataDir string `koanf:"data_dir"`
	// UploadDir holds in-flight uploads before they move into a tier.
	UploadDir string `koanf:"upload_dir"`
	// UsersFile is the flat-file user store path.
	UsersFile string `koanf:"users_file"`
	// Tiers lists access tiers from most to least privileged.
	Tiers []string `koanf:"tiers"`
	// AllowedExtensions lists uploadable file extensions without the dot.
	AllowedExtensions []string `koanf:"allowed_extensions"`
	// MaxFiles caps the number of files per upload request.
	MaxFiles int `koanf:"max_files"`
	// MaxFileSize caps the size of a single uploaded file in bytes.
	MaxFileSize int64 `koanf:"max_file_size"`
}

// applyDefaults fills unset fields with defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5001
	}
	if cfg.Server.SecretKey == "" {
		cfg.Server.SecretKey = "supersecretkey"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "llama3"
	}
	if cfg.Chat.OllamaURL == "" {
		cfg.Chat.OllamaURL = "http://localhost:11434"
	}
	if cfg.Chat.OllamaModel == "" {
		cfg.Chat.OllamaModel = "llama3"
	}
	if cfg.Chat.DeepSeekBaseURL == "" {
		cfg.Chat.DeepSeekBaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.Chat.DeepSeekModel == "" {
		cfg.Chat.DeepSeekModel = "deepseek-chat"
	}
	if cfg.Knowledge.ChunkSize == 0 {
		cfg.Knowledge.ChunkSize = 1000
	}
	if cfg.Knowledge.ChunkOverlap == 0 {
		cfg.Knowledge.ChunkOverlap = 200
	}
	if cfg.Knowledge.TopK == 0 {
		cfg.Knowledge.TopK = 3
	}
	if cfg.Knowledge.IndexDir == "" {
		cfg.Knowledge.IndexDir = "~/.local/share/tierkb/index"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "temp_uploads"
	}
	if cfg.Storage.UsersFile == "" {
		cfg.Storage.UsersFile = "users.json"
	}
	if len(cfg.Storage.Tiers) == 0 {
		cfg.Storage.Tiers = []string{"high", "med", "low"}
	}
	if len(cfg.Storage.AllowedExtensions) == 0 {
		cfg.Storage.AllowedExtensions = []string{
			"txt", "pdf", "docx", "doc", "json", "csv", "xlsx", "xls", "md",
		}
	}
	if cfg.Storage.MaxFiles == 0 {
		cfg.Storage.MaxFiles = 2
	}
	if cfg.Storage.MaxFileSize == 0 {
		cfg.Storage.MaxFileSize = 2 * 1024 * 1024
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging format %q (want json or console)", ErrInvalidConfig, c.Logging.Format)
	}
	if c.Knowledge.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.Knowledge.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative", ErrInvalidConfig)
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be strictly less than chunk size %d",
			ErrInvalidConfig, c.Knowledge.ChunkOverlap, c.Knowledge.ChunkSize)
	}
	if c.Knowledge.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidConfig)
	}
	if len(c.Storage.Tiers) == 0 {
		return fmt.Errorf("%w: at least one tier is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Storage.Tiers))
	for _, tier := range c.Storage.Tiers {
		name := strings.TrimSpace(tier)
		if name == "" {
			return fmt.Errorf("%w: empty tier name", ErrInvalidConfig)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfig, name)
		}
		seen[name] = true
	}
	if c.Storage.MaxFiles <= 0 {
		return fmt.Errorf("%w: max_files must be positive", ErrInvalidConfig)
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("%w: max_file_size must be positive", ErrInvalidConfig)
	}
	return nil
}
