package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	// Worker process settings.
	WorkerBin    string `json:"worker_bin" yaml:"worker_bin" toml:"worker_bin"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	EmbedModel   string `json:"embed_model" yaml:"embed_model" toml:"embed_model"`
	CtxSize      int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	// GPULayers: -1 all layers, 0 CPU only, N a specific count.
	GPULayers int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	CacheFile string `json:"cache_file" yaml:"cache_file" toml:"cache_file"`

	// System prompt seeding a fresh conversation.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	// Opening user message replayed by reset; empty disables the replay.
	OpeningMessage string `json:"opening_message" yaml:"opening_message" toml:"opening_message"`

	// Sampling defaults; per-request params override these.
	MaxTokens     int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float32 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	MinP          float32 `json:"min_p" yaml:"min_p" toml:"min_p"`
	RepeatPenalty float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`

	// Offload probe ladder; see worker.ProbeConfig.
	ProbeStart      int `json:"probe_start" yaml:"probe_start" toml:"probe_start"`
	ProbeStep       int `json:"probe_step" yaml:"probe_step" toml:"probe_step"`
	ProbeHalveFloor int `json:"probe_halve_floor" yaml:"probe_halve_floor" toml:"probe_halve_floor"`

	// Budget thresholds as fractions of the context size.
	PruneThreshold float64 `json:"prune_threshold" yaml:"prune_threshold" toml:"prune_threshold"`
	PruneTarget    float64 `json:"prune_target" yaml:"prune_target" toml:"prune_target"`

	// Bounds for the long operations (seconds; 0 = default).
	LoadTimeoutSec  int `json:"load_timeout_sec" yaml:"load_timeout_sec" toml:"load_timeout_sec"`
	LockTimeoutSec  int `json:"lock_timeout_sec" yaml:"lock_timeout_sec" toml:"lock_timeout_sec"`
	CleanupWaitMs   int `json:"cleanup_wait_ms" yaml:"cleanup_wait_ms" toml:"cleanup_wait_ms"`
	EmbedTimeoutSec int `json:"embed_timeout_sec" yaml:"embed_timeout_sec" toml:"embed_timeout_sec"`

	// Conversation store: memory, file, redis or sqlite.
	ConvStore     string `json:"conv_store" yaml:"conv_store" toml:"conv_store"`
	ConvStorePath string `json:"conv_store_path" yaml:"conv_store_path" toml:"conv_store_path"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	RedisTTLHours int    `json:"redis_ttl_hours" yaml:"redis_ttl_hours" toml:"redis_ttl_hours"`

	// Vector retrieval; disabled unless qdrant_addr is set.
	QdrantAddr       string `json:"qdrant_addr" yaml:"qdrant_addr" toml:"qdrant_addr"`
	QdrantCollection string `json:"qdrant_collection" yaml:"qdrant_collection" toml:"qdrant_collection"`
	RetrievalTopK    int    `json:"retrieval_top_k" yaml:"retrieval_top_k" toml:"retrieval_top_k"`

	// HTTP surface.
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`
	LogLevel           string   `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Durations derived from the integer fields, with the documented defaults.

func (c Config) LoadTimeout() time.Duration {
	if c.LoadTimeoutSec > 0 {
		return time.Duration(c.LoadTimeoutSec) * time.Second
	}
	return 120 * time.Second
}

func (c Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec > 0 {
		return time.Duration(c.LockTimeoutSec) * time.Second
	}
	return 5 * time.Second
}

func (c Config) CleanupWait() time.Duration {
	if c.CleanupWaitMs > 0 {
		return time.Duration(c.CleanupWaitMs) * time.Millisecond
	}
	return time.Second
}

func (c Config) EmbedTimeout() time.Duration {
	if c.EmbedTimeoutSec > 0 {
		return time.Duration(c.EmbedTimeoutSec) * time.Second
	}
	return 30 * time.Second
}
