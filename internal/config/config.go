// Package config loads AxiomMe's configuration from ~/.axiomme/config.yaml,
// merged with AXIOMME_-prefixed environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for an AxiomMe instance. It is loaded from
// ~/.axiomme/config.yaml and can be overridden by AXIOMME_ environment
// variables.
type Config struct {
	DRR       DRRConfig       `mapstructure:"drr" yaml:"drr"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	OM        OMConfig        `mapstructure:"om" yaml:"om"`
	Tiering   TieringConfig   `mapstructure:"tiering" yaml:"tiering"`
	Embedder  EmbedderConfig  `mapstructure:"embedder" yaml:"embedder"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// DRRConfig controls the hybrid retrieval engine's default budgets and
// scoring weight. A per-query SearchBudget override, when supplied, replaces
// the corresponding budget here, clamped to at least 1.
type DRRConfig struct {
	// Alpha weights lexical vs vector score in the hybrid combination:
	// alpha*lex_norm + (1-alpha)*vec_norm.
	Alpha float64 `mapstructure:"alpha" yaml:"alpha"`
	// GlobalTopK is the number of leaves the traversal tries to fill.
	GlobalTopK int `mapstructure:"global_topk" yaml:"global_topk"`
	// MaxConvergenceRounds bounds the alpha-relaxation retry loop.
	MaxConvergenceRounds int `mapstructure:"max_convergence_rounds" yaml:"max_convergence_rounds"`
	// MaxDepth bounds tree expansion depth from an entry root.
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth"`
	// MaxNodes bounds the number of nodes visited per round.
	MaxNodes int `mapstructure:"max_nodes" yaml:"max_nodes"`
}

// StoreConfig controls the on-disk persistent state layout and the
// transactional tabular store backing it.
type StoreConfig struct {
	// RootDir is the on-disk root containing resources/, user/, agent/,
	// session/, queue/ and the sqlite state file.
	RootDir string `mapstructure:"root_dir" yaml:"root_dir"`
	// SQLitePath is the path to the transactional state store
	// (.axiomme_state.sqlite3 by convention, relative to RootDir).
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// QueueConfig controls the outbox worker's claim batching and retry policy.
type QueueConfig struct {
	// ClaimBatchSize is the number of events a single claim_batch call
	// reserves for one worker.
	ClaimBatchSize int `mapstructure:"claim_batch_size" yaml:"claim_batch_size"`
	// MaxAttempts is the number of delivery attempts before an event is
	// moved to the dead-letter table.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// MaxBackoffSeconds caps the exponential backoff (min(cap, 2^attempts)).
	MaxBackoffSeconds int `mapstructure:"max_backoff_seconds" yaml:"max_backoff_seconds"`
	// IdleCyclesBeforeStop is the number of consecutive empty claim
	// cycles the daemon loop tolerates before terminating.
	IdleCyclesBeforeStop int `mapstructure:"idle_cycles_before_stop" yaml:"idle_cycles_before_stop"`
	// PollInterval is the daemon loop's tick period between claim cycles.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// OMTokenBudget holds a single stage's (observer or reflector) token
// accounting thresholds.
type OMTokenBudget struct {
	// MessageTokens (observer) or ObservationTokens (reflector) is the
	// per-batch token ceiling that drives threshold_reached.
	MessageTokens int `mapstructure:"message_tokens" yaml:"message_tokens"`
	// MaxTokensPerBatch bounds a single compression call's input size.
	// Zero means unused by this stage.
	MaxTokensPerBatch int `mapstructure:"max_tokens_per_batch" yaml:"max_tokens_per_batch"`
	// BufferActivation is the fraction of MessageTokens at which a
	// buffered chunk set activates.
	BufferActivation float64 `mapstructure:"buffer_activation" yaml:"buffer_activation"`
	// BlockAfterMultiplier derives block_after = multiplier * MessageTokens.
	// Zero means the stage has no hard block threshold.
	BlockAfterMultiplier float64 `mapstructure:"block_after_multiplier" yaml:"block_after_multiplier"`
	// BufferTokensAbsolute, when non-zero, is the buffer token ceiling as
	// an absolute count. Mutually exclusive with BufferTokensRatio; zero
	// in both means buffering is disabled for this stage.
	BufferTokensAbsolute int `mapstructure:"buffer_tokens_absolute" yaml:"buffer_tokens_absolute"`
	// BufferTokensRatio, when non-zero, is the buffer token ceiling as a
	// fraction of MessageTokens (0, 1].
	BufferTokensRatio float64 `mapstructure:"buffer_tokens_ratio" yaml:"buffer_tokens_ratio"`
}

// BufferTokens resolves the buffer token ceiling per §4.6: an absolute
// count takes precedence over a ratio of MessageTokens; (0, false) means
// buffering is disabled for this stage.
func (b OMTokenBudget) BufferTokens() (int, bool) {
	if b.BufferTokensAbsolute > 0 {
		return b.BufferTokensAbsolute, true
	}
	if b.BufferTokensRatio > 0 {
		return int(b.BufferTokensRatio * float64(b.MessageTokens)), true
	}
	return 0, false
}

// BlockAfter returns the absolute token count at which this stage refuses
// further buffering, or 0 if the stage has no block threshold configured.
func (b OMTokenBudget) BlockAfter() float64 {
	if b.BlockAfterMultiplier <= 0 {
		return 0
	}
	return b.BlockAfterMultiplier * float64(b.MessageTokens)
}

// Validate rejects non-finite, negative, or out-of-range budget values.
func (b OMTokenBudget) Validate() error {
	if b.MessageTokens <= 0 {
		return fmt.Errorf("message_tokens must be positive")
	}
	for _, v := range []float64{b.BufferActivation, b.BlockAfterMultiplier, b.BufferTokensRatio} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("buffer_activation, block_after_multiplier and buffer_tokens_ratio must be finite")
		}
	}
	if b.BufferActivation <= 0 || b.BufferActivation > 1 {
		return fmt.Errorf("buffer_activation must be in (0, 1]")
	}
	if b.BlockAfterMultiplier < 0 {
		return fmt.Errorf("block_after_multiplier cannot be negative")
	}
	if b.BufferTokensRatio < 0 || b.BufferTokensRatio > 1 {
		return fmt.Errorf("buffer_tokens_ratio must be in [0, 1]")
	}
	if b.BufferTokensAbsolute < 0 {
		return fmt.Errorf("buffer_tokens_absolute cannot be negative")
	}
	return nil
}

// OMConfig holds the observer/reflector token-budget configuration for the
// observation/reflection compression pipeline.
type OMConfig struct {
	Observer  OMTokenBudget `mapstructure:"observer" yaml:"observer"`
	Reflector OMTokenBudget `mapstructure:"reflector" yaml:"reflector"`
}

// TieringConfig controls how abstract/overview tier documents are
// synthesized and whether internal scopes persist them to disk.
type TieringConfig struct {
	// Synthesis selects the tier-document generation policy:
	// "deterministic" (default), "semantic", or "semantic-lite".
	Synthesis string `mapstructure:"synthesis" yaml:"synthesis"`
	// InternalTiers selects how internal scopes treat tier files:
	// "virtual" (default, in-memory only), "persist", "full", "files",
	// or "write".
	InternalTiers string `mapstructure:"internal_tiers" yaml:"internal_tiers"`
}

// EmbedderConfig configures the embedding backend used for DRR vector
// scoring. When Name is empty, DRR runs lexical-only.
type EmbedderConfig struct {
	// Name selects the embedder implementation ("" disables embeddings).
	Name string `mapstructure:"name" yaml:"name"`
	// ModelEndpoint is the embedding service URL.
	ModelEndpoint string `mapstructure:"model_endpoint" yaml:"model_endpoint"`
	// ModelName is the embedding model identifier.
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
	// ModelTimeoutMs bounds a single embedding call.
	ModelTimeoutMs int `mapstructure:"model_timeout_ms" yaml:"model_timeout_ms"`
	// Strict, when true, fails ingestion on embedder errors instead of
	// falling back to lexical-only indexing for that record.
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// LoggingConfig controls the human-operational console logger and the
// structured JSONL event log.
type LoggingConfig struct {
	// Level is the console logger level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the console logger's mirrored log file.
	File string `mapstructure:"file" yaml:"file"`
	// RequestLogFile is the path to the zerolog JSONL request/event log.
	RequestLogFile string `mapstructure:"request_log_file" yaml:"request_log_file"`
}

// Default returns a Config with sensible default values, matching the
// resolved defaults called out for each subsystem.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".axiomme")

	return &Config{
		DRR: DRRConfig{
			Alpha:                0.5,
			GlobalTopK:           3,
			MaxConvergenceRounds: 3,
			MaxDepth:             5,
			MaxNodes:             256,
		},
		Store: StoreConfig{
			RootDir:    root,
			SQLitePath: filepath.Join(root, ".axiomme_state.sqlite3"),
		},
		Queue: QueueConfig{
			ClaimBatchSize:       16,
			MaxAttempts:          8,
			MaxBackoffSeconds:    60,
			IdleCyclesBeforeStop: 3,
			PollInterval:         2 * time.Second,
		},
		OM: OMConfig{
			Observer: OMTokenBudget{
				MessageTokens:        30000,
				MaxTokensPerBatch:    10000,
				BufferActivation:     0.8,
				BlockAfterMultiplier: 1.2,
			},
			Reflector: OMTokenBudget{
				MessageTokens:    40000,
				BufferActivation: 0.5,
			},
		},
		Tiering: TieringConfig{
			Synthesis:     "deterministic",
			InternalTiers: "virtual",
		},
		Embedder: EmbedderConfig{
			Name:           "",
			ModelTimeoutMs: 10000,
			Strict:         false,
		},
		Logging: LoggingConfig{
			Level:          "info",
			File:           filepath.Join(root, "logs", "axiomme.log"),
			RequestLogFile: filepath.Join(root, "logs", "requests.jsonl"),
		},
	}
}

// Load reads configuration from the default location (~/.axiomme/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".axiomme", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: AXIOMME_EMBEDDER_MODEL_NAME, AXIOMME_DRR_ALPHA
	v.SetEnvPrefix("AXIOMME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.RootDir = expandPath(cfg.Store.RootDir)
	cfg.Store.SQLitePath = expandPath(cfg.Store.SQLitePath)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Logging.RequestLogFile = expandPath(cfg.Logging.RequestLogFile)

	applyEmbedderEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEmbedderEnvOverrides reads the raw AXIOMME_EMBEDDER_* env vars
// directly, since their flat naming doesn't follow the nested
// mapstructure-derived keys AutomaticEnv otherwise expects.
func applyEmbedderEnvOverrides(cfg *Config) {
	if v := os.Getenv("AXIOMME_EMBEDDER"); v != "" {
		cfg.Embedder.Name = v
	}
	if v := os.Getenv("AXIOMME_EMBEDDER_MODEL_ENDPOINT"); v != "" {
		cfg.Embedder.ModelEndpoint = v
	}
	if v := os.Getenv("AXIOMME_EMBEDDER_MODEL_NAME"); v != "" {
		cfg.Embedder.ModelName = v
	}
	if v := os.Getenv("AXIOMME_EMBEDDER_MODEL_TIMEOUT_MS"); v != "" {
		var ms int
		if _, err := fmt.Sscanf(v, "%d", &ms); err == nil {
			cfg.Embedder.ModelTimeoutMs = ms
		}
	}
	if v := os.Getenv("AXIOMME_EMBEDDER_STRICT"); v != "" {
		cfg.Embedder.Strict = isTruthy(v)
	}
	if v := os.Getenv("AXIOMME_TIER_SYNTHESIS"); v != "" {
		cfg.Tiering.Synthesis = v
	}
	if v := os.Getenv("AXIOMME_INTERNAL_TIERS"); v != "" {
		cfg.Tiering.InternalTiers = v
	}
}

// isTruthy implements the embedder-strict convention: truthy unless the
// value (case-insensitive) is one of off, none, 0, false.
func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "off", "none", "0", "false":
		return false
	default:
		return true
	}
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".axiomme", "config.yaml")
	return c.SaveToPath(configPath)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the AxiomMe data directory path (~/.axiomme).
func (c *Config) GetDataDir() string {
	if c.Store.RootDir != "" {
		return c.Store.RootDir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".axiomme")
}

// GetConfigPath returns the full path to the config file.
func (c *Config) GetConfigPath() string {
	return filepath.Join(c.GetDataDir(), "config.yaml")
}

// EnsureDirectories creates all necessary directories for AxiomMe operation:
// the store root and its content subdirectories, and the logging directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.GetDataDir(),
		filepath.Join(c.GetDataDir(), "resources"),
		filepath.Join(c.GetDataDir(), "user"),
		filepath.Join(c.GetDataDir(), "agent"),
		filepath.Join(c.GetDataDir(), "session"),
		filepath.Join(c.GetDataDir(), "queue"),
		filepath.Dir(c.Logging.File),
		filepath.Dir(c.Store.SQLitePath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.DRR.Alpha < 0 || c.DRR.Alpha > 1 {
		return fmt.Errorf("drr.alpha must be in [0, 1]")
	}
	if c.DRR.GlobalTopK < 1 {
		return fmt.Errorf("drr.global_topk must be at least 1")
	}
	if c.DRR.MaxConvergenceRounds < 0 {
		return fmt.Errorf("drr.max_convergence_rounds cannot be negative")
	}
	if c.DRR.MaxDepth < 1 {
		return fmt.Errorf("drr.max_depth must be at least 1")
	}
	if c.DRR.MaxNodes < 1 {
		return fmt.Errorf("drr.max_nodes must be at least 1")
	}

	if err := c.OM.Observer.Validate(); err != nil {
		return fmt.Errorf("om.observer: %w", err)
	}
	if err := c.OM.Reflector.Validate(); err != nil {
		return fmt.Errorf("om.reflector: %w", err)
	}

	validSynthesis := map[string]bool{"deterministic": true, "semantic": true, "semantic-lite": true}
	if !validSynthesis[c.Tiering.Synthesis] {
		return fmt.Errorf("invalid tiering.synthesis '%s'", c.Tiering.Synthesis)
	}

	validInternalTiers := map[string]bool{"virtual": true, "persist": true, "full": true, "files": true, "write": true}
	if !validInternalTiers[c.Tiering.InternalTiers] {
		return fmt.Errorf("invalid tiering.internal_tiers '%s'", c.Tiering.InternalTiers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.Queue.ClaimBatchSize < 1 {
		return fmt.Errorf("queue.claim_batch_size must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
