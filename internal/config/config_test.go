package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DRR.Alpha != 0.5 {
		t.Errorf("expected default alpha 0.5, got %v", cfg.DRR.Alpha)
	}
	if cfg.DRR.GlobalTopK != 3 {
		t.Errorf("expected default global_topk 3, got %d", cfg.DRR.GlobalTopK)
	}
	if cfg.DRR.MaxConvergenceRounds != 3 {
		t.Errorf("expected default max_convergence_rounds 3, got %d", cfg.DRR.MaxConvergenceRounds)
	}
	if cfg.DRR.MaxDepth != 5 {
		t.Errorf("expected default max_depth 5, got %d", cfg.DRR.MaxDepth)
	}
	if cfg.DRR.MaxNodes != 256 {
		t.Errorf("expected default max_nodes 256, got %d", cfg.DRR.MaxNodes)
	}

	if cfg.OM.Observer.MessageTokens != 30000 {
		t.Errorf("expected observer message_tokens 30000, got %d", cfg.OM.Observer.MessageTokens)
	}
	if cfg.OM.Observer.MaxTokensPerBatch != 10000 {
		t.Errorf("expected observer max_tokens_per_batch 10000, got %d", cfg.OM.Observer.MaxTokensPerBatch)
	}
	if cfg.OM.Observer.BufferActivation != 0.8 {
		t.Errorf("expected observer buffer_activation 0.8, got %v", cfg.OM.Observer.BufferActivation)
	}
	if cfg.OM.Observer.BlockAfter() != 36000 {
		t.Errorf("expected observer block_after 36000, got %v", cfg.OM.Observer.BlockAfter())
	}

	if cfg.OM.Reflector.MessageTokens != 40000 {
		t.Errorf("expected reflector observation_tokens 40000, got %d", cfg.OM.Reflector.MessageTokens)
	}
	if cfg.OM.Reflector.BufferActivation != 0.5 {
		t.Errorf("expected reflector buffer_activation 0.5, got %v", cfg.OM.Reflector.BufferActivation)
	}
	if cfg.OM.Reflector.BlockAfter() != 0 {
		t.Errorf("expected reflector block_after 0 (unset multiplier), got %v", cfg.OM.Reflector.BlockAfter())
	}

	if cfg.Tiering.Synthesis != "deterministic" {
		t.Errorf("expected default tier synthesis 'deterministic', got '%s'", cfg.Tiering.Synthesis)
	}
	if cfg.Tiering.InternalTiers != "virtual" {
		t.Errorf("expected default internal tiers 'virtual', got '%s'", cfg.Tiering.InternalTiers)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level 'info', got '%s'", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".axiomme", "config.yaml")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	if cfg.DRR.Alpha != 0.5 {
		t.Errorf("expected default alpha 0.5, got %v", cfg.DRR.Alpha)
	}

	cfg2, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load existing config: %v", err)
	}

	if cfg2.DRR.GlobalTopK != cfg.DRR.GlobalTopK {
		t.Error("config values changed on reload")
	}
}

func TestSaveToPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".axiomme", "config.yaml")

	cfg := Default()
	cfg.DRR.Alpha = 0.75
	cfg.Embedder.Name = "local-minilm"

	if err := cfg.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}

	if loaded.DRR.Alpha != 0.75 {
		t.Errorf("expected alpha 0.75, got %v", loaded.DRR.Alpha)
	}
	if loaded.Embedder.Name != "local-minilm" {
		t.Errorf("expected embedder name 'local-minilm', got '%s'", loaded.Embedder.Name)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := Default()
	dataDir := cfg.GetDataDir()

	homeDir, _ := os.UserHomeDir()
	expected := filepath.Join(homeDir, ".axiomme")

	if dataDir != expected {
		t.Errorf("expected data dir '%s', got '%s'", expected, dataDir)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &Config{
		Store: StoreConfig{
			RootDir:    filepath.Join(tempDir, ".axiomme"),
			SQLitePath: filepath.Join(tempDir, ".axiomme", "state.sqlite3"),
		},
		Logging: LoggingConfig{
			File: filepath.Join(tempDir, ".axiomme", "logs", "axiomme.log"),
		},
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("failed to ensure directories: %v", err)
	}

	dirs := []string{
		filepath.Join(tempDir, ".axiomme"),
		filepath.Join(tempDir, ".axiomme", "resources"),
		filepath.Join(tempDir, ".axiomme", "queue"),
		filepath.Join(tempDir, ".axiomme", "logs"),
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory '%s' was not created", dir)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			cfg:     Default(),
			wantErr: false,
		},
		{
			name: "alpha out of range",
			cfg: func() *Config {
				c := Default()
				c.DRR.Alpha = 1.5
				return c
			}(),
			wantErr: true,
		},
		{
			name: "global_topk zero",
			cfg: func() *Config {
				c := Default()
				c.DRR.GlobalTopK = 0
				return c
			}(),
			wantErr: true,
		},
		{
			name: "invalid tier synthesis",
			cfg: func() *Config {
				c := Default()
				c.Tiering.Synthesis = "invalid"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "invalid internal tiers",
			cfg: func() *Config {
				c := Default()
				c.Tiering.InternalTiers = "invalid"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: func() *Config {
				c := Default()
				c.Logging.Level = "invalid"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "observer buffer_activation out of range",
			cfg: func() *Config {
				c := Default()
				c.OM.Observer.BufferActivation = 1.5
				return c
			}(),
			wantErr: true,
		},
		{
			name: "queue claim_batch_size zero",
			cfg: func() *Config {
				c := Default()
				c.Queue.ClaimBatchSize = 0
				return c
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "path with tilde",
			input:    "~/.axiomme/config.yaml",
			expected: filepath.Join(homeDir, ".axiomme", "config.yaml"),
		},
		{
			name:     "absolute path",
			input:    "/usr/local/bin/axiomme",
			expected: "/usr/local/bin/axiomme",
		},
		{
			name:     "relative path",
			input:    "./config.yaml",
			expected: "./config.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%s) = %s, expected %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestEmbedderEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	cfg := Default()
	if err := cfg.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	os.Setenv("AXIOMME_EMBEDDER", "remote-clip")
	os.Setenv("AXIOMME_EMBEDDER_STRICT", "off")
	defer os.Unsetenv("AXIOMME_EMBEDDER")
	defer os.Unsetenv("AXIOMME_EMBEDDER_STRICT")

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Embedder.Name != "remote-clip" {
		t.Errorf("expected embedder name 'remote-clip' from env, got '%s'", loaded.Embedder.Name)
	}
	if loaded.Embedder.Strict {
		t.Error("expected embedder strict to be false for 'off'")
	}
}

func TestIsTruthy(t *testing.T) {
	falsy := []string{"off", "none", "0", "false", "OFF", "False"}
	for _, v := range falsy {
		if isTruthy(v) {
			t.Errorf("isTruthy(%q) = true, want false", v)
		}
	}

	truthy := []string{"on", "1", "true", "yes"}
	for _, v := range truthy {
		if !isTruthy(v) {
			t.Errorf("isTruthy(%q) = false, want true", v)
		}
	}
}
