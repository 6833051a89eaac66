// Package config provides configuration management for AxiomMe.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.axiomme/config.yaml and is automatically
// created with sensible defaults on first use. The file structure mirrors
// the Go structs defined in this package.
//
// # Environment Variables
//
// Most configuration values can be overridden using environment variables
// with the AXIOMME_ prefix. Nested fields are separated by underscores. The
// embedder and tiering settings use their own flat env var names
// (AXIOMME_EMBEDDER, AXIOMME_EMBEDDER_MODEL_ENDPOINT, AXIOMME_EMBEDDER_MODEL_NAME,
// AXIOMME_EMBEDDER_MODEL_TIMEOUT_MS, AXIOMME_EMBEDDER_STRICT, AXIOMME_TIER_SYNTHESIS,
// AXIOMME_INTERNAL_TIERS) applied after Viper unmarshals the file.
//
// Examples:
//   - AXIOMME_DRR_ALPHA=0.7
//   - AXIOMME_LOGGING_LEVEL=debug
//   - AXIOMME_EMBEDDER=local-minilm
//
// # Usage Example
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/axiomme/axiomme/internal/config"
//	)
//
//	func main() {
//	    cfg, err := config.Load()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    if err := cfg.EnsureDirectories(); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    if err := cfg.Validate(); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    log.Printf("DRR alpha: %v, global_topk: %d", cfg.DRR.Alpha, cfg.DRR.GlobalTopK)
//	}
//
// # Configuration Sections
//
//   - DRR: hybrid retrieval scoring weight and traversal budgets
//   - Store: on-disk root layout and the transactional state file
//   - Queue: outbox claim batching, retry, and daemon idle policy
//   - OM: observer/reflector token budgets for the observation pipeline
//   - Tiering: tier-document synthesis and internal-scope persistence policy
//   - Embedder: embedding backend selection and timeouts
//   - Logging: console logger level/file and the structured JSONL event log
//
// # Path Expansion
//
// The package automatically expands ~ to the user's home directory in
// all path configurations, making config files portable across systems.
//
// # Thread Safety
//
// Config instances are not thread-safe. If you need concurrent access,
// wrap the config in a sync.RWMutex or create separate instances.
package config
