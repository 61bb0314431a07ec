// Package config loads and holds all service configuration.
// Settings are read in order of increasing precedence: built-in defaults,
// privacy-config.json, a .env file, then real environment variables.
//
// The HMAC secret key is deliberately env-only (PRIVACY_SECRET_KEY): it must
// never land in a config file that could be committed, and an unset key is a
// fatal error — there is no default key.
package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ErrNoSecretKey is returned by Load when PRIVACY_SECRET_KEY is unset.
// Token derivation without a stable key would either be non-deterministic
// across restarts or fall back to a well-known key; both are unacceptable,
// so startup fails instead.
var ErrNoSecretKey = errors.New("PRIVACY_SECRET_KEY is not set")

// Config holds the full service configuration.
type Config struct {
	Port        int    `json:"port"`
	BindAddress string `json:"bindAddress"`

	// ManagementToken, when non-empty, gates all endpoints except /health
	// behind bearer-token auth.
	ManagementToken string `json:"managementToken"`

	// TokenStorePath is the bbolt file backing the token vault.
	// Empty means an in-memory vault (tokens do not survive restarts).
	TokenStorePath string `json:"tokenStorePath"`

	NEREndpoint string `json:"nerEndpoint"`
	UseNER      bool   `json:"useNER"`

	LogLevel         string `json:"logLevel"`
	BatchConcurrency int    `json:"batchConcurrency"`

	// SecretKey is the HMAC key for deterministic token derivation.
	// Loaded only from the environment, never from the JSON file.
	SecretKey string `json:"-"`
}

// Load returns config with defaults overridden by privacy-config.json,
// .env, and environment variables. It fails closed if no secret key is
// configured.
func Load() (*Config, error) {
	cfg := defaults()
	loadFile(cfg, "privacy-config.json")
	_ = godotenv.Load() // .env is optional
	loadEnv(cfg)

	if cfg.SecretKey == "" {
		return nil, ErrNoSecretKey
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:             8001,
		BindAddress:      "127.0.0.1",
		TokenStorePath:   "token-vault.db",
		NEREndpoint:      "http://localhost:8090",
		UseNER:           true,
		LogLevel:         "info",
		BatchConcurrency: 4,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("PRIVACY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("TOKEN_STORE_PATH"); v != "" {
		cfg.TokenStorePath = v
	}
	if v := os.Getenv("NER_ENDPOINT"); v != "" {
		cfg.NEREndpoint = v
	}
	if v := os.Getenv("USE_NER"); v == "false" {
		cfg.UseNER = false
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchConcurrency = n
		}
	}
	if v := os.Getenv("PRIVACY_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
}
