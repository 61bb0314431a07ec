// Command privacyd is the privacy preservation API server.
//
// It detects PII in submitted text using regex patterns plus an external
// NER tagger, and replaces each detected span with a keyed deterministic
// token (or a format-preserving digit substitution for structured numeric
// identifiers). The value → token mapping is persisted in an embedded
// bbolt vault so identical values resolve identically across restarts.
//
// Configuration comes from privacy-config.json, .env, and environment
// variables. PRIVACY_SECRET_KEY is mandatory: the server refuses to start
// without it rather than falling back to a well-known key.
//
// Usage:
//
//	PRIVACY_SECRET_KEY=$(openssl rand -hex 32) ./privacyd
//
//	# Pattern-only mode (no NER sidecar)
//	PRIVACY_SECRET_KEY=... USE_NER=false ./privacyd
//
//	# Custom port and vault location
//	PRIVACY_SECRET_KEY=... PRIVACY_PORT=9001 TOKEN_STORE_PATH=/var/lib/privacyd/vault.db ./privacyd
package main

import (
	"errors"
	"fmt"
	"os"

	"pellucid-privacy-api/internal/config"
	"pellucid-privacy-api/internal/logger"
	"pellucid-privacy-api/internal/metrics"
	"pellucid-privacy-api/internal/privacy"
	"pellucid-privacy-api/internal/server"
)

func main() {
	log := logger.New("PRIVACYD", "info")

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrNoSecretKey) {
			log.Fatal("config", "PRIVACY_SECRET_KEY is not set; refusing to start with a default key")
		}
		log.Fatalf("config", "load: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	printBanner(cfg)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatalf("vault", "open store: %v", err)
	}
	defer store.Close() //nolint:errcheck // best-effort close on shutdown

	var tagger privacy.Tagger
	if cfg.UseNER {
		tagger = privacy.NewHTTPTagger(cfg.NEREndpoint)
	}

	m := metrics.New()
	svc := privacy.NewService([]byte(cfg.SecretKey), store, tagger,
		logger.New("PRIVACY", cfg.LogLevel), m, cfg.BatchConcurrency)

	srv := server.New(cfg, svc, m, logger.New("SERVER", cfg.LogLevel))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("serve", "%v", err)
	}
}

// openStore opens the bbolt vault store, or an in-memory store when no
// path is configured (tokens then do not survive restarts).
func openStore(cfg *config.Config, log *logger.Logger) (privacy.Store, error) {
	if cfg.TokenStorePath == "" {
		log.Warn("vault", "no token store path configured; vault is in-memory only")
		return privacy.NewMemoryStore(), nil
	}
	store, err := privacy.NewBoltStore(cfg.TokenStorePath)
	if err != nil {
		return nil, err
	}
	log.Infof("vault", "token vault opened at %s (%d mappings)", cfg.TokenStorePath, store.Len())
	return store, nil
}

func printBanner(cfg *config.Config) {
	vault := cfg.TokenStorePath
	if vault == "" {
		vault = "(in-memory)"
	}
	ner := "disabled"
	if cfg.UseNER {
		ner = cfg.NEREndpoint
	}

	fmt.Fprintf(os.Stderr, `
╔══════════════════════════════════════════════════════╗
║          Privacy Preservation API  (Go)              ║
╚══════════════════════════════════════════════════════╝
  Listen address  : %s:%d
  Token vault     : %s
  NER tagger      : %s
  Log level       : %s

  Check status:
    curl http://%s:%d/health
`, cfg.BindAddress, cfg.Port,
		vault, ner, cfg.LogLevel,
		cfg.BindAddress, cfg.Port)
}
