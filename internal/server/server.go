// Package server exposes the sanitization core over HTTP.
//
// Endpoints:
//
//	GET  /health             - liveness, NER availability (unauthenticated)
//	POST /anonymize          - sanitize one text
//	POST /batch-anonymize    - sanitize many texts, per-item isolation
//	GET  /entities/detected  - detection without replacement (debugging)
//	GET  /stats              - vault size, supported entities and levels
//	GET  /metrics            - runtime counters snapshot
package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pellucid-privacy-api/internal/config"
	"pellucid-privacy-api/internal/logger"
	"pellucid-privacy-api/internal/metrics"
	"pellucid-privacy-api/internal/privacy"
)

// Server is the privacy API server.
type Server struct {
	cfg       *config.Config
	svc       *privacy.Service
	metrics   *metrics.Metrics
	log       *logger.Logger
	startTime time.Time
	token     string // bearer token for auth; empty = no auth
}

// New creates an API server around the given sanitization service.
func New(cfg *config.Config, svc *privacy.Service, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		metrics:   m,
		log:       log,
		startTime: time.Now(),
		token:     cfg.ManagementToken,
	}
	if s.token != "" {
		log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/anonymize", s.handleAnonymize)
	mux.HandleFunc("/batch-anonymize", s.handleBatchAnonymize)
	mux.HandleFunc("/entities/detected", s.handleDetected)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
// /health stays open so orchestrators can probe without credentials.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request/response shapes ---

type anonymizeRequest struct {
	Text         string `json:"text"`
	PrivacyLevel string `json:"privacyLevel"`
	// Pointer so an absent field defaults to true.
	PreserveFormat *bool `json:"preserveFormat"`
}

type anonymizeResponse struct {
	*privacy.Result
	PrivacyLevel privacy.PrivacyLevel `json:"privacyLevel"`
}

type batchRequest struct {
	Texts          []string `json:"texts"`
	PrivacyLevel   string   `json:"privacyLevel"`
	PreserveFormat *bool    `json:"preserveFormat"`
}

func preserveFormat(p *bool) bool {
	if p == nil {
		return true
	}
	return *p
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.log, w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"service":    "privacy-preservation",
		"nerEnabled": s.svc.TaggerEnabled(),
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "invalid request: need {\"text\":\"...\"}", http.StatusBadRequest)
		return
	}
	level, err := privacy.ParsePrivacyLevel(req.PrivacyLevel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	s.log.Debugf("anonymize", "[%s] %d bytes, level=%s", requestID, len(req.Text), level)

	result, err := s.svc.Sanitize(r.Context(), req.Text, level, preserveFormat(req.PreserveFormat))
	if err != nil {
		s.log.Errorf("anonymize", "[%s] %v", requestID, err)
		http.Error(w, fmt.Sprintf("privacy preservation failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(s.log, w, http.StatusOK, anonymizeResponse{Result: result, PrivacyLevel: level})
}

func (s *Server) handleBatchAnonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Texts) == 0 {
		http.Error(w, "invalid request: need {\"texts\":[\"...\"]}", http.StatusBadRequest)
		return
	}
	level, err := privacy.ParsePrivacyLevel(req.PrivacyLevel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	s.log.Debugf("batch_anonymize", "[%s] %d texts, level=%s", requestID, len(req.Texts), level)

	results := s.svc.SanitizeBatch(r.Context(), req.Texts, level, preserveFormat(req.PreserveFormat))
	writeJSON(s.log, w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleDetected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	text := r.URL.Query().Get("text")
	if text == "" {
		http.Error(w, "missing text parameter", http.StatusBadRequest)
		return
	}
	level, err := privacy.ParsePrivacyLevel(r.URL.Query().Get("privacyLevel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	spans, err := s.svc.Detect(r.Context(), text, level)
	if err != nil {
		http.Error(w, fmt.Sprintf("detection failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]any{
		"text":     text,
		"entities": spans,
		"count":    len(spans),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.log, w, http.StatusOK, map[string]any{
		"totalMappings":     s.svc.Vault().Size(),
		"supportedEntities": privacy.AllEntityTypes,
		"privacyLevels":     []privacy.PrivacyLevel{privacy.LevelMinimal, privacy.LevelStandard, privacy.LevelStrict},
		"nerEnabled":        s.svc.TaggerEnabled(),
		"serviceStatus":     "healthy",
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(s.log, w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(log *logger.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write_json", "encode error: %v", err)
	}
}

// ListenAndServe starts the API server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	s.log.Infof("listen", "privacy API on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
