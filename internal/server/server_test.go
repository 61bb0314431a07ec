package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"pellucid-privacy-api/internal/config"
	"pellucid-privacy-api/internal/logger"
	"pellucid-privacy-api/internal/metrics"
	"pellucid-privacy-api/internal/privacy"
)

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	cfg := &config.Config{
		Port:            8001,
		BindAddress:     "127.0.0.1",
		ManagementToken: token,
		SecretKey:       "test-secret-key",
	}
	log := logger.New("TEST", "error")
	m := metrics.New()
	svc := privacy.NewService([]byte(cfg.SecretKey), privacy.NewMemoryStore(), nil, log, m, 2)
	return New(cfg, svc, m, log)
}

func TestHandleAnonymize(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"text":"mail john@example.com and call 555-123-4567","privacyLevel":"standard"}`

	req := httptest.NewRequest(http.MethodPost, "/anonymize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Sanitized    string  `json:"sanitizedText"`
		PrivacyScore float64 `json:"privacyScore"`
		Entities     []any   `json:"entities"`
		PrivacyLevel string  `json:"privacyLevel"`
		Durable      bool    `json:"durable"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(resp.Sanitized, "john@example.com") {
		t.Errorf("email not masked: %q", resp.Sanitized)
	}
	// preserveFormat defaults to true: the phone keeps its shape.
	if !strings.Contains(resp.Sanitized, "888-456-7890") {
		t.Errorf("phone not shape-preserved: %q", resp.Sanitized)
	}
	if len(resp.Entities) != 2 {
		t.Errorf("entities = %d, want 2", len(resp.Entities))
	}
	if resp.PrivacyScore != 0.7 {
		t.Errorf("privacyScore = %v, want 0.7", resp.PrivacyScore)
	}
	if resp.PrivacyLevel != "standard" {
		t.Errorf("privacyLevel = %q", resp.PrivacyLevel)
	}
	if !resp.Durable {
		t.Error("durable = false with memory store")
	}
}

func TestHandleAnonymizeValidation(t *testing.T) {
	s := newTestServer(t, "")
	h := s.Handler()

	cases := []struct {
		name, method, body string
		want               int
	}{
		{"get rejected", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"empty body", http.MethodPost, "", http.StatusBadRequest},
		{"missing text", http.MethodPost, `{"privacyLevel":"standard"}`, http.StatusBadRequest},
		{"bad level", http.MethodPost, `{"text":"x","privacyLevel":"paranoid"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, "/anonymize", strings.NewReader(c.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Errorf("%s: status = %d, want %d", c.name, rec.Code, c.want)
		}
	}
}

func TestHandleBatchAnonymize(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"texts":["a@b.com","nothing here"],"privacyLevel":"minimal","preserveFormat":false}`

	req := httptest.NewRequest(http.MethodPost, "/batch-anonymize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []struct {
			Result *privacy.Result `json:"result"`
			Error  string          `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Results[0].Error != "" || resp.Results[0].Result == nil {
		t.Errorf("item 0 failed: %+v", resp.Results[0])
	}
	if strings.Contains(resp.Results[0].Result.Sanitized, "a@b.com") {
		t.Errorf("item 0 not masked: %q", resp.Results[0].Result.Sanitized)
	}
	if resp.Results[1].Result.Sanitized != "nothing here" {
		t.Errorf("clean item changed: %q", resp.Results[1].Result.Sanitized)
	}
}

func TestHandleDetected(t *testing.T) {
	s := newTestServer(t, "")

	q := url.Values{"text": {"ssn 123-45-6789"}, "privacyLevel": {"standard"}}
	req := httptest.NewRequest(http.MethodGet, "/entities/detected?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count    int `json:"count"`
		Entities []struct {
			Type        string `json:"entityType"`
			Replacement string `json:"replacement"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Entities) != 1 {
		t.Fatalf("count = %d, entities = %d", resp.Count, len(resp.Entities))
	}
	if resp.Entities[0].Type != "SSN" {
		t.Errorf("entityType = %q, want SSN", resp.Entities[0].Type)
	}
	if !strings.HasPrefix(resp.Entities[0].Replacement, "<SSN:") {
		t.Errorf("replacement = %q", resp.Entities[0].Replacement)
	}
}

func TestHandleDetectedMissingText(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/entities/detected", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, "sekrit")
	h := s.Handler()

	// No token: rejected.
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /stats: status = %d, want 401", rec.Code)
	}

	// Wrong token: rejected.
	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	// Correct token: accepted.
	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/health with auth enabled: status = %d, want 200", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		TotalMappings     int      `json:"totalMappings"`
		SupportedEntities []string `json:"supportedEntities"`
		PrivacyLevels     []string `json:"privacyLevels"`
		ServiceStatus     string   `json:"serviceStatus"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.SupportedEntities) != 12 {
		t.Errorf("supportedEntities = %d, want 12", len(resp.SupportedEntities))
	}
	if len(resp.PrivacyLevels) != 3 {
		t.Errorf("privacyLevels = %d, want 3", len(resp.PrivacyLevels))
	}
	if resp.ServiceStatus != "healthy" {
		t.Errorf("serviceStatus = %q", resp.ServiceStatus)
	}
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(t, "")

	// Drive one request through so counters move.
	body := `{"text":"mail a@b.com"}`
	req := httptest.NewRequest(http.MethodPost, "/anonymize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymize status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Requests.Sanitized != 1 {
		t.Errorf("sanitized = %d, want 1", snap.Requests.Sanitized)
	}
	if snap.Entities.Replaced != 1 {
		t.Errorf("replaced = %d, want 1", snap.Entities.Replaced)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v", resp["status"])
	}
	if resp["nerEnabled"] != false {
		t.Errorf("nerEnabled = %v, want false with nil tagger", resp["nerEnabled"])
	}
}
