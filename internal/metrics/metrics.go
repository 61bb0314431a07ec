// Package metrics provides lightweight, lock-minimal performance counters
// for the privacy preservation service.
//
// Counters use sync/atomic so hot paths (span detection, token replacement)
// incur no mutex contention. Latency statistics use a single mutex per
// dimension; they are updated at most once per request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownEntityTypes lists all entity type strings the sanitizer can produce.
// Used to pre-populate per-type counter maps in New() so Snapshot() can
// iterate a fixed set without racing on map writes.
var knownEntityTypes = []string{
	"PERSON", "EMAIL", "PHONE", "CREDIT_CARD", "SSN", "ADDRESS",
	"ORG", "GPE", "DATE", "TIME", "MONEY", "PERCENT",
}

// Metrics holds all runtime counters for a running service instance.
// The zero value is NOT valid for the per-type counters — use New().
type Metrics struct {
	// Request counters
	RequestsTotal      atomic.Int64
	RequestsSanitized  atomic.Int64
	RequestsDetectOnly atomic.Int64

	// Batch counters
	BatchItems       atomic.Int64
	BatchItemsFailed atomic.Int64

	// Error counters
	ErrorsNER     atomic.Int64
	ErrorsPersist atomic.Int64

	// Replacement volume
	EntitiesReplaced atomic.Int64

	// Vault effectiveness (per entity type)
	// Maps are written only in New(); concurrent reads are safe without a lock.
	vaultHits   map[string]*atomic.Int64
	vaultMisses map[string]*atomic.Int64
	replaced    map[string]*atomic.Int64

	// NER dispatch counters
	NERDispatches atomic.Int64 // tagger calls issued
	NERDegraded   atomic.Int64 // sanitize calls that ran pattern-only

	// Latency statistics (mutex-guarded because they accumulate floats)
	sanitizeMu   sync.Mutex
	sanitizeStat latencyStats

	nerMu   sync.Mutex
	nerStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-type
// counter maps pre-populated for all known entity types.
func New() *Metrics {
	m := &Metrics{
		startTime:   time.Now(),
		vaultHits:   make(map[string]*atomic.Int64, len(knownEntityTypes)),
		vaultMisses: make(map[string]*atomic.Int64, len(knownEntityTypes)),
		replaced:    make(map[string]*atomic.Int64, len(knownEntityTypes)),
	}
	for _, t := range knownEntityTypes {
		m.vaultHits[t] = new(atomic.Int64)
		m.vaultMisses[t] = new(atomic.Int64)
		m.replaced[t] = new(atomic.Int64)
	}
	return m
}

// RecordVaultHit increments the vault-hit counter for the given entity type.
// Unknown types are silently ignored.
func (m *Metrics) RecordVaultHit(entityType string) {
	if c, ok := m.vaultHits[entityType]; ok {
		c.Add(1)
	}
}

// RecordVaultMiss increments the vault-miss counter for the given entity type.
// Unknown types are silently ignored.
func (m *Metrics) RecordVaultMiss(entityType string) {
	if c, ok := m.vaultMisses[entityType]; ok {
		c.Add(1)
	}
}

// RecordReplacement increments the replaced-entity counter for the given
// entity type and the global replacement total.
func (m *Metrics) RecordReplacement(entityType string) {
	m.EntitiesReplaced.Add(1)
	if c, ok := m.replaced[entityType]; ok {
		c.Add(1)
	}
}

// RecordSanitizeLatency records the duration of one sanitization pass.
func (m *Metrics) RecordSanitizeLatency(d time.Duration) {
	m.sanitizeMu.Lock()
	m.sanitizeStat.record(float64(d.Microseconds()) / 1000.0)
	m.sanitizeMu.Unlock()
}

// RecordNERLatency records the round-trip time to the NER tagger.
func (m *Metrics) RecordNERLatency(d time.Duration) {
	m.nerMu.Lock()
	m.nerStat.record(float64(d.Microseconds()) / 1000.0)
	m.nerMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.sanitizeMu.Lock()
	sanitize := m.sanitizeStat.snapshot()
	m.sanitizeMu.Unlock()

	m.nerMu.Lock()
	ner := m.nerStat.snapshot()
	m.nerMu.Unlock()

	return Snapshot{
		Requests: RequestSnapshot{
			Total:            m.RequestsTotal.Load(),
			Sanitized:        m.RequestsSanitized.Load(),
			DetectOnly:       m.RequestsDetectOnly.Load(),
			BatchItems:       m.BatchItems.Load(),
			BatchItemsFailed: m.BatchItemsFailed.Load(),
		},
		Errors: ErrorSnapshot{
			NER:     m.ErrorsNER.Load(),
			Persist: m.ErrorsPersist.Load(),
		},
		Entities: EntitySnapshot{
			Replaced:       m.EntitiesReplaced.Load(),
			ReplacedByType: nonZero(m.replaced),
			VaultHits:      nonZero(m.vaultHits),
			VaultMisses:    nonZero(m.vaultMisses),
			NERDispatches:  m.NERDispatches.Load(),
			NERDegraded:    m.NERDegraded.Load(),
		},
		Latency: LatencyGroup{
			SanitizeMs: sanitize,
			NERMs:      ner,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// nonZero copies a per-type counter map, keeping only types with activity.
func nonZero(src map[string]*atomic.Int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for t, c := range src {
		if n := c.Load(); n > 0 {
			out[t] = n
		}
	}
	return out
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot `json:"requests"`
	Errors     ErrorSnapshot   `json:"errors"`
	Entities   EntitySnapshot  `json:"entities"`
	Latency    LatencyGroup    `json:"latency"`
	UptimeSecs float64         `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total            int64 `json:"total"`
	Sanitized        int64 `json:"sanitized"`
	DetectOnly       int64 `json:"detectOnly"`
	BatchItems       int64 `json:"batchItems"`
	BatchItemsFailed int64 `json:"batchItemsFailed"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	NER     int64 `json:"ner"`
	Persist int64 `json:"persist"`
}

// EntitySnapshot holds replacement volume and vault effectiveness counters.
type EntitySnapshot struct {
	Replaced int64 `json:"replaced"`

	// Per-type counters (only types with non-zero counts appear).
	ReplacedByType map[string]int64 `json:"replacedByType,omitempty"`
	VaultHits      map[string]int64 `json:"vaultHits,omitempty"`
	VaultMisses    map[string]int64 `json:"vaultMisses,omitempty"`

	// NER dispatch and degradation counters.
	NERDispatches int64 `json:"nerDispatches"`
	NERDegraded   int64 `json:"nerDegraded"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	SanitizeMs LatencySnapshot `json:"sanitizeMs"`
	NERMs      LatencySnapshot `json:"nerMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
