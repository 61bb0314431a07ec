// Package privacy detects and replaces PII in text.
// Detection runs in two stages:
//  1. Regex pass for structured identifiers (email, phone, credit card,
//     SSN, money, percent)
//  2. External NER pass for unstructured entities (person names,
//     organizations, locations, dates, etc.)
//
// Both stages emit candidate spans that are merged into one ordered,
// non-overlapping set; each retained span is then replaced either by a
// keyed deterministic token from the vault or, for structured numeric
// types, by a format-preserving digit substitution. Replacement splices
// right to left so offsets of not-yet-replaced spans stay valid.
//
// The NER pass is best-effort: if the tagger is unreachable the call
// degrades to pattern-only detection instead of failing.
package privacy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pellucid-privacy-api/internal/logger"
	"pellucid-privacy-api/internal/metrics"
)

// Entity is one audit record of a performed replacement.
type Entity struct {
	Original    string     `json:"original"`
	Replacement string     `json:"replacement"`
	Type        EntityType `json:"entityType"`
	Confidence  float64    `json:"confidence"`
	Start       int        `json:"startOffset"`
	End         int        `json:"endOffset"`
}

// Result is the outcome of one sanitization pass.
type Result struct {
	Sanitized    string   `json:"sanitizedText"`
	PrivacyScore float64  `json:"privacyScore"`
	Entities     []Entity `json:"entities"`

	// Degraded is true when the model detector did not contribute
	// (tagger disabled or unreachable); detection was pattern-only.
	Degraded bool `json:"degraded"`

	// Durable is false when at least one new vault entry could not be
	// persisted. The returned tokens are still correct — derivation is a
	// pure function of the key — but the mapping may be missing from the
	// store after a restart.
	Durable bool `json:"durable"`

	ProcessingMs float64 `json:"processingTimeMs"`
}

// BatchResult is one item of a batch sanitization. Exactly one of Result
// and Error is set; on error the original, unmasked text is carried so the
// caller can decide what to do with it. Returning unmasked text on failure
// is a deliberate fail-open trade-off that callers must account for.
type BatchResult struct {
	Result       *Result `json:"result,omitempty"`
	Error        string  `json:"error,omitempty"`
	OriginalText string  `json:"originalText,omitempty"`
}

// Service orchestrates detection, span resolution, and replacement.
// All state it mutates lives in the injected Store; a Service is safe for
// concurrent use.
type Service struct {
	patterns []pattern
	tagger   Tagger
	vault    *Vault

	batchConcurrency int

	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewService creates a sanitization service. tagger may be nil to run
// pattern-only. batchConcurrency bounds parallel items in SanitizeBatch;
// values < 1 are clamped to 1.
func NewService(secretKey []byte, store Store, tagger Tagger, log *logger.Logger, m *metrics.Metrics, batchConcurrency int) *Service {
	if batchConcurrency < 1 {
		batchConcurrency = 1
	}
	return &Service{
		patterns:         compilePatterns(log),
		tagger:           tagger,
		vault:            NewVault(secretKey, store, m),
		batchConcurrency: batchConcurrency,
		log:              log,
		metrics:          m,
	}
}

// Vault exposes the service's token vault (for stats reporting).
func (s *Service) Vault() *Vault { return s.vault }

// TaggerEnabled reports whether a model detector is configured.
func (s *Service) TaggerEnabled() bool { return s.tagger != nil }

// detect runs both detectors under the level's filter and resolves the
// union into a non-overlapping span set. modelUsed reports whether the NER
// pass contributed.
func (s *Service) detect(ctx context.Context, text string, cfg levelConfig) (spans []SensitiveSpan, modelUsed bool) {
	spans = detectPatterns(s.patterns, text, cfg)
	modelSpans, modelUsed := s.detectModel(ctx, text, cfg)
	spans = append(spans, modelSpans...)
	return resolveSpans(spans), modelUsed
}

// Detect returns the resolved sensitive spans for the text without
// performing any replacement. Replacements are filled in with the derived
// token for inspection, but nothing is written to the vault.
func (s *Service) Detect(ctx context.Context, text string, level PrivacyLevel) ([]SensitiveSpan, error) {
	cfg, ok := levelConfigs[level]
	if !ok {
		return nil, fmt.Errorf("unknown privacy level %q", level)
	}
	if s.metrics != nil {
		s.metrics.RequestsTotal.Add(1)
		s.metrics.RequestsDetectOnly.Add(1)
	}

	spans, _ := s.detect(ctx, text, cfg)
	for i := range spans {
		spans[i].Replacement = s.vault.DeriveToken(spans[i].Type, spans[i].Text)
	}
	return spans, nil
}

// Sanitize masks all detected PII in the text.
//
// Retained spans are replaced from the highest start offset down, so each
// splice leaves the offsets of all remaining (lower) spans intact. This
// right-to-left order is load-bearing: replacing left to right would shift
// every later offset by the length delta of each substitution.
func (s *Service) Sanitize(ctx context.Context, text string, level PrivacyLevel, preserveFormat bool) (*Result, error) {
	cfg, ok := levelConfigs[level]
	if !ok {
		return nil, fmt.Errorf("unknown privacy level %q", level)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RequestsTotal.Add(1)
		s.metrics.RequestsSanitized.Add(1)
	}

	spans, modelUsed := s.detect(ctx, text, cfg)

	// Replace right to left.
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start > spans[j].Start })

	result := &Result{
		Sanitized: text,
		Degraded:  !modelUsed,
		Durable:   true,
		Entities:  make([]Entity, 0, len(spans)),
	}
	if !modelUsed && s.metrics != nil {
		s.metrics.NERDegraded.Add(1)
	}

	var sb strings.Builder
	for _, span := range spans {
		replacement, ok := "", false
		if preserveFormat {
			replacement, ok = formatPreserving(span.Type, span.Text)
		}
		if !ok {
			token, err := s.vault.GetOrCreate(span.Type, span.Text)
			if err != nil {
				// Token is still valid; only durability is in question.
				s.log.Warnf("vault_persist", "entry not durable: %v", err)
				result.Durable = false
			}
			replacement = token
		}

		sb.Reset()
		sb.Grow(len(result.Sanitized) - (span.End - span.Start) + len(replacement))
		sb.WriteString(result.Sanitized[:span.Start])
		sb.WriteString(replacement)
		sb.WriteString(result.Sanitized[span.End:])
		result.Sanitized = sb.String()

		result.Entities = append(result.Entities, Entity{
			Original:    span.Text,
			Replacement: replacement,
			Type:        span.Type,
			Confidence:  span.Confidence,
			Start:       span.Start,
			End:         span.End,
		})
		if s.metrics != nil {
			s.metrics.RecordReplacement(string(span.Type))
		}
	}

	// Saturating heuristic, not a calibrated probability.
	result.PrivacyScore = privacyScore(len(spans))

	elapsed := time.Since(start)
	result.ProcessingMs = float64(elapsed.Microseconds()) / 1000.0
	if s.metrics != nil {
		s.metrics.RecordSanitizeLatency(elapsed)
	}
	s.log.Debugf("sanitize", "%d entities replaced [%s]", len(spans), level)

	return result, nil
}

// privacyScore maps the number of masked entities to a monotonically
// increasing, saturating score in [0.5, 1.0].
func privacyScore(entities int) float64 {
	score := 0.5 + 0.1*float64(entities)
	if score > 1.0 {
		return 1.0
	}
	return score
}

// SanitizeBatch sanitizes each text independently with bounded
// concurrency. One item's failure is isolated: its slot carries the error
// and the original text, and the remaining items are unaffected.
func (s *Service) SanitizeBatch(ctx context.Context, texts []string, level PrivacyLevel, preserveFormat bool) []BatchResult {
	results := make([]BatchResult, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			if s.metrics != nil {
				s.metrics.BatchItems.Add(1)
			}
			res, err := s.Sanitize(ctx, text, level, preserveFormat)
			if err != nil {
				s.log.Warnf("batch_item", "item %d failed, returning original text: %v", i, err)
				if s.metrics != nil {
					s.metrics.BatchItemsFailed.Add(1)
				}
				results[i] = BatchResult{Error: err.Error(), OriginalText: text}
				return nil // isolate the failure; never abort the batch
			}
			results[i] = BatchResult{Result: res}
			return nil
		})
	}
	_ = g.Wait() // workers always return nil

	return results
}
