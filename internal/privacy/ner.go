package privacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// nerConfidence is assigned to every model-derived span. The tagger does
// not expose calibrated scores, so a fixed default is used; it sits below
// patternConfidence so structured matches win overlap tie-breaks.
const nerConfidence = 0.9

// TaggedEntity is one named entity reported by an external NER tagger.
// Start/End are half-open byte offsets into the tagged text.
type TaggedEntity struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// Tagger is the external NER capability. Implementations must be safe for
// concurrent use. A nil Tagger means model detection is disabled and
// sanitization runs pattern-only.
type Tagger interface {
	Tag(ctx context.Context, text string) ([]TaggedEntity, error)
}

// HTTPTagger talks to a NER sidecar over HTTP: POST {endpoint}/tag with
// {"text": ...}, expecting {"entities": [{text, start, end, label}, ...]}.
type HTTPTagger struct {
	url    string
	client *http.Client
}

// NewHTTPTagger creates a tagger client for the given NER service endpoint.
func NewHTTPTagger(endpoint string) *HTTPTagger {
	return &HTTPTagger{
		url:    endpoint + "/tag",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type tagRequest struct {
	Text string `json:"text"`
}

type tagResponse struct {
	Entities []TaggedEntity `json:"entities"`
}

// maxTagResponse bounds the tagger response body.
const maxTagResponse = 10 << 20 // 10 MB

// Tag sends the text to the NER service, retrying transient failures with
// exponential backoff. The context bounds the whole retry loop.
func (t *HTTPTagger) Tag(ctx context.Context, text string) ([]TaggedEntity, error) {
	reqBody, err := json.Marshal(tagRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("encode tag request: %w", err)
	}

	bf := backoff.NewExponentialBackOff()
	bf.InitialInterval = 100 * time.Millisecond
	bf.MaxElapsedTime = 5 * time.Second

	var entities []TaggedEntity
	err = backoff.Retry(func() error {
		var attemptErr error
		entities, attemptErr = t.tagOnce(ctx, reqBody)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return attemptErr
	}, backoff.WithContext(bf, ctx))
	if err != nil {
		return nil, err
	}
	return entities, nil
}

func (t *HTTPTagger) tagOnce(ctx context.Context, reqBody []byte) ([]TaggedEntity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create tag request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for keep-alive
		return nil, fmt.Errorf("ner service returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTagResponse))
	if err != nil {
		return nil, err
	}

	var tagResp tagResponse
	if err := json.Unmarshal(body, &tagResp); err != nil {
		return nil, fmt.Errorf("ner response parse error: %w", err)
	}
	return tagResp.Entities, nil
}

// detectModel converts tagger output into spans, validating every label
// against the closed entity type set and applying the level filter.
// Unknown labels are dropped here, in one place.
func (s *Service) detectModel(ctx context.Context, text string, cfg levelConfig) ([]SensitiveSpan, bool) {
	if s.tagger == nil {
		return nil, false
	}

	start := time.Now()
	if s.metrics != nil {
		s.metrics.NERDispatches.Add(1)
	}
	tagged, err := s.tagger.Tag(ctx, text)
	if s.metrics != nil {
		s.metrics.RecordNERLatency(time.Since(start))
	}
	if err != nil {
		// Degrade to pattern-only detection; never fail the sanitize call
		// because the optional model detector is down.
		s.log.Warnf("ner_tag", "tagger unavailable, pattern-only pass: %v", err)
		if s.metrics != nil {
			s.metrics.ErrorsNER.Add(1)
		}
		return nil, false
	}

	var spans []SensitiveSpan
	for _, ent := range tagged {
		entityType, ok := entityTypeForLabel(ent.Label)
		if !ok {
			s.log.Debugf("ner_tag", "dropping unrecognized label %q for %q", ent.Label, ent.Text)
			continue
		}
		if !cfg.entities[entityType] || nerConfidence < cfg.threshold {
			continue
		}
		if ent.Start < 0 || ent.End > len(text) || ent.Start >= ent.End {
			s.log.Debugf("ner_tag", "dropping entity with invalid offsets [%d,%d)", ent.Start, ent.End)
			continue
		}
		spans = append(spans, SensitiveSpan{
			Text:       text[ent.Start:ent.End],
			Start:      ent.Start,
			End:        ent.End,
			Type:       entityType,
			Confidence: nerConfidence,
		})
	}
	return spans, true
}
