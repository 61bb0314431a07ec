package privacy

import (
	"regexp"

	"pellucid-privacy-api/internal/logger"
)

// patternConfidence is assigned to every regex-derived span. Structured
// identifiers matched by pattern are near-certain; the exact value matters
// only relative to nerConfidence for overlap tie-breaks.
const patternConfidence = 0.95

// pattern pairs a compiled regex with its entity type.
type pattern struct {
	re         *regexp.Regexp
	entityType EntityType
}

// patternSpecs are the structured-identifier recognizers. The credit card
// expression validates known prefix/length families (Visa, MasterCard,
// Amex, Diners, Discover) rather than accepting any 16-digit run.
var patternSpecs = []struct {
	expr       string
	entityType EntityType
}{
	{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, EntityEmail},
	// Credit card and SSN precede phone: a bare PAN's first ten digits also
	// satisfy the phone shape at the same start and confidence, and span
	// resolution is stable on detector emission order for exact ties.
	{`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|3[0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`, EntityCreditCard},
	{`\b\d{3}-?\d{2}-?\d{4}\b`, EntitySSN},
	{`(\+?1[\-.\s]?)?\(?([0-9]{3})\)?[\-.\s]?([0-9]{3})[\-.\s]?([0-9]{4})`, EntityPhone},
	{`\$\d+(?:,\d{3})*(?:\.\d{2})?`, EntityMoney},
	{`\b\d+(?:\.\d+)?%`, EntityPercent},
}

// compilePatterns compiles all pattern specs, skipping (and logging) any
// that fail to compile rather than refusing to start.
func compilePatterns(log *logger.Logger) []pattern {
	patterns := make([]pattern, 0, len(patternSpecs))
	for _, s := range patternSpecs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			log.Warnf("compile_pattern", "could not compile %s pattern %q: %v", s.entityType, s.expr, err)
			continue
		}
		patterns = append(patterns, pattern{re: re, entityType: s.entityType})
	}
	return patterns
}

// detectPatterns runs every compiled pattern whose entity type the level
// covers and returns one span per match, confidence patternConfidence.
// Matches from different pattern families may overlap each other; overlap
// resolution is the resolver's job.
func detectPatterns(patterns []pattern, text string, cfg levelConfig) []SensitiveSpan {
	var spans []SensitiveSpan
	for _, p := range patterns {
		if !cfg.entities[p.entityType] || patternConfidence < cfg.threshold {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, SensitiveSpan{
				Text:       text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Type:       p.entityType,
				Confidence: patternConfidence,
			})
		}
	}
	return spans
}
