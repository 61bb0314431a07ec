package privacy

import "sort"

// resolveSpans merges detector outputs into one ordered, non-overlapping
// span set. Candidates are sorted by ascending start offset, ties broken by
// descending confidence, then kept greedily if they do not overlap any span
// already kept. Among overlapping candidates the earliest-starting,
// highest-confidence one wins; the stable sort leaves exact ties (same start
// and confidence) in emission order.
func resolveSpans(spans []SensitiveSpan) []SensitiveSpan {
	if len(spans) == 0 {
		return nil
	}

	sorted := make([]SensitiveSpan, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]SensitiveSpan, 0, len(sorted))
	for _, span := range sorted {
		if !overlapsAny(span, kept) {
			kept = append(kept, span)
		}
	}
	return kept
}

// overlapsAny reports whether span character-overlaps any kept span.
// Half-open intervals: [a.Start, a.End) and [b.Start, b.End) overlap iff
// a.Start < b.End && b.Start < a.End.
func overlapsAny(span SensitiveSpan, kept []SensitiveSpan) bool {
	for _, k := range kept {
		if span.Start < k.End && k.Start < span.End {
			return true
		}
	}
	return false
}
