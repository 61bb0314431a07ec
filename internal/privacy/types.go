package privacy

import (
	"fmt"
	"strings"
)

// EntityType classifies the kind of sensitive data found.
// The set is closed: labels coming back from the NER tagger are validated
// through entityTypeForLabel and anything unrecognized is dropped there.
type EntityType string

// Supported entity types. Wire values for ORG and GPE follow the NER
// label vocabulary so tagger output maps without translation tables.
const (
	EntityPerson       EntityType = "PERSON"
	EntityEmail        EntityType = "EMAIL"
	EntityPhone        EntityType = "PHONE"
	EntityCreditCard   EntityType = "CREDIT_CARD"
	EntitySSN          EntityType = "SSN"
	EntityAddress      EntityType = "ADDRESS"
	EntityOrganization EntityType = "ORG"
	EntityLocation     EntityType = "GPE"
	EntityDate         EntityType = "DATE"
	EntityTime         EntityType = "TIME"
	EntityMoney        EntityType = "MONEY"
	EntityPercent      EntityType = "PERCENT"
)

// AllEntityTypes lists every supported entity type, in a stable order.
var AllEntityTypes = []EntityType{
	EntityPerson, EntityEmail, EntityPhone, EntityCreditCard,
	EntitySSN, EntityAddress, EntityOrganization, EntityLocation,
	EntityDate, EntityTime, EntityMoney, EntityPercent,
}

// nerLabels maps tagger labels into the closed entity type set.
// LOC is folded into GPE; everything absent from this map is dropped.
var nerLabels = map[string]EntityType{
	"PERSON":  EntityPerson,
	"ORG":     EntityOrganization,
	"GPE":     EntityLocation,
	"LOC":     EntityLocation,
	"DATE":    EntityDate,
	"TIME":    EntityTime,
	"MONEY":   EntityMoney,
	"PERCENT": EntityPercent,
}

// entityTypeForLabel validates a raw NER label against the closed enum.
// This is the single point where unknown labels are rejected.
func entityTypeForLabel(label string) (EntityType, bool) {
	t, ok := nerLabels[strings.ToUpper(strings.TrimSpace(label))]
	return t, ok
}

// SensitiveSpan is one detected occurrence of sensitive data.
// Start/End are half-open byte offsets into the original text.
// Spans are created by a detection pass and never mutated afterwards.
type SensitiveSpan struct {
	Text        string     `json:"text"`
	Start       int        `json:"start"`
	End         int        `json:"end"`
	Type        EntityType `json:"entityType"`
	Confidence  float64    `json:"confidence"`
	Replacement string     `json:"replacement"`
}

// PrivacyLevel selects which entity types are detected and the confidence
// threshold below which a detection is discarded.
type PrivacyLevel string

// Supported privacy levels, from narrowest to widest coverage.
const (
	LevelMinimal  PrivacyLevel = "minimal"
	LevelStandard PrivacyLevel = "standard"
	LevelStrict   PrivacyLevel = "strict"
)

// ParsePrivacyLevel validates a level string. Empty input defaults to
// standard; anything else unrecognized is an error.
func ParsePrivacyLevel(s string) (PrivacyLevel, error) {
	switch PrivacyLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return LevelStandard, nil
	case LevelMinimal:
		return LevelMinimal, nil
	case LevelStandard:
		return LevelStandard, nil
	case LevelStrict:
		return LevelStrict, nil
	}
	return "", fmt.Errorf("unknown privacy level %q", s)
}

// levelConfig pairs the entity types a level covers with its confidence
// threshold. Coverage grows and the threshold drops as levels get stricter:
// strict must also catch types the model detector reports less confidently.
type levelConfig struct {
	entities  map[EntityType]bool
	threshold float64
}

var levelConfigs = map[PrivacyLevel]levelConfig{
	LevelMinimal: {
		entities: typeSet(
			EntityEmail, EntityPhone, EntityCreditCard, EntitySSN,
		),
		threshold: 0.8,
	},
	LevelStandard: {
		entities: typeSet(
			EntityPerson, EntityEmail, EntityPhone, EntityCreditCard,
			EntitySSN, EntityAddress, EntityOrganization,
		),
		threshold: 0.7,
	},
	LevelStrict: {
		entities:  typeSet(AllEntityTypes...),
		threshold: 0.6,
	},
}

func typeSet(types ...EntityType) map[EntityType]bool {
	m := make(map[EntityType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}
