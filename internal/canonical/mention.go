package canonical

import (
	"strings"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/errors"
)

// RawMention is an extracted entity as received from upstream. Which value
// field is used depends on Kind.
type RawMention struct {
	Kind          string   `json:"kind" yaml:"kind"`
	Value         string   `json:"value,omitempty" yaml:"value,omitempty"` // indicators
	IndicatorType string   `json:"indicator_type,omitempty" yaml:"indicator_type,omitempty"`
	MitreCode     string   `json:"mitre_code,omitempty" yaml:"mitre_code,omitempty"` // techniques
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`             // actors
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Confidence    int      `json:"confidence" yaml:"confidence"`
	Evidence      string   `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	ExtractedFrom string   `json:"extracted_from,omitempty" yaml:"extracted_from,omitempty"`
}

// Mention is a validated mention. The concrete type is one of
// IndicatorMention, TechniqueMention or ActorMention.
type Mention interface {
	Kind() entities.EntityKind
	// Key is the (kind, key) uniqueness key of the canonical entity.
	Key() string
	Meta() MentionMeta
}

// MentionMeta holds the per-link fields shared by every kind.
type MentionMeta struct {
	Confidence    int
	Evidence      string
	ExtractedFrom entities.ExtractedFrom
}

// IndicatorMention is a normalized indicator of compromise.
type IndicatorMention struct {
	Value string
	Type  entities.IndicatorType
	MentionMeta
}

func (m IndicatorMention) Kind() entities.EntityKind { return entities.KindIndicator }
func (m IndicatorMention) Key() string               { return m.Value }
func (m IndicatorMention) Meta() MentionMeta         { return m.MentionMeta }

// TechniqueMention is an ATT&CK-style technique.
type TechniqueMention struct {
	Code string
	MentionMeta
}

func (m TechniqueMention) Kind() entities.EntityKind { return entities.KindTechnique }
func (m TechniqueMention) Key() string               { return m.Code }
func (m TechniqueMention) Meta() MentionMeta         { return m.MentionMeta }

// ActorMention is a threat actor with optional extra aliases.
type ActorMention struct {
	Name    string
	Aliases []string
	MentionMeta
}

func (m ActorMention) Kind() entities.EntityKind { return entities.KindActor }
func (m ActorMention) Key() string               { return FoldKey(m.Name) }
func (m ActorMention) Meta() MentionMeta         { return m.MentionMeta }

// errMalformed builds the validation error for a rejected mention.
func errMalformed(reason string, raw *RawMention) error {
	return errors.Newf("malformed mention: %s", reason).
		Component("canonical").
		Category(errors.CategoryValidation).
		Context("kind", raw.Kind).
		Build()
}

// ParseMention validates raw and returns its typed form.
func ParseMention(raw *RawMention) (Mention, error) {
	meta := MentionMeta{
		Confidence: min(max(raw.Confidence, 0), 100),
		Evidence:   raw.Evidence,
	}
	switch strings.ToLower(strings.TrimSpace(raw.ExtractedFrom)) {
	case "", string(entities.ExtractedFromOriginal):
		meta.ExtractedFrom = entities.ExtractedFromOriginal
	case string(entities.ExtractedFromSummary):
		meta.ExtractedFrom = entities.ExtractedFromSummary
	default:
		return nil, errMalformed("unknown extracted_from "+raw.ExtractedFrom, raw)
	}

	switch entities.EntityKind(strings.ToLower(strings.TrimSpace(raw.Kind))) {
	case entities.KindIndicator:
		typ := parseIndicatorType(raw.IndicatorType)
		if raw.IndicatorType != "" && typ == "" {
			return nil, errMalformed("unknown indicator_type "+raw.IndicatorType, raw)
		}
		value, typ := NormalizeIndicator(raw.Value, typ)
		if value == "" {
			return nil, errMalformed("indicator without value", raw)
		}
		return IndicatorMention{Value: value, Type: typ, MentionMeta: meta}, nil

	case entities.KindTechnique:
		code := NormalizeTechnique(raw.MitreCode)
		if code == "" {
			code = NormalizeTechnique(raw.Value)
		}
		if code == "" {
			return nil, errMalformed("technique without mitre_code", raw)
		}
		return TechniqueMention{Code: code, MentionMeta: meta}, nil

	case entities.KindActor:
		name := clean(raw.Name)
		if name == "" {
			name = clean(raw.Value)
		}
		if name == "" {
			return nil, errMalformed("actor without name", raw)
		}
		var aliases []string
		for _, a := range raw.Aliases {
			if a = clean(a); a != "" && FoldKey(a) != FoldKey(name) {
				aliases = append(aliases, a)
			}
		}
		return ActorMention{Name: name, Aliases: aliases, MentionMeta: meta}, nil
	}

	return nil, errMalformed("unknown kind", raw)
}
