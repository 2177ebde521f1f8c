// Package fieldmap resolves raw export headers to the standard field
// vocabulary. FieldMapper runs the rule-driven header cascade used during
// ingestion; Engine suggests mappings against an arbitrary target schema and
// adds foreign-key and content-based signals
package fieldmap

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/mapping"
)

// Confidence levels of the header cascade, on a 0-100 scale
const (
	ConfidenceExact    = 100.0
	ConfidenceHistory  = 100.0
	ConfidenceFuzzyCap = 95.0
	ConfidenceSemantic = 80.0
	ConfidencePartial  = 70.0

	// DefaultFuzzyThreshold is the minimum similarity ratio for a fuzzy match
	DefaultFuzzyThreshold = 0.80

	fuzzyDiscount = 0.95
)

// FieldMapper maps a file's headers to standard fields
type FieldMapper struct {
	rules          *Rules
	history        mapping.HistoryStore
	synonyms       Synonyms
	fuzzyThreshold float64
	logger         *zap.Logger
}

// MapperOption configures a FieldMapper
type MapperOption func(*FieldMapper)

// WithHistory enables the history step of the cascade
func WithHistory(h mapping.HistoryStore) MapperOption {
	return func(m *FieldMapper) {
		m.history = h
	}
}

// WithSynonyms replaces the semantic dictionary
func WithSynonyms(s Synonyms) MapperOption {
	return func(m *FieldMapper) {
		m.synonyms = s
	}
}

// WithFuzzyThreshold sets the minimum ratio accepted by the fuzzy step
func WithFuzzyThreshold(t float64) MapperOption {
	return func(m *FieldMapper) {
		if t > 0 && t <= 1 {
			m.fuzzyThreshold = t
		}
	}
}

// WithMapperLogger sets the logger
func WithMapperLogger(l *zap.Logger) MapperOption {
	return func(m *FieldMapper) {
		m.logger = l
	}
}

// NewFieldMapper creates a mapper over the given rules
func NewFieldMapper(rules *Rules, opts ...MapperOption) *FieldMapper {
	m := &FieldMapper{
		rules:          rules,
		synonyms:       HeaderSynonyms,
		fuzzyThreshold: DefaultFuzzyThreshold,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateMappingKey returns the rule and history key for a file
func (m *FieldMapper) GenerateMappingKey(meta mapping.FileMetadata) string {
	return mapping.GenerateKey(meta)
}

// MapFields resolves every standard field of the file's rule set. It never
// fails: gaps are reported as no_match entries and unmapped columns. A column
// may satisfy more than one field
func (m *FieldMapper) MapFields(ctx context.Context, columns []string, meta mapping.FileMetadata) *mapping.Result {
	key := m.GenerateMappingKey(meta)
	result := mapping.NewResult(key)

	rules, source := m.rules.Lookup(meta)
	if len(rules) == 0 {
		m.logger.Warn("No field rules for mapping key", zap.String("mapping_key", key))
		result.Unmapped = append(result.Unmapped, columns...)
		return result
	}

	headers := newHeaderSet(columns)
	used := make(map[string]bool)
	for _, rule := range rules {
		match := m.matchField(ctx, key, rule, headers)
		result.Mappings[rule.Field] = match
		if match.Matched() {
			used[match.Column] = true
		}
	}

	for _, col := range columns {
		if !used[col] {
			result.Unmapped = append(result.Unmapped, col)
		}
	}
	result.ComputeScore()

	m.logger.Info("Mapped file headers",
		zap.String("mapping_key", key),
		zap.String("rules", source),
		zap.Int("fields", len(rules)),
		zap.Int("mapped", result.MappedCount()),
		zap.Float64("score", result.Score),
	)
	return result
}

// header is a source column with its folded comparison form
type header struct {
	raw    string
	folded string
}

type headerSet struct {
	list   []header
	exists map[string]bool
}

func newHeaderSet(columns []string) headerSet {
	hs := headerSet{exists: make(map[string]bool, len(columns))}
	for _, c := range columns {
		hs.exists[c] = true
		f := FoldHeader(c)
		if f == "" {
			continue
		}
		hs.list = append(hs.list, header{raw: c, folded: f})
	}
	return hs
}

// candidates returns the field name followed by its aliases, folded
func candidates(rule FieldRule) []string {
	out := make([]string, 0, len(rule.Aliases)+1)
	seen := make(map[string]bool, len(rule.Aliases)+1)
	for _, c := range append([]string{rule.Field}, rule.Aliases...) {
		f := FoldHeader(c)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func (m *FieldMapper) matchField(ctx context.Context, key string, rule FieldRule, hs headerSet) mapping.FieldMatch {
	cands := candidates(rule)

	// exact
	for _, c := range cands {
		for _, h := range hs.list {
			if h.folded == c {
				return mapping.FieldMatch{Column: h.raw, Confidence: ConfidenceExact, Method: mapping.MethodExact}
			}
		}
	}

	// history
	if m.history != nil {
		col, ok, err := m.history.GetMapping(ctx, key, rule.Field)
		switch {
		case err != nil:
			m.logger.Warn("History lookup failed", zap.String("mapping_key", key), zap.String("field", rule.Field), zap.Error(err))
		case ok && hs.exists[col]:
			return mapping.FieldMatch{Column: col, Confidence: ConfidenceHistory, Method: mapping.MethodHistory}
		}
	}

	// fuzzy
	var best header
	bestRatio := 0.0
	for _, c := range cands {
		for _, h := range hs.list {
			if r := Ratio(h.folded, c); r > bestRatio && r >= m.fuzzyThreshold {
				best, bestRatio = h, r
			}
		}
	}
	if bestRatio > 0 {
		conf := math.Min(ConfidenceFuzzyCap, bestRatio*100*fuzzyDiscount)
		return mapping.FieldMatch{Column: best.raw, Confidence: conf, Method: mapping.MethodFuzzy}
	}

	// semantic
	for _, syn := range m.synonyms[rule.Field] {
		s := FoldHeader(syn)
		if s == "" {
			continue
		}
		for _, h := range hs.list {
			if containsEither(h.folded, s) {
				return mapping.FieldMatch{Column: h.raw, Confidence: ConfidenceSemantic, Method: mapping.MethodSemantic}
			}
		}
	}

	// partial
	for _, c := range cands {
		for _, h := range hs.list {
			if containsEither(h.folded, c) {
				return mapping.FieldMatch{Column: h.raw, Confidence: ConfidencePartial, Method: mapping.MethodPartial}
			}
		}
	}

	return mapping.FieldMatch{Method: mapping.MethodNone}
}
