package fieldmap

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/validation"
)

// SuggestionType names the signal that produced a suggestion
type SuggestionType string

const (
	SuggestionExact      SuggestionType = "exact"
	SuggestionFuzzy      SuggestionType = "fuzzy"
	SuggestionSemantic   SuggestionType = "semantic"
	SuggestionLearned    SuggestionType = "learned"
	SuggestionForeignKey SuggestionType = "foreign_key"
	SuggestionContent    SuggestionType = "content"
)

// Acceptance thresholds on the 0-1 scale used by the engine
const (
	engineFuzzyAccept    = 0.8
	engineSemanticAccept = 0.7
	engineLearnedAccept  = 0.6
	engineFuzzyFloor     = 0.3
	engineSemanticScore  = 0.8
	engineForeignKey     = 0.9
	engineContentScore   = 0.7
)

// ForeignKeyInfo points a suggestion at the dimension that owns the key
type ForeignKeyInfo struct {
	TargetTable     string `json:"target_table"`
	TargetField     string `json:"target_field"`
	ValidationQuery string `json:"validation_query"`
}

// Suggestion proposes a target field for one source column
type Suggestion struct {
	SourceColumn string          `json:"source_column"`
	TargetField  string          `json:"target_field"`
	Confidence   float64         `json:"confidence"`
	Type         SuggestionType  `json:"mapping_type"`
	ForeignKey   *ForeignKeyInfo `json:"foreign_key_info,omitempty"`
}

// foreignKeyPattern describes an entity whose id shows up in exports
type foreignKeyPattern struct {
	field    string
	table    string
	patterns []string
}

func dimension(entity string) string {
	return "dim_" + inflection.Plural(entity)
}

var foreignKeyPatterns = []foreignKeyPattern{
	{field: "shop_id", table: dimension("shop"), patterns: []string{"shop", "store", "店铺", "商店"}},
	{field: "product_id", table: dimension("product"), patterns: []string{"product", "item", "商品", "产品"}},
	{field: "order_id", table: "fact_" + inflection.Plural("order"), patterns: []string{"order", "订单"}},
	{field: "customer_id", table: dimension("customer"), patterns: []string{"customer", "user", "客户", "用户"}},
}

// EngineStatistics summarises what the engine has learned
type EngineStatistics struct {
	TotalMappings     int                    `json:"total_mappings"`
	MappingTypes      map[SuggestionType]int `json:"mapping_types"`
	AverageConfidence float64                `json:"average_confidence"`
}

// Engine suggests source-to-target mappings for an arbitrary target schema.
// Learned mappings are kept in memory per data domain and source column
type Engine struct {
	synonyms   Synonyms
	references validation.ReferenceChecker
	logger     *zap.Logger

	mu      sync.RWMutex
	learned map[string][]Suggestion
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithReferenceChecker enables VerifyForeignKey
func WithReferenceChecker(rc validation.ReferenceChecker) EngineOption {
	return func(e *Engine) {
		e.references = rc
	}
}

// WithEngineSynonyms replaces the schema synonym dictionary
func WithEngineSynonyms(s Synonyms) EngineOption {
	return func(e *Engine) {
		e.synonyms = s
	}
}

// WithEngineLogger sets the logger
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a suggestion engine
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		synonyms: SchemaSynonyms,
		logger:   zap.NewNop(),
		learned:  make(map[string][]Suggestion),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateMappings suggests at most one target per source column, best first
func (e *Engine) GenerateMappings(sources, targets []string, domain string) []Suggestion {
	out := make([]Suggestion, 0, len(sources))
	for _, src := range sources {
		if s, ok := e.bestMapping(src, targets, domain); ok {
			out = append(out, s)
		}
	}
	sortSuggestions(out)
	return out
}

// GenerateMappingsWithSamples behaves like GenerateMappings but falls back to
// content analysis for columns whose header gave no confident answer
func (e *Engine) GenerateMappingsWithSamples(sources []string, samples map[string][]string, targets []string, domain string) []Suggestion {
	allowed := make(map[string]bool, len(targets))
	for _, t := range targets {
		allowed[t] = true
	}

	out := make([]Suggestion, 0, len(sources))
	for _, src := range sources {
		s, ok := e.bestMapping(src, targets, domain)
		if ok && s.Confidence >= engineSemanticAccept {
			out = append(out, s)
			continue
		}
		analysis := AnalyzeContent(src, samples[src])
		picked := false
		for _, field := range analysis.Suggestions {
			if allowed[field] && analysis.Confidence > s.Confidence {
				out = append(out, Suggestion{SourceColumn: src, TargetField: field, Confidence: analysis.Confidence, Type: SuggestionContent})
				picked = true
				break
			}
		}
		if !picked && ok {
			out = append(out, s)
		}
	}
	sortSuggestions(out)
	return out
}

func sortSuggestions(s []Suggestion) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Confidence > s[j].Confidence })
}

func (e *Engine) bestMapping(src string, targets []string, domain string) (Suggestion, bool) {
	norm := NormalizeIdentifier(src)
	if norm == "" {
		return Suggestion{}, false
	}

	if s, ok := e.exactMatch(src, norm, targets); ok {
		return s, true
	}

	fuzzy, fuzzyOK := e.fuzzyMatch(src, norm, targets)
	if fuzzyOK && fuzzy.Confidence > engineFuzzyAccept {
		return fuzzy, true
	}
	if s, ok := e.semanticMatch(src, norm, targets); ok && s.Confidence > engineSemanticAccept {
		return s, true
	}
	if s, ok := e.learnedMatch(src, domain); ok && s.Confidence > engineLearnedAccept {
		return s, true
	}
	if s, ok := e.foreignKeyMatch(src, norm, targets); ok {
		return s, true
	}
	return fuzzy, fuzzyOK
}

func (e *Engine) exactMatch(src, norm string, targets []string) (Suggestion, bool) {
	for _, t := range targets {
		if NormalizeIdentifier(t) == norm {
			return Suggestion{SourceColumn: src, TargetField: t, Confidence: 1, Type: SuggestionExact}, true
		}
	}
	return Suggestion{}, false
}

// fuzzyMatch scores each target by the better of the similarity ratio and the
// length ratio of a containment, keeping the best above the floor
func (e *Engine) fuzzyMatch(src, norm string, targets []string) (Suggestion, bool) {
	var best Suggestion
	bestScore := 0.0
	for _, t := range targets {
		tn := NormalizeIdentifier(t)
		if tn == "" {
			continue
		}
		score := Ratio(norm, tn)
		if sub := containmentRatio(norm, tn); sub > score {
			score = sub
		}
		if score > bestScore {
			bestScore = score
			best = Suggestion{SourceColumn: src, TargetField: t, Confidence: score, Type: SuggestionFuzzy}
		}
	}
	return best, bestScore > engineFuzzyFloor
}

func containmentRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	switch {
	case strings.Contains(b, a):
		return float64(la) / float64(lb)
	case strings.Contains(a, b):
		return float64(lb) / float64(la)
	}
	return 0
}

func (e *Engine) semanticMatch(src, norm string, targets []string) (Suggestion, bool) {
	for _, t := range targets {
		for _, syn := range e.synonyms[t] {
			sn := NormalizeIdentifier(syn)
			if sn != "" && containsEither(norm, sn) {
				return Suggestion{SourceColumn: src, TargetField: t, Confidence: engineSemanticScore, Type: SuggestionSemantic}, true
			}
		}
	}
	return Suggestion{}, false
}

func learnedKey(domain, source string) string {
	return domain + "_" + source
}

func (e *Engine) learnedMatch(src, domain string) (Suggestion, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hist := e.learned[learnedKey(domain, src)]
	if len(hist) == 0 {
		return Suggestion{}, false
	}
	best := hist[0]
	for _, s := range hist[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	best.SourceColumn = src
	best.Type = SuggestionLearned
	return best, true
}

func (e *Engine) foreignKeyMatch(src, norm string, targets []string) (Suggestion, bool) {
	for _, fk := range foreignKeyPatterns {
		target, ok := findTarget(fk.field, targets)
		if !ok {
			continue
		}
		for _, p := range fk.patterns {
			pn := NormalizeIdentifier(p)
			if !containsEither(norm, pn) && !containsEither(singular(norm), pn) {
				continue
			}
			return Suggestion{
				SourceColumn: src,
				TargetField:  target,
				Confidence:   engineForeignKey,
				Type:         SuggestionForeignKey,
				ForeignKey: &ForeignKeyInfo{
					TargetTable:     fk.table,
					TargetField:     fk.field,
					ValidationQuery: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1", fk.table, fk.field),
				},
			}, true
		}
	}
	return Suggestion{}, false
}

// findTarget locates fkField among targets, accepting plural spellings such
// as "shops_id" or "shop_ids"
func findTarget(fkField string, targets []string) (string, bool) {
	for _, t := range targets {
		if t == fkField || singularTokens(NormalizeIdentifier(t)) == fkField {
			return t, true
		}
	}
	return "", false
}

func singular(s string) string {
	return inflection.Singular(s)
}

func singularTokens(s string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		parts[i] = inflection.Singular(p)
	}
	return strings.Join(parts, "_")
}

// VerifyForeignKey checks sample values of a foreign-key suggestion against
// its dimension and returns the values that have no row there
func (e *Engine) VerifyForeignKey(ctx context.Context, s Suggestion, values []string) ([]string, error) {
	if s.ForeignKey == nil {
		return nil, fmt.Errorf("suggestion for %q is not a foreign key", s.SourceColumn)
	}
	if e.references == nil {
		return nil, fmt.Errorf("no reference checker configured")
	}
	return e.references.MissingValues(ctx, s.ForeignKey.TargetTable, s.ForeignKey.TargetField, values)
}

// SaveMappingHistory remembers a confirmed suggestion for its domain
func (e *Engine) SaveMappingHistory(domain string, s Suggestion) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := learnedKey(domain, s.SourceColumn)
	e.learned[key] = append(e.learned[key], s)
	e.logger.Debug("Learned mapping",
		zap.String("domain", domain),
		zap.String("source_column", s.SourceColumn),
		zap.String("target_field", s.TargetField),
	)
}

// Statistics summarises learned mappings
func (e *Engine) Statistics() EngineStatistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStatistics{MappingTypes: make(map[SuggestionType]int)}
	entries := 0
	var sum float64
	for _, list := range e.learned {
		stats.TotalMappings++
		for _, s := range list {
			stats.MappingTypes[s.Type]++
			sum += s.Confidence
			entries++
		}
	}
	if entries > 0 {
		stats.AverageConfidence = sum / float64(entries)
	}
	return stats
}

// ContentType is the inferred kind of a column's values
type ContentType string

const (
	ContentUnknown ContentType = "unknown"
	ContentNumeric ContentType = "numeric"
	ContentDate    ContentType = "date"
	ContentID      ContentType = "id"
	ContentText    ContentType = "text"
)

// ContentPatterns describes a sample of values
type ContentPatterns struct {
	UniqueValues int     `json:"unique_values"`
	TotalValues  int     `json:"total_values"`
	NullCount    int     `json:"null_count"`
	AvgLength    float64 `json:"avg_length"`
}

// ContentAnalysis is the result of AnalyzeContent
type ContentAnalysis struct {
	Type        ContentType     `json:"type"`
	Patterns    ContentPatterns `json:"patterns"`
	Suggestions []string        `json:"possible_mappings"`
	Confidence  float64         `json:"confidence"`
}

var dateLikePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`^\d{2}/\d{2}/\d{4}`),
	regexp.MustCompile(`^\d{4}/\d{2}/\d{2}`),
	regexp.MustCompile(`^\d{2}-\d{2}-\d{4}`),
}

// contentShare is the fraction of samples that must agree on a type
const contentShare = 0.8

// AnalyzeContent guesses what a column holds from sample values and which
// standard fields it could map to
func AnalyzeContent(column string, samples []string) ContentAnalysis {
	if len(samples) == 0 {
		return ContentAnalysis{Type: ContentUnknown, Suggestions: []string{}, Confidence: 0}
	}

	kind := inferContentType(samples)
	a := ContentAnalysis{
		Type:        kind,
		Patterns:    analyzePatterns(samples),
		Suggestions: suggestByContent(column, kind),
		Confidence:  engineContentScore,
	}
	if kind == ContentUnknown {
		a.Confidence = 0.3
	}
	return a
}

func share(samples []string, pred func(string) bool) float64 {
	n := 0
	for _, s := range samples {
		if pred(s) {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}

func inferContentType(samples []string) ContentType {
	isNumeric := func(v string) bool {
		v = strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(v))
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	}
	if share(samples, isNumeric) > contentShare {
		return ContentNumeric
	}

	isDate := func(v string) bool {
		for _, re := range dateLikePatterns {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	}
	if share(samples, isDate) > contentShare {
		return ContentDate
	}

	isID := func(v string) bool {
		if len([]rune(v)) <= 3 {
			return false
		}
		for _, r := range v {
			if !unicode.IsDigit(r) {
				return false
			}
		}
		return true
	}
	if share(samples, isID) > contentShare {
		return ContentID
	}
	return ContentText
}

func analyzePatterns(samples []string) ContentPatterns {
	unique := make(map[string]struct{}, len(samples))
	p := ContentPatterns{TotalValues: len(samples)}
	total := 0
	for _, s := range samples {
		unique[s] = struct{}{}
		if strings.TrimSpace(s) == "" {
			p.NullCount++
		}
		total += len([]rune(s))
	}
	p.UniqueValues = len(unique)
	p.AvgLength = float64(total) / float64(len(samples))
	return p
}

func suggestByContent(column string, kind ContentType) []string {
	name := strings.ToLower(column)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(name, w) {
				return true
			}
		}
		return false
	}

	switch kind {
	case ContentID:
		switch {
		case has("shop", "店铺"):
			return []string{"shop_id"}
		case has("product", "商品"):
			return []string{"product_id"}
		case has("order", "订单"):
			return []string{"order_id"}
		case has("customer", "客户"):
			return []string{"customer_id"}
		}
	case ContentNumeric:
		switch {
		case has("price", "价格"):
			return []string{"product_price"}
		case has("amount", "金额"):
			return []string{"order_amount"}
		case has("quantity", "数量"):
			return []string{"quantity"}
		}
	case ContentDate:
		switch {
		case has("date", "日期"):
			return []string{"order_date"}
		case has("time", "时间"):
			return []string{"created_at"}
		}
	case ContentText:
		switch {
		case has("name", "名称"):
			return []string{"product_name", "shop_name", "customer_name"}
		case has("description", "描述"):
			return []string{"description"}
		case has("status", "状态"):
			return []string{"status"}
		}
	}
	return []string{}
}
