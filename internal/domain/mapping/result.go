// Package mapping holds the column-to-field mapping vocabulary shared by the
// header mappers, the history stores and the ingestion service.
package mapping

import (
	"sort"
)

// Method names how a standard field was resolved to a source column.
type Method string

const (
	MethodExact    Method = "exact_match"
	MethodHistory  Method = "history_match"
	MethodFuzzy    Method = "fuzzy_match"
	MethodSemantic Method = "semantic_match"
	MethodPartial  Method = "partial_match"
	MethodNone     Method = "no_match"

	// MethodUserConfirmed marks history entries saved from a human decision.
	MethodUserConfirmed Method = "user_confirmed"
)

// FieldMatch is the resolution of one standard field.
type FieldMatch struct {
	Column     string  `json:"column,omitempty"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
}

// Matched reports whether the field resolved to a column.
func (m FieldMatch) Matched() bool {
	return m.Column != "" && m.Method != MethodNone
}

// Result is produced fresh for every ingestion attempt and never persisted as
// a whole. Only its confirmed subset is folded into history.
type Result struct {
	Key      string                `json:"mapping_key"`
	Mappings map[string]FieldMatch `json:"mappings"`
	Unmapped []string              `json:"unmapped_columns"`
	Score    float64               `json:"confidence_score"`
}

// NewResult creates an empty result for the key.
func NewResult(key string) *Result {
	return &Result{
		Key:      key,
		Mappings: make(map[string]FieldMatch),
		Unmapped: make([]string, 0),
	}
}

// Columns returns standard field -> source column for matched fields only.
func (r *Result) Columns() map[string]string {
	out := make(map[string]string, len(r.Mappings))
	for field, m := range r.Mappings {
		if m.Matched() {
			out[field] = m.Column
		}
	}
	return out
}

// MappedCount returns the number of matched standard fields.
func (r *Result) MappedCount() int {
	n := 0
	for _, m := range r.Mappings {
		if m.Matched() {
			n++
		}
	}
	return n
}

// Confirmed returns the matched fields whose confidence reaches threshold.
func (r *Result) Confirmed(threshold float64) map[string]FieldMatch {
	out := make(map[string]FieldMatch)
	for field, m := range r.Mappings {
		if m.Matched() && m.Confidence >= threshold {
			out[field] = m
		}
	}
	return out
}

// Fields returns the standard field names in stable order.
func (r *Result) Fields() []string {
	fields := make([]string, 0, len(r.Mappings))
	for f := range r.Mappings {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ComputeScore sets Score to mean confidence times the fraction of fields mapped.
// Low coverage drags the score down even when every match is certain.
func (r *Result) ComputeScore() {
	total := len(r.Mappings)
	if total == 0 {
		r.Score = 0
		return
	}
	var sum float64
	for _, m := range r.Mappings {
		sum += m.Confidence
	}
	avg := sum / float64(total)
	r.Score = avg * float64(r.MappedCount()) / float64(total)
}
