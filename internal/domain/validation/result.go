package validation

import "sort"

// Statistics aggregates a validation run.
type Statistics struct {
	TotalRows        int               `json:"total_rows"`
	ErrorCount       int               `json:"error_count"`
	WarningCount     int               `json:"warning_count"`
	ErrorRate        float64           `json:"error_rate"`
	WarningRate      float64           `json:"warning_rate"`
	ErrorTypes       map[ErrorType]int `json:"error_types"`
	ColumnErrors     map[string]int    `json:"column_errors"`
	ValidationPassed bool              `json:"validation_passed"`
}

// Result is the unit consumers act on. Row-level detail always travels with
// the statistics.
type Result struct {
	IsValid    bool       `json:"is_valid"`
	Errors     []Error    `json:"errors"`
	Warnings   []Error    `json:"warnings"`
	Statistics Statistics `json:"statistics"`
}

// NewResult builds a result and derives IsValid and Statistics.
func NewResult(totalRows int, errs, warnings []Error) *Result {
	if errs == nil {
		errs = make([]Error, 0)
	}
	if warnings == nil {
		warnings = make([]Error, 0)
	}
	return &Result{
		IsValid:    len(errs) == 0,
		Errors:     errs,
		Warnings:   warnings,
		Statistics: ComputeStatistics(totalRows, errs, warnings),
	}
}

// ComputeStatistics counts errors per type and per column.
func ComputeStatistics(totalRows int, errs, warnings []Error) Statistics {
	stats := Statistics{
		TotalRows:        totalRows,
		ErrorCount:       len(errs),
		WarningCount:     len(warnings),
		ErrorTypes:       make(map[ErrorType]int),
		ColumnErrors:     make(map[string]int),
		ValidationPassed: len(errs) == 0,
	}
	if totalRows > 0 {
		stats.ErrorRate = float64(len(errs)) / float64(totalRows)
		stats.WarningRate = float64(len(warnings)) / float64(totalRows)
	}
	for _, e := range errs {
		stats.ErrorTypes[e.Type]++
		stats.ColumnErrors[e.Column]++
	}
	return stats
}

// ErrorRows returns the distinct row indexes that carry at least one error.
func (r *Result) ErrorRows() []int {
	seen := make(map[int]bool)
	rows := make([]int, 0)
	for _, e := range r.Errors {
		if e.Row == TableRow || seen[e.Row] {
			continue
		}
		seen[e.Row] = true
		rows = append(rows, e.Row)
	}
	sort.Ints(rows)
	return rows
}

// HasTableLevelErrors reports errors that concern the whole table, such as
// a missing required column.
func (r *Result) HasTableLevelErrors() bool {
	for _, e := range r.Errors {
		if e.Row == TableRow {
			return true
		}
	}
	return false
}

// QualityScore is 100 minus the percentage of rows with errors, floored at 0.
func (r *Result) QualityScore() float64 {
	total := r.Statistics.TotalRows
	if total == 0 {
		if r.IsValid {
			return 100
		}
		return 0
	}
	if r.HasTableLevelErrors() {
		return 0
	}
	score := 100 * (1 - float64(len(r.ErrorRows()))/float64(total))
	if score < 0 {
		return 0
	}
	return score
}
