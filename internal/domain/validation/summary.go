package validation

// Summary is the human-facing digest of a result.
type Summary struct {
	IsValid         bool              `json:"is_valid"`
	TotalErrors     int               `json:"total_errors"`
	TotalWarnings   int               `json:"total_warnings"`
	Statistics      Statistics        `json:"statistics"`
	ErrorSummary    map[ErrorType]int `json:"error_summary"`
	Recommendations []string          `json:"recommendations"`
}

var recommendationByType = []struct {
	errType ErrorType
	text    string
}{
	{ErrorTypeDataType, "Data type errors found: check the source format or the field mapping"},
	{ErrorTypeRequiredField, "Required fields are empty: fill in the missing data or check the upstream export"},
	{ErrorTypeForeignKey, "Foreign key references are missing: load the referenced dimension rows or adjust the mapping"},
	{ErrorTypeBusinessRule, "Business rule violations found: check the data logic"},
}

// Summarize builds a Summary with remediation recommendations.
func Summarize(r *Result) Summary {
	s := Summary{
		IsValid:       r.IsValid,
		TotalErrors:   len(r.Errors),
		TotalWarnings: len(r.Warnings),
		Statistics:    r.Statistics,
		ErrorSummary:  make(map[ErrorType]int),
	}
	for _, e := range r.Errors {
		s.ErrorSummary[e.Type]++
	}
	s.Recommendations = recommendations(r, s.ErrorSummary)
	return s
}

func recommendations(r *Result, byType map[ErrorType]int) []string {
	if len(r.Errors) == 0 {
		out := []string{"Validation passed: data is safe to load"}
		if hasType(r.Warnings, ErrorTypeConsistency) {
			out = append(out, "Duplicate rows found: deduplicate before loading to avoid overwrites")
		}
		return out
	}

	out := make([]string, 0, len(recommendationByType)+1)
	for _, rec := range recommendationByType {
		if byType[rec.errType] > 0 {
			out = append(out, rec.text)
		}
	}
	if hasType(r.Warnings, ErrorTypeConsistency) {
		out = append(out, "Duplicate rows found: deduplicate and validate again")
	}
	return out
}

func hasType(errs []Error, t ErrorType) bool {
	for _, e := range errs {
		if e.Type == t {
			return true
		}
	}
	return false
}
