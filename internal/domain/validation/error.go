// Package validation defines the structured outcome of a validation run.
// Errors block promotion to fact tables; warnings never do.
package validation

import "fmt"

// ErrorType categorises a validation problem.
type ErrorType string

const (
	ErrorTypeDataType      ErrorType = "data_type"
	ErrorTypeRequiredField ErrorType = "required_field"
	ErrorTypeForeignKey    ErrorType = "foreign_key"
	ErrorTypeBusinessRule  ErrorType = "business_rule"
	ErrorTypeConsistency   ErrorType = "consistency"
)

// TableRow is the row index used for problems that concern a whole column.
const TableRow = -1

// Error is one row-level validation problem.
type Error struct {
	Row        int       `json:"row_index"`
	Column     string    `json:"column_name"`
	Type       ErrorType `json:"error_type"`
	Message    string    `json:"error_message"`
	Value      string    `json:"current_value,omitempty"`
	Expected   string    `json:"expected_value,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e Error) Error() string {
	if e.Row == TableRow {
		return fmt.Sprintf("column '%s': %s", e.Column, e.Message)
	}
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}
