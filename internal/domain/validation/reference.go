package validation

import "context"

// ReferenceChecker looks up natural keys in reference tables.
type ReferenceChecker interface {
	// MissingValues returns the subset of values with no row in table.column.
	MissingValues(ctx context.Context, table, column string, values []string) ([]string, error)
}
