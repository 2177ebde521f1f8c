// Package validator checks mapped tables before they are promoted to fact
// tables. Problems are returned as data; Validate never fails
package validator

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/validation"
	"github.com/erp/ingestion/internal/infrastructure/tabular"
)

// DefaultForeignKeyTimeout bounds one batched reference lookup
const DefaultForeignKeyTimeout = 5 * time.Second

// FailureRecorder counts foreign-key lookups that failed and were skipped
type FailureRecorder interface {
	RecordFKCheckFailure(ctx context.Context, table string)
}

// DataValidator runs the layered checks. It is safe for concurrent use
type DataValidator struct {
	references validation.ReferenceChecker
	fkTimeout  time.Duration
	failures   FailureRecorder
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.RWMutex
	rules       map[string]*FieldRule
	required    map[string][]string
	foreignKeys map[string]ForeignKey
}

// Option configures a DataValidator
type Option func(*DataValidator)

// WithReferenceChecker enables foreign-key checks. timeout <= 0 uses
// DefaultForeignKeyTimeout
func WithReferenceChecker(rc validation.ReferenceChecker, timeout time.Duration) Option {
	return func(v *DataValidator) {
		v.references = rc
		if timeout > 0 {
			v.fkTimeout = timeout
		}
	}
}

// WithFailureRecorder reports skipped foreign-key checks
func WithFailureRecorder(r FailureRecorder) Option {
	return func(v *DataValidator) {
		v.failures = r
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(v *DataValidator) {
		v.logger = l
	}
}

// WithClock overrides the clock used by the future-date rule
func WithClock(now func() time.Time) Option {
	return func(v *DataValidator) {
		v.now = now
	}
}

// New creates a validator with the default rules
func New(opts ...Option) *DataValidator {
	v := &DataValidator{
		fkTimeout:   DefaultForeignKeyTimeout,
		logger:      zap.NewNop(),
		now:         time.Now,
		rules:       DefaultRules(),
		required:    DefaultRequiredFields(),
		foreignKeys: DefaultForeignKeys(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddCustomRule sets the cell rule for a field, replacing any default
func (v *DataValidator) AddCustomRule(field string, rule *FieldRule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[field] = rule
}

// SetRequiredFields replaces the required fields of a domain
func (v *DataValidator) SetRequiredFields(domain string, fields ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.required[normalizeDomain(domain)] = fields
}

// AddForeignKey declares that field must exist in fk
func (v *DataValidator) AddForeignKey(field string, fk ForeignKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.foreignKeys[field] = fk
}

// binding is a standard field resolved to a column present in the table
type binding struct {
	field  string
	column string
}

// Validate checks table under mappings (standard field -> source column) for
// the given data domain. Row indexes are 0-based data rows
func (v *DataValidator) Validate(ctx context.Context, table *tabular.Table, mappings map[string]string, domain string) *validation.Result {
	v.mu.RLock()
	defer v.mu.RUnlock()

	domain = normalizeDomain(domain)
	bound := bindings(table, mappings)

	errs, warnings := v.checkTypes(table, bound)
	errs = append(errs, v.checkRequired(table, mappings, bound, domain)...)
	errs = append(errs, v.checkForeignKeys(ctx, table, bound, domain)...)
	errs = append(errs, v.checkBusinessRules(table, bound)...)
	warnings = append(warnings, checkDuplicates(table, bound)...)

	result := validation.NewResult(table.Len(), errs, warnings)
	v.logger.Debug("Validated table",
		zap.String("domain", domain),
		zap.Int("rows", table.Len()),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "service" {
		return "services"
	}
	return d
}

// bindings lists mapped fields whose column exists, sorted by field
func bindings(table *tabular.Table, mappings map[string]string) []binding {
	out := make([]binding, 0, len(mappings))
	for field, col := range mappings {
		if col != "" && slices.Contains(table.Headers, col) {
			out = append(out, binding{field: field, column: col})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].field < out[j].field })
	return out
}

func lookup(bound []binding, field string) (string, bool) {
	for _, b := range bound {
		if b.field == field {
			return b.column, true
		}
	}
	return "", false
}

// checkTypes returns violations of strict rules as errors and of lenient
// rules as warnings
func (v *DataValidator) checkTypes(table *tabular.Table, bound []binding) (errs, warnings []validation.Error) {
	for _, b := range bound {
		rule, ok := v.rules[b.field]
		if !ok {
			continue
		}
		for i, row := range table.Rows {
			value := strings.TrimSpace(row[b.column])
			if value == "" {
				continue
			}
			msg := checkValue(value, rule)
			if msg == "" {
				continue
			}
			e := validation.Error{
				Row:      i,
				Column:   b.column,
				Type:     validation.ErrorTypeDataType,
				Message:  msg,
				Value:    value,
				Expected: string(rule.Type),
			}
			if rule.Lenient {
				e.Suggestion = "value kept as written; add it to the known values if it recurs"
				warnings = append(warnings, e)
			} else {
				errs = append(errs, e)
			}
		}
	}
	return errs, warnings
}

// checkValue returns an error message, or "" when value passes rule
func checkValue(value string, rule *FieldRule) string {
	switch rule.Type {
	case TypeNumeric, TypeInteger:
		d, err := ParseAmount(value)
		if err != nil {
			return fmt.Sprintf("value '%s' is not a valid number", value)
		}
		if rule.Type == TypeInteger && !d.IsInteger() {
			return fmt.Sprintf("value '%s' is not a valid integer", value)
		}
		if rule.Min != nil && d.LessThan(*rule.Min) {
			return fmt.Sprintf("value '%s' is below the minimum %s", value, rule.Min)
		}
		if rule.Max != nil && d.GreaterThan(*rule.Max) {
			return fmt.Sprintf("value '%s' is above the maximum %s", value, rule.Max)
		}
	case TypeDate:
		if _, ok := ParseDate(value); !ok {
			return fmt.Sprintf("value '%s' is not a valid date", value)
		}
	case TypeDatetime:
		if _, ok := ParseDatetime(value); !ok {
			return fmt.Sprintf("value '%s' is not a valid datetime", value)
		}
	}

	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		return fmt.Sprintf("value '%s' does not match the expected format", value)
	}
	canonical := value
	if rule.Normalize != nil {
		canonical = rule.Normalize(value)
	}
	if len(rule.Values) > 0 && !slices.ContainsFunc(rule.Values, func(v string) bool { return strings.EqualFold(v, canonical) }) {
		return fmt.Sprintf("value '%s' is not one of %v", value, rule.Values)
	}
	if rule.CheckFn != nil {
		if err := rule.CheckFn(value); err != nil {
			return err.Error()
		}
	}
	return ""
}

// checkRequired reports empty cells of required fields. A required field
// with no column at all is one table-level error
func (v *DataValidator) checkRequired(table *tabular.Table, mappings map[string]string, bound []binding, domain string) []validation.Error {
	var errs []validation.Error
	for _, field := range v.required[domain] {
		col, ok := lookup(bound, field)
		if !ok {
			errs = append(errs, validation.Error{
				Row:        validation.TableRow,
				Column:     mappings[field],
				Type:       validation.ErrorTypeRequiredField,
				Message:    fmt.Sprintf("required field '%s' is not mapped to any column", field),
				Expected:   field,
				Suggestion: "confirm a column for this field or check the upstream export",
			})
			continue
		}
		for i, row := range table.Rows {
			if strings.TrimSpace(row[col]) == "" {
				errs = append(errs, validation.Error{
					Row:     i,
					Column:  col,
					Type:    validation.ErrorTypeRequiredField,
					Message: fmt.Sprintf("required field '%s' is empty", field),
				})
			}
		}
	}
	return errs
}

// checkForeignKeys looks up the distinct values of every key column in one
// call per column. A failed lookup is logged and counted, then treated as
// "nothing missing"
func (v *DataValidator) checkForeignKeys(ctx context.Context, table *tabular.Table, bound []binding, domain string) []validation.Error {
	if v.references == nil {
		return nil
	}

	var errs []validation.Error
	for _, b := range bound {
		fk, ok := v.foreignKeys[b.field]
		if !ok || ownKey[domain] == b.field {
			continue
		}

		values := distinct(table.Column(b.column))
		if len(values) == 0 {
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, v.fkTimeout)
		missing, err := v.references.MissingValues(lookupCtx, fk.Table, fk.Column, values)
		cancel()
		if err != nil {
			v.logger.Warn("Foreign key check failed, skipping",
				zap.String("table", fk.Table),
				zap.String("column", fk.Column),
				zap.Int("values", len(values)),
				zap.Error(err),
			)
			if v.failures != nil {
				v.failures.RecordFKCheckFailure(ctx, fk.Table)
			}
			continue
		}
		if len(missing) == 0 {
			continue
		}

		absent := make(map[string]bool, len(missing))
		for _, m := range missing {
			absent[m] = true
		}
		for i, row := range table.Rows {
			value := strings.TrimSpace(row[b.column])
			if !absent[value] {
				continue
			}
			errs = append(errs, validation.Error{
				Row:        i,
				Column:     b.column,
				Type:       validation.ErrorTypeForeignKey,
				Message:    fmt.Sprintf("value '%s' does not exist in %s", value, fk.Table),
				Value:      value,
				Suggestion: fmt.Sprintf("check that %s contains this record", fk.Table),
			})
		}
	}
	return errs
}

func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (v *DataValidator) checkBusinessRules(table *tabular.Table, bound []binding) []validation.Error {
	var errs []validation.Error

	positive := func(field, message string) {
		col, ok := lookup(bound, field)
		if !ok {
			return
		}
		for i, row := range table.Rows {
			value := strings.TrimSpace(row[col])
			d, err := ParseAmount(value)
			if err != nil || d.IsPositive() {
				continue
			}
			errs = append(errs, validation.Error{
				Row:      i,
				Column:   col,
				Type:     validation.ErrorTypeBusinessRule,
				Message:  message,
				Value:    value,
				Expected: "> 0",
			})
		}
	}
	positive("order_amount", "order amount must be greater than 0")
	positive("quantity", "quantity must be greater than 0")

	if col, ok := lookup(bound, "order_date"); ok {
		now := v.now()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
		for i, row := range table.Rows {
			value := strings.TrimSpace(row[col])
			d, ok := ParseDate(value)
			if !ok {
				if d, ok = ParseDatetime(value); !ok {
					continue
				}
			}
			day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.Local)
			if day.After(today) {
				errs = append(errs, validation.Error{
					Row:     i,
					Column:  col,
					Type:    validation.ErrorTypeBusinessRule,
					Message: "order date cannot be in the future",
					Value:   value,
				})
			}
		}
	}
	return errs
}

// checkDuplicates warns on every row whose order_id/product_id key occurs
// more than once. Rows with an empty key are ignored
func checkDuplicates(table *tabular.Table, bound []binding) []validation.Error {
	var cols []string
	for _, field := range []string{"order_id", "product_id"} {
		if col, ok := lookup(bound, field); ok {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return nil
	}

	keys := make([]string, len(table.Rows))
	counts := make(map[string]int)
	for i, row := range table.Rows {
		parts := make([]string, len(cols))
		empty := true
		for j, c := range cols {
			parts[j] = strings.TrimSpace(row[c])
			if parts[j] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		keys[i] = strings.Join(parts, "|")
		counts[keys[i]]++
	}

	var warnings []validation.Error
	column := strings.Join(cols, ",")
	for i, k := range keys {
		if k == "" || counts[k] < 2 {
			continue
		}
		warnings = append(warnings, validation.Error{
			Row:     i,
			Column:  column,
			Type:    validation.ErrorTypeConsistency,
			Message: "duplicate record",
			Value:   k,
		})
	}
	return warnings
}
