package validator

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the expected kind of a cell
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumeric  FieldType = "numeric"
	TypeInteger  FieldType = "integer"
	TypeDate     FieldType = "date"
	TypeDatetime FieldType = "datetime"
	TypeEnum     FieldType = "enum"
)

// FieldRule is the per-cell check for one standard field
type FieldRule struct {
	Type    FieldType
	Pattern *regexp.Regexp
	Min     *decimal.Decimal
	Max     *decimal.Decimal
	Values  []string
	CheckFn func(value string) error
	// Normalize maps a cell to its canonical spelling before the enum check
	Normalize func(value string) string
	// Lenient rules report violations as warnings, so the row still lands
	Lenient bool
}

// Rule starts a rule of the given type
func Rule(t FieldType) *FieldRule {
	return &FieldRule{Type: t}
}

// Match requires the value to match re
func (r *FieldRule) Match(re *regexp.Regexp) *FieldRule {
	r.Pattern = re
	return r
}

// Range bounds numeric values, inclusive
func (r *FieldRule) Range(min, max float64) *FieldRule {
	lo, hi := decimal.NewFromFloat(min), decimal.NewFromFloat(max)
	r.Min, r.Max = &lo, &hi
	return r
}

// OneOf restricts values to the given set
func (r *FieldRule) OneOf(values ...string) *FieldRule {
	r.Values = values
	return r
}

// Normalized compares fn(value) against the enum values
func (r *FieldRule) Normalized(fn func(value string) string) *FieldRule {
	r.Normalize = fn
	return r
}

// Warn downgrades violations of the rule to warnings
func (r *FieldRule) Warn() *FieldRule {
	r.Lenient = true
	return r
}

// Check adds a custom check run after the built-in ones
func (r *FieldRule) Check(fn func(value string) error) *FieldRule {
	r.CheckFn = fn
	return r
}

// ForeignKey names the dimension column a field must exist in
type ForeignKey struct {
	Table  string
	Column string
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DefaultRules returns the built-in cell rules keyed by standard field
func DefaultRules() map[string]*FieldRule {
	return map[string]*FieldRule{
		"product_id":    Rule(TypeString).Match(identifierPattern),
		"shop_id":       Rule(TypeString).Match(identifierPattern),
		"order_id":      Rule(TypeString).Match(identifierPattern),
		"customer_id":   Rule(TypeString).Match(identifierPattern),
		"product_price": Rule(TypeNumeric).Range(0, 1_000_000),
		"order_amount":  Rule(TypeNumeric).Range(0, 10_000_000),
		"quantity":      Rule(TypeInteger).Range(0, 10_000),
		"order_date":    Rule(TypeDate),
		"created_at":    Rule(TypeDatetime),
		"status":        Rule(TypeEnum).OneOf(OrderStatuses...).Normalized(canonicalStatus).Warn(),
		"currency":      Rule(TypeEnum).OneOf(Currencies...).Normalized(CanonicalCurrency),
	}
}

// DefaultRequiredFields returns the fields every row of a domain must fill
func DefaultRequiredFields() map[string][]string {
	return map[string][]string{
		"products": {"product_id", "product_name", "shop_id"},
		"orders":   {"order_id", "order_amount", "order_date", "shop_id"},
		"traffic":  {"date", "shop_id", "visits"},
		"services": {"date", "shop_id", "service_type"},
	}
}

// DefaultForeignKeys returns the dimension each key field refers to
func DefaultForeignKeys() map[string]ForeignKey {
	return map[string]ForeignKey{
		"shop_id":     {Table: "dim_shops", Column: "shop_id"},
		"product_id":  {Table: "dim_products", Column: "product_id"},
		"order_id":    {Table: "fact_orders", Column: "order_id"},
		"customer_id": {Table: "dim_customers", Column: "customer_id"},
	}
}

// ownKey is the field a domain introduces; it is never checked against the
// table it is about to be loaded into
var ownKey = map[string]string{
	"orders":   "order_id",
	"products": "product_id",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
}

var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
}

// ParseDate parses a date cell in any supported layout
func ParseDate(s string) (time.Time, bool) {
	return parseLayouts(s, dateLayouts)
}

// ParseDatetime parses a timestamp cell in any supported layout
func ParseDatetime(s string) (time.Time, bool) {
	return parseLayouts(s, datetimeLayouts)
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
