package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/ingestion/internal/domain/validation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrReferenceNotAllowed is returned for a table.column pair outside the whitelist.
var ErrReferenceNotAllowed = errors.New("persistence: reference column not allowed")

// ReferenceColumns contains the table.column pairs foreign-key checks may query.
// Table and column names are interpolated as identifiers, so only these are accepted.
var ReferenceColumns = map[string]bool{
	"dim_platforms.platform_code": true,
	"dim_shops.shop_id":           true,
	"dim_products.product_id":     true,
	"dim_products.platform_sku":   true,
	"dim_customers.customer_id":   true,
	"fact_orders.order_id":        true,
}

// GormReferenceChecker implements validation.ReferenceChecker with one
// batched IN query per call.
type GormReferenceChecker struct {
	db      *gorm.DB
	allowed map[string]bool
}

var _ validation.ReferenceChecker = (*GormReferenceChecker)(nil)

// NewGormReferenceChecker creates a checker over ReferenceColumns plus extra
// table.column pairs.
func NewGormReferenceChecker(db *gorm.DB, extra ...string) *GormReferenceChecker {
	allowed := make(map[string]bool, len(ReferenceColumns)+len(extra))
	for k := range ReferenceColumns {
		allowed[k] = true
	}
	for _, k := range extra {
		allowed[k] = true
	}
	return &GormReferenceChecker{db: db, allowed: allowed}
}

// MissingValues returns the values with no row in table.column, in input order.
func (c *GormReferenceChecker) MissingValues(ctx context.Context, table, column string, values []string) ([]string, error) {
	if !c.allowed[table+"."+column] {
		return nil, fmt.Errorf("%w: %s.%s", ErrReferenceNotAllowed, table, column)
	}
	if len(values) == 0 {
		return nil, nil
	}

	var found []string
	err := c.db.WithContext(ctx).
		Table(table).
		Where(clause.IN{Column: clause.Column{Name: column}, Values: toAny(values)}).
		Distinct().
		Pluck(column, &found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check %s.%s: %w", table, column, err)
	}

	present := make(map[string]bool, len(found))
	for _, v := range found {
		present[v] = true
	}
	missing := make([]string, 0)
	for _, v := range values {
		if !present[v] {
			missing = append(missing, v)
		}
	}
	return missing, nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
