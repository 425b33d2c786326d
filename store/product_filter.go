package store

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ProductFilter is one catalog predicate. The set of filters is closed;
// each kind renders its own SQL fragment and arguments.
type ProductFilter interface {
	predicate() (string, []any)
}

type CategoryFilter struct {
	CategoryID int64
}

func (f CategoryFilter) predicate() (string, []any) {
	return "category_id = ?", []any{f.CategoryID}
}

type BrandFilter struct {
	Brand string
}

func (f BrandFilter) predicate() (string, []any) {
	return "brand = ?", []any{f.Brand}
}

// PriceRangeFilter bounds are inclusive; an invalid NullDecimal leaves that
// side open.
type PriceRangeFilter struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
}

func (f PriceRangeFilter) predicate() (string, []any) {
	var parts []string
	var args []any
	if f.Min.Valid {
		parts = append(parts, "price >= ?")
		args = append(args, f.Min.Decimal)
	}
	if f.Max.Valid {
		parts = append(parts, "price <= ?")
		args = append(args, f.Max.Decimal)
	}
	return strings.Join(parts, " AND "), args
}

type InStockFilter struct{}

func (InStockFilter) predicate() (string, []any) {
	return "stock_quantity > 0", nil
}

type FeaturedFilter struct{}

func (FeaturedFilter) predicate() (string, []any) {
	return "is_featured = TRUE", nil
}

// SearchFilter matches the term anywhere in name, description, brand or
// model.
type SearchFilter struct {
	Term string
}

func (f SearchFilter) predicate() (string, []any) {
	like := "%" + escapeLike(f.Term) + "%"
	return "(name LIKE ? OR description LIKE ? OR brand LIKE ? OR model LIKE ?)", []any{like, like, like, like}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func buildProductWhere(filters []ProductFilter) (string, []any) {
	var clauses []string
	var args []any
	for _, f := range filters {
		if f == nil {
			continue
		}
		clause, fargs := f.predicate()
		if clause == "" {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, fargs...)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// noLimit stands in for LIMIT when only an OFFSET is wanted; MySQL has no
// OFFSET without LIMIT.
const noLimit = int64(math.MaxInt64)

// Page limits a listing. A zero Limit returns every row after Offset.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) clause() (string, []any) {
	switch {
	case p.Limit > 0:
		return " LIMIT ? OFFSET ?", []any{p.Limit, p.Offset}
	case p.Offset > 0:
		return " LIMIT ? OFFSET ?", []any{noLimit, p.Offset}
	default:
		return "", nil
	}
}
