package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindDecimal
	kindBool
)

type queryField struct {
	column string
	kind   fieldKind
}

// cartFields declares every field a search may constrain.
var cartFields = map[string]queryField{
	"id":          {column: "c.id", kind: kindString},
	"customerId":  {column: "c.customer_id", kind: kindString},
	"version":     {column: "c.version", kind: kindInt},
	"totalAmount": {column: "c.total_amount", kind: kindDecimal},
	"isComplete":  {kind: kindBool},
}

const (
	cartColumns = "c.id, c.version, c.customer_id, c.total_amount, c.created_at, c.updated_at"
	itemColumns = "ci.id, ci.version, ci.inventory_id, ci.quantity, ci.created_at, ci.updated_at"

	itemCountColumn = "(SELECT COUNT(*) FROM cart_items ci WHERE ci.cart_id = c.id) AS item_count"

	hasNoItems  = "NOT EXISTS (SELECT 1 FROM cart_items ci WHERE ci.cart_id = c.id)"
	hasAnyItems = "EXISTS (SELECT 1 FROM cart_items ci WHERE ci.cart_id = c.id)"
)

// findByIDQuery selects one cart. With items it LEFT JOINs so a cart without
// lines still yields one row.
func findByIDQuery(withItems bool) string {
	if !withItems {
		return "SELECT " + cartColumns + ", " + itemCountColumn + " FROM carts c WHERE c.id = ?"
	}
	return "SELECT " + cartColumns + ", " + itemColumns +
		" FROM carts c LEFT JOIN cart_items ci ON ci.cart_id = c.id" +
		" WHERE c.id = ? ORDER BY ci.created_at, ci.id"
}

// findQuery builds the conjunctive search. Predicates are emitted in field
// name order so equal criteria always produce equal SQL.
func findQuery(criteria domain.SearchCriteria) (string, []any, error) {
	var (
		predicates []string
		args       []any
	)

	for _, name := range criteria.Fields() {
		field, ok := cartFields[name]
		if !ok {
			return "", nil, fmt.Errorf("unknown field %q: %w", name, domain.ErrInvalidCriteria)
		}

		raw := strings.TrimSpace(criteria[name])
		switch field.kind {
		case kindString:
			predicates = append(predicates, field.column+" = ?")
			args = append(args, raw)
		case kindInt:
			v, err := strconv.Atoi(raw)
			if err != nil {
				return "", nil, fmt.Errorf("field %q expects an integer, got %q: %w", name, raw, domain.ErrInvalidCriteria)
			}
			predicates = append(predicates, field.column+" = ?")
			args = append(args, v)
		case kindDecimal:
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return "", nil, fmt.Errorf("field %q expects a number, got %q: %w", name, raw, domain.ErrInvalidCriteria)
			}
			predicates = append(predicates, field.column+" = ?")
			args = append(args, v)
		case kindBool:
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return "", nil, fmt.Errorf("field %q expects a boolean, got %q: %w", name, raw, domain.ErrInvalidCriteria)
			}
			if v {
				predicates = append(predicates, hasNoItems)
			} else {
				predicates = append(predicates, hasAnyItems)
			}
		}
	}

	q := "SELECT " + cartColumns + ", " + itemCountColumn + " FROM carts c"
	if len(predicates) > 0 {
		q += " WHERE " + strings.Join(predicates, " AND ")
	}
	q += " ORDER BY c.created_at, c.id"

	return q, args, nil
}

// itemsQuery loads the lines of n carts in one round trip.
func itemsQuery(n int) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
	return "SELECT ci.cart_id, " + itemColumns +
		" FROM cart_items ci WHERE ci.cart_id IN (" + placeholders + ")" +
		" ORDER BY ci.created_at, ci.id"
}
