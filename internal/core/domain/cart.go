package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart is the aggregate root. CustomerUsername, TotalAmount and IsComplete
// are derived on read and never trusted from storage.
type Cart struct {
	ID               string
	Version          int // optimistic locking
	CustomerID       string
	CustomerUsername string
	TotalAmount      decimal.Decimal
	IsComplete       bool
	Items            []CartItem
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CartItem is a line of a cart. SKUCode, Price and Name are populated from
// the inventory service on read.
type CartItem struct {
	ID          string
	Version     int
	InventoryID string
	Quantity    int
	SKUCode     string
	Price       decimal.Decimal
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewCart builds a cart in its initial state: version 0 and no items.
func NewCart(customerID string, now time.Time) (Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("customer id is required: %w", ErrInvalidArgument)
	}

	return Cart{
		ID:          uuid.NewString(),
		Version:     0,
		CustomerID:  customerID,
		TotalAmount: decimal.Zero,
		IsComplete:  true,
		Items:       []CartItem{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MaxQuantity is the largest quantity a line may hold, the range of the
// quantity column.
const MaxQuantity = math.MaxInt32

// NewCartItem builds a fresh line with version 0.
func NewCartItem(inventoryID string, quantity int, now time.Time) (CartItem, error) {
	inventoryID = strings.TrimSpace(inventoryID)
	if inventoryID == "" {
		return CartItem{}, fmt.Errorf("inventory id is required: %w", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return CartItem{}, fmt.Errorf("quantity must be positive, got %d: %w", quantity, ErrInvalidArgument)
	}
	if quantity > MaxQuantity {
		return CartItem{}, fmt.Errorf("quantity %d exceeds %d: %w", quantity, MaxQuantity, ErrInvalidArgument)
	}

	return CartItem{
		ID:          uuid.NewString(),
		Version:     0,
		InventoryID: inventoryID,
		Quantity:    quantity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// FindItem returns the index of the line holding inventoryID, or -1.
func (c *Cart) FindItem(inventoryID string) int {
	for i := range c.Items {
		if c.Items[i].InventoryID == inventoryID {
			return i
		}
	}
	return -1
}

// Subtotal is price * quantity of a single line.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the line subtotals and rounds to 2 decimal places.
func Total(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total.Round(2)
}

// Complete reports the literal completion rule: a cart without items is
// complete.
func Complete(items []CartItem) bool {
	return len(items) == 0
}

// ETag renders a version as a quoted decimal string.
func ETag(version int) string {
	return strconv.Quote(strconv.Itoa(version))
}

// ParseETag parses a strong version tag such as "3" for If-Match. Bare
// integers are accepted, weak validators (W/"3") are not.
func ParseETag(tag string) (int, error) {
	raw := strings.TrimSpace(tag)
	if strings.HasPrefix(raw, "W/") {
		return 0, fmt.Errorf("weak version tag %q cannot be used as a precondition: %w", tag, ErrInvalidArgument)
	}
	return parseVersion(tag, raw)
}

// MatchesETag reports whether an If-None-Match value names version, using
// the weak comparison. Malformed values never match.
func MatchesETag(tag string, version int) bool {
	raw := strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	v, err := parseVersion(tag, raw)
	return err == nil && v == version
}

func parseVersion(tag, raw string) (int, error) {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}

	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("malformed version tag %q: %w", tag, ErrInvalidArgument)
	}
	return version, nil
}
