package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

// CartRepository persists the cart aggregate. Every item mutation is a
// compare-and-swap on the cart version: when the stored version no longer
// equals expectedVersion nothing is written and domain.ErrVersionConflict is
// returned.
type CartRepository interface {
	// FindByID returns nil, nil when the cart does not exist
	FindByID(ctx context.Context, id string, withItems bool) (*domain.Cart, error)

	// Find returns every cart matching all criteria, domain.ErrInvalidCriteria for unknown fields
	Find(ctx context.Context, criteria domain.SearchCriteria, withItems bool) ([]domain.Cart, error)

	CreateCart(ctx context.Context, cart domain.Cart) error

	// InsertItem adds a new line and bumps the cart version
	InsertItem(ctx context.Context, cartID string, expectedVersion int, item domain.CartItem) error

	// UpdateItemQuantity sets the quantity of a line, bumps both versions and returns the new item version
	UpdateItemQuantity(ctx context.Context, cartID string, expectedVersion int, itemID string, quantity int, now time.Time) (int, error)

	// RemoveItem deletes a line and bumps the cart version
	RemoveItem(ctx context.Context, cartID string, expectedVersion int, itemID string, now time.Time) error

	// DeleteCart removes the items and the cart row, guarded by cart.Version.
	// It reports whether exactly one cart row was deleted.
	DeleteCart(ctx context.Context, cart domain.Cart) (bool, error)

	// SaveTotalSnapshot stores the last computed total for summary listings
	SaveTotalSnapshot(ctx context.Context, cartID string, total decimal.Decimal) error
}
