package port

import (
	"context"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

// CustomerGateway loads customers from the customer service. The
// authorization value is forwarded verbatim.
type CustomerGateway interface {
	GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Customer, error)
}

// InventoryGateway loads inventory entries from the inventory service.
type InventoryGateway interface {
	GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Inventory, error)
}

// IdentityProvider obtains tokens from the identity service. Failures are
// reported as ok == false.
type IdentityProvider interface {
	// Login uses the password grant
	Login(ctx context.Context, username, password string) (domain.TokenSet, bool)

	// Refresh exchanges a refresh token for a new token set
	Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, bool)
}
