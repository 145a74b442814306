package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inventory is the subset of the inventory service's entity used to enrich
// cart items.
type Inventory struct {
	ID        string          `json:"id"`
	SKUCode   string          `json:"sku_code"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Name      string          `json:"name"`
}

// Customer is the subset of the customer service's entity used to resolve
// a cart owner.
type Customer struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// TokenSet is the result of a successful password-grant login.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}
