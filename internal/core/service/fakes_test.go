package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gentlecorp/shopping-cart/internal/core/auth"
	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

const adminRole = "gentlecorp-admin"

// Mock CartRepository with the same compare-and-swap rules as the MySQL store
type mockCartRepo struct {
	mu          sync.Mutex
	carts       map[string]domain.Cart
	snapshotErr error
	snapshots   int
}

func newMockCartRepo() *mockCartRepo {
	return &mockCartRepo{carts: make(map[string]domain.Cart)}
}

func cloneCart(c domain.Cart) domain.Cart {
	c.Items = append([]domain.CartItem{}, c.Items...)
	return c
}

func (m *mockCartRepo) get(id string) (domain.Cart, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	return cloneCart(c), ok
}

func (m *mockCartRepo) FindByID(ctx context.Context, id string, withItems bool) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[id]
	if !ok {
		return nil, nil
	}
	c = cloneCart(c)
	c.IsComplete = domain.Complete(c.Items)
	if !withItems {
		c.Items = []domain.CartItem{}
	}
	return &c, nil
}

func (m *mockCartRepo) Find(ctx context.Context, criteria domain.SearchCriteria, withItems bool) ([]domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, field := range criteria.Fields() {
		if field != "customerId" {
			return nil, domain.ErrInvalidCriteria
		}
	}

	out := []domain.Cart{}
	for _, c := range m.carts {
		if id, ok := criteria["customerId"]; ok && c.CustomerID != id {
			continue
		}
		c = cloneCart(c)
		c.IsComplete = domain.Complete(c.Items)
		if !withItems {
			c.Items = []domain.CartItem{}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockCartRepo) CreateCart(ctx context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cart.ID] = cloneCart(cart)
	return nil
}

// bump must be called with mu held
func (m *mockCartRepo) bump(cartID string, expected int, now time.Time) (domain.Cart, error) {
	c, ok := m.carts[cartID]
	if !ok || c.Version != expected {
		return domain.Cart{}, domain.ErrVersionConflict
	}
	c = cloneCart(c)
	c.Version++
	c.UpdatedAt = now
	return c, nil
}

func (m *mockCartRepo) InsertItem(ctx context.Context, cartID string, expectedVersion int, item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.bump(cartID, expectedVersion, item.CreatedAt)
	if err != nil {
		return err
	}
	if c.FindItem(item.InventoryID) >= 0 {
		return domain.ErrVersionConflict
	}
	c.Items = append(c.Items, item)
	m.carts[cartID] = c
	return nil
}

func (m *mockCartRepo) UpdateItemQuantity(ctx context.Context, cartID string, expectedVersion int, itemID string, quantity int, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.bump(cartID, expectedVersion, now)
	if err != nil {
		return 0, err
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].Quantity = quantity
			c.Items[i].Version++
			c.Items[i].UpdatedAt = now
			m.carts[cartID] = c
			return c.Items[i].Version, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (m *mockCartRepo) RemoveItem(ctx context.Context, cartID string, expectedVersion int, itemID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.bump(cartID, expectedVersion, now)
	if err != nil {
		return err
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			m.carts[cartID] = c
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockCartRepo) DeleteCart(ctx context.Context, cart domain.Cart) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[cart.ID]
	if !ok || c.Version != cart.Version {
		return false, nil
	}
	delete(m.carts, cart.ID)
	return true, nil
}

func (m *mockCartRepo) SaveTotalSnapshot(ctx context.Context, cartID string, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots++
	if m.snapshotErr != nil {
		return m.snapshotErr
	}
	c, ok := m.carts[cartID]
	if !ok {
		return domain.ErrNotFound
	}
	c.TotalAmount = total
	m.carts[cartID] = c
	return nil
}

// Mock CustomerGateway
type mockCustomers struct {
	usernames map[string]string
	err       error
	lastAuth  atomic.Value
}

func (m *mockCustomers) GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Customer, error) {
	m.lastAuth.Store(authorization)
	if m.err != nil {
		return domain.Customer{}, m.err
	}
	username, ok := m.usernames[id]
	if !ok {
		return domain.Customer{}, domain.ErrNotFound
	}
	return domain.Customer{ID: id, Username: username}, nil
}

// Mock InventoryGateway
type mockInventory struct {
	mu     sync.Mutex
	items  map[string]domain.Inventory
	errs   map[string]error
	calls  atomic.Int32
	tokens []string
}

func (m *mockInventory) GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Inventory, error) {
	m.calls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, authorization)

	if err, ok := m.errs[id]; ok {
		return domain.Inventory{}, err
	}
	inv, ok := m.items[id]
	if !ok {
		return domain.Inventory{}, domain.ErrNotFound
	}
	return inv, nil
}

// Mock IdentityProvider
type mockIdentity struct {
	fail   bool
	logins atomic.Int32
}

func (m *mockIdentity) Login(ctx context.Context, username, password string) (domain.TokenSet, bool) {
	m.logins.Add(1)
	if m.fail || username == "" || password == "" {
		return domain.TokenSet{}, false
	}
	return domain.TokenSet{AccessToken: "admin-access-token", TokenType: "Bearer"}, true
}

func (m *mockIdentity) Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, bool) {
	return domain.TokenSet{}, false
}

func bearer(t *testing.T, username string, roles ...string) string {
	t.Helper()

	encode := func(v any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal claims: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}

	claims := map[string]any{
		"resource_access": map[string]any{
			"nest-client": map[string]any{"roles": roles},
		},
	}
	if username != "" {
		claims["preferred_username"] = username
	}
	return "Bearer " + encode(map[string]string{"alg": "RS256", "typ": "JWT"}) + "." + encode(claims) + ".sig"
}

type fixture struct {
	repo      *mockCartRepo
	customers *mockCustomers
	inventory *mockInventory
	identity  *mockIdentity
	reader    *CartReadService
	writer    *CartWriteService
}

func newFixture() *fixture {
	customers := &mockCustomers{usernames: map[string]string{
		"customer-x": "xavier",
		"customer-y": "yasmin",
	}}
	inventory := &mockInventory{
		items: map[string]domain.Inventory{
			"inv-1": {ID: "inv-1", SKUCode: "SKU-1", Name: "Mug", UnitPrice: decimal.RequireFromString("4.99")},
			"inv-2": {ID: "inv-2", SKUCode: "SKU-2", Name: "Lamp", UnitPrice: decimal.RequireFromString("19.999")},
		},
		errs: map[string]error{},
	}

	f := &fixture{
		repo:      newMockCartRepo(),
		customers: customers,
		inventory: inventory,
		identity:  &mockIdentity{},
	}
	f.reader = NewCartReadService(f.repo, f.customers, f.inventory, f.identity, auth.NewInspector(nil), ReadConfig{
		AdminRole:     adminRole,
		AdminUsername: "admin",
		AdminPassword: "p",
	}, nil)
	f.writer = NewCartWriteService(f.repo, f.reader, f.inventory, nil)
	return f
}

var errBoom = errors.New("boom")
