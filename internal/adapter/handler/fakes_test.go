package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/gentlecorp/shopping-cart/internal/core/auth"
	"github.com/gentlecorp/shopping-cart/internal/core/domain"
	"github.com/gentlecorp/shopping-cart/internal/core/service"
	"github.com/gentlecorp/shopping-cart/internal/observability"
)

const (
	adminRole = "gentlecorp-admin"
	userRole  = "gentlecorp-user"
)

// In-memory CartRepository enforcing the cart version compare-and-swap
type memRepo struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

func (m *memRepo) FindByID(ctx context.Context, id string, withItems bool) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return nil, nil
	}
	c.Items = append([]domain.CartItem{}, c.Items...)
	return &c, nil
}

func (m *memRepo) Find(ctx context.Context, criteria domain.SearchCriteria, withItems bool) ([]domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range criteria.Fields() {
		if f != "customerId" {
			return nil, domain.ErrInvalidCriteria
		}
	}
	out := []domain.Cart{}
	for _, c := range m.carts {
		if id, ok := criteria["customerId"]; ok && id != c.CustomerID {
			continue
		}
		c.IsComplete = len(c.Items) == 0
		c.Items = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) CreateCart(ctx context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cart.ID] = cart
	return nil
}

func (m *memRepo) mutate(cartID string, expected int, fn func(c *domain.Cart) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok || c.Version != expected {
		return domain.ErrVersionConflict
	}
	c.Items = append([]domain.CartItem{}, c.Items...)
	if err := fn(&c); err != nil {
		return err
	}
	c.Version++
	m.carts[cartID] = c
	return nil
}

func (m *memRepo) InsertItem(ctx context.Context, cartID string, expectedVersion int, item domain.CartItem) error {
	return m.mutate(cartID, expectedVersion, func(c *domain.Cart) error {
		c.Items = append(c.Items, item)
		return nil
	})
}

func (m *memRepo) UpdateItemQuantity(ctx context.Context, cartID string, expectedVersion int, itemID string, quantity int, now time.Time) (int, error) {
	var version int
	err := m.mutate(cartID, expectedVersion, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].ID == itemID {
				c.Items[i].Quantity = quantity
				c.Items[i].Version++
				version = c.Items[i].Version
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return version, err
}

func (m *memRepo) RemoveItem(ctx context.Context, cartID string, expectedVersion int, itemID string, now time.Time) error {
	return m.mutate(cartID, expectedVersion, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].ID == itemID {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				return nil
			}
		}
		return domain.ErrNotFound
	})
}

func (m *memRepo) DeleteCart(ctx context.Context, cart domain.Cart) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cart.ID]
	if !ok || c.Version != cart.Version {
		return false, nil
	}
	delete(m.carts, cart.ID)
	return true, nil
}

func (m *memRepo) SaveTotalSnapshot(ctx context.Context, cartID string, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[cartID]; ok {
		c.TotalAmount = total
		m.carts[cartID] = c
	}
	return nil
}

type fakeCustomers map[string]string

func (f fakeCustomers) GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Customer, error) {
	username, ok := f[id]
	if !ok {
		return domain.Customer{}, domain.ErrNotFound
	}
	return domain.Customer{ID: id, Username: username}, nil
}

type fakeInventory map[string]domain.Inventory

func (f fakeInventory) GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Inventory, error) {
	inv, ok := f[id]
	if !ok {
		return domain.Inventory{}, domain.ErrNotFound
	}
	return inv, nil
}

type fakeIdentity struct{}

func (fakeIdentity) Login(ctx context.Context, username, password string) (domain.TokenSet, bool) {
	if username != "admin" || password != "p" {
		return domain.TokenSet{}, false
	}
	return domain.TokenSet{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(5 * time.Minute),
	}, true
}

func (fakeIdentity) Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, bool) {
	if refreshToken != "refresh" {
		return domain.TokenSet{}, false
	}
	return domain.TokenSet{AccessToken: "access-2", TokenType: "Bearer"}, true
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
		"preferred_username": username,
		"resource_access": map[string]any{
			"gentlecorp-client": map[string]any{"roles": roles},
		},
	}
	return "Bearer " + encode(map[string]string{"alg": "RS256", "typ": "JWT"}) + "." + encode(claims) + ".sig"
}

type testServer struct {
	repo     *memRepo
	registry *prometheus.Registry
	health   *HealthReporter
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := &memRepo{carts: make(map[string]domain.Cart)}
	inspector := auth.NewInspector(nil)
	inventory := fakeInventory{
		"inv-1": {ID: "inv-1", SKUCode: "SKU-1", Name: "Mug", UnitPrice: decimal.RequireFromString("4.99")},
	}
	reader := service.NewCartReadService(repo, fakeCustomers{"customer-x": "xavier"}, inventory, fakeIdentity{}, inspector, service.ReadConfig{
		AdminRole:     adminRole,
		AdminUsername: "admin",
		AdminPassword: "p",
	}, nil)

	reg := prometheus.NewRegistry()
	health := NewHealthReporter(0, nil)
	h := NewHTTPHandler(HTTPDeps{
		Reader:    reader,
		Writer:    service.NewCartWriteService(repo, reader, inventory, nil),
		Identity:  fakeIdentity{},
		Inspector: inspector,
		Health:    health,
		Metrics:   observability.NewMetrics(reg),
		AdminRole: adminRole,
		UserRoles: []string{userRole, "gentlecorp-customer"},
	})

	return &testServer{
		repo:     repo,
		registry: reg,
		health:   health,
		handler:  h.Routes(),
	}
}
