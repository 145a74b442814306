package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gentlecorp/shopping-cart/internal/core/auth"
	"github.com/gentlecorp/shopping-cart/internal/core/domain"
	"github.com/gentlecorp/shopping-cart/internal/port"
)

// anyVersion is sent as If-None-Match so remote services always answer with
// the full entity.
const anyVersion = "-1"

const defaultEnrichConcurrency = 8

type ReadConfig struct {
	AdminRole         string
	AdminUsername     string
	AdminPassword     string
	EnrichConcurrency int
}

// Access is the outcome of a successful authorization against a cart.
type Access struct {
	Cart     domain.Cart
	Identity auth.Identity
	IsAdmin  bool
	// Token is the authorization header to use for downstream calls: the
	// caller's own for administrators, an elevated one otherwise.
	Token string
}

type CartReadService struct {
	repo      port.CartRepository
	customers port.CustomerGateway
	inventory port.InventoryGateway
	identity  port.IdentityProvider
	inspector *auth.Inspector
	cfg       ReadConfig
	logger    *zap.Logger
}

func NewCartReadService(
	repo port.CartRepository,
	customers port.CustomerGateway,
	inventory port.InventoryGateway,
	identity port.IdentityProvider,
	inspector *auth.Inspector,
	cfg ReadConfig,
	logger *zap.Logger,
) *CartReadService {
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = defaultEnrichConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartReadService{
		repo:      repo,
		customers: customers,
		inventory: inventory,
		identity:  identity,
		inspector: inspector,
		cfg:       cfg,
		logger:    logger,
	}
}

// FindByID loads, authorizes and enriches a cart.
func (s *CartReadService) FindByID(ctx context.Context, id, authorization string) (domain.Cart, error) {
	access, err := s.Authorize(ctx, id, authorization)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := access.Cart
	stored := cart.TotalAmount

	items, err := s.enrich(ctx, cart.Items, access.Token)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Items = items
	cart.TotalAmount = domain.Total(items)
	cart.IsComplete = domain.Complete(items)

	if !stored.Equal(cart.TotalAmount) {
		if err := s.repo.SaveTotalSnapshot(ctx, cart.ID, cart.TotalAmount); err != nil {
			s.logger.Warn("refresh total snapshot", zap.String("cart_id", cart.ID), zap.Error(err))
		}
	}

	return cart, nil
}

// Find returns cart summaries without items. Empty criteria match every cart.
func (s *CartReadService) Find(ctx context.Context, criteria domain.SearchCriteria) ([]domain.Cart, error) {
	s.logger.Debug("find carts", zap.Strings("fields", criteria.Fields()))
	return s.repo.Find(ctx, criteria, false)
}

// Authorize loads a cart with its items and checks that the caller owns it
// or is an administrator. Items are not enriched.
func (s *CartReadService) Authorize(ctx context.Context, id, authorization string) (Access, error) {
	cart, err := s.repo.FindByID(ctx, id, true)
	if err != nil {
		return Access{}, fmt.Errorf("load cart %s: %w", id, err)
	}
	if cart == nil {
		return Access{}, fmt.Errorf("cart %s: %w", id, domain.ErrNotFound)
	}

	identity := s.inspector.Inspect(authorization)
	isAdmin := identity.IsAdmin(s.cfg.AdminRole)

	if !isAdmin && !identity.HasUsername() {
		return Access{}, fmt.Errorf("cart %s: no caller identity: %w", id, domain.ErrUnauthorized)
	}

	owner, err := s.customers.GetByID(ctx, cart.CustomerID, anyVersion, authorization)
	if err != nil {
		return Access{}, fmt.Errorf("resolve owner of cart %s: %w", id, err)
	}

	if identity.Username != owner.Username && !isAdmin {
		s.logger.Debug("cart owner mismatch",
			zap.String("cart_id", id),
			zap.String("username", identity.Username),
		)
		return Access{}, fmt.Errorf("cart %s: %w", id, domain.ErrForbidden)
	}

	token := authorization
	if !isAdmin {
		elevated, err := s.adminToken(ctx)
		if err != nil {
			return Access{}, err
		}
		token = elevated
	}

	if isAdmin {
		cart.CustomerUsername = owner.Username
	} else {
		cart.CustomerUsername = identity.Username
	}

	return Access{
		Cart:     *cart,
		Identity: identity,
		IsAdmin:  isAdmin,
		Token:    token,
	}, nil
}

// ResolveCustomer confirms a customer exists as seen with the caller's token.
func (s *CartReadService) ResolveCustomer(ctx context.Context, customerID, authorization string) (domain.Customer, error) {
	return s.customers.GetByID(ctx, customerID, anyVersion, authorization)
}

func (s *CartReadService) adminToken(ctx context.Context) (string, error) {
	tokens, ok := s.identity.Login(ctx, s.cfg.AdminUsername, s.cfg.AdminPassword)
	if !ok {
		return "", fmt.Errorf("administrative login failed: %w", domain.ErrUnauthorized)
	}
	return "Bearer " + tokens.AccessToken, nil
}

// enrich fills price, sku and name of every item. The first failure cancels
// the remaining lookups and nothing is returned.
func (s *CartReadService) enrich(ctx context.Context, items []domain.CartItem, token string) ([]domain.CartItem, error) {
	enriched := make([]domain.CartItem, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EnrichConcurrency)

	for i, item := range items {
		g.Go(func() error {
			inv, err := s.inventory.GetByID(gctx, item.InventoryID, anyVersion, token)
			if err != nil {
				return fmt.Errorf("enrich item %s: %w", item.ID, err)
			}
			item.Price = inv.UnitPrice
			item.SKUCode = inv.SKUCode
			item.Name = inv.Name
			enriched[i] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return enriched, nil
}
