package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
	"github.com/gentlecorp/shopping-cart/internal/port"
)

type CreateRequest struct {
	CustomerID string
}

type AddItemRequest struct {
	CartID      string
	InventoryID string
	Quantity    int
	CartVersion int
	Token       string
}

type RemoveItemRequest struct {
	CartID      string
	InventoryID string
	Quantity    int
	CartVersion int
	Token       string
}

// DeleteRequest removes a cart. A nil ExpectedVersion skips the version
// precondition.
type DeleteRequest struct {
	ID              string
	Token           string
	ExpectedVersion *int
}

// ItemResult describes the line touched by an add or remove. ItemVersion is
// 0 when the line was removed.
type ItemResult struct {
	ItemID      string
	ItemVersion int
	CartVersion int
	Removed     bool
}

type CartWriteService struct {
	repo      port.CartRepository
	reader    *CartReadService
	inventory port.InventoryGateway
	now       func() time.Time
	logger    *zap.Logger
}

func NewCartWriteService(repo port.CartRepository, reader *CartReadService, inventory port.InventoryGateway, logger *zap.Logger) *CartWriteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartWriteService{
		repo:      repo,
		reader:    reader,
		inventory: inventory,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

func (s *CartWriteService) Create(ctx context.Context, req CreateRequest) (string, error) {
	cart, err := domain.NewCart(req.CustomerID, s.now())
	if err != nil {
		return "", err
	}

	if err := s.repo.CreateCart(ctx, cart); err != nil {
		return "", fmt.Errorf("create cart: %w", err)
	}

	s.logger.Info("cart created", zap.String("cart_id", cart.ID), zap.String("customer_id", cart.CustomerID))
	return cart.ID, nil
}

// AddItem adds quantity of an inventory entry to the cart. An existing line
// grows, otherwise the inventory entry is checked and a new line is created.
func (s *CartWriteService) AddItem(ctx context.Context, req AddItemRequest) (ItemResult, error) {
	req.InventoryID = strings.TrimSpace(req.InventoryID)
	if req.InventoryID == "" {
		return ItemResult{}, fmt.Errorf("inventory id is required: %w", domain.ErrInvalidArgument)
	}
	if req.Quantity <= 0 {
		return ItemResult{}, fmt.Errorf("quantity must be positive, got %d: %w", req.Quantity, domain.ErrInvalidArgument)
	}
	if req.Quantity > domain.MaxQuantity {
		return ItemResult{}, fmt.Errorf("quantity %d exceeds %d: %w", req.Quantity, domain.MaxQuantity, domain.ErrInvalidArgument)
	}

	access, err := s.reader.Authorize(ctx, req.CartID, req.Token)
	if err != nil {
		return ItemResult{}, err
	}

	cart := access.Cart
	if cart.Version != req.CartVersion {
		return ItemResult{}, versionConflict(cart, req.CartVersion)
	}

	now := s.now()
	if i := cart.FindItem(req.InventoryID); i >= 0 {
		item := cart.Items[i]
		if item.Quantity > domain.MaxQuantity-req.Quantity {
			return ItemResult{}, fmt.Errorf("quantity of item %s would exceed %d: %w", item.ID, domain.MaxQuantity, domain.ErrInvalidArgument)
		}
		itemVersion, err := s.repo.UpdateItemQuantity(ctx, cart.ID, req.CartVersion, item.ID, item.Quantity+req.Quantity, now)
		if err != nil {
			return ItemResult{}, fmt.Errorf("add to item %s: %w", item.ID, err)
		}
		return ItemResult{
			ItemID:      item.ID,
			ItemVersion: itemVersion,
			CartVersion: req.CartVersion + 1,
		}, nil
	}

	if _, err := s.inventory.GetByID(ctx, req.InventoryID, anyVersion, access.Token); err != nil {
		return ItemResult{}, fmt.Errorf("check inventory %s: %w", req.InventoryID, err)
	}

	item, err := domain.NewCartItem(req.InventoryID, req.Quantity, now)
	if err != nil {
		return ItemResult{}, err
	}
	if err := s.repo.InsertItem(ctx, cart.ID, req.CartVersion, item); err != nil {
		return ItemResult{}, fmt.Errorf("insert item: %w", err)
	}

	return ItemResult{
		ItemID:      item.ID,
		ItemVersion: item.Version,
		CartVersion: req.CartVersion + 1,
	}, nil
}

// RemoveItem takes quantity off a line. A line whose quantity drops to zero
// or below is deleted.
func (s *CartWriteService) RemoveItem(ctx context.Context, req RemoveItemRequest) (ItemResult, error) {
	req.InventoryID = strings.TrimSpace(req.InventoryID)
	if req.InventoryID == "" {
		return ItemResult{}, fmt.Errorf("inventory id is required: %w", domain.ErrInvalidArgument)
	}
	if req.Quantity <= 0 {
		return ItemResult{}, fmt.Errorf("quantity must be positive, got %d: %w", req.Quantity, domain.ErrInvalidArgument)
	}

	access, err := s.reader.Authorize(ctx, req.CartID, req.Token)
	if err != nil {
		return ItemResult{}, err
	}

	cart := access.Cart
	if cart.Version != req.CartVersion {
		return ItemResult{}, versionConflict(cart, req.CartVersion)
	}

	i := cart.FindItem(req.InventoryID)
	if i < 0 {
		return ItemResult{}, fmt.Errorf("item %s in cart %s: %w", req.InventoryID, cart.ID, domain.ErrNotFound)
	}

	item := cart.Items[i]
	remaining := item.Quantity - req.Quantity
	now := s.now()

	if remaining <= 0 {
		if err := s.repo.RemoveItem(ctx, cart.ID, req.CartVersion, item.ID, now); err != nil {
			return ItemResult{}, fmt.Errorf("remove item %s: %w", item.ID, err)
		}
		return ItemResult{
			ItemID:      item.ID,
			CartVersion: req.CartVersion + 1,
			Removed:     true,
		}, nil
	}

	itemVersion, err := s.repo.UpdateItemQuantity(ctx, cart.ID, req.CartVersion, item.ID, remaining, now)
	if err != nil {
		return ItemResult{}, fmt.Errorf("decrease item %s: %w", item.ID, err)
	}
	return ItemResult{
		ItemID:      item.ID,
		ItemVersion: itemVersion,
		CartVersion: req.CartVersion + 1,
	}, nil
}

// Delete removes a cart and all of its items in one transaction.
func (s *CartWriteService) Delete(ctx context.Context, req DeleteRequest) (bool, error) {
	access, err := s.reader.Authorize(ctx, req.ID, req.Token)
	if err != nil {
		return false, err
	}

	cart := access.Cart
	if req.ExpectedVersion != nil && *req.ExpectedVersion != cart.Version {
		return false, versionConflict(cart, *req.ExpectedVersion)
	}

	ok, err := s.repo.DeleteCart(ctx, cart)
	if err != nil {
		return false, fmt.Errorf("delete cart %s: %w", cart.ID, err)
	}
	if !ok {
		return false, fmt.Errorf("cart %s changed while deleting: %w", cart.ID, domain.ErrVersionConflict)
	}

	s.logger.Info("cart deleted", zap.String("cart_id", cart.ID), zap.Int("items", len(cart.Items)))
	return true, nil
}

// DeleteByCustomer deletes the first cart of a customer. A customer without a
// cart is logged and not treated as an error.
func (s *CartWriteService) DeleteByCustomer(ctx context.Context, customerID, token string) error {
	carts, err := s.repo.Find(ctx, domain.SearchCriteria{"customerId": customerID}, false)
	if err != nil {
		return fmt.Errorf("find carts of customer %s: %w", customerID, err)
	}
	if len(carts) == 0 {
		s.logger.Warn("no cart found for customer", zap.String("customer_id", customerID))
		return nil
	}

	_, err = s.Delete(ctx, DeleteRequest{ID: carts[0].ID, Token: token})
	return err
}

func versionConflict(cart domain.Cart, expected int) error {
	return fmt.Errorf("cart %s is at version %d, not %d: %w", cart.ID, cart.Version, expected, domain.ErrVersionConflict)
}
