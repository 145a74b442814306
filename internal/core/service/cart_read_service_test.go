package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

func seedCart(t *testing.T, f *fixture, customerID string, lines map[string]int) string {
	t.Helper()
	ctx := context.Background()
	id := createCart(t, f, customerID)
	admin := bearer(t, "admin", adminRole)

	version := 0
	for inventoryID, quantity := range lines {
		res, err := f.writer.AddItem(ctx, AddItemRequest{
			CartID: id, InventoryID: inventoryID, Quantity: quantity, CartVersion: version, Token: admin,
		})
		require.NoError(t, err)
		version = res.CartVersion
	}
	f.inventory.calls.Store(0)
	f.identity.logins.Store(0)
	return id
}

func TestFindByID_OwnerGetsEnrichedCart(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", map[string]int{"inv-1": 2, "inv-2": 3})

	cart, err := f.reader.FindByID(context.Background(), id, bearer(t, "xavier", "gentlecorp-user"))
	require.NoError(t, err)

	assert.Equal(t, "xavier", cart.CustomerUsername)
	assert.Equal(t, 2, cart.Version)
	assert.False(t, cart.IsComplete)
	require.Len(t, cart.Items, 2)
	for _, item := range cart.Items {
		assert.NotEmpty(t, item.SKUCode)
		assert.NotEmpty(t, item.Name)
		assert.False(t, item.Price.IsZero())
	}

	// 2 * 4.99 + 3 * 19.999 = 69.977
	assert.Equal(t, "69.98", cart.TotalAmount.StringFixed(2))
	assert.Equal(t, int32(1), f.identity.logins.Load())
	assert.Equal(t, int32(2), f.inventory.calls.Load())

	stored, _ := f.repo.get(id)
	assert.True(t, stored.TotalAmount.Equal(cart.TotalAmount))
}

func TestFindByID_AdminReadsAnyCart(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-y", map[string]int{"inv-1": 1})
	token := bearer(t, "admin", adminRole)

	cart, err := f.reader.FindByID(context.Background(), id, token)
	require.NoError(t, err)

	assert.Equal(t, "yasmin", cart.CustomerUsername)
	assert.Equal(t, int32(0), f.identity.logins.Load())
	assert.Equal(t, token, f.customers.lastAuth.Load())
	assert.Equal(t, "4.99", cart.TotalAmount.StringFixed(2))
}

func TestFindByID_OtherUserIsForbidden(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", map[string]int{"inv-1": 1})

	_, err := f.reader.FindByID(context.Background(), id, bearer(t, "yasmin", "gentlecorp-user"))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, int32(0), f.inventory.calls.Load())
}

func TestFindByID_AnonymousIsUnauthorized(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", nil)

	for _, token := range []string{"", "Bearer garbage", bearer(t, "", "gentlecorp-user")} {
		_, err := f.reader.FindByID(context.Background(), id, token)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
}

func TestFindByID_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.reader.FindByID(context.Background(), "missing", bearer(t, "xavier"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByID_CustomerErrorsPropagate(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", nil)
	f.customers.err = domain.ErrForbidden

	_, err := f.reader.FindByID(context.Background(), id, bearer(t, "xavier"))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestFindByID_ElevationFailure(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", map[string]int{"inv-1": 1})
	f.identity.fail = true

	_, err := f.reader.FindByID(context.Background(), id, bearer(t, "xavier"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(0), f.inventory.calls.Load())
}

func TestFindByID_EnrichmentFailureIsNotPartial(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", map[string]int{"inv-1": 1, "inv-2": 1})
	f.inventory.errs["inv-2"] = domain.ErrForbidden

	cart, err := f.reader.FindByID(context.Background(), id, bearer(t, "xavier"))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, cart.Items)
}

func TestFindByID_EmptyCartIsComplete(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", nil)

	cart, err := f.reader.FindByID(context.Background(), id, bearer(t, "xavier"))
	require.NoError(t, err)

	assert.True(t, cart.IsComplete)
	assert.True(t, cart.TotalAmount.IsZero())
	assert.Equal(t, 0, f.repo.snapshots)
}

func TestFindByID_SnapshotFailureIsIgnored(t *testing.T) {
	f := newFixture()
	id := seedCart(t, f, "customer-x", map[string]int{"inv-1": 1})
	f.repo.snapshotErr = errBoom

	cart, err := f.reader.FindByID(context.Background(), id, bearer(t, "xavier"))
	require.NoError(t, err)
	assert.Equal(t, "4.99", cart.TotalAmount.StringFixed(2))
	assert.Equal(t, 1, f.repo.snapshots)
}

func TestFind(t *testing.T) {
	f := newFixture()
	seedCart(t, f, "customer-x", map[string]int{"inv-1": 1})
	seedCart(t, f, "customer-y", nil)

	all, err := f.reader.Find(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, c := range all {
		assert.Empty(t, c.Items)
	}

	mine, err := f.reader.Find(context.Background(), domain.SearchCriteria{"customerId": "customer-y"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].IsComplete)

	_, err = f.reader.Find(context.Background(), domain.SearchCriteria{"colour": "red"})
	assert.ErrorIs(t, err, domain.ErrInvalidCriteria)
}

func TestResolveCustomer(t *testing.T) {
	f := newFixture()

	customer, err := f.reader.ResolveCustomer(context.Background(), "customer-x", "Bearer t")
	require.NoError(t, err)
	assert.Equal(t, "xavier", customer.Username)

	_, err = f.reader.ResolveCustomer(context.Background(), "nobody", "Bearer t")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
