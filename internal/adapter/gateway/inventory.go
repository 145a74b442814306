package gateway

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

type InventoryClient struct {
	client jsonClient
}

func NewInventoryClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *InventoryClient {
	return &InventoryClient{client: newJSONClient(httpClient, baseURL, "inventory", logger)}
}

// GetByID calls GET /inventory/{id}.
func (c *InventoryClient) GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Inventory, error) {
	var inv domain.Inventory
	if err := c.client.getJSON(ctx, "/inventory/"+url.PathEscape(id), versionTag, authorization, &inv); err != nil {
		return domain.Inventory{}, err
	}
	if inv.ID == "" {
		inv.ID = id
	}
	return inv, nil
}
