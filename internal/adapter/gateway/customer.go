package gateway

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

type CustomerClient struct {
	client jsonClient
}

func NewCustomerClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *CustomerClient {
	return &CustomerClient{client: newJSONClient(httpClient, baseURL, "customer", logger)}
}

// GetByID calls GET /customer/{id}.
func (c *CustomerClient) GetByID(ctx context.Context, id, versionTag, authorization string) (domain.Customer, error) {
	var customer domain.Customer
	if err := c.client.getJSON(ctx, "/customer/"+url.PathEscape(id), versionTag, authorization, &customer); err != nil {
		return domain.Customer{}, err
	}
	if customer.ID == "" {
		customer.ID = id
	}
	return customer, nil
}
