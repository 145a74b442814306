package handler

import (
	"encoding/json"
	"time"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

type link struct {
	Href string `json:"href"`
}

type cartLinks struct {
	Self   link `json:"self"`
	List   link `json:"list"`
	Add    link `json:"add"`
	Remove link `json:"remove"`
	Delete link `json:"delete"`
}

type itemModel struct {
	ID          string      `json:"id"`
	Version     int         `json:"version"`
	InventoryID string      `json:"inventoryId"`
	Quantity    int         `json:"quantity"`
	SKUCode     string      `json:"skuCode"`
	Price       json.Number `json:"price"`
	Name        string      `json:"name"`
}

type cartModel struct {
	ID               string      `json:"id"`
	Version          int         `json:"version"`
	CustomerID       string      `json:"customerId"`
	CustomerUsername string      `json:"customerUsername"`
	TotalAmount      json.Number `json:"totalAmount"`
	IsComplete       bool        `json:"isComplete"`
	CartItems        []itemModel `json:"cartItems"`
	Created          time.Time   `json:"created"`
	Updated          time.Time   `json:"updated"`
	Links            cartLinks   `json:"_links"`
}

type summaryModel struct {
	ID          string      `json:"id"`
	Version     int         `json:"version"`
	CustomerID  string      `json:"customerId"`
	TotalAmount json.Number `json:"totalAmount"`
	IsComplete  bool        `json:"isComplete"`
	Links       struct {
		Self link `json:"self"`
	} `json:"_links"`
}

type embeddedCarts struct {
	Carts []summaryModel `json:"carts"`
}

type cartsModel struct {
	Embedded embeddedCarts `json:"_embedded"`
}

func toCartModel(c domain.Cart) cartModel {
	self := cartsPath + "/" + c.ID
	items := make([]itemModel, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, itemModel{
			ID:          it.ID,
			Version:     it.Version,
			InventoryID: it.InventoryID,
			Quantity:    it.Quantity,
			SKUCode:     it.SKUCode,
			Price:       json.Number(it.Price.StringFixed(2)),
			Name:        it.Name,
		})
	}

	return cartModel{
		ID:               c.ID,
		Version:          c.Version,
		CustomerID:       c.CustomerID,
		CustomerUsername: c.CustomerUsername,
		TotalAmount:      json.Number(c.TotalAmount.StringFixed(2)),
		IsComplete:       c.IsComplete,
		CartItems:        items,
		Created:          c.CreatedAt,
		Updated:          c.UpdatedAt,
		Links: cartLinks{
			Self:   link{Href: self},
			List:   link{Href: cartsPath},
			Add:    link{Href: self + "/add"},
			Remove: link{Href: self + "/remove"},
			Delete: link{Href: self},
		},
	}
}

func toSummaryModel(c domain.Cart) summaryModel {
	m := summaryModel{
		ID:          c.ID,
		Version:     c.Version,
		CustomerID:  c.CustomerID,
		TotalAmount: json.Number(c.TotalAmount.StringFixed(2)),
		IsComplete:  c.IsComplete,
	}
	m.Links.Self = link{Href: cartsPath + "/" + c.ID}
	return m
}
