package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// AdminPageSize is the batch size used when paging through Admin API lists.
const AdminPageSize = 250

// AdminProduct is a product row on the admin products screen.
type AdminProduct struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Handle         string `json:"handle"`
	Status         string `json:"status"`
	Vendor         string `json:"vendor"`
	TotalInventory int    `json:"totalInventory"`
	UpdatedAt      string `json:"updatedAt"`
	SEO            SEO    `json:"seo"`
}

// AdminVariant is a variant row shared by the inventory and pricing screens.
type AdminVariant struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	SKU               string  `json:"sku"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compareAtPrice"`
	InventoryQuantity int     `json:"inventoryQuantity"`
	InventoryItem     struct {
		ID      string `json:"id"`
		Tracked bool   `json:"tracked"`
	} `json:"inventoryItem"`
	Product struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Handle string `json:"handle"`
	} `json:"product"`
}

// Customer is a Shopify customer record.
type Customer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Order is the subset of a customer order used for rewards.
type Order struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	CreatedAt              string `json:"createdAt"`
	CancelledAt            string `json:"cancelledAt"`
	DisplayFinancialStatus string `json:"displayFinancialStatus"`
	TotalPriceSet          struct {
		ShopMoney Money `json:"shopMoney"`
	} `json:"totalPriceSet"`
}

// StoreCounts are headline numbers for the admin stats screen.
type StoreCounts struct {
	Products  int `json:"products"`
	Orders    int `json:"orders"`
	Customers int `json:"customers"`
}

// PriceUpdate changes one variant price.
type PriceUpdate struct {
	ProductID      string  `json:"productId"`
	VariantID      string  `json:"variantId"`
	Price          string  `json:"price"`
	CompareAtPrice *string `json:"compareAtPrice,omitempty"`
}

// InventoryUpdate sets the available quantity of an inventory item.
type InventoryUpdate struct {
	InventoryItemID string `json:"inventoryItemId"`
	LocationID      string `json:"locationId,omitempty"`
	Quantity        int    `json:"quantity"`
}

// SEOUpdate replaces a product's SEO title and description.
type SEOUpdate struct {
	ProductID   string `json:"productId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AdminAPI wraps the Admin API operations used by the console and rewards.
type AdminAPI struct {
	client *ShopifyClient

	locationMu sync.Mutex
	locationID string
}

// NewAdminAPI builds an AdminAPI on top of a GraphQL client.
func NewAdminAPI(client *ShopifyClient) *AdminAPI {
	return &AdminAPI{client: client}
}

// paginate fetches pages until hasNextPage is false and returns every node.
// Pages are requested sequentially since each cursor depends on the previous page.
func paginate[T any](ctx context.Context, fetch func(ctx context.Context, after *string) (Connection[T], error)) ([]T, error) {
	var (
		all   []T
		after *string
	)
	for {
		page, err := fetch(ctx, after)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Nodes...)
		if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor == "" {
			return all, nil
		}
		cursor := page.PageInfo.EndCursor
		after = &cursor
	}
}

// ListProducts returns every product in the shop.
func (a *AdminAPI) ListProducts(ctx context.Context) ([]AdminProduct, error) {
	query := `query AdminProducts($first: Int!, $after: String) {
  products(first: $first, after: $after, sortKey: TITLE) {
    nodes { id title handle status vendor totalInventory updatedAt seo { title description } }
    pageInfo { hasNextPage endCursor }
  }
}`
	return paginate(ctx, func(ctx context.Context, after *string) (Connection[AdminProduct], error) {
		data, err := Query[struct {
			Products Connection[AdminProduct] `json:"products"`
		}](ctx, a.client, query, map[string]any{"first": AdminPageSize, "after": after})
		return data.Products, err
	})
}

// ListVariants returns every product variant with price and inventory data.
func (a *AdminAPI) ListVariants(ctx context.Context) ([]AdminVariant, error) {
	query := `query AdminVariants($first: Int!, $after: String) {
  productVariants(first: $first, after: $after) {
    nodes {
      id title sku price compareAtPrice inventoryQuantity
      inventoryItem { id tracked }
      product { id title handle }
    }
    pageInfo { hasNextPage endCursor }
  }
}`
	return paginate(ctx, func(ctx context.Context, after *string) (Connection[AdminVariant], error) {
		data, err := Query[struct {
			ProductVariants Connection[AdminVariant] `json:"productVariants"`
		}](ctx, a.client, query, map[string]any{"first": AdminPageSize, "after": after})
		return data.ProductVariants, err
	})
}

// InventoryRecord is one row of the inventory screen.
type InventoryRecord struct {
	VariantID       string `json:"variantId"`
	InventoryItemID string `json:"inventoryItemId"`
	ProductID       string `json:"productId"`
	ProductTitle    string `json:"productTitle"`
	VariantTitle    string `json:"variantTitle"`
	SKU             string `json:"sku"`
	Tracked         bool   `json:"tracked"`
	Quantity        int    `json:"quantity"`
}

// PricingRecord is one row of the pricing screen.
type PricingRecord struct {
	VariantID      string  `json:"variantId"`
	ProductID      string  `json:"productId"`
	ProductTitle   string  `json:"productTitle"`
	VariantTitle   string  `json:"variantTitle"`
	SKU            string  `json:"sku"`
	Price          string  `json:"price"`
	CompareAtPrice *string `json:"compareAtPrice"`
}

// SEORecord is one row of the SEO screen.
type SEORecord struct {
	ProductID   string `json:"productId"`
	Handle      string `json:"handle"`
	Title       string `json:"title"`
	SEOTitle    string `json:"seoTitle"`
	Description string `json:"seoDescription"`
}

// ListInventory returns inventory levels for every variant.
func (a *AdminAPI) ListInventory(ctx context.Context) ([]InventoryRecord, error) {
	variants, err := a.ListVariants(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]InventoryRecord, 0, len(variants))
	for _, v := range variants {
		records = append(records, InventoryRecord{
			VariantID:       v.ID,
			InventoryItemID: v.InventoryItem.ID,
			ProductID:       v.Product.ID,
			ProductTitle:    v.Product.Title,
			VariantTitle:    v.Title,
			SKU:             v.SKU,
			Tracked:         v.InventoryItem.Tracked,
			Quantity:        v.InventoryQuantity,
		})
	}
	return records, nil
}

// ListPricing returns prices for every variant.
func (a *AdminAPI) ListPricing(ctx context.Context) ([]PricingRecord, error) {
	variants, err := a.ListVariants(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]PricingRecord, 0, len(variants))
	for _, v := range variants {
		records = append(records, PricingRecord{
			VariantID:      v.ID,
			ProductID:      v.Product.ID,
			ProductTitle:   v.Product.Title,
			VariantTitle:   v.Title,
			SKU:            v.SKU,
			Price:          v.Price,
			CompareAtPrice: v.CompareAtPrice,
		})
	}
	return records, nil
}

// ListSEO returns SEO fields for every product.
func (a *AdminAPI) ListSEO(ctx context.Context) ([]SEORecord, error) {
	products, err := a.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]SEORecord, 0, len(products))
	for _, p := range products {
		records = append(records, SEORecord{
			ProductID:   p.ID,
			Handle:      p.Handle,
			Title:       p.Title,
			SEOTitle:    p.SEO.Title,
			Description: p.SEO.Description,
		})
	}
	return records, nil
}

// UpdateVariantPrice updates one variant's price.
func (a *AdminAPI) UpdateVariantPrice(ctx context.Context, u PriceUpdate) error {
	query := `mutation VariantPrice($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) {
    productVariants { id price }
    userErrors { field message }
  }
}`
	variant := map[string]any{"id": u.VariantID, "price": u.Price}
	if u.CompareAtPrice != nil {
		variant["compareAtPrice"] = nullable(*u.CompareAtPrice)
	}
	data, err := Query[struct {
		ProductVariantsBulkUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productVariantsBulkUpdate"`
	}](ctx, a.client, query, map[string]any{"productId": u.ProductID, "variants": []any{variant}})
	if err != nil {
		return err
	}
	return firstUserError(data.ProductVariantsBulkUpdate.UserErrors)
}

// SetInventoryQuantity sets the available quantity at a location, defaulting
// to the shop's primary location.
func (a *AdminAPI) SetInventoryQuantity(ctx context.Context, u InventoryUpdate) error {
	locationID := u.LocationID
	if locationID == "" {
		var err error
		if locationID, err = a.primaryLocation(ctx); err != nil {
			return err
		}
	}

	query := `mutation SetQuantities($input: InventorySetQuantitiesInput!) {
  inventorySetQuantities(input: $input) {
    inventoryAdjustmentGroup { reason }
    userErrors { field message code }
  }
}`
	input := map[string]any{
		"name":                  "available",
		"reason":                "correction",
		"ignoreCompareQuantity": true,
		"quantities": []any{map[string]any{
			"inventoryItemId": u.InventoryItemID,
			"locationId":      locationID,
			"quantity":        u.Quantity,
		}},
	}
	data, err := Query[struct {
		InventorySetQuantities struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventorySetQuantities"`
	}](ctx, a.client, query, map[string]any{"input": input})
	if err != nil {
		return err
	}
	return firstUserError(data.InventorySetQuantities.UserErrors)
}

func (a *AdminAPI) primaryLocation(ctx context.Context) (string, error) {
	a.locationMu.Lock()
	defer a.locationMu.Unlock()

	if a.locationID != "" {
		return a.locationID, nil
	}

	data, err := Query[struct {
		Locations Connection[struct {
			ID string `json:"id"`
		}] `json:"locations"`
	}](ctx, a.client, `query { locations(first: 1) { nodes { id } pageInfo { hasNextPage endCursor } } }`, nil)
	if err != nil {
		return "", err
	}
	if len(data.Locations.Nodes) == 0 {
		return "", fmt.Errorf("location: %w", ErrNotFound)
	}

	a.locationID = data.Locations.Nodes[0].ID
	return a.locationID, nil
}

// UpdateProductSEO updates a product's SEO fields.
func (a *AdminAPI) UpdateProductSEO(ctx context.Context, u SEOUpdate) error {
	return a.updateProduct(ctx, map[string]any{
		"id":  u.ProductID,
		"seo": map[string]any{"title": u.Title, "description": u.Description},
	})
}

// UpdateProductStatus sets a product to ACTIVE, DRAFT or ARCHIVED.
func (a *AdminAPI) UpdateProductStatus(ctx context.Context, productID, status string) error {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "ACTIVE", "DRAFT", "ARCHIVED":
	default:
		return &UserError{Field: []string{"status"}, Message: "status must be ACTIVE, DRAFT or ARCHIVED"}
	}
	return a.updateProduct(ctx, map[string]any{"id": productID, "status": status})
}

func (a *AdminAPI) updateProduct(ctx context.Context, input map[string]any) error {
	query := `mutation ProductUpdate($input: ProductInput!) {
  productUpdate(input: $input) {
    product { id }
    userErrors { field message }
  }
}`
	data, err := Query[struct {
		ProductUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productUpdate"`
	}](ctx, a.client, query, map[string]any{"input": input})
	if err != nil {
		return err
	}
	return firstUserError(data.ProductUpdate.UserErrors)
}

// FindCustomerByEmail looks a customer up by exact email.
func (a *AdminAPI) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	query := `query CustomerByEmail($query: String!) {
  customers(first: 1, query: $query) {
    nodes { id email firstName lastName }
    pageInfo { hasNextPage endCursor }
  }
}`
	data, err := Query[struct {
		Customers Connection[Customer] `json:"customers"`
	}](ctx, a.client, query, map[string]any{"query": fmt.Sprintf("email:%q", email)})
	if err != nil {
		return nil, err
	}
	for _, c := range data.Customers.Nodes {
		if strings.EqualFold(c.Email, email) {
			found := c
			return &found, nil
		}
	}
	return nil, fmt.Errorf("customer: %w", ErrNotFound)
}

// CreateCustomer registers a new customer.
func (a *AdminAPI) CreateCustomer(ctx context.Context, email, firstName, lastName string) (*Customer, error) {
	query := `mutation CustomerCreate($input: CustomerInput!) {
  customerCreate(input: $input) {
    customer { id email firstName lastName }
    userErrors { field message }
  }
}`
	data, err := Query[struct {
		CustomerCreate struct {
			Customer   *Customer   `json:"customer"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"customerCreate"`
	}](ctx, a.client, query, map[string]any{"input": map[string]any{
		"email":     email,
		"firstName": firstName,
		"lastName":  lastName,
	}})
	if err != nil {
		return nil, err
	}
	if err := firstUserError(data.CustomerCreate.UserErrors); err != nil {
		return nil, err
	}
	if data.CustomerCreate.Customer == nil {
		return nil, errors.New("customerCreate returned no customer")
	}
	return data.CustomerCreate.Customer, nil
}

// CustomerOrders returns every order placed by a customer.
func (a *AdminAPI) CustomerOrders(ctx context.Context, customerID string) ([]Order, error) {
	query := `query CustomerOrders($id: ID!, $first: Int!, $after: String) {
  customer(id: $id) {
    orders(first: $first, after: $after) {
      nodes { id name createdAt cancelledAt displayFinancialStatus totalPriceSet { shopMoney { amount currencyCode } } }
      pageInfo { hasNextPage endCursor }
    }
  }
}`
	return paginate(ctx, func(ctx context.Context, after *string) (Connection[Order], error) {
		data, err := Query[struct {
			Customer *struct {
				Orders Connection[Order] `json:"orders"`
			} `json:"customer"`
		}](ctx, a.client, query, map[string]any{"id": customerID, "first": AdminPageSize, "after": after})
		if err != nil {
			return Connection[Order]{}, err
		}
		if data.Customer == nil {
			return Connection[Order]{}, fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
		}
		return data.Customer.Orders, nil
	})
}

// Counts returns product, order and customer totals.
func (a *AdminAPI) Counts(ctx context.Context) (*StoreCounts, error) {
	type count struct {
		Count int `json:"count"`
	}
	data, err := Query[struct {
		ProductsCount  count `json:"productsCount"`
		OrdersCount    count `json:"ordersCount"`
		CustomersCount count `json:"customersCount"`
	}](ctx, a.client, `query { productsCount { count } ordersCount { count } customersCount { count } }`, nil)
	if err != nil {
		return nil, err
	}
	return &StoreCounts{
		Products:  data.ProductsCount.Count,
		Orders:    data.OrdersCount.Count,
		Customers: data.CustomersCount.Count,
	}, nil
}
