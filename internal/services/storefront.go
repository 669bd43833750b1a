package services

import (
	"context"
	"fmt"
)

// Money is a Shopify decimal amount with its currency.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// Image is a product or collection image.
type Image struct {
	URL     string `json:"url"`
	AltText string `json:"altText"`
}

// SEO holds search engine metadata.
type SEO struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ProductVariant is a purchasable option of a product.
type ProductVariant struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	SKU              string `json:"sku"`
	AvailableForSale bool   `json:"availableForSale"`
	Price            Money  `json:"price"`
	CompareAtPrice   *Money `json:"compareAtPrice"`
}

// Product is the storefront view of a product.
type Product struct {
	ID               string                     `json:"id"`
	Handle           string                     `json:"handle"`
	Title            string                     `json:"title"`
	Description      string                     `json:"description"`
	DescriptionHTML  string                     `json:"descriptionHtml,omitempty"`
	Vendor           string                     `json:"vendor"`
	ProductType      string                     `json:"productType"`
	Tags             []string                   `json:"tags"`
	AvailableForSale bool                       `json:"availableForSale"`
	FeaturedImage    *Image                     `json:"featuredImage"`
	SEO              SEO                        `json:"seo"`
	PriceRange       ProductPriceRange          `json:"priceRange"`
	Images           *Connection[Image]         `json:"images,omitempty"`
	Variants         Connection[ProductVariant] `json:"variants"`
}

// ProductPriceRange is the min/max variant price of a product.
type ProductPriceRange struct {
	MinVariantPrice Money `json:"minVariantPrice"`
	MaxVariantPrice Money `json:"maxVariantPrice"`
}

// Collection groups products.
type Collection struct {
	ID          string               `json:"id"`
	Handle      string               `json:"handle"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Image       *Image               `json:"image"`
	SEO         SEO                  `json:"seo"`
	Products    *Connection[Product] `json:"products,omitempty"`
}

// CartLine is one line of a remote cart.
type CartLine struct {
	ID          string `json:"id"`
	Quantity    int    `json:"quantity"`
	Merchandise struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Price   Money  `json:"price"`
		Image   *Image `json:"image"`
		Product struct {
			Title  string `json:"title"`
			Handle string `json:"handle"`
		} `json:"product"`
	} `json:"merchandise"`
	Cost struct {
		TotalAmount Money `json:"totalAmount"`
	} `json:"cost"`
}

// DiscountCode is a code applied to a cart.
type DiscountCode struct {
	Code       string `json:"code"`
	Applicable bool   `json:"applicable"`
}

// Cart is the Shopify-owned cart. Only its ID is kept locally.
type Cart struct {
	ID            string               `json:"id"`
	CheckoutURL   string               `json:"checkoutUrl"`
	TotalQuantity int                  `json:"totalQuantity"`
	DiscountCodes []DiscountCode       `json:"discountCodes"`
	Lines         Connection[CartLine] `json:"lines"`
	Cost          struct {
		SubtotalAmount Money  `json:"subtotalAmount"`
		TotalAmount    Money  `json:"totalAmount"`
		TotalTaxAmount *Money `json:"totalTaxAmount"`
	} `json:"cost"`
}

// CartLineInput adds merchandise to a cart.
type CartLineInput struct {
	MerchandiseID string `json:"merchandiseId"`
	Quantity      int    `json:"quantity"`
}

// CartLineUpdate changes the quantity of an existing line.
type CartLineUpdate struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

const productFields = `
  id handle title description vendor productType tags availableForSale
  featuredImage { url altText }
  seo { title description }
  priceRange { minVariantPrice { amount currencyCode } maxVariantPrice { amount currencyCode } }
  variants(first: 100) {
    nodes { id title sku availableForSale price { amount currencyCode } compareAtPrice { amount currencyCode } }
    pageInfo { hasNextPage endCursor }
  }`

const cartFields = `
  id checkoutUrl totalQuantity
  discountCodes { code applicable }
  cost { subtotalAmount { amount currencyCode } totalAmount { amount currencyCode } totalTaxAmount { amount currencyCode } }
  lines(first: 100) {
    nodes {
      id quantity
      cost { totalAmount { amount currencyCode } }
      merchandise {
        ... on ProductVariant {
          id title price { amount currencyCode } image { url altText }
          product { title handle }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }`

// Storefront wraps the Storefront API operations the shop uses.
type Storefront struct {
	client *ShopifyClient
}

// NewStorefront builds a Storefront on top of a GraphQL client.
func NewStorefront(client *ShopifyClient) *Storefront {
	return &Storefront{client: client}
}

// ListProducts returns one page of products.
func (s *Storefront) ListProducts(ctx context.Context, first int, after string) (*Connection[Product], error) {
	query := `query Products($first: Int!, $after: String) {
  products(first: $first, after: $after, sortKey: BEST_SELLING) {
    nodes {` + productFields + `}
    pageInfo { hasNextPage endCursor }
  }
}`
	data, err := Query[struct {
		Products Connection[Product] `json:"products"`
	}](ctx, s.client, query, map[string]any{"first": first, "after": nullable(after)})
	if err != nil {
		return nil, err
	}
	return &data.Products, nil
}

// GetProduct loads a product by handle.
func (s *Storefront) GetProduct(ctx context.Context, handle string) (*Product, error) {
	query := `query Product($handle: String!) {
  product(handle: $handle) {` + productFields + `
    descriptionHtml
    images(first: 20) { nodes { url altText } pageInfo { hasNextPage endCursor } }
  }
}`
	data, err := Query[struct {
		Product *Product `json:"product"`
	}](ctx, s.client, query, map[string]any{"handle": handle})
	if err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, fmt.Errorf("product %q: %w", handle, ErrNotFound)
	}
	return data.Product, nil
}

// ListCollections returns one page of collections.
func (s *Storefront) ListCollections(ctx context.Context, first int, after string) (*Connection[Collection], error) {
	query := `query Collections($first: Int!, $after: String) {
  collections(first: $first, after: $after) {
    nodes { id handle title description image { url altText } seo { title description } }
    pageInfo { hasNextPage endCursor }
  }
}`
	data, err := Query[struct {
		Collections Connection[Collection] `json:"collections"`
	}](ctx, s.client, query, map[string]any{"first": first, "after": nullable(after)})
	if err != nil {
		return nil, err
	}
	return &data.Collections, nil
}

// GetCollection loads a collection and one page of its products.
func (s *Storefront) GetCollection(ctx context.Context, handle string, first int, after string) (*Collection, error) {
	query := `query Collection($handle: String!, $first: Int!, $after: String) {
  collection(handle: $handle) {
    id handle title description image { url altText } seo { title description }
    products(first: $first, after: $after) {
      nodes {` + productFields + `}
      pageInfo { hasNextPage endCursor }
    }
  }
}`
	data, err := Query[struct {
		Collection *Collection `json:"collection"`
	}](ctx, s.client, query, map[string]any{"handle": handle, "first": first, "after": nullable(after)})
	if err != nil {
		return nil, err
	}
	if data.Collection == nil {
		return nil, fmt.Errorf("collection %q: %w", handle, ErrNotFound)
	}
	return data.Collection, nil
}

// SearchProducts runs a storefront product search.
func (s *Storefront) SearchProducts(ctx context.Context, term string, first int) ([]Product, error) {
	query := `query Search($query: String!, $first: Int!) {
  products(first: $first, query: $query) {
    nodes {` + productFields + `}
    pageInfo { hasNextPage endCursor }
  }
}`
	data, err := Query[struct {
		Products Connection[Product] `json:"products"`
	}](ctx, s.client, query, map[string]any{"query": term, "first": first})
	if err != nil {
		return nil, err
	}
	return data.Products.Nodes, nil
}

type cartPayload struct {
	Cart       *Cart       `json:"cart"`
	UserErrors []UserError `json:"userErrors"`
}

// CreateCart creates an empty remote cart.
func (s *Storefront) CreateCart(ctx context.Context) (*Cart, error) {
	query := `mutation CartCreate($input: CartInput) {
  cartCreate(input: $input) {
    cart {` + cartFields + `}
    userErrors { field message code }
  }
}`
	data, err := Query[struct {
		CartCreate cartPayload `json:"cartCreate"`
	}](ctx, s.client, query, map[string]any{"input": map[string]any{}})
	if err != nil {
		return nil, err
	}
	if err := firstUserError(data.CartCreate.UserErrors); err != nil {
		return nil, err
	}
	if data.CartCreate.Cart == nil {
		return nil, fmt.Errorf("%w: cartCreate returned no cart", ErrGraphQL)
	}
	return data.CartCreate.Cart, nil
}

// GetCart loads a cart; ErrCartNotFound when it expired or never existed.
func (s *Storefront) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	query := `query Cart($id: ID!) {
  cart(id: $id) {` + cartFields + `}
}`
	data, err := Query[struct {
		Cart *Cart `json:"cart"`
	}](ctx, s.client, query, map[string]any{"id": cartID})
	if err != nil {
		return nil, err
	}
	if data.Cart == nil {
		return nil, ErrCartNotFound
	}
	return data.Cart, nil
}

// AddCartLines appends lines to a cart.
func (s *Storefront) AddCartLines(ctx context.Context, cartID string, lines []CartLineInput) (*Cart, error) {
	query := `mutation CartLinesAdd($cartId: ID!, $lines: [CartLineInput!]!) {
  cartLinesAdd(cartId: $cartId, lines: $lines) {
    cart {` + cartFields + `}
    userErrors { field message code }
  }
}`
	return s.cartMutation(ctx, "cartLinesAdd", query, map[string]any{"cartId": cartID, "lines": lines})
}

// UpdateCartLines changes line quantities.
func (s *Storefront) UpdateCartLines(ctx context.Context, cartID string, lines []CartLineUpdate) (*Cart, error) {
	query := `mutation CartLinesUpdate($cartId: ID!, $lines: [CartLineUpdateInput!]!) {
  cartLinesUpdate(cartId: $cartId, lines: $lines) {
    cart {` + cartFields + `}
    userErrors { field message code }
  }
}`
	return s.cartMutation(ctx, "cartLinesUpdate", query, map[string]any{"cartId": cartID, "lines": lines})
}

// RemoveCartLines removes lines by ID.
func (s *Storefront) RemoveCartLines(ctx context.Context, cartID string, lineIDs []string) (*Cart, error) {
	query := `mutation CartLinesRemove($cartId: ID!, $lineIds: [ID!]!) {
  cartLinesRemove(cartId: $cartId, lineIds: $lineIds) {
    cart {` + cartFields + `}
    userErrors { field message code }
  }
}`
	return s.cartMutation(ctx, "cartLinesRemove", query, map[string]any{"cartId": cartID, "lineIds": lineIDs})
}

// UpdateDiscountCodes replaces the cart's discount codes; an empty list clears them.
func (s *Storefront) UpdateDiscountCodes(ctx context.Context, cartID string, codes []string) (*Cart, error) {
	if codes == nil {
		codes = []string{}
	}
	query := `mutation CartDiscountCodesUpdate($cartId: ID!, $discountCodes: [String!]) {
  cartDiscountCodesUpdate(cartId: $cartId, discountCodes: $discountCodes) {
    cart {` + cartFields + `}
    userErrors { field message code }
  }
}`
	return s.cartMutation(ctx, "cartDiscountCodesUpdate", query, map[string]any{"cartId": cartID, "discountCodes": codes})
}

func (s *Storefront) cartMutation(ctx context.Context, field, query string, variables map[string]any) (*Cart, error) {
	var data map[string]cartPayload
	if err := s.client.Do(ctx, query, variables, &data); err != nil {
		return nil, err
	}

	payload := data[field]
	for i := range payload.UserErrors {
		if isCartIDError(&payload.UserErrors[i]) {
			return nil, fmt.Errorf("%w: %v", ErrCartNotFound, &payload.UserErrors[i])
		}
	}
	// A null cart beside a line or discount error still leaves the cart alive.
	if err := firstUserError(payload.UserErrors); err != nil {
		return nil, err
	}
	if payload.Cart == nil {
		return nil, ErrCartNotFound
	}

	return payload.Cart, nil
}

// isCartIDError reports whether a userError is about the cart itself
// rather than one of its lines or codes.
func isCartIDError(e *UserError) bool {
	return len(e.Field) > 0 && e.Field[0] == "cartId"
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
