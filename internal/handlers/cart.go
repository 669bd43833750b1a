package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/session"
)

// CartHandler proxies the Shopify cart referenced by the cart cookie.
type CartHandler struct {
	storefront StorefrontAPI
	cookies    *session.Manager
}

// NewCartHandler constructs a CartHandler.
func NewCartHandler(storefront StorefrontAPI, cookies *session.Manager) *CartHandler {
	return &CartHandler{storefront: storefront, cookies: cookies}
}

type cartResponse struct {
	Cart         *services.Cart `json:"cart"`
	DiscountCode string         `json:"discountCode,omitempty"`
}

// emptyCart is returned when there is no live cart.
var emptyCart = &services.Cart{Lines: services.Connection[services.CartLine]{Nodes: []services.CartLine{}}}

// currentCart loads the cart behind the cookie. A missing cookie or an
// expired cart both yield nil without error.
func (h *CartHandler) currentCart(ctx context.Context, c *fiber.Ctx) (*services.Cart, error) {
	cartID := h.cookies.CartID(c)
	if cartID == "" {
		return nil, nil
	}

	cart, err := h.storefront.GetCart(ctx, cartID)
	if errors.Is(err, services.ErrCartNotFound) {
		log.Printf("[Cart] Cart %s no longer exists, clearing cookie", cartID)
		h.cookies.ClearCartID(c)
		return nil, nil
	}
	return cart, err
}

func (h *CartHandler) respond(c *fiber.Ctx, cart *services.Cart) error {
	if cart == nil {
		cart = emptyCart
	}
	return ok(c, cartResponse{Cart: cart, DiscountCode: h.cookies.DiscountCode(c)})
}

// GetCart returns the current cart, or an empty cart when there is none.
func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := h.currentCart(ctx, c)
	if err != nil {
		return upstreamError("Cart", err)
	}
	return h.respond(c, cart)
}

type addToCartRequest struct {
	MerchandiseID string `json:"merchandiseId"`
	Quantity      int    `json:"quantity"`
}

// AddToCart appends a line, creating a cart first when the cookie is absent
// or points at a cart Shopify no longer has.
func (h *CartHandler) AddToCart(c *fiber.Ctx) error {
	var req addToCartRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req.MerchandiseID = strings.TrimSpace(req.MerchandiseID)
	if req.MerchandiseID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "merchandiseId is required")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "quantity must be positive")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	lines := []services.CartLineInput{{MerchandiseID: req.MerchandiseID, Quantity: req.Quantity}}

	if cartID := h.cookies.CartID(c); cartID != "" {
		cart, err := h.storefront.AddCartLines(ctx, cartID, lines)
		if err == nil {
			return h.respond(c, cart)
		}
		if !errors.Is(err, services.ErrCartNotFound) {
			return upstreamError("Cart", err)
		}
		log.Printf("[Cart] Cart %s expired, creating a new one", cartID)
	}

	cart, err := h.storefront.CreateCart(ctx)
	if err != nil {
		return upstreamError("Cart", err)
	}
	h.cookies.SetCartID(c, cart.ID)

	cart, err = h.storefront.AddCartLines(ctx, cart.ID, lines)
	if err != nil {
		return upstreamError("Cart", err)
	}
	return h.respond(c, cart)
}

type updateLineRequest struct {
	LineID   string `json:"lineId"`
	Quantity int    `json:"quantity"`
}

// UpdateLine sets a line's quantity. Zero removes the line.
func (h *CartHandler) UpdateLine(c *fiber.Ctx) error {
	var req updateLineRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.LineID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "lineId is required")
	}
	if req.Quantity < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "quantity must not be negative")
	}

	cartID := h.cookies.CartID(c)
	if cartID == "" {
		return fiber.NewError(fiber.StatusNotFound, "cart not found")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := h.storefront.UpdateCartLines(ctx, cartID, []services.CartLineUpdate{{ID: req.LineID, Quantity: req.Quantity}})
	if err != nil {
		return h.mutationError(c, err)
	}
	return h.respond(c, cart)
}

type removeLineRequest struct {
	LineIDs []string `json:"lineIds"`
	LineID  string   `json:"lineId"`
}

// RemoveLine drops one or more lines.
func (h *CartHandler) RemoveLine(c *fiber.Ctx) error {
	var req removeLineRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.LineID != "" {
		req.LineIDs = append(req.LineIDs, req.LineID)
	}
	if len(req.LineIDs) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "lineIds is required")
	}

	cartID := h.cookies.CartID(c)
	if cartID == "" {
		return fiber.NewError(fiber.StatusNotFound, "cart not found")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := h.storefront.RemoveCartLines(ctx, cartID, req.LineIDs)
	if err != nil {
		return h.mutationError(c, err)
	}
	return h.respond(c, cart)
}

type discountRequest struct {
	Code string `json:"code"`
}

// ApplyDiscount replaces the cart's discount codes with the given one.
func (h *CartHandler) ApplyDiscount(c *fiber.Ctx) error {
	var req discountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "code is required")
	}

	cartID := h.cookies.CartID(c)
	if cartID == "" {
		return fiber.NewError(fiber.StatusNotFound, "cart not found")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := h.storefront.UpdateDiscountCodes(ctx, cartID, []string{code})
	if err != nil {
		return h.mutationError(c, err)
	}

	h.cookies.SetDiscountCode(c, code)
	return ok(c, cartResponse{Cart: cart, DiscountCode: code})
}

// RemoveDiscount clears every discount code. Clearing with no cart is a no-op.
func (h *CartHandler) RemoveDiscount(c *fiber.Ctx) error {
	h.cookies.ClearDiscountCode(c)

	cartID := h.cookies.CartID(c)
	if cartID == "" {
		return ok(c, cartResponse{Cart: emptyCart})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := h.storefront.UpdateDiscountCodes(ctx, cartID, nil)
	if errors.Is(err, services.ErrCartNotFound) {
		h.cookies.ClearCartID(c)
		return ok(c, cartResponse{Cart: emptyCart})
	}
	if err != nil {
		return upstreamError("Cart", err)
	}
	return ok(c, cartResponse{Cart: cart})
}

// Checkout returns the Shopify checkout URL of the current cart.
func (h *CartHandler) Checkout(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := h.currentCart(ctx, c)
	if err != nil {
		return upstreamError("Cart", err)
	}
	if cart == nil || cart.CheckoutURL == "" {
		return fiber.NewError(fiber.StatusNotFound, "cart not found")
	}
	return ok(c, fiber.Map{"checkoutUrl": cart.CheckoutURL})
}

func (h *CartHandler) mutationError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrCartNotFound) {
		h.cookies.ClearCartID(c)
		return fiber.NewError(fiber.StatusNotFound, "cart not found")
	}
	return upstreamError("Cart", err)
}
