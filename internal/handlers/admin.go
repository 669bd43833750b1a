package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/rewards"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/session"
	"github.com/example/storefront/internal/utils"
)

// LedgerStats exposes rewards aggregates for the stats screen.
type LedgerStats interface {
	Totals(ctx context.Context) (*rewards.Totals, error)
}

// AdminHandler manages the admin console endpoints.
type AdminHandler struct {
	admin        AdminAPI
	ledger       LedgerStats
	notifier     Notifier
	cookies      *session.Manager
	passwordHash string
}

// NewAdminHandler constructs AdminHandler. notifier may be nil.
func NewAdminHandler(admin AdminAPI, ledger LedgerStats, notifier Notifier, cookies *session.Manager, passwordHash string) *AdminHandler {
	return &AdminHandler{
		admin:        admin,
		ledger:       ledger,
		notifier:     notifier,
		cookies:      cookies,
		passwordHash: passwordHash,
	}
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

// Login checks the admin password and sets the admin cookie.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req adminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if !utils.CheckPassword(h.passwordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	if err := h.cookies.SetAdmin(c); err != nil {
		return err
	}
	return ok(c, fiber.Map{"authenticated": true})
}

// Logout clears the admin cookie.
func (h *AdminHandler) Logout(c *fiber.Ctx) error {
	h.cookies.ClearAdmin(c)
	return ok(c, fiber.Map{"authenticated": false})
}

// BatchResult is the per-record outcome of an admin update.
type BatchResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type batchRequest[T any] struct {
	Updates []T `json:"updates"`
}

// applyBatch runs apply once per item. A failing item never aborts the rest.
func applyBatch[T any](ctx context.Context, items []T, id func(T) string, apply func(context.Context, T) error) ([]BatchResult, int) {
	results := make([]BatchResult, 0, len(items))
	failed := 0
	for _, item := range items {
		res := BatchResult{ID: id(item), Success: true}
		if err := apply(ctx, item); err != nil {
			res.Success = false
			res.Error = err.Error()
			failed++
		}
		results = append(results, res)
	}
	return results, failed
}

func runBatch[T any](h *AdminHandler, c *fiber.Ctx, screen string, id func(T) string, validate func(T) error, apply func(context.Context, T) error) error {
	var req batchRequest[T]
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Updates) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "updates must not be empty")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	results, failed := applyBatch(ctx, req.Updates, id, func(ctx context.Context, item T) error {
		if err := validate(item); err != nil {
			return err
		}
		return apply(ctx, item)
	})
	if failed > 0 {
		log.Printf("[Admin] %s update: %d of %d records failed", screen, failed, len(results))
	}
	h.notifyBatch(screen, len(results), failed)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"results": results,
			"updated": len(results) - failed,
			"failed":  failed,
		},
	})
}

func (h *AdminHandler) notifyBatch(screen string, total, failed int) {
	if h.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.notifier.NotifyBatchResult(ctx, screen, total, failed); err != nil {
			log.Printf("[Admin] Failed to notify batch result: %v", err)
		}
	}()
}

func required(value, field string) error {
	if value == "" {
		return &services.UserError{Field: []string{field}, Message: "is required"}
	}
	return nil
}

// Inventory lists inventory for every variant.
func (h *AdminHandler) Inventory(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	records, err := h.admin.ListInventory(ctx)
	if err != nil {
		return upstreamError("Admin", err)
	}
	return ok(c, records)
}

// UpdateInventory sets available quantities, one mutation per record.
func (h *AdminHandler) UpdateInventory(c *fiber.Ctx) error {
	return runBatch(h, c, "inventory",
		func(u services.InventoryUpdate) string { return u.InventoryItemID },
		func(u services.InventoryUpdate) error {
			if err := required(u.InventoryItemID, "inventoryItemId"); err != nil {
				return err
			}
			if u.Quantity < 0 {
				return &services.UserError{Field: []string{"quantity"}, Message: "must not be negative"}
			}
			return nil
		},
		h.admin.SetInventoryQuantity,
	)
}

// Pricing lists prices for every variant.
func (h *AdminHandler) Pricing(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	records, err := h.admin.ListPricing(ctx)
	if err != nil {
		return upstreamError("Admin", err)
	}
	return ok(c, records)
}

// UpdatePricing changes variant prices, one mutation per record.
func (h *AdminHandler) UpdatePricing(c *fiber.Ctx) error {
	return runBatch(h, c, "pricing",
		func(u services.PriceUpdate) string { return u.VariantID },
		func(u services.PriceUpdate) error {
			if err := required(u.VariantID, "variantId"); err != nil {
				return err
			}
			if err := required(u.ProductID, "productId"); err != nil {
				return err
			}
			return required(u.Price, "price")
		},
		h.admin.UpdateVariantPrice,
	)
}

// Products lists every product.
func (h *AdminHandler) Products(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	products, err := h.admin.ListProducts(ctx)
	if err != nil {
		return upstreamError("Admin", err)
	}
	return ok(c, products)
}

type productStatusUpdate struct {
	ProductID string `json:"productId"`
	Status    string `json:"status"`
}

// UpdateProducts changes product status, one mutation per record.
func (h *AdminHandler) UpdateProducts(c *fiber.Ctx) error {
	return runBatch(h, c, "products",
		func(u productStatusUpdate) string { return u.ProductID },
		func(u productStatusUpdate) error {
			if err := required(u.ProductID, "productId"); err != nil {
				return err
			}
			return required(u.Status, "status")
		},
		func(ctx context.Context, u productStatusUpdate) error {
			return h.admin.UpdateProductStatus(ctx, u.ProductID, u.Status)
		},
	)
}

// SEO lists SEO fields for every product.
func (h *AdminHandler) SEO(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	records, err := h.admin.ListSEO(ctx)
	if err != nil {
		return upstreamError("Admin", err)
	}
	return ok(c, records)
}

// UpdateSEO changes product SEO fields, one mutation per record.
func (h *AdminHandler) UpdateSEO(c *fiber.Ctx) error {
	return runBatch(h, c, "seo",
		func(u services.SEOUpdate) string { return u.ProductID },
		func(u services.SEOUpdate) error { return required(u.ProductID, "productId") },
		h.admin.UpdateProductSEO,
	)
}

// Stats combines store counts with rewards totals.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	counts, err := h.admin.Counts(ctx)
	if err != nil {
		return upstreamError("Admin", err)
	}

	totals, err := h.ledger.Totals(ctx)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_products":  counts.Products,
			"total_orders":    counts.Orders,
			"total_customers": counts.Customers,
			"rewards":         totals,
		},
	})
}
