package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/utils"
)

const defaultPageSize = 24

// CatalogHandler serves product, collection and search data for pages.
type CatalogHandler struct {
	storefront StorefrontAPI
}

// NewCatalogHandler constructs a CatalogHandler.
func NewCatalogHandler(storefront StorefrontAPI) *CatalogHandler {
	return &CatalogHandler{storefront: storefront}
}

// ListProducts returns one cursor page of products.
func (h *CatalogHandler) ListProducts(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	page, err := h.storefront.ListProducts(ctx, utils.ParseFirst(c, defaultPageSize), c.Query("after"))
	if err != nil {
		return upstreamError("Catalog", err)
	}
	return ok(c, page)
}

// GetProduct returns a product by handle.
func (h *CatalogHandler) GetProduct(c *fiber.Ctx) error {
	handle := c.Params("handle")
	if handle == "" {
		return fiber.NewError(fiber.StatusBadRequest, "handle is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	product, err := h.storefront.GetProduct(ctx, handle)
	if err != nil {
		return upstreamError("Catalog", err)
	}
	return ok(c, product)
}

// ListCollections returns one cursor page of collections.
func (h *CatalogHandler) ListCollections(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	page, err := h.storefront.ListCollections(ctx, utils.ParseFirst(c, defaultPageSize), c.Query("after"))
	if err != nil {
		return upstreamError("Catalog", err)
	}
	return ok(c, page)
}

// GetCollection returns a collection with one page of its products.
func (h *CatalogHandler) GetCollection(c *fiber.Ctx) error {
	handle := c.Params("handle")
	if handle == "" {
		return fiber.NewError(fiber.StatusBadRequest, "handle is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	collection, err := h.storefront.GetCollection(ctx, handle, utils.ParseFirst(c, defaultPageSize), c.Query("after"))
	if err != nil {
		return upstreamError("Catalog", err)
	}
	return ok(c, collection)
}

// Search runs a full-text product search.
func (h *CatalogHandler) Search(c *fiber.Ctx) error {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		return fiber.NewError(fiber.StatusBadRequest, "q is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	products, err := h.storefront.SearchProducts(ctx, term, utils.ParseFirst(c, defaultPageSize))
	if err != nil {
		return upstreamError("Search", err)
	}
	return ok(c, fiber.Map{
		"query":    term,
		"products": products,
	})
}
