package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/services"
)

// StorefrontAPI is the subset of the Storefront API the handlers use.
type StorefrontAPI interface {
	ListProducts(ctx context.Context, first int, after string) (*services.Connection[services.Product], error)
	GetProduct(ctx context.Context, handle string) (*services.Product, error)
	ListCollections(ctx context.Context, first int, after string) (*services.Connection[services.Collection], error)
	GetCollection(ctx context.Context, handle string, first int, after string) (*services.Collection, error)
	SearchProducts(ctx context.Context, term string, first int) ([]services.Product, error)

	CreateCart(ctx context.Context) (*services.Cart, error)
	GetCart(ctx context.Context, cartID string) (*services.Cart, error)
	AddCartLines(ctx context.Context, cartID string, lines []services.CartLineInput) (*services.Cart, error)
	UpdateCartLines(ctx context.Context, cartID string, lines []services.CartLineUpdate) (*services.Cart, error)
	RemoveCartLines(ctx context.Context, cartID string, lineIDs []string) (*services.Cart, error)
	UpdateDiscountCodes(ctx context.Context, cartID string, codes []string) (*services.Cart, error)
}

// AdminAPI is the subset of the Admin API the handlers use.
type AdminAPI interface {
	ListProducts(ctx context.Context) ([]services.AdminProduct, error)
	ListInventory(ctx context.Context) ([]services.InventoryRecord, error)
	ListPricing(ctx context.Context) ([]services.PricingRecord, error)
	ListSEO(ctx context.Context) ([]services.SEORecord, error)
	UpdateVariantPrice(ctx context.Context, u services.PriceUpdate) error
	SetInventoryQuantity(ctx context.Context, u services.InventoryUpdate) error
	UpdateProductSEO(ctx context.Context, u services.SEOUpdate) error
	UpdateProductStatus(ctx context.Context, productID, status string) error
	FindCustomerByEmail(ctx context.Context, email string) (*services.Customer, error)
	CreateCustomer(ctx context.Context, email, firstName, lastName string) (*services.Customer, error)
	CustomerOrders(ctx context.Context, customerID string) ([]services.Order, error)
	Counts(ctx context.Context) (*services.StoreCounts, error)
}

// AccountProvider runs the Customer Account OAuth flow.
type AccountProvider interface {
	AuthCodeURL(state, challenge, nonce string) string
	Exchange(ctx context.Context, code, verifier string) (*services.AccountTokens, error)
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*services.AccountIdentity, error)
	FetchCustomer(ctx context.Context, accessToken string) (*services.AccountProfile, error)
	LogoutURL(idToken, redirect string) string
}

// Notifier posts admin notifications.
type Notifier interface {
	NotifyOrderPaid(ctx context.Context, order services.PaidOrder) error
	NotifyBatchResult(ctx context.Context, screen string, total, failed int) error
}

const upstreamTimeout = 30 * time.Second

// ErrorHandler renders every error as {"success":false,"error":msg}.
// Non-fiber errors are logged and reported as a generic 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	if code >= fiber.StatusInternalServerError {
		log.Printf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// upstreamError maps a Shopify failure to an HTTP error. Details are logged
// and the caller sees a generic message.
func upstreamError(tag string, err error) error {
	var ue *services.UserError
	switch {
	case errors.As(err, &ue):
		return fiber.NewError(fiber.StatusBadRequest, ue.Error())
	case errors.Is(err, services.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "not found")
	default:
		log.Printf("[%s] Upstream error: %v", tag, err)
		return fiber.NewError(fiber.StatusInternalServerError, "upstream request failed")
	}
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), upstreamTimeout)
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// Health reports liveness.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "status": "ok"})
}
