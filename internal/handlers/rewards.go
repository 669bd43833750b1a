package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/rewards"
	"github.com/example/storefront/internal/utils"
)

// RewardsHandler serves the points balance, spin wheel and order sync.
type RewardsHandler struct {
	rewards *rewards.Service
	orders  rewards.OrderSource
}

// NewRewardsHandler constructs a RewardsHandler.
func NewRewardsHandler(svc *rewards.Service, orders rewards.OrderSource) *RewardsHandler {
	return &RewardsHandler{rewards: svc, orders: orders}
}

// Balance returns the customer's balance, spin state and ledger history.
func (h *RewardsHandler) Balance(c *fiber.Ctx) error {
	cust, found := middleware.GetCurrentCustomer(c)
	if !found {
		return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}

	pagination := utils.ParsePagination(c)
	summary, err := h.rewards.Summary(c.UserContext(), cust.ID, pagination.Limit, pagination.Offset)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    summary,
		"meta": fiber.Map{
			"page":  pagination.Page,
			"limit": pagination.Limit,
			"total": summary.Total,
		},
	})
}

// Spin spins the wheel once per UTC day.
func (h *RewardsHandler) Spin(c *fiber.Ctx) error {
	cust, found := middleware.GetCurrentCustomer(c)
	if !found {
		return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}

	result, err := h.rewards.SpinFor(c.UserContext(), cust.ID)
	if errors.Is(err, rewards.ErrAlreadySpun) {
		return fiber.NewError(fiber.StatusTooManyRequests, "already spun today")
	}
	if err != nil {
		return err
	}
	return ok(c, result)
}

// SyncOrders credits points for any of the customer's orders not yet on the ledger.
func (h *RewardsHandler) SyncOrders(c *fiber.Ctx) error {
	cust, found := middleware.GetCurrentCustomer(c)
	if !found {
		return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.rewards.SyncOrders(ctx, h.orders, cust.ID)
	if err != nil {
		return upstreamError("Rewards", err)
	}
	return ok(c, result)
}
