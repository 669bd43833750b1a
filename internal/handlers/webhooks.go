package handlers

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/services"
)

const topicOrdersPaid = "orders/paid"

// WebhookDeduper remembers processed deliveries.
type WebhookDeduper interface {
	MarkProcessed(ctx context.Context, webhookID, topic, shop string) (bool, error)
	Forget(ctx context.Context, webhookID string) error
}

// OrderCrediter awards points for an order at most once.
type OrderCrediter interface {
	CreditOrder(ctx context.Context, customerID, orderRef string, amount float64, note string) (int64, error)
}

// WebhookHandler ingests Shopify webhooks. Signatures are checked by middleware.
type WebhookHandler struct {
	dedupe   WebhookDeduper
	credits  OrderCrediter
	notifier Notifier
}

// NewWebhookHandler constructs a WebhookHandler. notifier may be nil.
func NewWebhookHandler(dedupe WebhookDeduper, credits OrderCrediter, notifier Notifier) *WebhookHandler {
	return &WebhookHandler{dedupe: dedupe, credits: credits, notifier: notifier}
}

type orderWebhook struct {
	ID                int64  `json:"id"`
	AdminGraphQLAPIID string `json:"admin_graphql_api_id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	TotalPrice        string `json:"total_price"`
	Currency          string `json:"currency"`
	CancelledAt       string `json:"cancelled_at"`
	Customer          *struct {
		ID                int64  `json:"id"`
		AdminGraphQLAPIID string `json:"admin_graphql_api_id"`
		Email             string `json:"email"`
	} `json:"customer"`
}

func (o orderWebhook) orderRef() string {
	if o.AdminGraphQLAPIID != "" {
		return o.AdminGraphQLAPIID
	}
	return "gid://shopify/Order/" + strconv.FormatInt(o.ID, 10)
}

func (o orderWebhook) customerRef() string {
	if o.Customer == nil {
		return ""
	}
	if o.Customer.AdminGraphQLAPIID != "" {
		return o.Customer.AdminGraphQLAPIID
	}
	if o.Customer.ID == 0 {
		return ""
	}
	return "gid://shopify/Customer/" + strconv.FormatInt(o.Customer.ID, 10)
}

// Receive processes one delivery. Unknown topics are acknowledged with 200.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	topic := c.Get("X-Shopify-Topic")
	webhookID := c.Get("X-Shopify-Webhook-Id")
	shop := c.Get("X-Shopify-Shop-Domain")

	ctx, cancel := requestContext(c)
	defer cancel()

	if webhookID != "" {
		first, err := h.dedupe.MarkProcessed(ctx, webhookID, topic, shop)
		if err != nil {
			return err
		}
		if !first {
			log.Printf("[Webhook] Duplicate delivery %s (%s) ignored", webhookID, topic)
			return ok(c, fiber.Map{"duplicate": true})
		}
	}

	var err error
	switch topic {
	case topicOrdersPaid:
		err = h.ordersPaid(ctx, c.Body())
	default:
		log.Printf("[Webhook] Ignoring topic %q from %s", topic, shop)
	}

	if err != nil {
		if webhookID != "" {
			if ferr := h.dedupe.Forget(ctx, webhookID); ferr != nil {
				log.Printf("[Webhook] Failed to forget %s: %v", webhookID, ferr)
			}
		}
		return err
	}

	return ok(c, fiber.Map{"received": true})
}

func (h *WebhookHandler) ordersPaid(ctx context.Context, body []byte) error {
	var order orderWebhook
	if err := json.Unmarshal(body, &order); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order payload")
	}

	customerID := order.customerRef()
	if customerID == "" || order.CancelledAt != "" {
		return nil
	}

	amount, err := strconv.ParseFloat(order.TotalPrice, 64)
	if err != nil {
		log.Printf("[Webhook] Order %s has unparsable total %q", order.Name, order.TotalPrice)
		return nil
	}

	points, err := h.credits.CreditOrder(ctx, customerID, order.orderRef(), amount, order.Name)
	if err != nil {
		return err
	}
	log.Printf("[Webhook] Order %s credited %d points", order.Name, points)

	if h.notifier != nil {
		email := order.Email
		if email == "" && order.Customer != nil {
			email = order.Customer.Email
		}
		paid := services.PaidOrder{
			Name:           order.Name,
			Email:          email,
			Total:          order.TotalPrice,
			Currency:       order.Currency,
			PointsCredited: points,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.notifier.NotifyOrderPaid(ctx, paid); err != nil {
				log.Printf("[Webhook] Failed to notify paid order: %v", err)
			}
		}()
	}
	return nil
}
