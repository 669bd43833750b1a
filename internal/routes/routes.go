package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/otp"
	"github.com/example/storefront/internal/rewards"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/session"
)

// Deps are the collaborators the routes are wired to.
type Deps struct {
	Storefront handlers.StorefrontAPI
	Admin      handlers.AdminAPI
	// Account is nil when Customer Account login is not configured.
	Account  handlers.AccountProvider
	Codes    *otp.Service
	Mailer   services.Mailer
	Rewards  *rewards.Service
	Webhooks handlers.WebhookDeduper
	Geo      handlers.GeoStore
	Notifier handlers.Notifier
	Cookies  *session.Manager

	WebhookSecret     string
	AdminPasswordHash string
	PostLoginRedirect string
	OTPDevMode        bool
	// OTPRateLimit caps code requests per IP per minute. Zero means 5.
	OTPRateLimit int
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Deps) {
	cartHandler := handlers.NewCartHandler(deps.Storefront, deps.Cookies)
	catalogHandler := handlers.NewCatalogHandler(deps.Storefront)
	authHandler := handlers.NewAuthHandler(handlers.AuthConfig{
		Account:       deps.Account,
		Admin:         deps.Admin,
		Codes:         deps.Codes,
		Mailer:        deps.Mailer,
		Cookies:       deps.Cookies,
		PostLoginPath: deps.PostLoginRedirect,
		DevMode:       deps.OTPDevMode,
	})
	rewardsHandler := handlers.NewRewardsHandler(deps.Rewards, deps.Admin)
	adminHandler := handlers.NewAdminHandler(deps.Admin, deps.Rewards, deps.Notifier, deps.Cookies, deps.AdminPasswordHash)
	webhookHandler := handlers.NewWebhookHandler(deps.Webhooks, deps.Rewards, deps.Notifier)
	geoHandler := handlers.NewGeoHandler(deps.Geo, deps.Cookies)

	requireCustomer := middleware.AuthMiddleware(deps.Cookies)
	requireAdmin := middleware.AdminMiddleware(deps.Cookies)

	perMinute := deps.OTPRateLimit
	if perMinute <= 0 {
		perMinute = 5
	}
	codeLimiter := newLimiter(perMinute)
	adminLimiter := newLimiter(perMinute)

	api := app.Group("/api")
	api.Get("/health", handlers.Health)

	// Catalog
	api.Get("/products", catalogHandler.ListProducts)
	api.Get("/products/:handle", catalogHandler.GetProduct)
	api.Get("/collections", catalogHandler.ListCollections)
	api.Get("/collections/:handle", catalogHandler.GetCollection)
	api.Get("/search", catalogHandler.Search)

	// Cart
	cart := api.Group("/cart")
	cart.Get("/", cartHandler.GetCart)
	cart.Post("/add", cartHandler.AddToCart)
	cart.Post("/update", cartHandler.UpdateLine)
	cart.Post("/remove", cartHandler.RemoveLine)
	cart.Post("/discount", cartHandler.ApplyDiscount)
	cart.Delete("/discount", cartHandler.RemoveDiscount)
	cart.Get("/checkout", cartHandler.Checkout)

	// Auth
	auth := api.Group("/auth")
	auth.Get("/login", authHandler.Login)
	auth.Get("/callback", authHandler.Callback)
	auth.Post("/logout", authHandler.Logout)
	auth.Post("/otp/send", codeLimiter, authHandler.SendOTP)
	auth.Post("/otp/verify", authHandler.VerifyOTP)
	auth.Post("/signup", codeLimiter, authHandler.Signup)
	auth.Get("/session", authHandler.Session)

	// Rewards
	rewardsGroup := api.Group("/rewards", requireCustomer)
	rewardsGroup.Get("/", rewardsHandler.Balance)
	rewardsGroup.Post("/spin", rewardsHandler.Spin)
	rewardsGroup.Post("/sync-orders", rewardsHandler.SyncOrders)

	// Admin
	api.Post("/admin/login", adminLimiter, adminHandler.Login)
	api.Post("/admin/logout", adminHandler.Logout)

	admin := api.Group("/admin", requireAdmin)
	admin.Get("/inventory", adminHandler.Inventory)
	admin.Post("/inventory", adminHandler.UpdateInventory)
	admin.Get("/pricing", adminHandler.Pricing)
	admin.Post("/pricing", adminHandler.UpdatePricing)
	admin.Get("/products", adminHandler.Products)
	admin.Post("/products", adminHandler.UpdateProducts)
	admin.Get("/seo", adminHandler.SEO)
	admin.Post("/seo", adminHandler.UpdateSEO)
	admin.Get("/stats", adminHandler.Stats)
	admin.Get("/geo", geoHandler.Countries)

	// Geo analytics
	api.Post("/geo/events", geoHandler.Record)
	api.Get("/geo/events", geoHandler.List)

	// Webhooks
	api.Post("/webhooks/shopify", middleware.ShopifyWebhookMiddleware(deps.WebhookSecret), webhookHandler.Receive)
}

func newLimiter(perMinute int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests, try again later")
		},
	})
}
