package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/otp"
	"github.com/example/storefront/internal/rewards"
	"github.com/example/storefront/internal/routes"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	db := database.Connect(ctx, cfg.DatabaseURL)

	storefront := services.NewStorefront(services.NewStorefrontClient(cfg.ShopifyStoreDomain, cfg.ShopifyAPIVersion, cfg.ShopifyStorefrontToken))
	adminAPI := services.NewAdminAPI(services.NewAdminClient(cfg.ShopifyStoreDomain, cfg.ShopifyAPIVersion, cfg.ShopifyAdminToken))
	telegramService := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)

	var account handlers.AccountProvider
	if cfg.CustomerAccountEnabled() {
		ca, err := services.NewCustomerAccount(ctx, services.CustomerAccountConfig{
			ShopID:      cfg.ShopifyShopID,
			ClientID:    cfg.CustomerAccountClientID,
			RedirectURL: cfg.CustomerAccountRedirectURL,
			Issuer:      cfg.CustomerAccountIssuer,
			JWKSURL:     cfg.CustomerAccountJWKSURL,
			APIVersion:  cfg.ShopifyAPIVersion,
		})
		if err != nil {
			log.Fatalf("customer account init failed: %v", err)
		}
		account = ca
	} else {
		log.Println("[Auth] Customer Account login disabled; OTP login only")
	}

	var mailer services.Mailer = services.LogMailer{}
	if cfg.SMTPEnabled() {
		mailer = services.NewSMTPMailer(services.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}

	var store otp.Store = otp.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := otp.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis init failed: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
		log.Println("[OTP] Using Redis code store")
	}
	codes := otp.NewService(store)
	codes.StartSweeper(ctx, time.Minute)

	if cfg.OTPDevMode {
		log.Println("[OTP] Dev mode enabled: codes are echoed in responses")
	}

	app := fiber.New(fiber.Config{
		AppName:        "Storefront Backend",
		ErrorHandler:   handlers.ErrorHandler,
		ReadBufferSize: 16 * 1024, // room for the 4 KiB geo cookie
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, routes.Deps{
		Storefront:        storefront,
		Admin:             adminAPI,
		Account:           account,
		Codes:             codes,
		Mailer:            mailer,
		Rewards:           rewards.NewService(rewards.NewGormLedger(db)),
		Webhooks:          database.NewWebhookLog(db),
		Geo:               database.NewGeoEvents(db),
		Notifier:          telegramService,
		Cookies:           session.NewManager(cfg.SessionSecret, cfg.CookieDomain, cfg.CookieSecure, cfg.SessionTTL),
		WebhookSecret:     cfg.ShopifyWebhookSecret,
		AdminPasswordHash: cfg.AdminPasswordHash,
		PostLoginRedirect: cfg.PostLoginRedirect,
		OTPDevMode:        cfg.OTPDevMode,
	})

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}
