package handlers

import (
	"crypto/subtle"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/otp"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/session"
)

// AuthHandler bundles the customer login endpoints.
type AuthHandler struct {
	account       AccountProvider
	admin         AdminAPI
	codes         *otp.Service
	mailer        services.Mailer
	cookies       *session.Manager
	postLoginPath string
	devMode       bool
}

// AuthConfig configures an AuthHandler.
type AuthConfig struct {
	// Account may be nil when Customer Account login is not configured.
	Account       AccountProvider
	Admin         AdminAPI
	Codes         *otp.Service
	Mailer        services.Mailer
	Cookies       *session.Manager
	PostLoginPath string
	DevMode       bool
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(cfg AuthConfig) *AuthHandler {
	if cfg.PostLoginPath == "" {
		cfg.PostLoginPath = "/"
	}
	return &AuthHandler{
		account:       cfg.Account,
		admin:         cfg.Admin,
		codes:         cfg.Codes,
		mailer:        cfg.Mailer,
		cookies:       cfg.Cookies,
		postLoginPath: cfg.PostLoginPath,
		devMode:       cfg.DevMode,
	}
}

// Login starts the Customer Account OAuth flow.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if h.account == nil {
		return fiber.NewError(fiber.StatusNotFound, "customer account login is not configured")
	}

	pkce, err := session.NewPKCE()
	if err != nil {
		return err
	}
	h.cookies.SetPKCE(c, pkce)

	return c.Redirect(h.account.AuthCodeURL(pkce.State, pkce.Challenge, pkce.Nonce), fiber.StatusFound)
}

// Callback completes the OAuth flow and starts a session.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	if h.account == nil {
		return fiber.NewError(fiber.StatusNotFound, "customer account login is not configured")
	}

	if providerErr := c.Query("error"); providerErr != "" {
		h.cookies.ClearPKCE(c)
		log.Printf("[Auth] Provider returned error: %s", providerErr)
		return fiber.NewError(fiber.StatusUnauthorized, "login was not completed")
	}

	stored := h.cookies.PKCE(c)
	state := c.Query("state")
	if stored.State == "" || stored.Verifier == "" || subtle.ConstantTimeCompare([]byte(stored.State), []byte(state)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid login state")
	}

	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing authorization code")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tokens, err := h.account.Exchange(ctx, code, stored.Verifier)
	if err != nil {
		log.Printf("[Auth] Code exchange failed: %v", err)
		return fiber.NewError(fiber.StatusUnauthorized, "login failed")
	}

	identity, err := h.account.VerifyIDToken(ctx, tokens.IDToken, stored.Nonce)
	if err != nil {
		log.Printf("[Auth] id_token rejected: %v", err)
		return fiber.NewError(fiber.StatusUnauthorized, "login failed")
	}

	profile, err := h.account.FetchCustomer(ctx, tokens.AccessToken)
	if err != nil {
		return upstreamError("Auth", err)
	}
	if profile.Email == "" {
		profile.Email = identity.Email
	}

	if err := h.cookies.SetCustomer(c, session.Customer{
		ID:          profile.ID,
		Email:       profile.Email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		AccessToken: tokens.AccessToken,
		IDToken:     tokens.IDToken,
	}); err != nil {
		return err
	}
	h.cookies.ClearPKCE(c)

	return c.Redirect(h.postLoginPath, fiber.StatusFound)
}

// Logout ends the local session. When the session came from OAuth the
// provider logout URL is returned for the client to follow.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	cust, _ := h.cookies.Customer(c)
	h.cookies.ClearCustomer(c)

	data := fiber.Map{"loggedOut": true}
	if cust != nil && cust.IDToken != "" && h.account != nil {
		data["logoutUrl"] = h.account.LogoutURL(cust.IDToken, c.BaseURL())
	}
	return ok(c, data)
}

type sendOTPRequest struct {
	Email  string `json:"email"`
	Intent string `json:"intent"`
}

// SendOTP emails a login code.
func (h *AuthHandler) SendOTP(c *fiber.Ctx) error {
	var req sendOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Intent == "" {
		req.Intent = string(otp.IntentLogin)
	}
	return h.issue(c, req.Email, otp.Intent(req.Intent), nil)
}

type signupRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Signup emails a code that creates the customer on verification.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "firstName is required")
	}
	return h.issue(c, req.Email, otp.IntentSignup, &otp.Pending{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
}

func (h *AuthHandler) issue(c *fiber.Ctx, email string, intent otp.Intent, pending *otp.Pending) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	rec, err := h.codes.Issue(ctx, email, intent, pending)
	switch {
	case errors.Is(err, otp.ErrInvalidIntent), errors.Is(err, otp.ErrInvalidEmail):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case err != nil:
		return err
	}

	if err := h.mailer.SendOTP(ctx, rec.Email, rec.Code, h.codes.TTL()); err != nil {
		log.Printf("[Auth] Failed to send code to %s: %v", rec.Email, err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to send code")
	}

	data := fiber.Map{
		"sent":      true,
		"intent":    rec.Intent,
		"expiresIn": int(h.codes.TTL().Seconds()),
	}
	if h.devMode {
		data["devCode"] = rec.Code
	}
	return ok(c, data)
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyOTP consumes a code and starts a session, creating the customer for signups.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and code are required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	rec, err := h.codes.Verify(ctx, req.Email, req.Code)
	if errors.Is(err, otp.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}

	customer, err := h.admin.FindCustomerByEmail(ctx, rec.Email)
	switch {
	case errors.Is(err, services.ErrNotFound) && rec.Intent == otp.IntentSignup:
		var first, last string
		if rec.Pending != nil {
			first, last = rec.Pending.FirstName, rec.Pending.LastName
		}
		customer, err = h.admin.CreateCustomer(ctx, rec.Email, first, last)
		if err != nil {
			return upstreamError("Auth", err)
		}
		log.Printf("[Auth] Created customer %s", customer.ID)
	case errors.Is(err, services.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "no account found for this email")
	case err != nil:
		return upstreamError("Auth", err)
	}

	sess := session.Customer{
		ID:        customer.ID,
		Email:     customer.Email,
		FirstName: customer.FirstName,
		LastName:  customer.LastName,
	}
	if err := h.cookies.SetCustomer(c, sess); err != nil {
		return err
	}
	return ok(c, fiber.Map{"customer": sess})
}

// Session returns the signed-in customer, if any.
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	cust, found := h.cookies.Customer(c)
	if !found {
		return ok(c, fiber.Map{"authenticated": false})
	}
	return ok(c, fiber.Map{"authenticated": true, "customer": cust})
}
