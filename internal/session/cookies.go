package session

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/utils"
)

// Cookie names.
const (
	CartCookie     = "cart_id"
	SessionCookie  = "customer_session"
	AdminCookie    = "admin_session"
	DiscountCookie = "discount_code"
	GeoCookie      = "geo_events"

	verifierCookie = "pkce_verifier"
	stateCookie    = "pkce_state"
	nonceCookie    = "pkce_nonce"
)

// Cookie lifetimes.
const (
	CartTTL     = 7 * 24 * time.Hour
	AdminTTL    = 24 * time.Hour
	PKCETTL     = 10 * time.Minute
	DiscountTTL = 7 * 24 * time.Hour
	GeoTTL      = 30 * 24 * time.Hour
)

// Customer is the signed-in customer carried by the session cookie.
type Customer struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	AccessToken string `json:"-"`
	IDToken     string `json:"-"`
}

// Manager reads and writes every cookie the storefront owns.
type Manager struct {
	secret     string
	key        []byte
	domain     string
	secure     bool
	sessionTTL time.Duration
}

// NewManager creates a cookie manager. secret signs session JWTs and seals
// the Shopify tokens they carry.
func NewManager(secret, domain string, secure bool, sessionTTL time.Duration) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &Manager{
		secret:     secret,
		key:        utils.DeriveKey(secret),
		domain:     domain,
		secure:     secure,
		sessionTTL: sessionTTL,
	}
}

func (m *Manager) set(c *fiber.Ctx, name, value string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		Secure:   m.secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (m *Manager) clear(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// CartID returns the cart cookie, or "" when absent.
func (m *Manager) CartID(c *fiber.Ctx) string { return c.Cookies(CartCookie) }

func (m *Manager) SetCartID(c *fiber.Ctx, id string) { m.set(c, CartCookie, id, CartTTL) }

func (m *Manager) ClearCartID(c *fiber.Ctx) { m.clear(c, CartCookie) }

// DiscountCode returns the last applied discount code.
func (m *Manager) DiscountCode(c *fiber.Ctx) string { return c.Cookies(DiscountCookie) }

func (m *Manager) SetDiscountCode(c *fiber.Ctx, code string) {
	m.set(c, DiscountCookie, code, DiscountTTL)
}

func (m *Manager) ClearDiscountCode(c *fiber.Ctx) { m.clear(c, DiscountCookie) }

// GeoEvents returns the raw encoded geo analytics buffer.
func (m *Manager) GeoEvents(c *fiber.Ctx) string { return c.Cookies(GeoCookie) }

func (m *Manager) SetGeoEvents(c *fiber.Ctx, encoded string) {
	m.set(c, GeoCookie, encoded, GeoTTL)
}

// SetCustomer writes the customer session cookie.
func (m *Manager) SetCustomer(c *fiber.Ctx, cust Customer) error {
	access, err := utils.Seal(m.key, cust.AccessToken)
	if err != nil {
		return err
	}
	idToken, err := utils.Seal(m.key, cust.IDToken)
	if err != nil {
		return err
	}

	token, err := utils.GenerateToken(m.secret, utils.SessionClaims{
		CustomerID:  cust.ID,
		Email:       cust.Email,
		FirstName:   cust.FirstName,
		LastName:    cust.LastName,
		AccessToken: access,
		IDToken:     idToken,
		Role:        utils.RoleCustomer,
	}, m.sessionTTL)
	if err != nil {
		return err
	}

	m.set(c, SessionCookie, token, m.sessionTTL)
	return nil
}

// Customer returns the session customer. A missing, expired or tampered
// cookie reads as signed out.
func (m *Manager) Customer(c *fiber.Ctx) (*Customer, bool) {
	raw := c.Cookies(SessionCookie)
	if raw == "" {
		return nil, false
	}

	claims, err := utils.ParseToken(m.secret, raw)
	if err != nil || claims.Role != utils.RoleCustomer || claims.CustomerID == "" {
		return nil, false
	}

	cust := &Customer{
		ID:        claims.CustomerID,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}
	if cust.AccessToken, err = utils.Open(m.key, claims.AccessToken); err != nil {
		log.Printf("[Session] Failed to open access token: %v", err)
		return nil, false
	}
	if cust.IDToken, err = utils.Open(m.key, claims.IDToken); err != nil {
		log.Printf("[Session] Failed to open id token: %v", err)
		return nil, false
	}

	return cust, true
}

func (m *Manager) ClearCustomer(c *fiber.Ctx) { m.clear(c, SessionCookie) }

// SetAdmin marks the browser as an authenticated admin.
func (m *Manager) SetAdmin(c *fiber.Ctx) error {
	token, err := utils.GenerateToken(m.secret, utils.SessionClaims{
		Role: utils.RoleAdmin,
	}, AdminTTL)
	if err != nil {
		return err
	}
	m.set(c, AdminCookie, token, AdminTTL)
	return nil
}

// IsAdmin reports whether the admin cookie is present and valid.
func (m *Manager) IsAdmin(c *fiber.Ctx) bool {
	raw := c.Cookies(AdminCookie)
	if raw == "" {
		return false
	}
	claims, err := utils.ParseToken(m.secret, raw)
	return err == nil && claims.Role == utils.RoleAdmin
}

func (m *Manager) ClearAdmin(c *fiber.Ctx) { m.clear(c, AdminCookie) }

// SetPKCE stores the verifier, state and nonce for the callback.
func (m *Manager) SetPKCE(c *fiber.Ctx, p PKCE) {
	m.set(c, verifierCookie, p.Verifier, PKCETTL)
	m.set(c, stateCookie, p.State, PKCETTL)
	m.set(c, nonceCookie, p.Nonce, PKCETTL)
}

// PKCE returns the stored login secrets; fields are empty when absent.
func (m *Manager) PKCE(c *fiber.Ctx) PKCE {
	return PKCE{
		Verifier: c.Cookies(verifierCookie),
		State:    c.Cookies(stateCookie),
		Nonce:    c.Cookies(nonceCookie),
	}
}

func (m *Manager) ClearPKCE(c *fiber.Ctx) {
	m.clear(c, verifierCookie)
	m.clear(c, stateCookie)
	m.clear(c, nonceCookie)
}
