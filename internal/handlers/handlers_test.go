package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/otp"
	"github.com/example/storefront/internal/rewards"
	"github.com/example/storefront/internal/session"
	"github.com/example/storefront/internal/utils"
)

type testEnv struct {
	app        *fiber.App
	storefront *fakeStorefront
	admin      *fakeAdmin
	account    *fakeAccount
	ledger     *memLedger
	mailer     *recordingMailer
	dedupe     *memDeduper
	cookies    *session.Manager
	jar        map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := utils.HashPassword("letmein")
	require.NoError(t, err)

	env := &testEnv{
		storefront: newFakeStorefront(),
		admin:      newFakeAdmin(),
		account:    &fakeAccount{},
		ledger:     &memLedger{},
		mailer:     &recordingMailer{},
		dedupe:     &memDeduper{},
		cookies:    session.NewManager("test-secret", "", false, time.Hour),
		jar:        map[string]string{},
	}
	svc := rewards.NewService(env.ledger)

	cart := NewCartHandler(env.storefront, env.cookies)
	catalog := NewCatalogHandler(env.storefront)
	auth := NewAuthHandler(AuthConfig{
		Account: env.account,
		Admin:   env.admin,
		Codes:   otp.NewService(otp.NewMemoryStore()),
		Mailer:  env.mailer,
		Cookies: env.cookies,
		DevMode: true,
	})
	rw := NewRewardsHandler(svc, env.admin)
	admin := NewAdminHandler(env.admin, svc, nil, env.cookies, hash)
	hooks := NewWebhookHandler(env.dedupe, svc, nil)
	geo := NewGeoHandler(nil, env.cookies)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler, ReadBufferSize: 16 * 1024})
	app.Get("/products", catalog.ListProducts)
	app.Get("/products/:handle", catalog.GetProduct)
	app.Get("/search", catalog.Search)
	app.Get("/collections", catalog.ListCollections)
	app.Get("/collections/:handle", catalog.GetCollection)
	app.Get("/cart", cart.GetCart)
	app.Post("/cart/add", cart.AddToCart)
	app.Post("/cart/update", cart.UpdateLine)
	app.Post("/cart/remove", cart.RemoveLine)
	app.Post("/cart/discount", cart.ApplyDiscount)
	app.Delete("/cart/discount", cart.RemoveDiscount)
	app.Get("/cart/checkout", cart.Checkout)
	app.Get("/auth/login", auth.Login)
	app.Get("/auth/callback", auth.Callback)
	app.Post("/auth/logout", auth.Logout)
	app.Post("/auth/otp/send", auth.SendOTP)
	app.Post("/auth/otp/verify", auth.VerifyOTP)
	app.Post("/auth/signup", auth.Signup)
	app.Get("/auth/session", auth.Session)
	app.Get("/rewards", middleware.AuthMiddleware(env.cookies), rw.Balance)
	app.Post("/rewards/spin", middleware.AuthMiddleware(env.cookies), rw.Spin)
	app.Post("/admin/login", admin.Login)
	app.Post("/admin/pricing", middleware.AdminMiddleware(env.cookies), admin.UpdatePricing)
	app.Get("/admin/stats", middleware.AdminMiddleware(env.cookies), admin.Stats)
	app.Post("/webhooks", hooks.Receive)
	app.Post("/geo/events", geo.Record)
	app.Get("/geo/events", geo.List)

	env.app = app
	return env
}

// do sends a request carrying the jar's cookies and stores the cookies the
// response sets or clears.
func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for name, value := range e.jar {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	for _, c := range resp.Cookies() {
		if c.Value == "" || c.MaxAge < 0 {
			delete(e.jar, c.Name)
			continue
		}
		e.jar[c.Name] = c.Value
	}

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	}
	return resp, payload
}

func data(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	d, isMap := payload["data"].(map[string]any)
	require.True(t, isMap, "payload has no data object: %v", payload)
	return d
}

func TestGetCart_emptyWithoutCookie(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cart := data(t, payload)["cart"].(map[string]any)
	lines := cart["lines"].(map[string]any)["nodes"].([]any)
	assert.Empty(t, lines)
	assert.Zero(t, env.storefront.created)
}

func TestAddToCart_createsCartWhenNoCookie(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1","quantity":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, env.storefront.created)
	assert.Equal(t, "gid://shopify/Cart/1", env.jar[session.CartCookie])

	cart := data(t, payload)["cart"].(map[string]any)
	assert.EqualValues(t, 2, cart["totalQuantity"])
	assert.Len(t, cart["lines"].(map[string]any)["nodes"], 1)

	// A second add reuses the cart.
	resp, _ = env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.storefront.created)
	assert.Len(t, env.storefront.carts["gid://shopify/Cart/1"].Lines.Nodes, 2)
}

func TestAddToCart_replacesExpiredCart(t *testing.T) {
	env := newTestEnv(t)
	env.jar[session.CartCookie] = "gid://shopify/Cart/expired"

	resp, _ := env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, env.storefront.created)
	assert.Equal(t, "gid://shopify/Cart/1", env.jar[session.CartCookie])
	assert.Len(t, env.storefront.carts["gid://shopify/Cart/1"].Lines.Nodes, 1)
}

func TestAddToCart_requiresMerchandise(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodPost, "/cart/add", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, payload["success"])
	assert.Zero(t, env.storefront.created)
}

func TestAddToCart_unknownVariantKeepsCart(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1"}`)
	require.Equal(t, "gid://shopify/Cart/1", env.jar[session.CartCookie])

	resp, payload := env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"`+unknownVariant+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, payload["error"], "merchandiseId")

	assert.Equal(t, 1, env.storefront.created)
	assert.Equal(t, "gid://shopify/Cart/1", env.jar[session.CartCookie])
	assert.Len(t, env.storefront.carts["gid://shopify/Cart/1"].Lines.Nodes, 1)
}

func TestUpdateLine(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/cart/update", `{"lineId":"line-1","quantity":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1"}`)
	env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/2"}`)

	resp, _ = env.do(t, http.MethodPost, "/cart/update", `{"lineId":"line-1","quantity":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/cart/update", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payload := env.do(t, http.MethodPost, "/cart/update", `{"lineId":"line-1","quantity":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cart := data(t, payload)["cart"].(map[string]any)
	assert.EqualValues(t, 4, cart["totalQuantity"])

	resp, payload = env.do(t, http.MethodPost, "/cart/update", `{"lineId":"line-1","quantity":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cart = data(t, payload)["cart"].(map[string]any)
	assert.Len(t, cart["lines"].(map[string]any)["nodes"], 1)
	assert.EqualValues(t, 1, cart["totalQuantity"])
}

func TestUpdateLine_unknownLineKeepsCart(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1"}`)

	resp, _ := env.do(t, http.MethodPost, "/cart/update", `{"lineId":"line-9","quantity":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "gid://shopify/Cart/1", env.jar[session.CartCookie])
	assert.Len(t, env.storefront.carts["gid://shopify/Cart/1"].Lines.Nodes, 1)
}

func TestRemoveLine(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/cart/remove", `{"lineId":"line-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1"}`)

	resp, _ = env.do(t, http.MethodPost, "/cart/remove", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/cart/remove", `{"lineIds":["line-9"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "gid://shopify/Cart/1", env.jar[session.CartCookie])

	resp, payload := env.do(t, http.MethodPost, "/cart/remove", `{"lineIds":["line-1"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cart := data(t, payload)["cart"].(map[string]any)
	assert.Empty(t, cart["lines"].(map[string]any)["nodes"])
	assert.Equal(t, "gid://shopify/Cart/1", env.jar[session.CartCookie])
}

func TestRemoveLine_expiredCartClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	env.jar[session.CartCookie] = "gid://shopify/Cart/gone"

	resp, _ := env.do(t, http.MethodPost, "/cart/remove", `{"lineId":"line-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotContains(t, env.jar, session.CartCookie)
}

func TestGetCart_expiredCookieIsCleared(t *testing.T) {
	env := newTestEnv(t)
	env.jar[session.CartCookie] = "gid://shopify/Cart/gone"

	resp, _ := env.do(t, http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, env.jar, session.CartCookie)
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/cart/checkout", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1"}`)
	resp, payload := env.do(t, http.MethodGet, "/cart/checkout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, data(t, payload)["checkoutUrl"], "/checkouts/")
}

func TestDiscount_applyAndRemove(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/cart/discount", `{"code":"SAVE10"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.do(t, http.MethodPost, "/cart/add", `{"merchandiseId":"gid://shopify/ProductVariant/1"}`)
	resp, payload := env.do(t, http.MethodPost, "/cart/discount", `{"code":" SAVE10 "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SAVE10", data(t, payload)["discountCode"])
	assert.Equal(t, "SAVE10", env.jar[session.DiscountCookie])

	resp, _ = env.do(t, http.MethodDelete, "/cart/discount", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, env.jar, session.DiscountCookie)
	assert.Empty(t, env.storefront.carts["gid://shopify/Cart/1"].DiscountCodes)
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/products", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/products/tee", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload := env.do(t, http.MethodGet, "/products/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", payload["error"])

	resp, _ = env.do(t, http.MethodGet, "/search", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payload = env.do(t, http.MethodGet, "/search?q=tee", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tee", data(t, payload)["query"])
}

func TestCollections(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodGet, "/collections?first=500", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, data(t, payload)["nodes"], 1)
	assert.Equal(t, 100, env.storefront.lastFirst)

	resp, payload = env.do(t, http.MethodGet, "/collections/summer", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	collection := data(t, payload)
	assert.Equal(t, "Summer", collection["title"])
	assert.Len(t, collection["products"].(map[string]any)["nodes"], 1)
	assert.Equal(t, defaultPageSize, env.storefront.lastFirst)

	resp, _ = env.do(t, http.MethodGet, "/collections/winter", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOAuthLogin_stateRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, env.jar["pkce_state"], state)
	assert.Equal(t, session.Challenge(env.jar["pkce_verifier"]), loc.Query().Get("code_challenge"))
	env.account.nonce = env.jar["pkce_nonce"]

	resp, _ = env.do(t, http.MethodGet, "/auth/callback?code=abc&state="+state, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.NotContains(t, env.jar, "pkce_state")
	require.Contains(t, env.jar, session.SessionCookie)

	_, payload := env.do(t, http.MethodGet, "/auth/session", "")
	sess := data(t, payload)
	assert.Equal(t, true, sess["authenticated"])
	cust := sess["customer"].(map[string]any)
	assert.Equal(t, "jane@example.com", cust["email"])
	assert.NotContains(t, cust, "accessToken")

	_, payload = env.do(t, http.MethodPost, "/auth/logout", "")
	assert.Contains(t, data(t, payload)["logoutUrl"], "id_token_hint=id-token")
	assert.NotContains(t, env.jar, session.SessionCookie)
}

func TestOAuthCallback_rejectsStateMismatch(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	env.account.nonce = env.jar["pkce_nonce"]

	resp, _ = env.do(t, http.MethodGet, "/auth/callback?code=abc&state=forged", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, env.jar, session.SessionCookie)
}

func TestOAuthCallback_rejectsNonceMismatch(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	env.account.nonce = "some-other-nonce"

	resp, _ = env.do(t, http.MethodGet, "/auth/callback?code=abc&state="+env.jar["pkce_state"], "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, env.jar, session.SessionCookie)
}

func TestOAuthCallback_exchangeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.account.exchangeErr = errBoom

	env.do(t, http.MethodGet, "/auth/login", "")
	resp, _ := env.do(t, http.MethodGet, "/auth/callback?code=abc&state="+env.jar["pkce_state"], "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOTP_signupThenLogin(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodPost, "/auth/otp/verify", `{"email":"new@example.com","code":"000000"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, payload["success"])

	resp, _ = env.do(t, http.MethodPost, "/auth/signup", `{"email":"new@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payload = env.do(t, http.MethodPost, "/auth/signup", `{"email":"New@Example.com","firstName":"Ada","lastName":"Lovelace"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sent := data(t, payload)
	assert.Equal(t, "signup", sent["intent"])
	code := sent["devCode"].(string)
	assert.Equal(t, code, env.mailer.codes["new@example.com"])

	resp, payload = env.do(t, http.MethodPost, "/auth/otp/verify", `{"email":"new@example.com","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cust := data(t, payload)["customer"].(map[string]any)
	assert.Equal(t, "Ada", cust["firstName"])
	require.Contains(t, env.jar, session.SessionCookie)

	// Codes are single use.
	resp, _ = env.do(t, http.MethodPost, "/auth/otp/verify", `{"email":"new@example.com","code":"`+code+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, payload = env.do(t, http.MethodPost, "/auth/otp/send", `{"email":"new@example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code = data(t, payload)["devCode"].(string)
	resp, _ = env.do(t, http.MethodPost, "/auth/otp/verify", `{"email":"new@example.com","code":"`+code+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, env.admin.customers, 1)
}

func TestOTP_loginForUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	_, payload := env.do(t, http.MethodPost, "/auth/otp/send", `{"email":"ghost@example.com"}`)
	code := data(t, payload)["devCode"].(string)

	resp, _ := env.do(t, http.MethodPost, "/auth/otp/verify", `{"email":"ghost@example.com","code":"`+code+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, env.admin.customers)
	assert.NotContains(t, env.jar, session.SessionCookie)
}

func TestOTP_rejectsBadIntent(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/auth/otp/send", `{"email":"a@example.com","intent":"reset"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func signIn(t *testing.T, env *testEnv) {
	t.Helper()
	_, payload := env.do(t, http.MethodPost, "/auth/signup", `{"email":"jane@example.com","firstName":"Jane"}`)
	code := data(t, payload)["devCode"].(string)
	resp, _ := env.do(t, http.MethodPost, "/auth/otp/verify", `{"email":"jane@example.com","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRewards_requiresSession(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/rewards", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRewards_spinOncePerDay(t *testing.T) {
	env := newTestEnv(t)
	signIn(t, env)

	resp, payload := env.do(t, http.MethodPost, "/rewards/spin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	points := data(t, payload)["points"].(float64)
	assert.Contains(t, []float64{1, 2, 5, 10}, points)

	resp, payload = env.do(t, http.MethodPost, "/rewards/spin", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, false, payload["success"])

	resp, payload = env.do(t, http.MethodGet, "/rewards", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := data(t, payload)
	assert.Equal(t, points, summary["balance"])
	assert.Equal(t, false, summary["canSpin"])
	assert.EqualValues(t, 1, payload["meta"].(map[string]any)["total"])
}

func TestAdmin_requiresCookie(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/admin/login", `{"password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A customer session does not unlock admin endpoints.
	signIn(t, env)
	resp, _ = env.do(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdmin_pricingBatchReportsPerRecord(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/admin/login", `{"password":"letmein"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"updates":[
		{"productId":"gid://shopify/Product/1","variantId":"gid://shopify/ProductVariant/1","price":"10.00"},
		{"productId":"gid://shopify/Product/1","variantId":"gid://shopify/ProductVariant/2","price":"-1"},
		{"productId":"gid://shopify/Product/2","variantId":"gid://shopify/ProductVariant/3","price":"12.50"}
	]}`
	resp, payload := env.do(t, http.MethodPost, "/admin/pricing", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	d := data(t, payload)
	results := d["results"].([]any)
	require.Len(t, results, 3)

	failures := 0
	for _, r := range results {
		if r.(map[string]any)["success"] == false {
			failures++
			assert.Equal(t, "gid://shopify/ProductVariant/2", r.(map[string]any)["id"])
			assert.NotEmpty(t, r.(map[string]any)["error"])
		}
	}
	assert.Equal(t, 1, failures)
	assert.EqualValues(t, 2, d["updated"])
	assert.EqualValues(t, 1, d["failed"])
	assert.Len(t, env.admin.prices, 2)

	resp, _ = env.do(t, http.MethodPost, "/admin/pricing", `{"updates":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_stats(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/admin/login", `{"password":"letmein"}`)

	resp, payload := env.do(t, http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := data(t, payload)
	assert.EqualValues(t, 3, d["total_products"])
	assert.EqualValues(t, 2, d["total_orders"])
	assert.EqualValues(t, 1, d["total_customers"])
}

func TestWebhook_ordersPaidCreditsOnce(t *testing.T) {
	env := newTestEnv(t)

	order := `{"id":450789469,"admin_graphql_api_id":"gid://shopify/Order/450789469","name":"#1001",
		"total_price":"42.99","currency":"USD","customer":{"id":207119551}}`

	resp, _ := env.do(t, http.MethodPost, "/webhooks", order,
		"X-Shopify-Topic", "orders/paid", "X-Shopify-Webhook-Id", "wh-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	balance, err := env.ledger.Balance(t.Context(), "gid://shopify/Customer/207119551")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)

	// Redelivery of the same webhook.
	resp, payload := env.do(t, http.MethodPost, "/webhooks", order,
		"X-Shopify-Topic", "orders/paid", "X-Shopify-Webhook-Id", "wh-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, data(t, payload)["duplicate"])

	// A different delivery for the same order.
	resp, _ = env.do(t, http.MethodPost, "/webhooks", order,
		"X-Shopify-Topic", "orders/paid", "X-Shopify-Webhook-Id", "wh-2")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	balance, err = env.ledger.Balance(t.Context(), "gid://shopify/Customer/207119551")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
}

func TestWebhook_badPayloadIsForgotten(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/webhooks", `not json`,
		"X-Shopify-Topic", "orders/paid", "X-Shopify-Webhook-Id", "wh-3")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotContains(t, env.dedupe.seen, "wh-3")
}

func TestWebhook_unknownTopicAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/webhooks", `{}`, "X-Shopify-Topic", "products/update")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGeo_recordUsesHeaders(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodPost, "/geo/events", `{"type":"page_view","path":"/"}`,
		"CF-IPCountry", "UZ", "Accept-Language", "uz-UZ,ru;q=0.8,en;q=0.5,de;q=0.1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, data(t, payload)["count"])

	events := DecodeGeoEvents(env.jar[session.GeoCookie])
	require.Len(t, events, 1)
	assert.Equal(t, "UZ", events[0].Country)
	assert.Equal(t, []string{"uz-UZ", "ru", "en"}, events[0].Languages)

	resp, _ = env.do(t, http.MethodPost, "/geo/events", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGeo_cookieStaysBounded(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 150; i++ {
		resp, _ := env.do(t, http.MethodPost, "/geo/events",
			`{"type":"page_view","path":"/products/a-rather-long-handle-to-fill-the-cookie","city":"Tashkent"}`,
			"CF-IPCountry", "UZ")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		raw := env.jar[session.GeoCookie]
		require.LessOrEqual(t, len(raw), MaxGeoCookieSize)
		require.LessOrEqual(t, len(DecodeGeoEvents(raw)), MaxGeoEvents)
	}
}

func TestAppendGeoEvent_dropsOldestFirst(t *testing.T) {
	var events []GeoEvent
	for i := 0; i < MaxGeoEvents+5; i++ {
		events, _ = AppendGeoEvent(events, GeoEvent{Type: "e", At: int64(i)})
	}
	require.Len(t, events, MaxGeoEvents)
	assert.Equal(t, int64(5), events[0].At)
	assert.Equal(t, int64(MaxGeoEvents+4), events[len(events)-1].At)

	big := GeoEvent{Type: "e", Path: strings.Repeat("x", MaxGeoCookieSize)}
	events, encoded := AppendGeoEvent(events, big)
	assert.Empty(t, events)
	assert.Empty(t, encoded)
}

func TestDecodeGeoEvents_malformed(t *testing.T) {
	assert.Empty(t, DecodeGeoEvents("%%%"))
	assert.Empty(t, DecodeGeoEvents("bm90IGpzb24"))
}

func TestClip_keepsRunesWhole(t *testing.T) {
	city := strings.Repeat("Тошкент", 10)

	got := clip(city, 64)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 64, len(got))

	assert.Equal(t, "Т", clip("Тошкент", 3))
	assert.Equal(t, "", clip("Т", 1))
	assert.Equal(t, "abc", clip("abc", 8))
}
