package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/rewards"
	"github.com/example/storefront/internal/services"
)

// unknownVariant is a merchandise ID the fake storefront rejects.
const unknownVariant = "gid://shopify/ProductVariant/404"

type fakeStorefront struct {
	mu      sync.Mutex
	carts     map[string]*services.Cart
	created   int
	added     int
	lastFirst int
}

func newFakeStorefront() *fakeStorefront {
	return &fakeStorefront{carts: map[string]*services.Cart{}}
}

func (f *fakeStorefront) ListProducts(context.Context, int, string) (*services.Connection[services.Product], error) {
	return &services.Connection[services.Product]{Nodes: []services.Product{{Handle: "tee"}}}, nil
}

func (f *fakeStorefront) GetProduct(_ context.Context, handle string) (*services.Product, error) {
	if handle != "tee" {
		return nil, fmt.Errorf("product %q: %w", handle, services.ErrNotFound)
	}
	return &services.Product{Handle: "tee"}, nil
}

func (f *fakeStorefront) ListCollections(_ context.Context, first int, _ string) (*services.Connection[services.Collection], error) {
	f.mu.Lock()
	f.lastFirst = first
	f.mu.Unlock()
	return &services.Connection[services.Collection]{Nodes: []services.Collection{{Handle: "summer", Title: "Summer"}}}, nil
}

func (f *fakeStorefront) GetCollection(_ context.Context, handle string, first int, _ string) (*services.Collection, error) {
	if handle != "summer" {
		return nil, fmt.Errorf("collection %q: %w", handle, services.ErrNotFound)
	}
	f.mu.Lock()
	f.lastFirst = first
	f.mu.Unlock()
	return &services.Collection{
		Handle:   "summer",
		Title:    "Summer",
		Products: &services.Connection[services.Product]{Nodes: []services.Product{{Handle: "tee"}}},
	}, nil
}

func (f *fakeStorefront) SearchProducts(context.Context, string, int) ([]services.Product, error) {
	return []services.Product{{Handle: "tee"}}, nil
}

func (f *fakeStorefront) CreateCart(context.Context) (*services.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	id := fmt.Sprintf("gid://shopify/Cart/%d", f.created)
	cart := &services.Cart{ID: id, CheckoutURL: "https://shop.example.com/checkouts/" + id}
	f.carts[id] = cart
	return cart, nil
}

func (f *fakeStorefront) cart(id string) (*services.Cart, error) {
	cart, found := f.carts[id]
	if !found {
		return nil, services.ErrCartNotFound
	}
	return cart, nil
}

func (f *fakeStorefront) GetCart(_ context.Context, id string) (*services.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cart(id)
}

func (f *fakeStorefront) AddCartLines(_ context.Context, id string, lines []services.CartLineInput) (*services.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, err := f.cart(id)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if l.MerchandiseID == unknownVariant {
			// Shopify answers an unknown variant with a null cart and a line error.
			return nil, &services.UserError{Field: []string{"lines", "0", "merchandiseId"}, Message: "The merchandise does not exist.", Code: "INVALID"}
		}
	}
	f.added++
	for _, l := range lines {
		line := services.CartLine{ID: fmt.Sprintf("line-%d", len(cart.Lines.Nodes)+1), Quantity: l.Quantity}
		line.Merchandise.ID = l.MerchandiseID
		cart.Lines.Nodes = append(cart.Lines.Nodes, line)
		cart.TotalQuantity += l.Quantity
	}
	return cart, nil
}

func (f *fakeStorefront) UpdateCartLines(_ context.Context, id string, updates []services.CartLineUpdate) (*services.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, err := f.cart(id)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		i := lineIndex(cart, u.ID)
		if i < 0 {
			return nil, &services.UserError{Field: []string{"lines", "0", "id"}, Message: "The line does not exist.", Code: "INVALID"}
		}
		cart.TotalQuantity += u.Quantity - cart.Lines.Nodes[i].Quantity
		if u.Quantity == 0 {
			cart.Lines.Nodes = append(cart.Lines.Nodes[:i], cart.Lines.Nodes[i+1:]...)
			continue
		}
		cart.Lines.Nodes[i].Quantity = u.Quantity
	}
	return cart, nil
}

func (f *fakeStorefront) RemoveCartLines(_ context.Context, id string, lineIDs []string) (*services.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, err := f.cart(id)
	if err != nil {
		return nil, err
	}
	for _, lineID := range lineIDs {
		i := lineIndex(cart, lineID)
		if i < 0 {
			return nil, &services.UserError{Field: []string{"lineIds", "0"}, Message: "The line does not exist.", Code: "INVALID"}
		}
		cart.TotalQuantity -= cart.Lines.Nodes[i].Quantity
		cart.Lines.Nodes = append(cart.Lines.Nodes[:i], cart.Lines.Nodes[i+1:]...)
	}
	return cart, nil
}

func lineIndex(cart *services.Cart, lineID string) int {
	for i, l := range cart.Lines.Nodes {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (f *fakeStorefront) UpdateDiscountCodes(_ context.Context, id string, codes []string) (*services.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, err := f.cart(id)
	if err != nil {
		return nil, err
	}
	cart.DiscountCodes = nil
	for _, c := range codes {
		cart.DiscountCodes = append(cart.DiscountCodes, services.DiscountCode{Code: c, Applicable: true})
	}
	return cart, nil
}

type fakeAdmin struct {
	mu        sync.Mutex
	customers map[string]*services.Customer
	prices    []services.PriceUpdate
	orders    []services.Order
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{customers: map[string]*services.Customer{}}
}

func (f *fakeAdmin) ListProducts(context.Context) ([]services.AdminProduct, error) {
	return []services.AdminProduct{}, nil
}

func (f *fakeAdmin) ListInventory(context.Context) ([]services.InventoryRecord, error) {
	return []services.InventoryRecord{}, nil
}

func (f *fakeAdmin) ListPricing(context.Context) ([]services.PricingRecord, error) {
	return []services.PricingRecord{}, nil
}

func (f *fakeAdmin) ListSEO(context.Context) ([]services.SEORecord, error) {
	return []services.SEORecord{}, nil
}

func (f *fakeAdmin) UpdateVariantPrice(_ context.Context, u services.PriceUpdate) error {
	if u.Price == "-1" {
		return &services.UserError{Field: []string{"price"}, Message: "must be positive"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = append(f.prices, u)
	return nil
}

func (f *fakeAdmin) SetInventoryQuantity(context.Context, services.InventoryUpdate) error { return nil }

func (f *fakeAdmin) UpdateProductSEO(context.Context, services.SEOUpdate) error { return nil }

func (f *fakeAdmin) UpdateProductStatus(context.Context, string, string) error { return nil }

func (f *fakeAdmin) FindCustomerByEmail(_ context.Context, email string) (*services.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cust, found := f.customers[email]
	if !found {
		return nil, fmt.Errorf("customer %s: %w", email, services.ErrNotFound)
	}
	return cust, nil
}

func (f *fakeAdmin) CreateCustomer(_ context.Context, email, first, last string) (*services.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cust := &services.Customer{
		ID:        fmt.Sprintf("gid://shopify/Customer/%d", len(f.customers)+1),
		Email:     email,
		FirstName: first,
		LastName:  last,
	}
	f.customers[email] = cust
	return cust, nil
}

func (f *fakeAdmin) CustomerOrders(context.Context, string) ([]services.Order, error) {
	return f.orders, nil
}

func (f *fakeAdmin) Counts(context.Context) (*services.StoreCounts, error) {
	return &services.StoreCounts{Products: 3, Orders: 2, Customers: 1}, nil
}

type fakeAccount struct {
	exchangeErr error
	nonce       string
}

func (f *fakeAccount) AuthCodeURL(state, challenge, nonce string) string {
	return "https://shopify.com/authentication/1/oauth/authorize?state=" + state + "&code_challenge=" + challenge + "&nonce=" + nonce
}

func (f *fakeAccount) Exchange(context.Context, string, string) (*services.AccountTokens, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &services.AccountTokens{AccessToken: "shcat_1", IDToken: "id-token"}, nil
}

func (f *fakeAccount) VerifyIDToken(_ context.Context, _ string, nonce string) (*services.AccountIdentity, error) {
	if nonce != f.nonce {
		return nil, services.ErrNonceMismatch
	}
	return &services.AccountIdentity{Subject: "1", Email: "jane@example.com"}, nil
}

func (f *fakeAccount) FetchCustomer(context.Context, string) (*services.AccountProfile, error) {
	return &services.AccountProfile{ID: "gid://shopify/Customer/1", FirstName: "Jane"}, nil
}

func (f *fakeAccount) LogoutURL(idToken, redirect string) string {
	return "https://shopify.com/authentication/1/logout?id_token_hint=" + idToken
}

type recordingMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *recordingMailer) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[to] = code
	return nil
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDeduper) MarkProcessed(_ context.Context, id, _, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

type memLedger struct {
	mu      sync.Mutex
	entries []models.RewardEntry
}

func (m *memLedger) Append(_ context.Context, e *models.RewardEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.entries {
		if e.OrderRef != "" && x.CustomerID == e.CustomerID && x.OrderRef == e.OrderRef {
			return rewards.ErrDuplicateOrder
		}
		if e.SpinDay != "" && x.CustomerID == e.CustomerID && x.SpinDay == e.SpinDay {
			return rewards.ErrAlreadySpun
		}
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memLedger) Balance(_ context.Context, customerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.CustomerID == customerID {
			sum += e.Points
		}
	}
	return sum, nil
}

func (m *memLedger) History(_ context.Context, customerID string, limit, offset int) ([]models.RewardEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.RewardEntry{}
	for _, e := range m.entries {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	total := int64(len(out))
	if offset >= len(out) {
		return []models.RewardEntry{}, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memLedger) LastSpin(_ context.Context, customerID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, e := range m.entries {
		if e.CustomerID == customerID && e.Reason == models.RewardReasonSpin {
			at := e.OccurredAt
			if last == nil || at.After(*last) {
				last = &at
			}
		}
	}
	return last, nil
}

func (m *memLedger) HasOrder(_ context.Context, customerID, orderRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.CustomerID == customerID && e.OrderRef == orderRef {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) Totals(context.Context) (*rewards.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &rewards.Totals{PointsIssued: int64(len(m.entries))}, nil
}

var errBoom = errors.New("boom")
