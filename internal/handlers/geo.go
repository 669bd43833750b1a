package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/session"
)

// Limits of the geo analytics cookie.
const (
	MaxGeoEvents     = 100
	MaxGeoCookieSize = 4096
)

// GeoEvent is one client analytics event as kept in the cookie.
type GeoEvent struct {
	Type      string   `json:"t"`
	Path      string   `json:"p,omitempty"`
	Country   string   `json:"c,omitempty"`
	Region    string   `json:"r,omitempty"`
	City      string   `json:"ci,omitempty"`
	Languages []string `json:"l,omitempty"`
	At        int64    `json:"at"`
}

// GeoStore persists events and aggregates them.
type GeoStore interface {
	Save(ctx context.Context, event *models.GeoEvent) error
	CountsByCountry(ctx context.Context, since time.Time, limit int) ([]database.CountryCount, error)
}

// GeoHandler records client analytics into the cookie ring buffer and the database.
type GeoHandler struct {
	store   GeoStore
	cookies *session.Manager
	now     func() time.Time
}

// NewGeoHandler constructs a GeoHandler. store may be nil.
func NewGeoHandler(store GeoStore, cookies *session.Manager) *GeoHandler {
	return &GeoHandler{store: store, cookies: cookies, now: time.Now}
}

// DecodeGeoEvents parses the cookie value. Malformed input yields an empty buffer.
func DecodeGeoEvents(raw string) []GeoEvent {
	if raw == "" {
		return []GeoEvent{}
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return []GeoEvent{}
	}
	var events []GeoEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return []GeoEvent{}
	}
	return events
}

// EncodeGeoEvents serializes events for the cookie.
func EncodeGeoEvents(events []GeoEvent) string {
	data, err := json.Marshal(events)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// AppendGeoEvent adds ev to the buffer, dropping the oldest events until the
// buffer holds at most MaxGeoEvents and encodes to at most MaxGeoCookieSize bytes.
func AppendGeoEvent(events []GeoEvent, ev GeoEvent) ([]GeoEvent, string) {
	buf := make([]GeoEvent, 0, len(events)+1)
	buf = append(buf, events...)
	buf = append(buf, ev)
	if len(buf) > MaxGeoEvents {
		buf = buf[len(buf)-MaxGeoEvents:]
	}

	encoded := EncodeGeoEvents(buf)
	for len(encoded) > MaxGeoCookieSize && len(buf) > 0 {
		buf = buf[1:]
		encoded = EncodeGeoEvents(buf)
	}
	if len(buf) == 0 {
		return buf, ""
	}
	return buf, encoded
}

type geoEventRequest struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// Record appends one event to the cookie buffer and persists it.
func (h *GeoHandler) Record(c *fiber.Ctx) error {
	var req geoEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		return fiber.NewError(fiber.StatusBadRequest, "type is required")
	}

	now := h.now().UTC()
	ev := GeoEvent{
		Type:      clip(req.Type, 32),
		Path:      clip(req.Path, 256),
		Country:   clip(firstNonEmpty(req.Country, c.Get("CF-IPCountry"), c.Get("X-Vercel-IP-Country")), 8),
		Region:    clip(firstNonEmpty(req.Region, c.Get("X-Vercel-IP-Country-Region")), 64),
		City:      clip(firstNonEmpty(req.City, c.Get("X-Vercel-IP-City")), 64),
		Languages: parseAcceptLanguage(c.Get(fiber.HeaderAcceptLanguage), 3),
		At:        now.Unix(),
	}

	events, encoded := AppendGeoEvent(DecodeGeoEvents(h.cookies.GeoEvents(c)), ev)
	h.cookies.SetGeoEvents(c, encoded)

	if h.store != nil {
		row := &models.GeoEvent{
			Type:       ev.Type,
			Path:       ev.Path,
			Country:    ev.Country,
			Region:     ev.Region,
			City:       ev.City,
			Languages:  ev.Languages,
			OccurredAt: now,
		}
		if cust, found := h.cookies.Customer(c); found {
			row.CustomerID = cust.ID
		}
		if err := h.store.Save(c.UserContext(), row); err != nil {
			log.Printf("[Geo] Failed to persist event: %v", err)
		}
	}

	return ok(c, fiber.Map{"count": len(events)})
}

// List returns the events held in the cookie.
func (h *GeoHandler) List(c *fiber.Ctx) error {
	return ok(c, DecodeGeoEvents(h.cookies.GeoEvents(c)))
}

// Countries returns persisted event counts per country for the last N days.
func (h *GeoHandler) Countries(c *fiber.Ctx) error {
	if h.store == nil {
		return ok(c, []database.CountryCount{})
	}
	days := c.QueryInt("days", 30)
	if days <= 0 {
		days = 30
	}
	rows, err := h.store.CountsByCountry(c.UserContext(), h.now().AddDate(0, 0, -days), 50)
	if err != nil {
		return err
	}
	return ok(c, rows)
}

func parseAcceptLanguage(header string, limit int) []string {
	var langs []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" || tag == "*" {
			continue
		}
		langs = append(langs, clip(tag, 16))
		if len(langs) == limit {
			break
		}
	}
	return langs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
