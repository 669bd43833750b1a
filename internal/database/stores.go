package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/storefront/internal/models"
)

// WebhookLog records processed webhook deliveries.
type WebhookLog struct {
	db *gorm.DB
}

// NewWebhookLog creates a WebhookLog over db.
func NewWebhookLog(db *gorm.DB) *WebhookLog {
	return &WebhookLog{db: db}
}

// MarkProcessed records a delivery and reports whether it was seen for the first time.
func (w *WebhookLog) MarkProcessed(ctx context.Context, webhookID, topic, shop string) (bool, error) {
	row := models.ProcessedWebhook{WebhookID: webhookID, Topic: topic, Shop: shop}
	res := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "webhook_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("record webhook %s: %w", webhookID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Forget removes a delivery record so Shopify's retry is processed again.
func (w *WebhookLog) Forget(ctx context.Context, webhookID string) error {
	return w.db.WithContext(ctx).Where("webhook_id = ?", webhookID).Delete(&models.ProcessedWebhook{}).Error
}

// GeoEvents persists analytics events.
type GeoEvents struct {
	db *gorm.DB
}

// NewGeoEvents creates a GeoEvents store over db.
func NewGeoEvents(db *gorm.DB) *GeoEvents {
	return &GeoEvents{db: db}
}

// Save inserts one event.
func (g *GeoEvents) Save(ctx context.Context, event *models.GeoEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return g.db.WithContext(ctx).Create(event).Error
}

// CountryCount is one row of the events-by-country breakdown.
type CountryCount struct {
	Country string `json:"country"`
	Events  int64  `json:"events"`
}

// CountsByCountry returns event counts since the given time, busiest first.
func (g *GeoEvents) CountsByCountry(ctx context.Context, since time.Time, limit int) ([]CountryCount, error) {
	var rows []CountryCount
	err := g.db.WithContext(ctx).Model(&models.GeoEvent{}).
		Select("country, COUNT(*) AS events").
		Where("occurred_at >= ? AND country <> ''", since).
		Group("country").
		Order("events DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
