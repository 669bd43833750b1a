package models

// ProcessedWebhook records a delivered Shopify webhook so retries are ignored.
type ProcessedWebhook struct {
	BaseModel
	WebhookID string `gorm:"uniqueIndex" json:"webhook_id"`
	Topic     string `json:"topic"`
	Shop      string `json:"shop"`
}
