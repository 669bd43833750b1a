package models

import (
	"time"

	"github.com/lib/pq"
)

// GeoEvent is a client analytics event persisted alongside the cookie buffer.
type GeoEvent struct {
	BaseModel
	Type       string         `json:"type"`
	Path       string         `json:"path"`
	Country    string         `gorm:"index" json:"country"`
	Region     string         `json:"region"`
	City       string         `json:"city"`
	Languages  pq.StringArray `gorm:"type:text[]" json:"languages"`
	CustomerID string         `gorm:"index" json:"customer_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
