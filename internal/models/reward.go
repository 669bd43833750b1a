package models

import "time"

// Reward reasons recorded on ledger entries.
const (
	RewardReasonOrder      = "order"
	RewardReasonSpin       = "spin"
	RewardReasonAdjustment = "adjustment"
)

// RewardEntry is one append-only line of a customer's points ledger.
type RewardEntry struct {
	BaseModel
	CustomerID string    `gorm:"index;uniqueIndex:idx_reward_customer_order,where:order_ref <> '';uniqueIndex:idx_reward_customer_spin,where:spin_day <> ''" json:"customer_id"`
	Points     int64     `json:"points"`
	Reason     string    `gorm:"index" json:"reason"`
	OrderRef   string    `gorm:"uniqueIndex:idx_reward_customer_order,where:order_ref <> ''" json:"order_ref,omitempty"`
	// SpinDay is the UTC date of a spin entry; one spin per customer per day.
	SpinDay    string    `gorm:"uniqueIndex:idx_reward_customer_spin,where:spin_day <> ''" json:"-"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
}
