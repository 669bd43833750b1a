package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// ErrDuplicateOrder is returned when an order was already credited to a customer.
var ErrDuplicateOrder = errors.New("order already credited")

// Totals are program-wide ledger aggregates.
type Totals struct {
	Customers      int64 `json:"customers"`
	PointsIssued   int64 `json:"pointsIssued"`
	OrdersCredited int64 `json:"ordersCredited"`
	Spins          int64 `json:"spins"`
}

// Ledger is the append-only points ledger.
type Ledger interface {
	Append(ctx context.Context, entry *models.RewardEntry) error
	Balance(ctx context.Context, customerID string) (int64, error)
	History(ctx context.Context, customerID string, limit, offset int) ([]models.RewardEntry, int64, error)
	LastSpin(ctx context.Context, customerID string) (*time.Time, error)
	HasOrder(ctx context.Context, customerID, orderRef string) (bool, error)
	Totals(ctx context.Context) (*Totals, error)
}

// GormLedger stores entries in the reward_entries table.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a ledger over db.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) Append(ctx context.Context, entry *models.RewardEntry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			switch {
			case entry.OrderRef != "":
				return ErrDuplicateOrder
			case entry.SpinDay != "":
				return ErrAlreadySpun
			}
		}
		return fmt.Errorf("append reward entry: %w", err)
	}
	return nil
}

func (l *GormLedger) Balance(ctx context.Context, customerID string) (int64, error) {
	var balance int64
	err := l.db.WithContext(ctx).Model(&models.RewardEntry{}).
		Where("customer_id = ?", customerID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&balance).Error
	return balance, err
}

func (l *GormLedger) History(ctx context.Context, customerID string, limit, offset int) ([]models.RewardEntry, int64, error) {
	query := l.db.WithContext(ctx).Model(&models.RewardEntry{}).Where("customer_id = ?", customerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.RewardEntry
	if err := query.Order("occurred_at DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (l *GormLedger) LastSpin(ctx context.Context, customerID string) (*time.Time, error) {
	var entry models.RewardEntry
	err := l.db.WithContext(ctx).
		Where("customer_id = ? AND reason = ?", customerID, models.RewardReasonSpin).
		Order("occurred_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at := entry.OccurredAt
	return &at, nil
}

func (l *GormLedger) HasOrder(ctx context.Context, customerID, orderRef string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.RewardEntry{}).
		Where("customer_id = ? AND order_ref = ?", customerID, orderRef).
		Count(&count).Error
	return count > 0, err
}

func (l *GormLedger) Totals(ctx context.Context) (*Totals, error) {
	var t Totals
	err := l.db.WithContext(ctx).Model(&models.RewardEntry{}).
		Select(`COUNT(DISTINCT customer_id) AS customers,
			COALESCE(SUM(CASE WHEN points > 0 THEN points ELSE 0 END), 0) AS points_issued,
			COUNT(*) FILTER (WHERE reason = ?) AS orders_credited,
			COUNT(*) FILTER (WHERE reason = ?) AS spins`, models.RewardReasonOrder, models.RewardReasonSpin).
		Scan(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
