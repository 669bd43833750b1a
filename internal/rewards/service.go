package rewards

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/services"
)

// ErrAlreadySpun is returned for a second spin on the same UTC day.
var ErrAlreadySpun = errors.New("already spun today")

// OrderSource lists a customer's orders.
type OrderSource interface {
	CustomerOrders(ctx context.Context, customerID string) ([]services.Order, error)
}

// Summary is the rewards screen payload.
type Summary struct {
	Balance    int64                `json:"balance"`
	CanSpin    bool                 `json:"canSpin"`
	LastSpinAt *time.Time           `json:"lastSpinAt,omitempty"`
	NextSpinAt *time.Time           `json:"nextSpinAt,omitempty"`
	History    []models.RewardEntry `json:"history"`
	Total      int64                `json:"total"`
}

// SpinResult is the outcome of one spin.
type SpinResult struct {
	Points  int64 `json:"points"`
	Balance int64 `json:"balance"`
}

// SyncResult reports what an order sync credited.
type SyncResult struct {
	OrdersSeen     int   `json:"ordersSeen"`
	OrdersCredited int   `json:"ordersCredited"`
	PointsCredited int64 `json:"pointsCredited"`
	Balance        int64 `json:"balance"`
}

// Service applies the points rules on top of a Ledger.
type Service struct {
	ledger Ledger
	wheel  Wheel
	now    func() time.Time
	rand   func() float64

	spinMu sync.Mutex
}

// NewService creates a rewards service with the default wheel.
func NewService(ledger Ledger) *Service {
	return &Service{
		ledger: ledger,
		wheel:  DefaultWheel,
		now:    time.Now,
		rand:   rand.Float64,
	}
}

// Summary returns balance, spin eligibility and a page of history.
func (s *Service) Summary(ctx context.Context, customerID string, limit, offset int) (*Summary, error) {
	balance, err := s.ledger.Balance(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	last, err := s.ledger.LastSpin(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("last spin: %w", err)
	}
	history, total, err := s.ledger.History(ctx, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	summary := &Summary{
		Balance:    balance,
		CanSpin:    CanSpin(last, s.now()),
		LastSpinAt: last,
		History:    history,
		Total:      total,
	}
	if !summary.CanSpin {
		next := NextSpinAt(*last)
		summary.NextSpinAt = &next
	}
	return summary, nil
}

// SpinFor spins the wheel for a customer and records the award.
func (s *Service) SpinFor(ctx context.Context, customerID string) (*SpinResult, error) {
	s.spinMu.Lock()
	defer s.spinMu.Unlock()

	now := s.now().UTC()
	last, err := s.ledger.LastSpin(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("last spin: %w", err)
	}
	if !CanSpin(last, now) {
		return nil, ErrAlreadySpun
	}

	points := s.wheel.Spin(s.rand())
	if err := s.ledger.Append(ctx, &models.RewardEntry{
		CustomerID: customerID,
		Points:     points,
		Reason:     models.RewardReasonSpin,
		SpinDay:    now.Format(time.DateOnly),
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return &SpinResult{Points: points, Balance: balance}, nil
}

// CreditOrder awards floor(amount) points for an order once. It returns the
// points credited, zero when the order was already on the ledger.
func (s *Service) CreditOrder(ctx context.Context, customerID, orderRef string, amount float64, note string) (int64, error) {
	if customerID == "" || orderRef == "" {
		return 0, errors.New("customer and order reference are required")
	}

	seen, err := s.ledger.HasOrder(ctx, customerID, orderRef)
	if err != nil {
		return 0, err
	}
	if seen {
		return 0, nil
	}

	points := PointsForAmount(amount)
	if points == 0 {
		return 0, nil
	}

	err = s.ledger.Append(ctx, &models.RewardEntry{
		CustomerID: customerID,
		Points:     points,
		Reason:     models.RewardReasonOrder,
		OrderRef:   orderRef,
		Note:       note,
		OccurredAt: s.now().UTC(),
	})
	if errors.Is(err, ErrDuplicateOrder) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return points, nil
}

// SyncOrders credits every uncancelled order not yet on the ledger.
func (s *Service) SyncOrders(ctx context.Context, source OrderSource, customerID string) (*SyncResult, error) {
	orders, err := source.CustomerOrders(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{OrdersSeen: len(orders)}
	for _, order := range orders {
		if order.CancelledAt != "" {
			continue
		}
		amount, err := strconv.ParseFloat(order.TotalPriceSet.ShopMoney.Amount, 64)
		if err != nil {
			log.Printf("[Rewards] Skipping order %s with unparsable total %q", order.ID, order.TotalPriceSet.ShopMoney.Amount)
			continue
		}
		points, err := s.CreditOrder(ctx, customerID, order.ID, amount, order.Name)
		if err != nil {
			return nil, fmt.Errorf("credit order %s: %w", order.ID, err)
		}
		if points > 0 {
			result.OrdersCredited++
			result.PointsCredited += points
		}
	}

	if result.Balance, err = s.ledger.Balance(ctx, customerID); err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return result, nil
}

// Totals exposes program-wide aggregates for the admin stats screen.
func (s *Service) Totals(ctx context.Context) (*Totals, error) {
	return s.ledger.Totals(ctx)
}
