package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/mail"
	"strings"
	"time"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 10 * time.Minute

var (
	// ErrNotFound covers missing, expired and mismatched codes alike.
	ErrNotFound = errors.New("code not found or expired")
	// ErrInvalidIntent is returned for intents other than login and signup.
	ErrInvalidIntent = errors.New("intent must be login or signup")
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("invalid email address")
)

// Intent says what a verified code is allowed to do.
type Intent string

const (
	IntentLogin  Intent = "login"
	IntentSignup Intent = "signup"
)

// Valid reports whether the intent is known.
func (i Intent) Valid() bool {
	return i == IntentLogin || i == IntentSignup
}

// Pending carries signup details until the code is verified.
type Pending struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Record is one outstanding code.
type Record struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Intent    Intent    `json:"intent"`
	Pending   *Pending  `json:"pending,omitempty"`
}

// Store persists outstanding codes keyed by normalized email.
type Store interface {
	// Put replaces any record for the same email.
	Put(ctx context.Context, rec Record) error
	// Take returns and deletes the record; (nil, nil) when absent.
	Take(ctx context.Context, email string) (*Record, error)
	// Sweep deletes records that expired before now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Service issues and verifies email codes.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	code  func() (string, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an OTP service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		code:  randomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the code lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// NormalizeEmail lowercases and trims an address and checks that it parses.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Issue creates a new code for email, replacing any previous one.
func (s *Service) Issue(ctx context.Context, email string, intent Intent, pending *Pending) (*Record, error) {
	if !intent.Valid() {
		return nil, ErrInvalidIntent
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	code, err := s.code()
	if err != nil {
		return nil, err
	}

	rec := Record{
		Email:     email,
		Code:      code,
		ExpiresAt: s.now().Add(s.ttl),
		Intent:    intent,
		Pending:   pending,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}
	return &rec, nil
}

// Verify consumes the code for email. The record is deleted whatever the outcome.
func (s *Service) Verify(ctx context.Context, email, code string) (*Record, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrNotFound
	}

	rec, err := s.store.Take(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	if rec == nil || !s.now().Before(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(strings.TrimSpace(code))) != 1 {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Sweep removes expired records.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, s.now())
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Sweep(ctx)
				if err != nil {
					log.Printf("[OTP] Sweep failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[OTP] Swept %d expired codes", n)
				}
			}
		}
	}()
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
