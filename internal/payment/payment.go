// Package payment settles parking fees from prepaid cards.  Paying flips the
// open session to paid in the ledger, which is what later authorizes the exit
// gate to open.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"plategate/internal/ledger"
	"plategate/internal/metrics"
	"plategate/internal/plate"
)

var (
	// ErrInsufficientBalance: the card cannot cover the computed fee.
	ErrInsufficientBalance = errors.New("payment: insufficient card balance")

	// ErrCardAlreadyRegistered: RegisterCard was called with an existing id.
	ErrCardAlreadyRegistered = errors.New("payment: card id already registered")

	// ErrInvalidAmount: a non-positive amount was supplied.
	ErrInvalidAmount = errors.New("payment: amount must be positive")
)

type Config struct {
	// RatePerHourCents is the hourly parking rate.  Default 20000 (200.00).
	RatePerHourCents int64

	// MinimumChargeCents is billed for any stay under one hour.
	// Default 50000 (500.00).
	MinimumChargeCents int64

	// Now is the clock; tests inject a fake.  Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.RatePerHourCents <= 0 {
		c.RatePerHourCents = 20_000
	}
	if c.MinimumChargeCents <= 0 {
		c.MinimumChargeCents = 50_000
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Receipt is the result of a settled payment.
type Receipt struct {
	CardID       string
	Plate        plate.Code
	SessionID    int64
	FeeCents     int64
	BalanceCents int64 // remaining after the charge
	Parked       time.Duration
	PaidAt       time.Time
}

type Service struct {
	cfg     Config
	store   ledger.Store
	cards   ledger.CardStore
	metrics *metrics.Metrics
	logger  *log.Logger
}

func NewService(cfg Config, store ledger.Store, cards ledger.CardStore, m *metrics.Metrics, logger *log.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		store:   store,
		cards:   cards,
		metrics: m,
		logger:  logger,
	}
}

// Fee computes the charge for a stay: the minimum for anything under an hour,
// the hourly rate prorated to the millisecond above it.
func (s *Service) Fee(parked time.Duration) int64 {
	if parked < time.Hour {
		return s.cfg.MinimumChargeCents
	}
	return parked.Milliseconds() * s.cfg.RatePerHourCents / 3_600_000
}

// RegisterCard creates a new prepaid card bound to a plate.
func (s *Service) RegisterCard(ctx context.Context, cardID string, code plate.Code, initialCents int64) (ledger.Card, error) {
	if initialCents < 0 {
		return ledger.Card{}, ErrInvalidAmount
	}
	if _, err := s.cards.GetCard(ctx, cardID); err == nil {
		return ledger.Card{}, ErrCardAlreadyRegistered
	} else if !errors.Is(err, ledger.ErrCardNotFound) {
		return ledger.Card{}, fmt.Errorf("payment: check card %s: %w", cardID, err)
	}

	card := ledger.Card{
		ID:           cardID,
		Plate:        code,
		BalanceCents: initialCents,
		UpdatedAt:    s.cfg.Now().UTC(),
	}
	if err := s.cards.PutCard(ctx, card); err != nil {
		return ledger.Card{}, fmt.Errorf("payment: register card %s: %w", cardID, err)
	}
	s.logger.Printf("payment: registered card %s for %s", cardID, code)
	return card, nil
}

// TopUp adds funds to an existing card and returns it with the new balance.
func (s *Service) TopUp(ctx context.Context, cardID string, amountCents int64) (ledger.Card, error) {
	if amountCents <= 0 {
		return ledger.Card{}, ErrInvalidAmount
	}
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		return ledger.Card{}, err
	}
	card.BalanceCents += amountCents
	card.UpdatedAt = s.cfg.Now().UTC()
	if err := s.cards.PutCard(ctx, card); err != nil {
		return ledger.Card{}, fmt.Errorf("payment: top up card %s: %w", cardID, err)
	}
	return card, nil
}

// Card returns the current card state.
func (s *Service) Card(ctx context.Context, cardID string) (ledger.Card, error) {
	return s.cards.GetCard(ctx, cardID)
}

// ProcessPayment settles the open session for the card's plate: compute the
// fee from the in-time, deduct it from the card, mark the session paid.  The
// card debit happens first; if the paid flag then fails to stick, the debit
// is reversed.
func (s *Service) ProcessPayment(ctx context.Context, cardID string) (Receipt, error) {
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		s.metrics.Payment("card_not_found")
		return Receipt{}, err
	}

	sess, err := s.store.FindOpenSession(ctx, card.Plate)
	if err != nil {
		s.metrics.Payment("no_session")
		return Receipt{}, err
	}
	if sess.Paid {
		s.metrics.Payment("already_paid")
		return Receipt{}, ledger.ErrAlreadyPaid
	}

	now := s.cfg.Now().UTC()
	parked := now.Sub(sess.InTime)
	fee := s.Fee(parked)
	if card.BalanceCents < fee {
		s.metrics.Payment("insufficient_balance")
		return Receipt{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, card.BalanceCents, fee)
	}

	card.BalanceCents -= fee
	card.UpdatedAt = now
	if err := s.cards.PutCard(ctx, card); err != nil {
		s.metrics.Payment("error")
		return Receipt{}, fmt.Errorf("payment: debit card %s: %w", cardID, err)
	}

	if err := s.store.MarkPaid(ctx, card.Plate); err != nil {
		// Put the money back; the session is still unpaid.
		card.BalanceCents += fee
		if rerr := s.cards.PutCard(ctx, card); rerr != nil {
			s.logger.Printf("payment: refund card %s after failed settle: %v", cardID, rerr)
		}
		s.metrics.Payment("error")
		return Receipt{}, fmt.Errorf("payment: settle session for %s: %w", card.Plate, err)
	}

	s.metrics.Payment("ok")
	s.logger.Printf("payment: card %s paid %d for %s (parked %v)", cardID, fee, card.Plate, parked.Round(time.Second))
	return Receipt{
		CardID:       cardID,
		Plate:        card.Plate,
		SessionID:    sess.ID,
		FeeCents:     fee,
		BalanceCents: card.BalanceCents,
		Parked:       parked,
		PaidAt:       now,
	}, nil
}
