// Package memory provides an in-memory ledger for tests and dev environments.
package memory

import (
	"context"
	"sync"
	"time"

	"plategate/internal/ledger"
	"plategate/internal/plate"
)

// Store implements ledger.Store, ledger.CardStore and ledger.DecisionLog with
// a single mutex, which gives every operation the required atomicity.
type Store struct {
	mu           sync.Mutex
	sessions     []ledger.Session
	unauthorized []ledger.UnauthorizedExit
	cards        map[string]ledger.Card
	decisions    []ledger.DecisionRecord
}

func New() *Store {
	return &Store{cards: make(map[string]ledger.Card)}
}

// openIndex returns the index of the most recent open session for code, or -1.
// Callers must hold s.mu.
func (s *Store) openIndex(code plate.Code) int {
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if s.sessions[i].Plate == code && s.sessions[i].Open() {
			return i
		}
	}
	return -1
}

func (s *Store) HasUnpaidOpenSession(_ context.Context, code plate.Code) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.openIndex(code)
	return i >= 0 && !s.sessions[i].Paid, nil
}

func (s *Store) OpenSession(_ context.Context, code plate.Code, inTime time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openIndex(code) >= 0 {
		return 0, ledger.ErrDuplicateActiveSession
	}
	id := int64(len(s.sessions) + 1)
	s.sessions = append(s.sessions, ledger.Session{
		ID:     id,
		Plate:  code,
		InTime: inTime.UTC(),
	})
	return id, nil
}

func (s *Store) FindOpenSession(_ context.Context, code plate.Code) (ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.openIndex(code)
	if i < 0 {
		return ledger.Session{}, ledger.ErrNoActiveSession
	}
	return s.sessions[i], nil
}

func (s *Store) MarkPaid(_ context.Context, code plate.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.openIndex(code)
	if i < 0 {
		return ledger.ErrNoActiveSession
	}
	if s.sessions[i].Paid {
		return ledger.ErrAlreadyPaid
	}
	s.sessions[i].Paid = true
	return nil
}

func (s *Store) CloseSession(_ context.Context, code plate.Code, outTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.openIndex(code)
	if i < 0 || !s.sessions[i].Paid {
		return ledger.ErrNoEligibleSession
	}
	t := outTime.UTC()
	s.sessions[i].OutTime = &t
	return nil
}

func (s *Store) RecordUnauthorizedExit(_ context.Context, code plate.Code, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unauthorized = append(s.unauthorized, ledger.UnauthorizedExit{
		Plate:      code,
		OccurredAt: at.UTC(),
	})
	return nil
}

func (s *Store) ListSessions(_ context.Context, limit int) ([]ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Session, 0, limit)
	for i := len(s.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.sessions[i])
	}
	return out, nil
}

func (s *Store) ListUnauthorizedExits(_ context.Context, limit int) ([]ledger.UnauthorizedExit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.UnauthorizedExit, 0, limit)
	for i := len(s.unauthorized) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.unauthorized[i])
	}
	return out, nil
}

func (s *Store) GetCard(_ context.Context, cardID string) (ledger.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ledger.Card{}, ledger.ErrCardNotFound
	}
	return c, nil
}

func (s *Store) PutCard(_ context.Context, c ledger.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
	return nil
}

func (s *Store) RecordDecision(_ context.Context, rec ledger.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
	return nil
}

// Sessions returns a copy of all session rows.  Test-only helper.
func (s *Store) Sessions() []ledger.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Decisions returns a copy of all recorded decisions.  Test-only helper.
func (s *Store) Decisions() []ledger.DecisionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.DecisionRecord, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// UnauthorizedExits returns a copy of all records.  Test-only helper.
func (s *Store) UnauthorizedExits() []ledger.UnauthorizedExit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.UnauthorizedExit, len(s.unauthorized))
	copy(out, s.unauthorized)
	return out
}
