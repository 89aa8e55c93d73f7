// Package ledger defines the durable audit trail of vehicle sessions and the
// store contracts its backends implement.  The ledger exclusively owns
// session, unauthorized-exit and card storage; the access controller and the
// payment service mutate it only through these operations, each of which is
// atomic with respect to concurrent callers on the same plate.
package ledger

import (
	"context"
	"errors"
	"time"

	"plategate/internal/plate"
)

var (
	// ErrDuplicateActiveSession: a new entry was attempted while another
	// session for the same plate is still open.
	ErrDuplicateActiveSession = errors.New("ledger: open session already exists for plate")

	// ErrNoActiveSession: no open session exists for the plate.
	ErrNoActiveSession = errors.New("ledger: no open session for plate")

	// ErrAlreadyPaid: the open session has already transitioned to paid.
	ErrAlreadyPaid = errors.New("ledger: open session already paid")

	// ErrNoEligibleSession: exit was attempted with no open, paid session.
	// This is the trigger for unauthorized-exit logging.
	ErrNoEligibleSession = errors.New("ledger: no open paid session for plate")

	// ErrCardNotFound: the card id has never been registered.
	ErrCardNotFound = errors.New("ledger: card not registered")
)

// Session is one vehicle visit.  Rows are append-only: paid moves from false
// to true exactly once and OutTime is set exactly once; nothing is deleted.
type Session struct {
	ID      int64
	Plate   plate.Code
	Paid    bool
	InTime  time.Time
	OutTime *time.Time // nil while the session is open
}

// Open reports whether the vehicle is still inside.
func (s Session) Open() bool { return s.OutTime == nil }

// UnauthorizedExit is an immutable record of an exit attempt with no open,
// paid session.
type UnauthorizedExit struct {
	Plate      plate.Code
	OccurredAt time.Time
}

// Card is a prepaid billing card bound to a plate.
type Card struct {
	ID           string
	Plate        plate.Code
	BalanceCents int64
	UpdatedAt    time.Time
}

// DecisionRecord captures one access decision for the audit log.
type DecisionRecord struct {
	CycleID   string
	Station   string
	Plate     plate.Code
	Outcome   string
	Reason    string
	DecidedAt time.Time
}

// Store is the session ledger.  Implementations must make each operation a
// single atomic unit (one transaction against a relational backend, one
// critical section against in-memory or file backends) and must serialize
// writes touching the same plate.
type Store interface {
	// HasUnpaidOpenSession reports whether an open session with unpaid
	// status exists for the plate.
	HasUnpaidOpenSession(ctx context.Context, code plate.Code) (bool, error)

	// OpenSession creates a new unpaid open session.  Returns
	// ErrDuplicateActiveSession if any open session exists for the plate.
	OpenSession(ctx context.Context, code plate.Code, inTime time.Time) (int64, error)

	// FindOpenSession returns the most recent open session for the plate,
	// or ErrNoActiveSession.
	FindOpenSession(ctx context.Context, code plate.Code) (Session, error)

	// MarkPaid transitions the most recent open session from unpaid to
	// paid.  Returns ErrNoActiveSession if none is open, ErrAlreadyPaid if
	// it already settled.
	MarkPaid(ctx context.Context, code plate.Code) error

	// CloseSession sets the out-time on the most recent open, paid session.
	// Returns ErrNoEligibleSession if no open paid session exists.
	CloseSession(ctx context.Context, code plate.Code, outTime time.Time) error

	// RecordUnauthorizedExit appends an immutable record.
	RecordUnauthorizedExit(ctx context.Context, code plate.Code, at time.Time) error

	// ListSessions returns up to limit sessions, most recent first.
	ListSessions(ctx context.Context, limit int) ([]Session, error)

	// ListUnauthorizedExits returns up to limit records, most recent first.
	ListUnauthorizedExits(ctx context.Context, limit int) ([]UnauthorizedExit, error)
}

// CardStore holds prepaid card balances for the payment service.
type CardStore interface {
	GetCard(ctx context.Context, cardID string) (Card, error)
	PutCard(ctx context.Context, c Card) error
}

// DecisionLog persists access decisions as an append-only audit log.
type DecisionLog interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}
