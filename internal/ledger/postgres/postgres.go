// Package postgres implements the ledger against PostgreSQL, the relational
// backend used by the original installations (vehicle_logs and
// unauthorized_exits tables).  Each logical operation is one transaction;
// per-plate read-modify-write takes a row lock so entry and exit stations
// cannot race on the same plate.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"plategate/internal/ledger"
	"plategate/internal/plate"
)

const schema = `
CREATE TABLE IF NOT EXISTS vehicle_logs (
  session_id BIGSERIAL PRIMARY KEY,
  plate      TEXT        NOT NULL,
  paid       BOOLEAN     NOT NULL DEFAULT FALSE,
  in_time    TIMESTAMPTZ NOT NULL,
  out_time   TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_vehicle_logs_open ON vehicle_logs(plate) WHERE out_time IS NULL;

CREATE TABLE IF NOT EXISTS unauthorized_exits (
  exit_id     BIGSERIAL PRIMARY KEY,
  plate       TEXT        NOT NULL,
  occurred_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cards (
  card_id       TEXT PRIMARY KEY,
  plate         TEXT        NOT NULL,
  balance_cents BIGINT      NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_events (
  event_id   BIGSERIAL PRIMARY KEY,
  cycle_id   TEXT        NOT NULL,
  station    TEXT        NOT NULL,
  plate      TEXT        NOT NULL,
  outcome    TEXT        NOT NULL,
  reason     TEXT        NOT NULL,
  decided_at TIMESTAMPTZ NOT NULL
);
`

type Store struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection and ensures the schema exists.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// inTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// lockOpenSession returns the most recent open session row for the plate with
// FOR UPDATE held, or ErrNoRows.
func lockOpenSession(ctx context.Context, tx pgx.Tx, code plate.Code) (id int64, paid bool, err error) {
	err = tx.QueryRow(ctx, `
SELECT session_id, paid FROM vehicle_logs
WHERE plate = $1 AND out_time IS NULL
ORDER BY session_id DESC
LIMIT 1
FOR UPDATE;
`, string(code)).Scan(&id, &paid)
	return id, paid, err
}

func (s *Store) HasUnpaidOpenSession(ctx context.Context, code plate.Code) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM vehicle_logs
  WHERE plate = $1 AND out_time IS NULL AND NOT paid
);
`, string(code)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: HasUnpaidOpenSession: %w", err)
	}
	return exists, nil
}

func (s *Store) OpenSession(ctx context.Context, code plate.Code, inTime time.Time) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, _, err := lockOpenSession(ctx, tx, code)
		if err == nil {
			return ledger.ErrDuplicateActiveSession
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: OpenSession check: %w", err)
		}

		err = tx.QueryRow(ctx, `
INSERT INTO vehicle_logs(plate, paid, in_time) VALUES ($1, FALSE, $2)
RETURNING session_id;
`, string(code), inTime.UTC()).Scan(&id)
		if err != nil {
			return fmt.Errorf("postgres: OpenSession insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) FindOpenSession(ctx context.Context, code plate.Code) (ledger.Session, error) {
	var (
		sess ledger.Session
		p    string
		out  *time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT session_id, plate, paid, in_time, out_time FROM vehicle_logs
WHERE plate = $1 AND out_time IS NULL
ORDER BY session_id DESC
LIMIT 1;
`, string(code)).Scan(&sess.ID, &p, &sess.Paid, &sess.InTime, &out)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Session{}, ledger.ErrNoActiveSession
	}
	if err != nil {
		return ledger.Session{}, fmt.Errorf("postgres: FindOpenSession: %w", err)
	}
	sess.Plate = plate.Code(p)
	sess.InTime = sess.InTime.UTC()
	sess.OutTime = out
	return sess, nil
}

func (s *Store) MarkPaid(ctx context.Context, code plate.Code) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		id, paid, err := lockOpenSession(ctx, tx, code)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrNoActiveSession
		}
		if err != nil {
			return fmt.Errorf("postgres: MarkPaid lookup: %w", err)
		}
		if paid {
			return ledger.ErrAlreadyPaid
		}
		if _, err := tx.Exec(ctx, `UPDATE vehicle_logs SET paid = TRUE WHERE session_id = $1;`, id); err != nil {
			return fmt.Errorf("postgres: MarkPaid update: %w", err)
		}
		return nil
	})
}

func (s *Store) CloseSession(ctx context.Context, code plate.Code, outTime time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		id, paid, err := lockOpenSession(ctx, tx, code)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrNoEligibleSession
		}
		if err != nil {
			return fmt.Errorf("postgres: CloseSession lookup: %w", err)
		}
		if !paid {
			return ledger.ErrNoEligibleSession
		}
		if _, err := tx.Exec(ctx, `
UPDATE vehicle_logs SET out_time = $1 WHERE session_id = $2;
`, outTime.UTC(), id); err != nil {
			return fmt.Errorf("postgres: CloseSession update: %w", err)
		}
		return nil
	})
}

func (s *Store) RecordUnauthorizedExit(ctx context.Context, code plate.Code, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO unauthorized_exits(plate, occurred_at) VALUES ($1, $2);
`, string(code), at.UTC()); err != nil {
		return fmt.Errorf("postgres: RecordUnauthorizedExit: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]ledger.Session, error) {
	rows, err := s.pool.Query(ctx, `
SELECT session_id, plate, paid, in_time, out_time FROM vehicle_logs
ORDER BY session_id DESC
LIMIT $1;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListSessions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Session
	for rows.Next() {
		var (
			sess ledger.Session
			p    string
			o    *time.Time
		)
		if err := rows.Scan(&sess.ID, &p, &sess.Paid, &sess.InTime, &o); err != nil {
			return nil, fmt.Errorf("postgres: ListSessions scan: %w", err)
		}
		sess.Plate = plate.Code(p)
		sess.InTime = sess.InTime.UTC()
		sess.OutTime = o
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) ListUnauthorizedExits(ctx context.Context, limit int) ([]ledger.UnauthorizedExit, error) {
	rows, err := s.pool.Query(ctx, `
SELECT plate, occurred_at FROM unauthorized_exits
ORDER BY exit_id DESC
LIMIT $1;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListUnauthorizedExits: %w", err)
	}
	defer rows.Close()

	var out []ledger.UnauthorizedExit
	for rows.Next() {
		var (
			p  string
			at time.Time
		)
		if err := rows.Scan(&p, &at); err != nil {
			return nil, fmt.Errorf("postgres: ListUnauthorizedExits scan: %w", err)
		}
		out = append(out, ledger.UnauthorizedExit{Plate: plate.Code(p), OccurredAt: at.UTC()})
	}
	return out, rows.Err()
}

func (s *Store) GetCard(ctx context.Context, cardID string) (ledger.Card, error) {
	var (
		c ledger.Card
		p string
	)
	c.ID = cardID
	err := s.pool.QueryRow(ctx, `
SELECT plate, balance_cents, updated_at FROM cards WHERE card_id = $1;
`, cardID).Scan(&p, &c.BalanceCents, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Card{}, ledger.ErrCardNotFound
	}
	if err != nil {
		return ledger.Card{}, fmt.Errorf("postgres: GetCard: %w", err)
	}
	c.Plate = plate.Code(p)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *Store) PutCard(ctx context.Context, c ledger.Card) error {
	updated := c.UpdatedAt.UTC()
	if c.UpdatedAt.IsZero() {
		updated = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO cards(card_id, plate, balance_cents, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (card_id) DO UPDATE SET
  plate = EXCLUDED.plate,
  balance_cents = EXCLUDED.balance_cents,
  updated_at = EXCLUDED.updated_at;
`, c.ID, string(c.Plate), c.BalanceCents, updated); err != nil {
		return fmt.Errorf("postgres: PutCard: %w", err)
	}
	return nil
}

func (s *Store) RecordDecision(ctx context.Context, rec ledger.DecisionRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO decision_events(cycle_id, station, plate, outcome, reason, decided_at)
VALUES ($1, $2, $3, $4, $5, $6);
`, rec.CycleID, rec.Station, string(rec.Plate), rec.Outcome, rec.Reason, rec.DecidedAt.UTC()); err != nil {
		return fmt.Errorf("postgres: RecordDecision: %w", err)
	}
	return nil
}
