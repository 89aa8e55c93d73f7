// Package sqlite is the default durable ledger backend.  All writes funnel
// through the single-goroutine transaction worker so each logical operation
// is one serialized transaction; reads go straight to the pool and observe a
// consistent snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "plategate/internal/db"
	"plategate/internal/ledger"
	"plategate/internal/plate"
)

type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

func (s *Store) HasUnpaidOpenSession(ctx context.Context, code plate.Code) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM vehicle_sessions
WHERE plate = ? AND out_time_ms IS NULL AND paid = 0
LIMIT 1;
`, string(code)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("HasUnpaidOpenSession query: %w", err)
	}
	return true, nil
}

func (s *Store) OpenSession(ctx context.Context, code plate.Code, inTime time.Time) (int64, error) {
	nowMs := time.Now().UTC().UnixMilli()
	inMs := inTime.UTC().UnixMilli()

	var id int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `
SELECT session_id FROM vehicle_sessions
WHERE plate = ? AND out_time_ms IS NULL
LIMIT 1;
`, string(code)).Scan(&existing)
		if err == nil {
			return ledger.ErrDuplicateActiveSession
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("OpenSession check open: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO vehicle_sessions(plate, paid, in_time_ms, created_at_ms)
VALUES (?, 0, ?, ?);
`, string(code), inMs, nowMs)
		if err != nil {
			return fmt.Errorf("OpenSession insert: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("OpenSession id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) FindOpenSession(ctx context.Context, code plate.Code) (ledger.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, plate, paid, in_time_ms, out_time_ms
FROM vehicle_sessions
WHERE plate = ? AND out_time_ms IS NULL
ORDER BY session_id DESC
LIMIT 1;
`, string(code))

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return ledger.Session{}, ledger.ErrNoActiveSession
	}
	if err != nil {
		return ledger.Session{}, fmt.Errorf("FindOpenSession: %w", err)
	}
	return sess, nil
}

func (s *Store) MarkPaid(ctx context.Context, code plate.Code) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var id int64
		var paid int
		err := tx.QueryRowContext(ctx, `
SELECT session_id, paid FROM vehicle_sessions
WHERE plate = ? AND out_time_ms IS NULL
ORDER BY session_id DESC
LIMIT 1;
`, string(code)).Scan(&id, &paid)
		if err == sql.ErrNoRows {
			return ledger.ErrNoActiveSession
		}
		if err != nil {
			return fmt.Errorf("MarkPaid lookup: %w", err)
		}
		if paid == 1 {
			return ledger.ErrAlreadyPaid
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE vehicle_sessions SET paid = 1 WHERE session_id = ?;
`, id); err != nil {
			return fmt.Errorf("MarkPaid update: %w", err)
		}
		return nil
	})
}

func (s *Store) CloseSession(ctx context.Context, code plate.Code, outTime time.Time) error {
	outMs := outTime.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
SELECT session_id FROM vehicle_sessions
WHERE plate = ? AND out_time_ms IS NULL AND paid = 1
ORDER BY session_id DESC
LIMIT 1;
`, string(code)).Scan(&id)
		if err == sql.ErrNoRows {
			return ledger.ErrNoEligibleSession
		}
		if err != nil {
			return fmt.Errorf("CloseSession lookup: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE vehicle_sessions SET out_time_ms = ? WHERE session_id = ?;
`, outMs, id); err != nil {
			return fmt.Errorf("CloseSession update: %w", err)
		}
		return nil
	})
}

func (s *Store) RecordUnauthorizedExit(ctx context.Context, code plate.Code, at time.Time) error {
	atMs := at.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO unauthorized_exits(plate, occurred_at_ms) VALUES (?, ?);
`, string(code), atMs); err != nil {
			return fmt.Errorf("RecordUnauthorizedExit insert: %w", err)
		}
		return nil
	})
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]ledger.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, plate, paid, in_time_ms, out_time_ms
FROM vehicle_sessions
ORDER BY session_id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListSessions query: %w", err)
	}
	defer rows.Close()

	var out []ledger.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("ListSessions scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) ListUnauthorizedExits(ctx context.Context, limit int) ([]ledger.UnauthorizedExit, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT plate, occurred_at_ms
FROM unauthorized_exits
ORDER BY exit_id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListUnauthorizedExits query: %w", err)
	}
	defer rows.Close()

	var out []ledger.UnauthorizedExit
	for rows.Next() {
		var p string
		var atMs int64
		if err := rows.Scan(&p, &atMs); err != nil {
			return nil, fmt.Errorf("ListUnauthorizedExits scan: %w", err)
		}
		out = append(out, ledger.UnauthorizedExit{
			Plate:      plate.Code(p),
			OccurredAt: time.UnixMilli(atMs).UTC(),
		})
	}
	return out, rows.Err()
}

func (s *Store) GetCard(ctx context.Context, cardID string) (ledger.Card, error) {
	var (
		p         string
		balance   int64
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT plate, balance_cents, updated_at_ms FROM cards WHERE card_id = ?;
`, cardID).Scan(&p, &balance, &updatedMs)
	if err == sql.ErrNoRows {
		return ledger.Card{}, ledger.ErrCardNotFound
	}
	if err != nil {
		return ledger.Card{}, fmt.Errorf("GetCard query: %w", err)
	}
	return ledger.Card{
		ID:           cardID,
		Plate:        plate.Code(p),
		BalanceCents: balance,
		UpdatedAt:    time.UnixMilli(updatedMs).UTC(),
	}, nil
}

func (s *Store) PutCard(ctx context.Context, c ledger.Card) error {
	updatedMs := c.UpdatedAt.UTC().UnixMilli()
	if c.UpdatedAt.IsZero() {
		updatedMs = time.Now().UTC().UnixMilli()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO cards(card_id, plate, balance_cents, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(card_id) DO UPDATE SET
  plate = excluded.plate,
  balance_cents = excluded.balance_cents,
  updated_at_ms = excluded.updated_at_ms;
`, c.ID, string(c.Plate), c.BalanceCents, updatedMs); err != nil {
			return fmt.Errorf("PutCard upsert: %w", err)
		}
		return nil
	})
}

func (s *Store) RecordDecision(ctx context.Context, rec ledger.DecisionRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	decidedMs := rec.DecidedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO decision_events(cycle_id, station, plate, outcome, reason, decided_at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, rec.CycleID, rec.Station, string(rec.Plate), rec.Outcome, rec.Reason, decidedMs); err != nil {
			return fmt.Errorf("RecordDecision insert: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (ledger.Session, error) {
	var (
		id    int64
		p     string
		paid  int
		inMs  int64
		outMs sql.NullInt64
	)
	if err := r.Scan(&id, &p, &paid, &inMs, &outMs); err != nil {
		return ledger.Session{}, err
	}
	sess := ledger.Session{
		ID:     id,
		Plate:  plate.Code(p),
		Paid:   paid == 1,
		InTime: time.UnixMilli(inMs).UTC(),
	}
	if outMs.Valid {
		t := time.UnixMilli(outMs.Int64).UTC()
		sess.OutTime = &t
	}
	return sess, nil
}
