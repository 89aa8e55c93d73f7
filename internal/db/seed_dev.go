package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// CardID and Plate override the demo card; defaults below.
	CardID string
	Plate  string
}

// SeedDev inserts a demo prepaid card and an open unpaid session so the
// payment and exit flows can be exercised immediately on a fresh dev
// database.  Safe to run repeatedly.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.CardID == "" {
		opt.CardID = "card-dev-01"
	}
	if opt.Plate == "" {
		opt.Plate = "RAB123K"
	}
	now := time.Now().UTC().UnixMilli()

	if _, err := db.ExecContext(ctx, `
INSERT INTO cards(card_id, plate, balance_cents, updated_at_ms)
VALUES (?, ?, 100000, ?)
ON CONFLICT(card_id) DO UPDATE SET
  plate = excluded.plate,
  updated_at_ms = excluded.updated_at_ms;
`, opt.CardID, opt.Plate, now); err != nil {
		return fmt.Errorf("seed card %s: %w", opt.CardID, err)
	}

	// Only seed the open session if the plate has none, mirroring the
	// singleton-open-session rule the ledger enforces.
	var existing int
	err := db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM vehicle_sessions WHERE plate = ? AND out_time_ms IS NULL;
`, opt.Plate).Scan(&existing)
	if err != nil {
		return fmt.Errorf("seed session check: %w", err)
	}
	if existing == 0 {
		if _, err := db.ExecContext(ctx, `
INSERT INTO vehicle_sessions(plate, paid, in_time_ms, created_at_ms)
VALUES (?, 0, ?, ?);
`, opt.Plate, now, now); err != nil {
			return fmt.Errorf("seed session %s: %w", opt.Plate, err)
		}
	}

	return nil
}
