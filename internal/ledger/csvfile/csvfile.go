// Package csvfile is a flat-file ledger backend using the record layout of
// the field installations: plates_log.csv holds sessions, with updates
// applied by rewriting the file; unauthorized_exits.csv, cards.csv and
// decision_events.csv are append-only or rewrite-on-update in the same way.
// A single mutex makes every logical operation atomic.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"plategate/internal/ledger"
	"plategate/internal/plate"
)

// timeLayout matches the timestamp format of the historic log files.
const timeLayout = "2006-01-02 15:04:05"

const (
	sessionsFile     = "plates_log.csv"
	unauthorizedFile = "unauthorized_exits.csv"
	cardsFile        = "cards.csv"
	decisionsFile    = "decision_events.csv"
)

var (
	sessionsHeader     = []string{"Plate Number", "Payment Status", "In time", "Out time"}
	unauthorizedHeader = []string{"Plate Number", "Timestamp"}
	cardsHeader        = []string{"Card ID", "Plate Number", "Balance"}
	decisionsHeader    = []string{"Cycle ID", "Station", "Plate Number", "Outcome", "Reason", "Decided at"}
)

type Store struct {
	mu  sync.Mutex
	dir string
}

// New creates the data directory and the log files (with headers) if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvfile: mkdir %s: %w", dir, err)
	}
	s := &Store{dir: dir}
	for file, header := range map[string][]string{
		sessionsFile:     sessionsHeader,
		unauthorizedFile: unauthorizedHeader,
		cardsFile:        cardsHeader,
		decisionsFile:    decisionsHeader,
	} {
		if err := s.ensureFile(file, header); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) path(file string) string { return filepath.Join(s.dir, file) }

func (s *Store) ensureFile(file string, header []string) error {
	p := s.path(file)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return s.writeAll(file, header, nil)
}

// readAll returns the data rows of file (header stripped).
func (s *Store) readAll(file string) ([][]string, error) {
	f, err := os.Open(s.path(file))
	if err != nil {
		return nil, fmt.Errorf("csvfile: open %s: %w", file, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvfile: read %s: %w", file, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil
}

// writeAll rewrites file with header + rows via a temp-file rename, so a
// crash mid-update never leaves a truncated ledger behind.
func (s *Store) writeAll(file string, header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(s.dir, file+".tmp*")
	if err != nil {
		return fmt.Errorf("csvfile: temp %s: %w", file, err)
	}
	w := csv.NewWriter(tmp)
	werr := w.Write(header)
	if werr == nil {
		werr = w.WriteAll(rows)
	}
	w.Flush()
	if err := firstErr(werr, w.Error(), tmp.Close()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("csvfile: write %s: %w", file, err)
	}
	if err := os.Rename(tmp.Name(), s.path(file)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("csvfile: rename %s: %w", file, err)
	}
	return nil
}

func (s *Store) appendRow(file string, row []string) error {
	f, err := os.OpenFile(s.path(file), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("csvfile: open %s for append: %w", file, err)
	}
	w := csv.NewWriter(f)
	werr := w.Write(row)
	w.Flush()
	if err := firstErr(werr, w.Error(), f.Close()); err != nil {
		return fmt.Errorf("csvfile: append %s: %w", file, err)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// openRowIndex returns the index of the most recent open session row for
// code, or -1.  Callers must hold s.mu.
func openRowIndex(rows [][]string, code plate.Code) int {
	for i := len(rows) - 1; i >= 0; i-- {
		if len(rows[i]) >= 4 && rows[i][0] == string(code) && rows[i][3] == "" {
			return i
		}
	}
	return -1
}

func (s *Store) HasUnpaidOpenSession(_ context.Context, code plate.Code) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(sessionsFile)
	if err != nil {
		return false, err
	}
	i := openRowIndex(rows, code)
	return i >= 0 && rows[i][1] == "0", nil
}

func (s *Store) OpenSession(_ context.Context, code plate.Code, inTime time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(sessionsFile)
	if err != nil {
		return 0, err
	}
	if openRowIndex(rows, code) >= 0 {
		return 0, ledger.ErrDuplicateActiveSession
	}
	row := []string{string(code), "0", inTime.UTC().Format(timeLayout), ""}
	if err := s.appendRow(sessionsFile, row); err != nil {
		return 0, err
	}
	// Row ids are 1-based line positions within the session log.
	return int64(len(rows) + 1), nil
}

func (s *Store) FindOpenSession(_ context.Context, code plate.Code) (ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(sessionsFile)
	if err != nil {
		return ledger.Session{}, err
	}
	i := openRowIndex(rows, code)
	if i < 0 {
		return ledger.Session{}, ledger.ErrNoActiveSession
	}
	return sessionFromRow(int64(i+1), rows[i])
}

func (s *Store) MarkPaid(_ context.Context, code plate.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(sessionsFile)
	if err != nil {
		return err
	}
	i := openRowIndex(rows, code)
	if i < 0 {
		return ledger.ErrNoActiveSession
	}
	if rows[i][1] == "1" {
		return ledger.ErrAlreadyPaid
	}
	rows[i][1] = "1"
	return s.writeAll(sessionsFile, sessionsHeader, rows)
}

func (s *Store) CloseSession(_ context.Context, code plate.Code, outTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(sessionsFile)
	if err != nil {
		return err
	}
	i := openRowIndex(rows, code)
	if i < 0 || rows[i][1] != "1" {
		return ledger.ErrNoEligibleSession
	}
	rows[i][3] = outTime.UTC().Format(timeLayout)
	return s.writeAll(sessionsFile, sessionsHeader, rows)
}

func (s *Store) RecordUnauthorizedExit(_ context.Context, code plate.Code, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendRow(unauthorizedFile, []string{string(code), at.UTC().Format(timeLayout)})
}

func (s *Store) ListSessions(_ context.Context, limit int) ([]ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(sessionsFile)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Session, 0, limit)
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		sess, err := sessionFromRow(int64(i+1), rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) ListUnauthorizedExits(_ context.Context, limit int) ([]ledger.UnauthorizedExit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(unauthorizedFile)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.UnauthorizedExit, 0, limit)
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		if len(rows[i]) < 2 {
			continue
		}
		at, err := time.ParseInLocation(timeLayout, rows[i][1], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("csvfile: bad timestamp %q: %w", rows[i][1], err)
		}
		out = append(out, ledger.UnauthorizedExit{Plate: plate.Code(rows[i][0]), OccurredAt: at})
	}
	return out, nil
}

func (s *Store) GetCard(_ context.Context, cardID string) (ledger.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(cardsFile)
	if err != nil {
		return ledger.Card{}, err
	}
	for _, row := range rows {
		if len(row) >= 3 && row[0] == cardID {
			balance, err := strconv.ParseInt(row[2], 10, 64)
			if err != nil {
				return ledger.Card{}, fmt.Errorf("csvfile: bad balance %q: %w", row[2], err)
			}
			return ledger.Card{ID: cardID, Plate: plate.Code(row[1]), BalanceCents: balance}, nil
		}
	}
	return ledger.Card{}, ledger.ErrCardNotFound
}

func (s *Store) PutCard(_ context.Context, c ledger.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(cardsFile)
	if err != nil {
		return err
	}
	balance := strconv.FormatInt(c.BalanceCents, 10)
	updated := false
	for _, row := range rows {
		if len(row) >= 3 && row[0] == c.ID {
			row[1] = string(c.Plate)
			row[2] = balance
			updated = true
			break
		}
	}
	if !updated {
		rows = append(rows, []string{c.ID, string(c.Plate), balance})
	}
	return s.writeAll(cardsFile, cardsHeader, rows)
}

func (s *Store) RecordDecision(_ context.Context, rec ledger.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendRow(decisionsFile, []string{
		rec.CycleID, rec.Station, string(rec.Plate), rec.Outcome, rec.Reason,
		rec.DecidedAt.UTC().Format(timeLayout),
	})
}

func sessionFromRow(id int64, row []string) (ledger.Session, error) {
	if len(row) < 4 {
		return ledger.Session{}, fmt.Errorf("csvfile: malformed session row %v", row)
	}
	in, err := time.ParseInLocation(timeLayout, row[2], time.UTC)
	if err != nil {
		return ledger.Session{}, fmt.Errorf("csvfile: bad in time %q: %w", row[2], err)
	}
	sess := ledger.Session{
		ID:     id,
		Plate:  plate.Code(row[0]),
		Paid:   row[1] == "1",
		InTime: in,
	}
	if row[3] != "" {
		out, err := time.ParseInLocation(timeLayout, row[3], time.UTC)
		if err != nil {
			return ledger.Session{}, fmt.Errorf("csvfile: bad out time %q: %w", row[3], err)
		}
		sess.OutTime = &out
	}
	return sess, nil
}
