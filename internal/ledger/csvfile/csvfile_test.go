package csvfile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plategate/internal/ledger"
	"plategate/internal/ledger/csvfile"
)

func newTestStore(t *testing.T) (*csvfile.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := csvfile.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st, dir
}

func TestStore_CreatesLogFilesWithHeaders(t *testing.T) {
	_, dir := newTestStore(t)

	b, err := os.ReadFile(filepath.Join(dir, "plates_log.csv"))
	if err != nil {
		t.Fatalf("read plates_log.csv: %v", err)
	}
	if !strings.HasPrefix(string(b), "Plate Number,Payment Status,In time,Out time") {
		t.Errorf("unexpected header: %q", string(b))
	}
}

func TestStore_SessionLifecycleSurvivesReopen(t *testing.T) {
	st, dir := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	if _, err := st.OpenSession(ctx, "RAB123K", t0); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := st.MarkPaid(ctx, "RAB123K"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	// A second handle over the same directory sees the same ledger.
	st2, err := csvfile.New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sess, err := st2.FindOpenSession(ctx, "RAB123K")
	if err != nil {
		t.Fatalf("FindOpenSession: %v", err)
	}
	if !sess.Paid || !sess.InTime.Equal(t0) {
		t.Errorf("unexpected session %+v", sess)
	}

	if err := st2.CloseSession(ctx, "RAB123K", t0.Add(time.Hour)); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, err := st2.FindOpenSession(ctx, "RAB123K"); !errors.Is(err, ledger.ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession after close, got %v", err)
	}
}

func TestStore_CloseWithoutPaymentFails(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := st.OpenSession(ctx, "RAB123K", time.Now().UTC()); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	err := st.CloseSession(ctx, "RAB123K", time.Now().UTC())
	if !errors.Is(err, ledger.ErrNoEligibleSession) {
		t.Errorf("expected ErrNoEligibleSession, got %v", err)
	}
}

func TestStore_DuplicateOpenRejected(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.OpenSession(ctx, "RAB123K", now); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if _, err := st.OpenSession(ctx, "RAB123K", now); !errors.Is(err, ledger.ErrDuplicateActiveSession) {
		t.Errorf("expected ErrDuplicateActiveSession, got %v", err)
	}
}

func TestStore_UnauthorizedExitAppends(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC)

	if err := st.RecordUnauthorizedExit(ctx, "RAC999Z", at); err != nil {
		t.Fatalf("RecordUnauthorizedExit: %v", err)
	}
	if err := st.RecordUnauthorizedExit(ctx, "RAC999Z", at.Add(time.Minute)); err != nil {
		t.Fatalf("RecordUnauthorizedExit: %v", err)
	}

	recs, err := st.ListUnauthorizedExits(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnauthorizedExits: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if !recs[0].OccurredAt.Equal(at.Add(time.Minute)) {
		t.Errorf("expected most recent first, got %v", recs[0].OccurredAt)
	}
}

func TestStore_CardUpsert(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetCard(ctx, "card-1"); !errors.Is(err, ledger.ErrCardNotFound) {
		t.Errorf("expected ErrCardNotFound, got %v", err)
	}
	if err := st.PutCard(ctx, ledger.Card{ID: "card-1", Plate: "RAB123K", BalanceCents: 50_000}); err != nil {
		t.Fatalf("PutCard: %v", err)
	}
	if err := st.PutCard(ctx, ledger.Card{ID: "card-1", Plate: "RAB123K", BalanceCents: 20_000}); err != nil {
		t.Fatalf("PutCard update: %v", err)
	}

	got, err := st.GetCard(ctx, "card-1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.BalanceCents != 20_000 {
		t.Errorf("expected balance 20000, got %d", got.BalanceCents)
	}
}
