package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"plategate/internal/ledger"
	"plategate/internal/ledger/memory"
	"plategate/internal/plate"
)

func TestStore_EntryPaymentExitLifecycle(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	id, err := st.OpenSession(ctx, "RAB123K", t0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero session id")
	}

	// Closing before payment must fail and trip unauthorized-exit handling.
	err = st.CloseSession(ctx, "RAB123K", t0.Add(time.Hour))
	if !errors.Is(err, ledger.ErrNoEligibleSession) {
		t.Fatalf("expected ErrNoEligibleSession before payment, got %v", err)
	}

	unpaid, err := st.HasUnpaidOpenSession(ctx, "RAB123K")
	if err != nil || !unpaid {
		t.Fatalf("expected unpaid open session, got unpaid=%v err=%v", unpaid, err)
	}

	if err := st.MarkPaid(ctx, "RAB123K"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	// An open PAID session no longer reports as unpaid.
	unpaid, err = st.HasUnpaidOpenSession(ctx, "RAB123K")
	if err != nil || unpaid {
		t.Fatalf("expected unpaid=false after payment, got unpaid=%v err=%v", unpaid, err)
	}

	if err := st.CloseSession(ctx, "RAB123K", t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("CloseSession after payment: %v", err)
	}

	// The session is closed exactly once.
	err = st.CloseSession(ctx, "RAB123K", t0.Add(3*time.Hour))
	if !errors.Is(err, ledger.ErrNoEligibleSession) {
		t.Fatalf("expected ErrNoEligibleSession on double close, got %v", err)
	}

	sessions := st.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session row, got %d", len(sessions))
	}
	if sessions[0].OutTime == nil || !sessions[0].OutTime.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("expected out time %v, got %v", t0.Add(2*time.Hour), sessions[0].OutTime)
	}
}

func TestStore_SingletonOpenSessionPerPlate(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.OpenSession(ctx, "RAB123K", now); err != nil {
		t.Fatalf("first OpenSession: %v", err)
	}
	_, err := st.OpenSession(ctx, "RAB123K", now.Add(time.Minute))
	if !errors.Is(err, ledger.ErrDuplicateActiveSession) {
		t.Fatalf("expected ErrDuplicateActiveSession, got %v", err)
	}

	// A different plate is unaffected.
	if _, err := st.OpenSession(ctx, "RAC999Z", now); err != nil {
		t.Errorf("OpenSession other plate: %v", err)
	}

	// After the first session closes, the plate may re-enter.
	if err := st.MarkPaid(ctx, "RAB123K"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if err := st.CloseSession(ctx, "RAB123K", now.Add(time.Hour)); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, err := st.OpenSession(ctx, "RAB123K", now.Add(2*time.Hour)); err != nil {
		t.Errorf("re-entry after close: %v", err)
	}
}

func TestStore_MarkPaidErrors(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	if err := st.MarkPaid(ctx, "RAB123K"); !errors.Is(err, ledger.ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}

	if _, err := st.OpenSession(ctx, "RAB123K", time.Now()); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := st.MarkPaid(ctx, "RAB123K"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if err := st.MarkPaid(ctx, "RAB123K"); !errors.Is(err, ledger.ErrAlreadyPaid) {
		t.Errorf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestStore_UnauthorizedExitsAppendOnly(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.RecordUnauthorizedExit(ctx, "RAC999Z", now); err != nil {
		t.Fatalf("RecordUnauthorizedExit: %v", err)
	}
	if err := st.RecordUnauthorizedExit(ctx, "RAC999Z", now.Add(time.Minute)); err != nil {
		t.Fatalf("RecordUnauthorizedExit: %v", err)
	}

	recs := st.UnauthorizedExits()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if !recs[0].OccurredAt.Before(recs[1].OccurredAt) {
		t.Error("expected append ordering preserved")
	}
}

func TestStore_Cards(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	if _, err := st.GetCard(ctx, "card-1"); !errors.Is(err, ledger.ErrCardNotFound) {
		t.Errorf("expected ErrCardNotFound, got %v", err)
	}

	c := ledger.Card{ID: "card-1", Plate: "RAB123K", BalanceCents: 100_000, UpdatedAt: time.Now().UTC()}
	if err := st.PutCard(ctx, c); err != nil {
		t.Fatalf("PutCard: %v", err)
	}

	got, err := st.GetCard(ctx, "card-1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.BalanceCents != 100_000 || got.Plate != "RAB123K" {
		t.Errorf("unexpected card %+v", got)
	}
}

func TestStore_ListSessionsMostRecentFirst(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	plates := []plate.Code{"RAB123K", "RAC999Z", "RAD456C"}
	for i, p := range plates {
		if _, err := st.OpenSession(ctx, p, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("OpenSession %s: %v", p, err)
		}
	}

	got, err := st.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
	if got[0].Plate != "RAD456C" || got[1].Plate != "RAC999Z" {
		t.Errorf("expected most recent first, got %v then %v", got[0].Plate, got[1].Plate)
	}
}
